package objectstore

import (
	"encoding/hex"
	"hash/fnv"
	"strings"

	"localsync/core/codec"
	"localsync/core/localtree"
)

// metaFingerprint is the user metadata key carrying the local fingerprint.
const metaFingerprint = "fingerprint"

// HandleOf returns the remote handle of one version of an object.
func HandleOf(key, etag string) codec.Handle {
	h := fnv.New64a()
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(strings.Trim(etag, `"`)))
	v := codec.Handle(h.Sum64())
	if !v.Valid() {
		return 1
	}
	return v
}

func encodeFingerprint(fp localtree.Fingerprint) string {
	return hex.EncodeToString(fp[:])
}

// fingerprintOf looks the fingerprint up in object metadata. Listings return
// the header form of the key, uploads use the bare one.
func fingerprintOf(meta map[string]string) (localtree.Fingerprint, bool) {
	var fp localtree.Fingerprint
	for k, v := range meta {
		name := strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if name != metaFingerprint {
			continue
		}
		raw, err := hex.DecodeString(v)
		if err != nil || len(raw) != len(fp) {
			return fp, false
		}
		copy(fp[:], raw)
		return fp, true
	}
	return fp, false
}
