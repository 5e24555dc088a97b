package localtree

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/crc32"
	"github.com/spf13/afero"
)

const (
	fingerprintRaw     = 16
	fingerprintDense   = 8192
	fingerprintBlocks  = 32
	fingerprintBlockSz = 64
)

// ComputeFingerprint reads the file at p and returns its fingerprint.
//
// Files of up to 16 bytes are stored verbatim. Up to 8 KiB the fingerprint is
// the CRC32 of each quarter of the file. Beyond that each of the four words
// is the CRC32 of 32 blocks of 64 bytes sampled evenly from its quarter, so
// the cost does not grow with the file size.
func ComputeFingerprint(fs afero.Fs, p string, size int64) (Fingerprint, error) {
	f, err := fs.Open(p)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()

	fp, err := fingerprintReader(f, size)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint %s: %w", p, err)
	}
	return fp, nil
}

func readFull(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func fingerprintReader(r io.ReaderAt, size int64) (Fingerprint, error) {
	var fp Fingerprint
	if size < 0 {
		size = 0
	}

	if size <= fingerprintRaw {
		if err := readFull(r, fp[:size], 0); err != nil {
			return Fingerprint{}, err
		}
		return fp, nil
	}

	if size <= fingerprintDense {
		data := make([]byte, size)
		if err := readFull(r, data, 0); err != nil {
			return Fingerprint{}, err
		}
		for i := int64(0); i < 4; i++ {
			part := data[i*size/4 : (i+1)*size/4]
			binary.LittleEndian.PutUint32(fp[i*4:], crc32.ChecksumIEEE(part))
		}
		return fp, nil
	}

	const samples = 4 * fingerprintBlocks
	span := size - fingerprintBlockSz
	block := make([]byte, fingerprintBlockSz)
	for i := 0; i < 4; i++ {
		var crc uint32
		for j := 0; j < fingerprintBlocks; j++ {
			k := int64(i*fingerprintBlocks + j)
			off := span/(samples-1)*k + span%(samples-1)*k/(samples-1)
			if err := readFull(r, block, off); err != nil {
				return Fingerprint{}, err
			}
			crc = crc32.Update(crc, crc32.IEEETable, block)
		}
		binary.LittleEndian.PutUint32(fp[i*4:], crc)
	}
	return fp, nil
}
