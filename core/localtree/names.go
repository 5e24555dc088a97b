package localtree

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NameContext converts local names to the names known remotely.
type NameContext interface {
	DisplayName(local string) string
}

// NFCNames undoes %xx escapes of characters the local filesystem cannot
// store and normalizes the result to NFC.
type NFCNames struct{}

func (NFCNames) DisplayName(local string) string {
	return norm.NFC.String(unescape(local))
}

func unescape(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && ishex(s[i+1]) && ishex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func ishex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
