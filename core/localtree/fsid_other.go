//go:build windows

package localtree

import (
	"os"

	"localsync/core/codec"
)

// FileIdentity is not available on this platform; moves are detected as a
// removal followed by a creation.
func FileIdentity(_ string, _ os.FileInfo) codec.Handle {
	return codec.UndefHandle
}
