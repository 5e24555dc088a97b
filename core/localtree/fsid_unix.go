//go:build !windows

package localtree

import (
	"os"
	"syscall"

	"localsync/core/codec"
)

// FileIdentity returns the inode number of fi, or UndefHandle when the
// filesystem does not expose one.
func FileIdentity(_ string, fi os.FileInfo) codec.Handle {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return codec.Handle(st.Ino)
	}
	return codec.UndefHandle
}
