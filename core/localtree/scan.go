package localtree

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"localsync/core/codec"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

// ErrNotSyncable is returned by Scanner.Stat for symlinks, devices and other
// entries that are not mirrored.
var ErrNotSyncable = errors.New("localtree: entry is not syncable")

// TempPrefix marks partial downloads. Entries carrying it are never synced.
const TempPrefix = ".localsync-tmp-"

// Entry is one directory entry as observed on disk.
type Entry struct {
	Name    string
	Kind    Kind
	Size    int64
	ModTime int64
	FSID    codec.Handle
	// Err is set when the entry was listed but could not be examined.
	Err error
}

// IdentityFunc derives the filesystem identity of an entry.
type IdentityFunc func(path string, fi os.FileInfo) codec.Handle

// Scanner enumerates directories. It is safe for concurrent use; concurrent
// reads of the same directory share one enumeration.
type Scanner struct {
	fs       afero.Fs
	identity IdentityFunc
	group    singleflight.Group
}

// NewScanner returns a Scanner over fs. A nil identity uses FileIdentity.
func NewScanner(fs afero.Fs, identity IdentityFunc) *Scanner {
	if identity == nil {
		identity = FileIdentity
	}
	return &Scanner{fs: fs, identity: identity}
}

// Fs returns the filesystem the scanner reads.
func (s *Scanner) Fs() afero.Fs {
	return s.fs
}

// ReadDir lists dir ordered by name. An error means the directory itself
// could not be enumerated; failures on single entries are reported through
// Entry.Err.
func (s *Scanner) ReadDir(dir string) ([]Entry, error) {
	v, err, _ := s.group.Do(dir, func() (any, error) {
		return s.readDir(dir)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Entry), nil
}

func (s *Scanner) readDir(dir string) ([]Entry, error) {
	f, err := s.fs.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open directory %s: %w", dir, err)
	}
	names, err := f.Readdirnames(-1)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		e, err := s.Stat(filepath.Join(dir, name))
		if errors.Is(err, ErrNotSyncable) {
			continue
		}
		if err != nil {
			e = Entry{Name: name, Err: err}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Stat examines a single path without following symlinks.
func (s *Scanner) Stat(p string) (Entry, error) {
	if strings.HasPrefix(filepath.Base(p), TempPrefix) {
		return Entry{}, ErrNotSyncable
	}

	var (
		fi  os.FileInfo
		err error
	)
	if l, ok := s.fs.(afero.Lstater); ok {
		fi, _, err = l.LstatIfPossible(p)
	} else {
		fi, err = s.fs.Stat(p)
	}
	if err != nil {
		return Entry{}, err
	}

	e := Entry{
		Name:    filepath.Base(p),
		ModTime: fi.ModTime().Unix(),
		FSID:    s.identity(p, fi),
	}
	switch {
	case fi.IsDir():
		e.Kind = KindFolder
	case fi.Mode().IsRegular():
		e.Kind = KindFile
		e.Size = fi.Size()
	default:
		return Entry{}, ErrNotSyncable
	}
	return e, nil
}
