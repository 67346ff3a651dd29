package backend

import (
	"io/fs"
	"time"
)

// Attr is the subset of lstat results reported through the mount.
type Attr struct {
	Ino     uint64
	Mode    uint32 // raw st_mode including file type bits
	Nlink   uint64
	Uid     uint32
	Gid     uint32
	Rdev    uint64
	Size    int64
	Blocks  int64
	Blksize int64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// IsDir reports whether the attribute describes a directory.
func (a *Attr) IsDir() bool {
	return a.Mode&S_IFMT == S_IFDIR
}

// File type bits of st_mode.
const (
	S_IFMT   = 0o170000
	S_IFDIR  = 0o040000
	S_IFREG  = 0o100000
	S_IFLNK  = 0o120000
	S_IFIFO  = 0o010000
	S_IFSOCK = 0o140000
	S_IFCHR  = 0o020000
	S_IFBLK  = 0o060000
)

// DirEntry is one name in a directory listing. Mode carries only the file type bits.
type DirEntry struct {
	Name string
	Mode uint32
}

// StatfsInfo is the subset of statfs results reported through the mount.
type StatfsInfo struct {
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Bsize   uint32
	NameLen uint32
	Frsize  uint32
}

// FileSystem is the set of OS calls issued against backend-rooted paths. Every
// method may block indefinitely; callers run them through the bounded executor.
// Errors must keep their errno so they can be classified.
type FileSystem interface {
	Lstat(path string) (*Attr, error)
	Readlink(path string) (string, error)
	// Open opens path with flags and closes it again.
	Open(path string, flags int) error
	// ReadAt opens path, reads up to size bytes at off into a freshly allocated
	// buffer and closes it.
	ReadAt(path string, size int, off int64) ([]byte, error)
	ReadDir(path string) ([]DirEntry, error)
	// OpenDir opens the directory and closes it again.
	OpenDir(path string) error
	Access(path string, mode uint32) error
	// Getxattr returns the value of the attribute. With size 0 only the value
	// length is wanted and the returned slice may be nil.
	Getxattr(path, name string, size int) ([]byte, int, error)
	// Listxattr returns the NUL-separated attribute names, following the same
	// size convention as Getxattr.
	Listxattr(path string, size int) ([]byte, int, error)
	Statfs(path string) (*StatfsInfo, error)
}

// TypeBits converts an fs.FileMode into st_mode file type bits.
func TypeBits(m fs.FileMode) uint32 {
	switch {
	case m&fs.ModeDir != 0:
		return S_IFDIR
	case m&fs.ModeSymlink != 0:
		return S_IFLNK
	case m&fs.ModeNamedPipe != 0:
		return S_IFIFO
	case m&fs.ModeSocket != 0:
		return S_IFSOCK
	case m&fs.ModeCharDevice != 0:
		return S_IFCHR
	case m&fs.ModeDevice != 0:
		return S_IFBLK
	default:
		return S_IFREG
	}
}
