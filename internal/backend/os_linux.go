//go:build linux

package backend

import (
	"errors"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// OSFileSystem issues real system calls against backend paths.
type OSFileSystem struct{}

// NewOSFileSystem returns the production FileSystem.
func NewOSFileSystem() *OSFileSystem {
	return &OSFileSystem{}
}

func (OSFileSystem) Lstat(path string) (*Attr, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return nil, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	return &Attr{
		Ino:     st.Ino,
		Mode:    st.Mode,
		Nlink:   uint64(st.Nlink),
		Uid:     st.Uid,
		Gid:     st.Gid,
		Rdev:    uint64(st.Rdev),
		Size:    st.Size,
		Blocks:  st.Blocks,
		Blksize: int64(st.Blksize),
		Atime:   time.Unix(st.Atim.Unix()),
		Mtime:   time.Unix(st.Mtim.Unix()),
		Ctime:   time.Unix(st.Ctim.Unix()),
	}, nil
}

func (OSFileSystem) Readlink(path string) (string, error) {
	buf := make([]byte, unix.PathMax)
	n, err := unix.Readlink(path, buf)
	if err != nil {
		return "", &os.PathError{Op: "readlink", Path: path, Err: err}
	}
	return string(buf[:n]), nil
}

func (OSFileSystem) Open(path string, flags int) error {
	fd, err := unix.Open(path, flags|unix.O_CLOEXEC, 0)
	if err != nil {
		return &os.PathError{Op: "open", Path: path, Err: err}
	}
	return unix.Close(fd)
}

func (OSFileSystem) ReadAt(path string, size int, off int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

func (OSFileSystem) ReadDir(path string) ([]DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), Mode: TypeBits(e.Type())})
	}
	return out, nil
}

func (OSFileSystem) OpenDir(path string) error {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return &os.PathError{Op: "opendir", Path: path, Err: err}
	}
	return unix.Close(fd)
}

func (OSFileSystem) Access(path string, mode uint32) error {
	if err := unix.Access(path, mode); err != nil {
		return &os.PathError{Op: "access", Path: path, Err: err}
	}
	return nil
}

func (OSFileSystem) Getxattr(path, name string, size int) ([]byte, int, error) {
	var buf []byte
	if size > 0 {
		buf = make([]byte, size)
	}
	n, err := unix.Lgetxattr(path, name, buf)
	if err != nil {
		return nil, 0, &os.PathError{Op: "getxattr", Path: path, Err: err}
	}
	if buf == nil {
		return nil, n, nil
	}
	return buf[:n], n, nil
}

func (OSFileSystem) Listxattr(path string, size int) ([]byte, int, error) {
	var buf []byte
	if size > 0 {
		buf = make([]byte, size)
	}
	n, err := unix.Llistxattr(path, buf)
	if err != nil {
		return nil, 0, &os.PathError{Op: "listxattr", Path: path, Err: err}
	}
	if buf == nil {
		return nil, n, nil
	}
	return buf[:n], n, nil
}

func (OSFileSystem) Statfs(path string) (*StatfsInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return nil, &os.PathError{Op: "statfs", Path: path, Err: err}
	}
	return &StatfsInfo{
		Blocks:  st.Blocks,
		Bfree:   st.Bfree,
		Bavail:  st.Bavail,
		Files:   st.Files,
		Ffree:   st.Ffree,
		Bsize:   uint32(st.Bsize),
		NameLen: uint32(st.Namelen),
		Frsize:  uint32(st.Frsize),
	}, nil
}
