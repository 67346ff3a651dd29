// Package backendtest provides an in-memory backend.FileSystem with per-backend
// hang and failure injection for tests.
package backendtest

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/afero"

	"github.com/hareadfs/hareadfs/internal/backend"
)

// FS keeps every backend tree in one afero.MemMapFs, addressed by backend-rooted
// paths exactly as the production OS layer sees them.
type FS struct {
	mu     sync.Mutex
	mem    afero.Fs
	roots  []string
	hangs  map[string]chan struct{}
	fails  map[string]error
	calls  map[string]int
	links  map[string]string
	xattrs map[string]map[string][]byte
	statfs map[string]*backend.StatfsInfo
}

// New creates an FS with the given backend roots. Each root is created as a directory.
func New(roots ...string) *FS {
	f := &FS{
		mem:    afero.NewMemMapFs(),
		hangs:  make(map[string]chan struct{}),
		fails:  make(map[string]error),
		calls:  make(map[string]int),
		links:  make(map[string]string),
		xattrs: make(map[string]map[string][]byte),
		statfs: make(map[string]*backend.StatfsInfo),
	}
	for _, root := range roots {
		f.roots = append(f.roots, root)
		_ = f.mem.MkdirAll(root, 0o755)
	}
	return f
}

// WriteFile creates a regular file and its parent directories.
func (f *FS) WriteFile(name string, data []byte) {
	_ = f.mem.MkdirAll(path.Dir(name), 0o755)
	_ = afero.WriteFile(f.mem, name, data, 0o644)
}

// Mkdir creates a directory and its parents.
func (f *FS) Mkdir(name string) {
	_ = f.mem.MkdirAll(name, 0o755)
}

// Symlink records name as a symbolic link to target.
func (f *FS) Symlink(target, name string) {
	f.WriteFile(name, nil)
	f.mu.Lock()
	f.links[name] = target
	f.mu.Unlock()
}

// SetXattr sets an extended attribute on name.
func (f *FS) SetXattr(name, attr string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.xattrs[name] == nil {
		f.xattrs[name] = make(map[string][]byte)
	}
	f.xattrs[name][attr] = value
}

// SetStatfs sets the statfs answer of a backend.
func (f *FS) SetStatfs(root string, info *backend.StatfsInfo) {
	f.mu.Lock()
	f.statfs[root] = info
	f.mu.Unlock()
}

// RemoveAll deletes a backend root, leaving it absent but responsive.
func (f *FS) RemoveAll(name string) {
	_ = f.mem.RemoveAll(name)
}

// Hang makes every call against root block until the returned release function is called.
func (f *FS) Hang(root string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.hangs[root] = ch
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.hangs[root] == ch {
				delete(f.hangs, root)
			}
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Fail makes every call against root return err. A nil err clears the failure.
func (f *FS) Fail(root string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fails, root)
		return
	}
	f.fails[root] = err
}

// Calls returns how many calls reached root.
func (f *FS) Calls(root string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[root]
}

func (f *FS) rootOf(name string) string {
	best := ""
	for _, root := range f.roots {
		if (name == root || strings.HasPrefix(name, strings.TrimSuffix(root, "/")+"/")) && len(root) > len(best) {
			best = root
		}
	}
	return best
}

// enter counts the call, waits out any hang and returns the injected failure.
func (f *FS) enter(op, name string) error {
	f.mu.Lock()
	root := f.rootOf(name)
	f.calls[root]++
	hang := f.hangs[root]
	f.mu.Unlock()

	if hang != nil {
		<-hang
	}

	f.mu.Lock()
	err := f.fails[root]
	f.mu.Unlock()
	if err != nil {
		return &os.PathError{Op: op, Path: name, Err: err}
	}
	return nil
}

func pathErr(op, name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		err = syscall.ENOENT
	}
	return &os.PathError{Op: op, Path: name, Err: err}
}

func (f *FS) link(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.links[name]
	return target, ok
}

func (f *FS) Lstat(name string) (*backend.Attr, error) {
	if err := f.enter("lstat", name); err != nil {
		return nil, err
	}
	fi, err := f.mem.Stat(name)
	if err != nil {
		return nil, pathErr("lstat", name, err)
	}
	attr := &backend.Attr{
		Mode:  backend.TypeBits(fi.Mode()) | uint32(fi.Mode().Perm()),
		Nlink: 1,
		Size:  fi.Size(),
		Atime: fi.ModTime(),
		Mtime: fi.ModTime(),
		Ctime: fi.ModTime(),
	}
	if target, ok := f.link(name); ok {
		attr.Mode = backend.S_IFLNK | 0o777
		attr.Size = int64(len(target))
	}
	return attr, nil
}

func (f *FS) Readlink(name string) (string, error) {
	if err := f.enter("readlink", name); err != nil {
		return "", err
	}
	if target, ok := f.link(name); ok {
		return target, nil
	}
	if _, err := f.mem.Stat(name); err != nil {
		return "", pathErr("readlink", name, err)
	}
	return "", pathErr("readlink", name, syscall.EINVAL)
}

func (f *FS) Open(name string, flags int) error {
	if err := f.enter("open", name); err != nil {
		return err
	}
	file, err := f.mem.OpenFile(name, flags, 0)
	if err != nil {
		return pathErr("open", name, err)
	}
	return file.Close()
}

func (f *FS) ReadAt(name string, size int, off int64) ([]byte, error) {
	if err := f.enter("read", name); err != nil {
		return nil, err
	}
	file, err := f.mem.Open(name)
	if err != nil {
		return nil, pathErr("read", name, err)
	}
	defer file.Close()

	// pread past the end is an empty read, not an error.
	info, err := file.Stat()
	if err != nil {
		return nil, pathErr("read", name, err)
	}
	if off >= info.Size() {
		return []byte{}, nil
	}

	buf := make([]byte, size)
	n, err := file.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, pathErr("read", name, err)
	}
	return buf[:n], nil
}

func (f *FS) ReadDir(name string) ([]backend.DirEntry, error) {
	if err := f.enter("readdir", name); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(f.mem, name)
	if err != nil {
		return nil, pathErr("readdir", name, err)
	}
	entries := make([]backend.DirEntry, 0, len(infos))
	for _, fi := range infos {
		mode := backend.TypeBits(fi.Mode())
		if _, ok := f.link(path.Join(name, fi.Name())); ok {
			mode = backend.S_IFLNK
		}
		entries = append(entries, backend.DirEntry{Name: fi.Name(), Mode: mode})
	}
	return entries, nil
}

func (f *FS) OpenDir(name string) error {
	if err := f.enter("opendir", name); err != nil {
		return err
	}
	fi, err := f.mem.Stat(name)
	if err != nil {
		return pathErr("opendir", name, err)
	}
	if !fi.IsDir() {
		return pathErr("opendir", name, syscall.ENOTDIR)
	}
	return nil
}

func (f *FS) Access(name string, mode uint32) error {
	if err := f.enter("access", name); err != nil {
		return err
	}
	if _, err := f.mem.Stat(name); err != nil {
		return pathErr("access", name, err)
	}
	return nil
}

func (f *FS) Getxattr(name, attr string, size int) ([]byte, int, error) {
	if err := f.enter("getxattr", name); err != nil {
		return nil, 0, err
	}
	if _, err := f.mem.Stat(name); err != nil {
		return nil, 0, pathErr("getxattr", name, err)
	}
	f.mu.Lock()
	value, ok := f.xattrs[name][attr]
	f.mu.Unlock()
	if !ok {
		return nil, 0, pathErr("getxattr", name, syscall.ENODATA)
	}
	return sized("getxattr", name, value, size)
}

func (f *FS) Listxattr(name string, size int) ([]byte, int, error) {
	if err := f.enter("listxattr", name); err != nil {
		return nil, 0, err
	}
	if _, err := f.mem.Stat(name); err != nil {
		return nil, 0, pathErr("listxattr", name, err)
	}
	f.mu.Lock()
	names := make([]string, 0, len(f.xattrs[name]))
	for attr := range f.xattrs[name] {
		names = append(names, attr)
	}
	f.mu.Unlock()
	sort.Strings(names)

	var list []byte
	for _, attr := range names {
		list = append(list, attr...)
		list = append(list, 0)
	}
	return sized("listxattr", name, list, size)
}

// sized applies the xattr size convention: size 0 asks for the length only.
func sized(op, name string, value []byte, size int) ([]byte, int, error) {
	if size == 0 {
		return nil, len(value), nil
	}
	if size < len(value) {
		return nil, 0, pathErr(op, name, syscall.ERANGE)
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, len(value), nil
}

func (f *FS) Statfs(name string) (*backend.StatfsInfo, error) {
	if err := f.enter("statfs", name); err != nil {
		return nil, err
	}
	if _, err := f.mem.Stat(name); err != nil {
		return nil, pathErr("statfs", name, err)
	}
	f.mu.Lock()
	info := f.statfs[f.rootOf(name)]
	f.mu.Unlock()
	if info == nil {
		info = &backend.StatfsInfo{Bsize: 4096, Frsize: 4096, NameLen: 255}
	}
	out := *info
	return &out, nil
}

var _ backend.FileSystem = (*FS)(nil)
