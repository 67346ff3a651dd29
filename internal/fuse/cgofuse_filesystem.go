//go:build cgofuse
// +build cgofuse

package fuse

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/winfsp/cgofuse/fuse"

	"github.com/hareadfs/hareadfs/internal/backend"
)

// CgoFuseFS serves the union view through cgofuse's path-based API.
type CgoFuseFS struct {
	fuse.FileSystemBase

	fsys    *FileSystem
	config  *MountConfig
	logger  zerolog.Logger
	mu      sync.Mutex
	host    *fuse.FileSystemHost
	mounted bool
	done    chan struct{}

	inited   chan struct{}
	initOnce *sync.Once
}

// NewCgoFuseFS creates a new cgofuse-based filesystem
func NewCgoFuseFS(fsys *FileSystem, config *MountConfig, logger zerolog.Logger) *CgoFuseFS {
	if config.Options == nil {
		config.Options = DefaultMountOptions()
	}
	return &CgoFuseFS{
		fsys:   fsys,
		config: config,
		logger: logger.With().Str("component", "mount").Logger(),
	}
}

func (c *CgoFuseFS) mountArgs() []string {
	o := c.config.Options
	args := []string{
		"-o", "ro",
		"-o", fmt.Sprintf("fsname=%s", o.FSName),
		"-o", fmt.Sprintf("subtype=%s", o.Subtype),
		"-o", fmt.Sprintf("attr_timeout=%g", o.AttrTimeout.Seconds()),
		"-o", fmt.Sprintf("entry_timeout=%g", o.EntryTimeout.Seconds()),
	}
	if o.AllowOther {
		args = append(args, "-o", "allow_other")
	}
	if o.Debug {
		args = append(args, "-d")
	}
	for _, extra := range o.Extra {
		args = append(args, "-o", extra)
	}
	return args
}

// Mount mounts the filesystem
func (c *CgoFuseFS) Mount(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mounted {
		return fmt.Errorf("filesystem already mounted")
	}

	c.host = fuse.NewFileSystemHost(c)
	c.done = make(chan struct{})
	c.inited = make(chan struct{})
	c.initOnce = &sync.Once{}

	go func(host *fuse.FileSystemHost, done chan struct{}) {
		defer close(done)
		if !host.Mount(c.config.MountPoint, c.mountArgs()) {
			c.logger.Error().Str("mount_point", c.config.MountPoint).Msg("mount failed")
		}
	}(c.host, c.done)

	// Init is called by the host once the kernel has accepted the mount.
	select {
	case <-c.inited:
	case <-c.done:
		return fmt.Errorf("failed to mount %s", c.config.MountPoint)
	case <-ctx.Done():
		c.host.Unmount()
		return ctx.Err()
	}

	c.mounted = true
	c.logger.Info().Str("mount_point", c.config.MountPoint).Msg("filesystem mounted")
	return nil
}

// Unmount unmounts the filesystem
func (c *CgoFuseFS) Unmount() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.mounted {
		return fmt.Errorf("filesystem not mounted")
	}
	if c.host != nil && !c.host.Unmount() {
		return fmt.Errorf("unmount of %s failed", c.config.MountPoint)
	}

	c.mounted = false
	c.logger.Info().Str("mount_point", c.config.MountPoint).Msg("filesystem unmounted")
	return nil
}

// IsMounted returns whether the filesystem is mounted
func (c *CgoFuseFS) IsMounted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mounted
}

// Wait blocks until the host's mount loop returns.
func (c *CgoFuseFS) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// GetStats returns filesystem statistics
func (c *CgoFuseFS) GetStats() FilesystemStats {
	return c.fsys.GetStats()
}

// Init signals that the mount is up.
func (c *CgoFuseFS) Init() {
	c.initOnce.Do(func() { close(c.inited) })
}

// Getattr gets file attributes
func (c *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	c.fsys.stats.getattrs.Add(1)

	attr, err := c.fsys.dispatcher.Getattr(context.Background(), path)
	if err != nil {
		return -int(c.fsys.errno("getattr", path, err))
	}
	fillStat(stat, attr)
	return 0
}

func (c *CgoFuseFS) Readlink(path string) (int, string) {
	target, err := c.fsys.dispatcher.Readlink(context.Background(), path)
	if err != nil {
		return -int(c.fsys.errno("readlink", path, err)), ""
	}
	return 0, target
}

// Open opens a file
func (c *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	c.fsys.stats.opens.Add(1)

	if err := c.fsys.dispatcher.Open(context.Background(), path, flags); err != nil {
		return -int(c.fsys.errno("open", path, err)), ^uint64(0)
	}
	return 0, 0
}

// Read reads from a file
func (c *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	c.fsys.stats.reads.Add(1)

	n, err := c.fsys.dispatcher.Read(context.Background(), path, buff, ofst)
	if err != nil {
		return -int(c.fsys.errno("read", path, err))
	}
	c.fsys.stats.bytesRead.Add(int64(n))
	return n
}

// Readdir reads directory contents
func (c *CgoFuseFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	c.fsys.stats.readdirs.Add(1)

	entries, err := c.fsys.merger.ReadDir(context.Background(), path)
	if err != nil {
		return -int(c.fsys.errno("readdir", path, err))
	}

	fill(".", nil, 0)
	fill("..", nil, 0)
	for _, e := range entries {
		if !fill(e.Name, &fuse.Stat_t{Mode: e.Mode}, 0) {
			break
		}
	}
	return 0
}

func (c *CgoFuseFS) Access(path string, mask uint32) int {
	return -int(c.fsys.errno("access", path, c.fsys.dispatcher.Access(context.Background(), path, mask)))
}

func (c *CgoFuseFS) Getxattr(path string, name string) (int, []byte) {
	ctx := context.Background()
	size, err := c.fsys.dispatcher.Getxattr(ctx, path, name, nil)
	if err != nil {
		return -int(c.fsys.errno("getxattr", path, err)), nil
	}
	buf := make([]byte, size)
	if size > 0 {
		if size, err = c.fsys.dispatcher.Getxattr(ctx, path, name, buf); err != nil {
			return -int(c.fsys.errno("getxattr", path, err)), nil
		}
	}
	return 0, buf[:size]
}

func (c *CgoFuseFS) Listxattr(path string, fill func(name string) bool) int {
	ctx := context.Background()
	size, err := c.fsys.dispatcher.Listxattr(ctx, path, nil)
	if err != nil || size == 0 {
		return -int(c.fsys.errno("listxattr", path, err))
	}
	buf := make([]byte, size)
	if size, err = c.fsys.dispatcher.Listxattr(ctx, path, buf); err != nil {
		return -int(c.fsys.errno("listxattr", path, err))
	}
	for _, name := range bytes.Split(buf[:size], []byte{0}) {
		if len(name) > 0 && !fill(string(name)) {
			break
		}
	}
	return 0
}

func (c *CgoFuseFS) Statfs(path string, stat *fuse.Statfs_t) int {
	info, err := c.fsys.dispatcher.Statfs(context.Background(), path)
	if err != nil {
		return -int(c.fsys.errno("statfs", path, err))
	}
	stat.Bsize = uint64(info.Bsize)
	stat.Frsize = uint64(info.Frsize)
	stat.Blocks = info.Blocks
	stat.Bfree = info.Bfree
	stat.Bavail = info.Bavail
	stat.Files = info.Files
	stat.Ffree = info.Ffree
	stat.Favail = info.Ffree
	stat.Namemax = uint64(info.NameLen)
	return 0
}

func (c *CgoFuseFS) Release(path string, fh uint64) int {
	return 0
}

func (c *CgoFuseFS) Flush(path string, fh uint64) int {
	return 0
}

func (c *CgoFuseFS) Fsync(path string, datasync bool, fh uint64) int {
	return 0
}

// Mutating operations

func (c *CgoFuseFS) Mknod(path string, mode uint32, dev uint64) int {
	return -int(c.fsys.mutate("mknod"))
}

func (c *CgoFuseFS) Mkdir(path string, mode uint32) int {
	return -int(c.fsys.mutate("mkdir"))
}

func (c *CgoFuseFS) Unlink(path string) int {
	return -int(c.fsys.mutate("unlink"))
}

func (c *CgoFuseFS) Rmdir(path string) int {
	return -int(c.fsys.mutate("rmdir"))
}

func (c *CgoFuseFS) Link(oldpath string, newpath string) int {
	return -int(c.fsys.mutate("link"))
}

func (c *CgoFuseFS) Symlink(target string, newpath string) int {
	return -int(c.fsys.mutate("symlink"))
}

func (c *CgoFuseFS) Rename(oldpath string, newpath string) int {
	return -int(c.fsys.mutate("rename"))
}

func (c *CgoFuseFS) Chmod(path string, mode uint32) int {
	return -int(c.fsys.mutate("chmod"))
}

func (c *CgoFuseFS) Chown(path string, uid uint32, gid uint32) int {
	return -int(c.fsys.mutate("chown"))
}

func (c *CgoFuseFS) Utimens(path string, tmsp []fuse.Timespec) int {
	return -int(c.fsys.mutate("utimens"))
}

func (c *CgoFuseFS) Create(path string, flags int, mode uint32) (int, uint64) {
	return -int(c.fsys.mutate("create")), ^uint64(0)
}

func (c *CgoFuseFS) Truncate(path string, size int64, fh uint64) int {
	return -int(c.fsys.mutate("truncate"))
}

func (c *CgoFuseFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	return -int(c.fsys.mutate("write"))
}

func (c *CgoFuseFS) Setxattr(path string, name string, value []byte, flags int) int {
	return -int(c.fsys.mutate("setxattr"))
}

func (c *CgoFuseFS) Removexattr(path string, name string) int {
	return -int(c.fsys.mutate("removexattr"))
}

func fillStat(stat *fuse.Stat_t, a *backend.Attr) {
	stat.Mode = a.Mode
	stat.Nlink = uint32(a.Nlink)
	stat.Uid = a.Uid
	stat.Gid = a.Gid
	stat.Rdev = a.Rdev
	stat.Size = a.Size
	stat.Blocks = a.Blocks
	stat.Blksize = a.Blksize
	stat.Atim = fuse.NewTimespec(a.Atime)
	stat.Mtim = fuse.NewTimespec(a.Mtime)
	stat.Ctim = fuse.NewTimespec(a.Ctime)
}
