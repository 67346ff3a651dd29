package fuse

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/hareadfs/hareadfs/internal/backend"
)

// safeInt64ToUint64 safely converts int64 to uint64, preventing negative values
func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// Node is any inode of the union view. Its type comes from the backend that
// answered the lookup.
type Node struct {
	fs.Inode
	fsys *FileSystem
	path string
}

var (
	_ = (fs.NodeLookuper)((*Node)(nil))
	_ = (fs.NodeGetattrer)((*Node)(nil))
	_ = (fs.NodeReaddirer)((*Node)(nil))
	_ = (fs.NodeOpener)((*Node)(nil))
	_ = (fs.NodeReadlinker)((*Node)(nil))
	_ = (fs.NodeAccesser)((*Node)(nil))
	_ = (fs.NodeGetxattrer)((*Node)(nil))
	_ = (fs.NodeListxattrer)((*Node)(nil))
	_ = (fs.NodeStatfser)((*Node)(nil))

	_ = (fs.NodeMkdirer)((*Node)(nil))
	_ = (fs.NodeMknoder)((*Node)(nil))
	_ = (fs.NodeCreater)((*Node)(nil))
	_ = (fs.NodeUnlinker)((*Node)(nil))
	_ = (fs.NodeRmdirer)((*Node)(nil))
	_ = (fs.NodeSymlinker)((*Node)(nil))
	_ = (fs.NodeRenamer)((*Node)(nil))
	_ = (fs.NodeLinker)((*Node)(nil))
	_ = (fs.NodeSetattrer)((*Node)(nil))
	_ = (fs.NodeSetxattrer)((*Node)(nil))
	_ = (fs.NodeRemovexattrer)((*Node)(nil))
)

// Root returns the root inode
func (f *FileSystem) Root() fs.InodeEmbedder {
	return &Node{fsys: f, path: "/"}
}

// Lookup looks up a child node by name
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.fsys.stats.lookups.Add(1)

	childPath := joinPath(n.path, name)
	attr, err := n.fsys.dispatcher.Getattr(ctx, childPath)
	if err != nil {
		return nil, n.fsys.errno("lookup", childPath, err)
	}
	fillAttr(&out.Attr, attr)

	child := &Node{fsys: n.fsys, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: attr.Mode & backend.S_IFMT}), 0
}

// Getattr gets file attributes
func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.fsys.stats.getattrs.Add(1)

	attr, err := n.fsys.dispatcher.Getattr(ctx, n.path)
	if err != nil {
		return n.fsys.errno("getattr", n.path, err)
	}
	fillAttr(&out.Attr, attr)
	return 0
}

// Readdir lists the merged directory contents
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	n.fsys.stats.readdirs.Add(1)

	entries, err := n.fsys.merger.ReadDir(ctx, n.path)
	if err != nil {
		return nil, n.fsys.errno("readdir", n.path, err)
	}

	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: e.Mode})
	}
	return fs.NewListDirStream(out), 0
}

// Open opens a file for reading
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	n.fsys.stats.opens.Add(1)

	if err := n.fsys.dispatcher.Open(ctx, n.path, int(flags)); err != nil {
		return nil, 0, n.fsys.errno("open", n.path, err)
	}
	return &FileHandle{node: n}, 0, 0
}

func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.fsys.dispatcher.Readlink(ctx, n.path)
	if err != nil {
		return nil, n.fsys.errno("readlink", n.path, err)
	}
	return []byte(target), 0
}

func (n *Node) Access(ctx context.Context, mask uint32) syscall.Errno {
	return n.fsys.errno("access", n.path, n.fsys.dispatcher.Access(ctx, n.path, mask))
}

func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	size, err := n.fsys.dispatcher.Getxattr(ctx, n.path, attr, dest)
	if err != nil {
		return 0, n.fsys.errno("getxattr", n.path, err)
	}
	return uint32(size), 0
}

func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	size, err := n.fsys.dispatcher.Listxattr(ctx, n.path, dest)
	if err != nil {
		return 0, n.fsys.errno("listxattr", n.path, err)
	}
	return uint32(size), 0
}

func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	info, err := n.fsys.dispatcher.Statfs(ctx, n.path)
	if err != nil {
		return n.fsys.errno("statfs", n.path, err)
	}
	out.Blocks = info.Blocks
	out.Bfree = info.Bfree
	out.Bavail = info.Bavail
	out.Files = info.Files
	out.Ffree = info.Ffree
	out.Bsize = info.Bsize
	out.NameLen = info.NameLen
	out.Frsize = info.Frsize
	return 0
}

// Mutating operations. None of them reaches a backend.

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, n.fsys.mutate("mkdir")
}

func (n *Node) Mknod(ctx context.Context, name string, mode, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, n.fsys.mutate("mknod")
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, n.fsys.mutate("create")
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.fsys.mutate("unlink")
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.fsys.mutate("rmdir")
}

func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, n.fsys.mutate("symlink")
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return n.fsys.mutate("rename")
}

func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, n.fsys.mutate("link")
}

// Setattr covers chmod, chown, truncate and utimens.
func (n *Node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return n.fsys.mutate("setattr")
}

func (n *Node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	return n.fsys.mutate("setxattr")
}

func (n *Node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	return n.fsys.mutate("removexattr")
}

// FileHandle is an open file. It holds no descriptor: every read is dispatched
// afresh so it can fail over to another backend.
type FileHandle struct {
	node *Node
}

var (
	_ = (fs.FileReader)((*FileHandle)(nil))
	_ = (fs.FileWriter)((*FileHandle)(nil))
	_ = (fs.FileFlusher)((*FileHandle)(nil))
	_ = (fs.FileReleaser)((*FileHandle)(nil))
	_ = (fs.FileFsyncer)((*FileHandle)(nil))
)

// Read reads data from the file
func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	fsys := fh.node.fsys
	fsys.stats.reads.Add(1)

	n, err := fsys.dispatcher.Read(ctx, fh.node.path, dest, off)
	if err != nil {
		return nil, fsys.errno("read", fh.node.path, err)
	}
	fsys.stats.bytesRead.Add(int64(n))
	return fuse.ReadResultData(dest[:n]), 0
}

func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	return 0, fh.node.fsys.mutate("write")
}

func (fh *FileHandle) Flush(ctx context.Context) syscall.Errno {
	return 0
}

func (fh *FileHandle) Release(ctx context.Context) syscall.Errno {
	return 0
}

func (fh *FileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return 0
}

func fillAttr(out *fuse.Attr, a *backend.Attr) {
	out.Mode = a.Mode
	out.Size = safeInt64ToUint64(a.Size)
	out.Blocks = safeInt64ToUint64(a.Blocks)
	out.Blksize = uint32(a.Blksize)
	out.Nlink = uint32(a.Nlink)
	out.Uid = a.Uid
	out.Gid = a.Gid
	out.Rdev = uint32(a.Rdev)
	atime, mtime, ctime := a.Atime, a.Mtime, a.Ctime
	out.SetTimes(&atime, &mtime, &ctime)
}
