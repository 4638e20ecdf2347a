// pkg/fuse/fs.go

package fuse

import (
	"context"
	"os"
	"path/filepath"
	"syscall"

	"ChunkFS/pkg/vfs"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"
)

// fileSystem is a loopback of the root directory whose regular files are
// read and written through the chunk cache.
type fileSystem struct {
	loopback *fs.LoopbackRoot
	root     *node
	cache    *vfs.Cache
	log      *vfs.AccessLog
}

func newFileSystem(root string, cache *vfs.Cache) (*fileSystem, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(root, &st); err != nil {
		return nil, err
	}
	fsys := &fileSystem{cache: cache, log: vfs.NewAccessLog()}
	fsys.loopback = &fs.LoopbackRoot{
		Path: root,
		Dev:  uint64(st.Dev),
		NewNode: func(rootData *fs.LoopbackRoot, parent *fs.Inode, name string, st *syscall.Stat_t) fs.InodeEmbedder {
			return fsys.newNode()
		},
	}
	fsys.root = fsys.newNode()
	fsys.loopback.RootNode = fsys.root
	return fsys, nil
}

func (fsys *fileSystem) newNode() *node {
	return &node{
		LoopbackNode: fs.LoopbackNode{RootData: fsys.loopback},
		fsys:         fsys,
	}
}

// idFromStat mirrors the loopback inode numbering so hard links and
// files from other devices below the root keep distinct inodes.
func (fsys *fileSystem) idFromStat(st *syscall.Stat_t) fs.StableAttr {
	swapped := (uint64(st.Dev) << 32) | (uint64(st.Dev) >> 32)
	swappedRootDev := (fsys.loopback.Dev << 32) | (fsys.loopback.Dev >> 32)
	return fs.StableAttr{
		Mode: uint32(st.Mode),
		Gen:  1,
		Ino:  (swapped ^ swappedRootDev) ^ st.Ino,
	}
}

type node struct {
	fs.LoopbackNode
	fsys *fileSystem
}

var _ = (fs.NodeOnAdder)((*node)(nil))
var _ = (fs.NodeLookuper)((*node)(nil))
var _ = (fs.NodeAccesser)((*node)(nil))
var _ = (fs.NodeOpener)((*node)(nil))
var _ = (fs.NodeCreater)((*node)(nil))
var _ = (fs.NodeSetattrer)((*node)(nil))
var _ = (fs.NodeUnlinker)((*node)(nil))
var _ = (fs.NodeRenamer)((*node)(nil))

// path is the logical path of the node, the key of its chunk cache.
func (n *node) path() string {
	return vfs.LogicalPath(n.RootData.Path, n.Path(n.Root()))
}

func (n *node) OnAdd(ctx context.Context) {
	if n != n.fsys.root {
		return
	}
	ch := n.NewPersistentInode(ctx, &accessLogNode{fsys: n.fsys}, fs.StableAttr{Mode: syscall.S_IFREG})
	n.AddChild(vfs.AccessLogName, ch, false)
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n == n.fsys.root && name == vfs.AccessLogName {
		if ch := n.GetChild(name); ch != nil {
			accessLogAttr(&out.Attr)
			return ch, 0
		}
	}
	return n.LoopbackNode.Lookup(ctx, name, out)
}

func (n *node) Access(ctx context.Context, mask uint32) syscall.Errno {
	if err := unix.Access(n.path(), mask); err != nil {
		return syscall.EACCES
	}
	return 0
}

func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	flags = flags &^ syscall.O_APPEND
	p := n.path()
	fd, err := syscall.Open(p, int(flags), 0)
	if err != nil {
		return nil, 0, fs.ToErrno(err)
	}
	if flags&syscall.O_TRUNC != 0 {
		n.fsys.cache.Invalidate(p)
	}
	return n.fsys.newCachedFile(fd, p), 0, 0
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	flags = flags &^ syscall.O_APPEND
	p := filepath.Join(n.path(), name)
	fd, err := syscall.Open(p, int(flags)|os.O_CREATE, mode)
	if err != nil {
		return nil, nil, 0, fs.ToErrno(err)
	}
	preserveOwner(ctx, p)
	var st syscall.Stat_t
	if err := syscall.Fstat(fd, &st); err != nil {
		syscall.Close(fd)
		return nil, nil, 0, fs.ToErrno(err)
	}
	n.fsys.cache.Invalidate(p)

	ch := n.NewInode(ctx, n.fsys.newNode(), n.fsys.idFromStat(&st))
	out.FromStat(&st)
	return ch, n.fsys.newCachedFile(fd, p), 0, 0
}

// preserveOwner sets uid and gid of path according to the caller information in ctx
func preserveOwner(ctx context.Context, path string) {
	if os.Getuid() != 0 {
		return
	}
	caller, ok := fuse.FromContext(ctx)
	if !ok {
		return
	}
	if err := syscall.Lchown(path, int(caller.Uid), int(caller.Gid)); err != nil {
		logger.Warnf("chown %s: %s", path, err)
	}
}

func (n *node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	errno := n.LoopbackNode.Setattr(ctx, f, in, out)
	if _, ok := in.GetSize(); ok && errno == 0 {
		n.fsys.cache.Invalidate(n.path())
	}
	return errno
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	errno := n.LoopbackNode.Unlink(ctx, name)
	if errno == 0 {
		n.fsys.cache.Invalidate(filepath.Join(n.path(), name))
	}
	return errno
}

func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	errno := n.LoopbackNode.Rename(ctx, name, newParent, newName, flags)
	if errno == 0 {
		target := vfs.LogicalPath(n.RootData.Path, newParent.EmbeddedInode().Path(n.Root()))
		n.fsys.cache.Renamed(filepath.Join(n.path(), name), filepath.Join(target, newName))
	}
	return errno
}
