// pkg/fuse/accesslog.go

package fuse

import (
	"context"
	"os"
	"syscall"
	"time"

	"ChunkFS/pkg/vfs"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// accessLogNode is the .accesslog file of the mount root. Every open gets
// its own stream of operation lines.
type accessLogNode struct {
	fs.Inode
	fsys *fileSystem
}

var _ = (fs.NodeGetattrer)((*accessLogNode)(nil))
var _ = (fs.NodeOpener)((*accessLogNode)(nil))

var started = time.Now()

func accessLogAttr(out *fuse.Attr) {
	out.Mode = syscall.S_IFREG | 0400
	out.Nlink = 1
	out.Uid = uint32(os.Getuid())
	out.Gid = uint32(os.Getgid())
	out.SetTimes(nil, &started, &started)
}

func (a *accessLogNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	accessLogAttr(&out.Attr)
	return 0
}

func (a *accessLogNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&syscall.O_ACCMODE != syscall.O_RDONLY {
		return nil, 0, syscall.EACCES
	}
	return &accessLogHandle{log: a.fsys.log, r: a.fsys.log.Open()}, fuse.FOPEN_DIRECT_IO, 0
}

type accessLogHandle struct {
	log *vfs.AccessLog
	r   *vfs.LogReader
}

var _ = (fs.FileReader)((*accessLogHandle)(nil))
var _ = (fs.FileReleaser)((*accessLogHandle)(nil))

func (h *accessLogHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n := h.r.Read(dest)
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *accessLogHandle) Release(ctx context.Context) syscall.Errno {
	h.log.Close(h.r)
	return 0
}
