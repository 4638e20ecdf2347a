// pkg/fuse/file.go

package fuse

import (
	"context"
	"errors"
	"io"
	"syscall"

	"ChunkFS/pkg/vfs"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"
)

// fdFile is the authoritative file behind an open handle.
type fdFile int

var _ vfs.File = fdFile(0)

func (fd fdFile) ReadAt(p []byte, off int64) (int, error) {
	var n int
	for n < len(p) {
		m, err := unix.Pread(int(fd), p[n:], off+int64(n))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, io.EOF
		}
		n += m
	}
	return n, nil
}

func (fd fdFile) Size() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(fd), &st); err != nil {
		return 0, err
	}
	return st.Size, nil
}

func (fd fdFile) WriteAt(p []byte, off int64) (int, error) {
	var n int
	for n < len(p) {
		m, err := unix.Pwrite(int(fd), p[n:], off+int64(n))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, io.ErrShortWrite
		}
		n += m
	}
	return n, nil
}

// loopbackFile is the part of the go-fuse loopback handle kept as is.
type loopbackFile interface {
	fs.FileReleaser
	fs.FileFlusher
	fs.FileFsyncer
	fs.FileGetattrer
	fs.FileSetattrer
	fs.FileLseeker
	fs.FileAllocater
	fs.FileGetlker
	fs.FileSetlker
	fs.FileSetlkwer
}

// cachedFile routes Read and Write through the chunk cache and everything
// else to the loopback handle of the same descriptor.
type cachedFile struct {
	loopbackFile
	fd    fdFile
	path  string
	cache *vfs.Cache
	log   *vfs.AccessLog
}

var _ = (fs.FileReader)((*cachedFile)(nil))
var _ = (fs.FileWriter)((*cachedFile)(nil))
var _ = (fs.FileSetlker)((*cachedFile)(nil))

func (fsys *fileSystem) newCachedFile(fd int, path string) *cachedFile {
	return &cachedFile{
		loopbackFile: fs.NewLoopbackFile(fd).(loopbackFile),
		fd:           fdFile(fd),
		path:         path,
		cache:        fsys.cache,
		log:          fsys.log,
	}
}

func (f *cachedFile) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	fctx := newContext(ctx)
	defer releaseContext(fctx)
	n, err := f.cache.Read(f.path, f.fd, dest, off)
	errno := toErrno(err)
	f.log.Log(fctx, "read (%s,%d,%d): %s (%d)", f.path, len(dest), off, errstr(errno), n)
	if errno != 0 {
		return nil, errno
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (f *cachedFile) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	fctx := newContext(ctx)
	defer releaseContext(fctx)
	n, err := f.cache.Write(f.path, f.fd, data, off)
	errno := toErrno(err)
	f.log.Log(fctx, "write (%s,%d,%d): %s (%d)", f.path, len(data), off, errstr(errno), n)
	return uint32(n), errno
}

func toErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var eno syscall.Errno
	if errors.As(err, &eno) {
		return eno
	}
	if errors.Is(err, io.ErrShortWrite) {
		return syscall.EIO
	}
	return fs.ToErrno(err)
}

func errstr(eno syscall.Errno) string {
	if eno == 0 {
		return "OK"
	}
	return eno.Error()
}
