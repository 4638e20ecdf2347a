// pkg/vfs/vfs.go

package vfs

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"ChunkFS/pkg/chunk"
	"ChunkFS/pkg/utils"
)

var logger = utils.GetLogger("chunkfs")

// Config for the mounted filesystem.
type Config struct {
	Root         string
	Mountpoint   string
	Chunk        *chunk.Config
	LockShards   int
	AttrTimeout  time.Duration
	EntryTimeout time.Duration
	FuseOpts     string
	Debug        bool
}

// File is the authoritative copy of a logical file.
type File interface {
	io.ReaderAt
	io.WriterAt
}

// fileSize returns the current size of f if f can tell it.
func fileSize(f File) (int64, bool) {
	switch v := f.(type) {
	case interface{ Size() (int64, error) }:
		size, err := v.Size()
		return size, err == nil
	case interface{ Stat() (os.FileInfo, error) }:
		fi, err := v.Stat()
		if err != nil {
			return 0, false
		}
		return fi.Size(), true
	}
	return 0, false
}

// LogContext identifies the caller of an operation for the access log.
type LogContext interface {
	Uid() uint32
	Gid() uint32
	Pid() uint32
	Duration() time.Duration
}

// LogicalPath is the cache key of rel below root. It must be built the same
// way everywhere, the cache does not normalize paths.
func LogicalPath(root, rel string) string {
	return filepath.Join(root, rel)
}

// RealRoot resolves the root directory the way it is keyed in the cache.
func RealRoot(root string) (string, error) {
	p, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(p)
}
