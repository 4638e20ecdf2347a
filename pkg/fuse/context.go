// pkg/fuse/context.go

package fuse

import (
	"context"
	"sync"
	"time"

	"ChunkFS/pkg/vfs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

type fuseContext struct {
	start  time.Time
	caller *fuse.Caller
}

var _ vfs.LogContext = (*fuseContext)(nil)

var contextPool = sync.Pool{
	New: func() interface{} {
		return &fuseContext{}
	},
}

func newContext(ctx context.Context) *fuseContext {
	c := contextPool.Get().(*fuseContext)
	c.start = time.Now()
	c.caller, _ = fuse.FromContext(ctx)
	return c
}

func releaseContext(ctx *fuseContext) {
	ctx.caller = nil
	contextPool.Put(ctx)
}

func (c *fuseContext) Uid() uint32 {
	if c.caller == nil {
		return 0
	}
	return c.caller.Uid
}

func (c *fuseContext) Gid() uint32 {
	if c.caller == nil {
		return 0
	}
	return c.caller.Gid
}

func (c *fuseContext) Pid() uint32 {
	if c.caller == nil {
		return 0
	}
	return c.caller.Pid
}

func (c *fuseContext) Duration() time.Duration {
	return time.Since(c.start)
}
