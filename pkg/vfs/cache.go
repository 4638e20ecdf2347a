// pkg/vfs/cache.go

package vfs

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"ChunkFS/pkg/chunk"
	"github.com/pkg/errors"
)

// Cache serves reads and writes of logical files through the chunk store.
// The authoritative file always wins: the cache only holds bytes that were
// read from it or accepted by it.
type Cache struct {
	store chunk.Store
	size  int
	locks *lockSet

	hits, misses, corrupt, uncached atomic.Int64
}

func NewCache(store chunk.Store, shards int) *Cache {
	return &Cache{
		store: store,
		size:  store.ChunkSize(),
		locks: newLockSet(shards),
	}
}

// Stats returns hits, misses, corrupt records and operations served without cache.
func (c *Cache) Stats() (int64, int64, int64, int64) {
	return c.hits.Load(), c.misses.Load(), c.corrupt.Load(), c.uncached.Load()
}

// lookup returns the cached payload of a chunk. cacheable is false when the
// backing directory is unusable, in which case nothing should be saved.
func (c *Cache) lookup(path, id string, index int64) (payload []byte, hit, cacheable bool) {
	if err := c.store.EnsureDir(id); err != nil {
		logger.Warnf("chunk cache of %s unavailable: %s", path, err)
		c.uncached.Add(1)
		return nil, false, false
	}
	payload, err := c.store.Load(id, index)
	switch {
	case err == nil:
		c.hits.Add(1)
		return payload, true, true
	case errors.Is(err, chunk.ErrMiss):
		logger.Debugf("miss %s chunk %d", path, index)
		c.misses.Add(1)
	case errors.Is(err, chunk.ErrCorruptChunk):
		logger.Warnf("corrupt chunk %d of %s, reloading: %s", index, path, err)
		c.corrupt.Add(1)
	default:
		logger.Warnf("load chunk %d of %s: %s", index, path, err)
		c.misses.Add(1)
	}
	return nil, false, true
}

func (c *Cache) save(path, id string, index int64, payload []byte) {
	if err := c.store.Save(id, index, payload); err != nil {
		logger.Warnf("save chunk %d of %s: %s", index, path, err)
	}
}

// readBase reads the whole chunk starting at index from the authoritative file.
func (c *Cache) readBase(f File, index int64) ([]byte, error) {
	buf := make([]byte, c.size)
	n, err := f.ReadAt(buf, index)
	if err == io.EOF {
		err = nil
	}
	return buf[:n], err
}

// ReadChunk copies bytes starting at off into buf, but never past the end of
// the chunk containing off. Callers iterate for longer ranges, see Read.
func (c *Cache) ReadChunk(path string, f File, buf []byte, off int64) (int, error) {
	index := chunk.Index(off, c.size)
	local := int(off - index)
	id := chunk.Digest(path)

	mu := c.locks.get(id, index)
	mu.Lock()
	defer mu.Unlock()

	payload, hit, cacheable := c.lookup(path, id, index)
	switch {
	case !hit:
		var err error
		if payload, err = c.readBase(f, index); err != nil {
			return 0, err
		}
		if cacheable {
			c.save(path, id, index, payload)
		}
	case len(payload) < c.size && local+len(buf) > len(payload) && grown(f, index+int64(len(payload))):
		// the file grew past a short chunk since it was cached
		base, err := c.readBase(f, index)
		if err != nil {
			return 0, err
		}
		if len(base) != len(payload) {
			c.save(path, id, index, base)
		}
		payload = base
	}
	if local >= len(payload) {
		return 0, nil
	}
	return copy(buf, payload[local:]), nil
}

// grown reports whether f is known to extend beyond end.
func grown(f File, end int64) bool {
	size, ok := fileSize(f)
	return ok && size > end
}

// WriteChunk writes as much of data at off as fits in the chunk containing
// off. The authoritative write always happens and its result is returned
// unchanged; the chunk record follows only the bytes it accepted.
func (c *Cache) WriteChunk(path string, f File, data []byte, off int64) (int, error) {
	index := chunk.Index(off, c.size)
	local := int(off - index)
	id := chunk.Digest(path)
	if room := c.size - local; len(data) > room {
		data = data[:room]
	}

	mu := c.locks.get(id, index)
	mu.Lock()
	defer mu.Unlock()

	payload, hit, cacheable := c.lookup(path, id, index)
	if !hit && cacheable {
		base, err := c.readBase(f, index)
		if err != nil {
			// write-only handles can't rebuild the chunk, leave it to the next read
			logger.Debugf("rebuild chunk %d of %s: %s", index, path, err)
			cacheable = false
		} else {
			payload = base
		}
	}

	n, err := f.WriteAt(data, off)
	if n > 0 && cacheable {
		c.save(path, id, index, splice(payload, local, data[:n]))
	}
	return n, err
}

// splice replaces len(data) bytes of payload at off, zero filling any gap
// after the end of payload.
func splice(payload []byte, off int, data []byte) []byte {
	end := off + len(data)
	size := len(payload)
	if end > size {
		size = end
	}
	out := make([]byte, size)
	copy(out, payload)
	copy(out[off:], data)
	return out
}

func (c *Cache) remain(off int64) int {
	return c.size - int(off-chunk.Index(off, c.size))
}

// Read fills buf from off, one chunk at a time, stopping early at the end
// of the file.
func (c *Cache) Read(path string, f File, buf []byte, off int64) (int, error) {
	var n int
	for n < len(buf) {
		pos := off + int64(n)
		want := len(buf) - n
		if r := c.remain(pos); want > r {
			want = r
		}
		got, err := c.ReadChunk(path, f, buf[n:n+want], pos)
		n += got
		if err != nil {
			return n, err
		}
		if got < want {
			break
		}
	}
	return n, nil
}

// Write writes data at off, one chunk at a time.
func (c *Cache) Write(path string, f File, data []byte, off int64) (int, error) {
	var n int
	for n < len(data) {
		pos := off + int64(n)
		want := len(data) - n
		if r := c.remain(pos); want > r {
			want = r
		}
		got, err := c.WriteChunk(path, f, data[n:n+want], pos)
		n += got
		if err != nil {
			return n, err
		}
		if got < want {
			return n, io.ErrShortWrite
		}
	}
	return n, nil
}

// Fill makes sure every chunk of the first size bytes of path is cached.
func (c *Cache) Fill(path string, f File, size int64) error {
	for index := int64(0); index < size; index += int64(c.size) {
		if _, err := c.ReadChunk(path, f, nil, index); err != nil {
			return errors.Wrapf(err, "fill chunk %d of %s", index, path)
		}
	}
	return nil
}

// Renamed drops the chunks of a renamed entry under its old and new path.
// For directories this covers every file below them, so a path reused
// later never finds the records of the file that moved away. Exchanged
// entries are handled the same way from both sides.
func (c *Cache) Renamed(from, to string) {
	c.Invalidate(from)
	c.Invalidate(to)
	c.invalidateTree(to, from)
	c.invalidateTree(from, to)
}

// invalidateTree drops the chunks of every file below dir, and of the same
// relative path below other.
func (c *Cache) invalidateTree(dir, other string) {
	fi, err := os.Lstat(dir)
	if err != nil || !fi.IsDir() {
		return
	}
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warnf("invalidate %s: %s", p, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return nil
		}
		c.Invalidate(p)
		c.Invalidate(filepath.Join(other, rel))
		return nil
	})
	if err != nil {
		logger.Warnf("walk %s: %s", dir, err)
	}
}

// Invalidate drops every cached chunk of path.
func (c *Cache) Invalidate(path string) {
	id := chunk.Digest(path)
	c.locks.lockAll()
	defer c.locks.unlockAll()
	if err := c.store.Invalidate(id); err != nil {
		logger.Warnf("invalidate cache of %s: %s", path, err)
	}
}
