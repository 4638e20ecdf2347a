// pkg/vfs/cache_test.go

package vfs

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ChunkFS/pkg/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, size, shards int) (*Cache, *chunk.DiskStore) {
	store, err := chunk.NewDiskStore(&chunk.Config{CacheDir: t.TempDir(), ChunkSize: size})
	require.NoError(t, err)
	return NewCache(store, shards), store
}

func newTestFile(t *testing.T, data []byte) (string, *os.File) {
	p := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(p, data, 0644))
	f, err := os.OpenFile(p, os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return p, f
}

func randomBytes(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func TestWriteSplicesWithinChunk(t *testing.T) {
	c, store := newTestCache(t, 4, 1)
	p, f := newTestFile(t, nil)

	n, err := c.WriteChunk(p, f, []byte("AB"), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = c.WriteChunk(p, f, []byte("CD"), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	buf := make([]byte, 4)
	n, err = c.ReadChunk(p, f, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "ABCD", string(buf[:n]))

	cached, err := store.Load(chunk.Digest(p), 0)
	require.NoError(t, err)
	assert.Equal(t, "ABCD", string(cached))

	onDisk, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "ABCD", string(onDisk))
}

func TestReadAfterWrite(t *testing.T) {
	const size = 16
	c, _ := newTestCache(t, size, 1)
	p, f := newTestFile(t, randomBytes(5*size+3, 1))

	cases := []struct {
		off  int64
		data string
	}{
		{0, "x"},
		{5, "hello"},
		{16, "0123456789abcdef"},
		{37, "tail"},
		{80, "xyz"},   // straddles the old end of file
		{100, "far"}, // past the end, leaves a hole
	}
	for _, tc := range cases {
		n, err := c.Write(p, f, []byte(tc.data), tc.off)
		require.NoError(t, err)
		require.Equal(t, len(tc.data), n)

		buf := make([]byte, len(tc.data))
		n, err = c.Read(p, f, buf, tc.off)
		require.NoError(t, err)
		assert.Equal(t, tc.data, string(buf[:n]), "offset %d", tc.off)
	}

	// the cache agrees with the authoritative file everywhere
	onDisk, err := os.ReadFile(p)
	require.NoError(t, err)
	got := make([]byte, len(onDisk)+size)
	n, err := c.Read(p, f, got, 0)
	require.NoError(t, err)
	assert.Equal(t, onDisk, got[:n])
}

func TestWritePreservesTail(t *testing.T) {
	c, _ := newTestCache(t, 8, 1)
	p, f := newTestFile(t, []byte("abcdefgh"))

	buf := make([]byte, 8)
	_, err := c.ReadChunk(p, f, buf, 0)
	require.NoError(t, err)

	_, err = c.WriteChunk(p, f, []byte("XY"), 2)
	require.NoError(t, err)
	n, err := c.ReadChunk(p, f, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abXYefgh", string(buf[:n]))
}

func TestColdRead(t *testing.T) {
	const size = 32
	c, store := newTestCache(t, size, 1)
	data := randomBytes(3*size+7, 2)
	p, f := newTestFile(t, data)
	id := chunk.Digest(p)

	_, err := store.Load(id, 0)
	require.Equal(t, chunk.ErrMiss, err)

	buf := make([]byte, 10)
	n, err := c.ReadChunk(p, f, buf, 3)
	require.NoError(t, err)
	assert.Equal(t, data[3:13], buf[:n])

	cached, err := store.Load(id, 0)
	require.NoError(t, err)
	assert.Equal(t, data[:size], cached)

	hits, misses, _, _ := c.Stats()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(1), misses)

	n, err = c.ReadChunk(p, f, buf, 3)
	require.NoError(t, err)
	assert.Equal(t, data[3:13], buf[:n])
	hits, _, _, _ = c.Stats()
	assert.Equal(t, int64(1), hits)
}

func TestReadChunkStopsAtChunkEnd(t *testing.T) {
	c, _ := newTestCache(t, 8, 1)
	p, f := newTestFile(t, []byte("0123456789abcdef"))

	buf := make([]byte, 10)
	n, err := c.ReadChunk(p, f, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "67", string(buf[:n]))

	n, err = c.Read(p, f, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "6789abcdef", string(buf[:n]))
}

func TestReadStopsAtEOF(t *testing.T) {
	const size = 16
	c, _ := newTestCache(t, size, 1)
	data := randomBytes(2*size+5, 3)
	p, f := newTestFile(t, data)

	buf := make([]byte, 4*size)
	n, err := c.Read(p, f, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, data, buf[:n])

	// again, now served from the cache
	n, err = c.Read(p, f, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, data, buf[:n])

	n, err = c.Read(p, f, buf, int64(len(data)+100))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestShortChunkGrows(t *testing.T) {
	const size = 16
	c, store := newTestCache(t, size, 1)
	p, f := newTestFile(t, []byte("abc"))

	buf := make([]byte, size)
	n, err := c.Read(p, f, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))

	// extend the file with a hole through another chunk
	_, err = c.Write(p, f, []byte("z"), size+1)
	require.NoError(t, err)

	n, err = c.Read(p, f, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, size, n)
	assert.Equal(t, append([]byte("abc"), make([]byte, size-3)...), buf[:n])
	cached, err := store.Load(chunk.Digest(p), 0)
	require.NoError(t, err)
	assert.Len(t, cached, size)
}

// countingFile counts the reads that reach the authoritative file.
type countingFile struct {
	*os.File
	reads int
}

func (f *countingFile) ReadAt(p []byte, off int64) (int, error) {
	f.reads++
	return f.File.ReadAt(p, off)
}

func TestShortChunkServedFromCache(t *testing.T) {
	c, _ := newTestCache(t, chunk.DefaultChunkSize, 1)
	data := randomBytes(1000, 9)
	p, fd := newTestFile(t, data)
	f := &countingFile{File: fd}

	buf := make([]byte, 4096)
	n, err := c.Read(p, f, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, data, buf[:n])
	require.Equal(t, 1, f.reads)

	f.reads = 0
	for i := 0; i < 5; i++ {
		n, err = c.Read(p, f, buf, 0)
		require.NoError(t, err)
		assert.Equal(t, data, buf[:n])
	}
	assert.Zero(t, f.reads, "a warm tail chunk is served from its record")
	hits, misses, _, _ := c.Stats()
	assert.Equal(t, int64(5), hits)
	assert.Equal(t, int64(1), misses)

	n, err = c.Read(p, f, buf, 900)
	require.NoError(t, err)
	assert.Equal(t, data[900:], buf[:n])
	assert.Zero(t, f.reads)
}

func TestRenamedDirectory(t *testing.T) {
	c, store := newTestCache(t, 16, 1)
	root := t.TempDir()
	dir := func(name string) string { return filepath.Join(root, name) }
	require.NoError(t, os.MkdirAll(filepath.Join(dir("a"), "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir("a"), "x"), []byte("AAAAAAAA"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir("a"), "sub", "y"), []byte("aaaa"), 0644))

	fill := func(p string) {
		f, err := os.Open(p)
		require.NoError(t, err)
		defer f.Close()
		fi, err := f.Stat()
		require.NoError(t, err)
		require.NoError(t, c.Fill(p, f, fi.Size()))
	}
	records := func(p string) []chunk.Record {
		rs, err := store.Records(chunk.Digest(p))
		require.NoError(t, err)
		return rs
	}
	fill(filepath.Join(dir("a"), "x"))
	fill(filepath.Join(dir("a"), "sub", "y"))

	require.NoError(t, os.Rename(dir("a"), dir("c")))
	c.Renamed(dir("a"), dir("c"))
	assert.Empty(t, records(filepath.Join(dir("a"), "x")))
	assert.Empty(t, records(filepath.Join(dir("a"), "sub", "y")))

	// a new directory takes the old name
	require.NoError(t, os.MkdirAll(dir("d"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir("d"), "x"), []byte("BBBBBBBB"), 0644))
	require.NoError(t, os.Rename(dir("d"), dir("a")))
	c.Renamed(dir("d"), dir("a"))

	p := filepath.Join(dir("a"), "x")
	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()
	buf := make([]byte, 16)
	n, err := c.Read(p, f, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBB", string(buf[:n]))
}

func TestRenamedFile(t *testing.T) {
	c, store := newTestCache(t, 16, 1)
	root := t.TempDir()
	from, to := filepath.Join(root, "from"), filepath.Join(root, "to")
	for _, p := range []string{from, to} {
		require.NoError(t, store.Save(chunk.Digest(p), 0, []byte("stale")))
	}
	require.NoError(t, os.WriteFile(from, []byte("new"), 0644))
	require.NoError(t, os.Rename(from, to))

	c.Renamed(from, to)
	for _, p := range []string{from, to} {
		rs, err := store.Records(chunk.Digest(p))
		require.NoError(t, err)
		assert.Empty(t, rs, p)
	}
}

func TestCorruptRecordFallsBack(t *testing.T) {
	const size = 16
	c, store := newTestCache(t, size, 1)
	data := randomBytes(size, 4)
	p, f := newTestFile(t, data)
	id := chunk.Digest(p)

	buf := make([]byte, size)
	_, err := c.ReadChunk(p, f, buf, 0)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(filepath.Join(store.Dir(id), "0"), 0))

	n, err := c.ReadChunk(p, f, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, data, buf[:n])
	_, _, corrupt, _ := c.Stats()
	assert.Equal(t, int64(1), corrupt)

	cached, err := store.Load(id, 0)
	require.NoError(t, err, "the record is rebuilt")
	assert.Equal(t, data, cached)
}

func TestCorruptRecordOnWrite(t *testing.T) {
	c, store := newTestCache(t, 8, 1)
	p, f := newTestFile(t, []byte("abcdefgh"))
	id := chunk.Digest(p)
	require.NoError(t, store.EnsureDir(id))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(id), "0"), []byte("garbage"), 0644))

	_, err := c.WriteChunk(p, f, []byte("Z"), 7)
	require.NoError(t, err)
	cached, err := store.Load(id, 0)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgZ", string(cached))
}

func TestConcurrentWriters(t *testing.T) {
	const size = 64
	const writers = 16
	for _, shards := range []int{1, 8} {
		t.Run(fmt.Sprintf("shards=%d", shards), func(t *testing.T) {
			c, _ := newTestCache(t, size, shards)
			p, f := newTestFile(t, make([]byte, writers*size))

			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					data := bytes.Repeat([]byte{byte('a' + i)}, 10)
					off := int64(i*size + i%7)
					n, err := c.Write(p, f, data, off)
					assert.NoError(t, err)
					assert.Equal(t, len(data), n)
				}(i)
			}
			wg.Wait()

			for i := 0; i < writers; i++ {
				buf := make([]byte, 10)
				n, err := c.Read(p, f, buf, int64(i*size+i%7))
				require.NoError(t, err)
				assert.Equal(t, bytes.Repeat([]byte{byte('a' + i)}, 10), buf[:n], "writer %d", i)
			}
		})
	}
}

func TestWriteOnlyHandle(t *testing.T) {
	c, store := newTestCache(t, 8, 1)
	p, rw := newTestFile(t, []byte("abcdefgh"))
	wo, err := os.OpenFile(p, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer wo.Close()

	n, err := c.WriteChunk(p, wo, []byte("XY"), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = store.Load(chunk.Digest(p), 0)
	assert.Equal(t, chunk.ErrMiss, err, "a chunk that can't be rebuilt is not cached")

	buf := make([]byte, 8)
	n, err = c.ReadChunk(p, rw, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abXYefgh", string(buf[:n]))
}

func TestFailedWriteLeavesCache(t *testing.T) {
	c, store := newTestCache(t, 8, 1)
	p, _ := newTestFile(t, []byte("abcdefgh"))
	ro, err := os.Open(p)
	require.NoError(t, err)
	defer ro.Close()

	buf := make([]byte, 8)
	_, err = c.ReadChunk(p, ro, buf, 0)
	require.NoError(t, err)

	_, err = c.WriteChunk(p, ro, []byte("XY"), 0)
	assert.Error(t, err)
	cached, err := store.Load(chunk.Digest(p), 0)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(cached))
}

func TestUnusableBackingDir(t *testing.T) {
	notDir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(notDir, nil, 0644))
	store, err := chunk.NewDiskStore(&chunk.Config{CacheDir: notDir, ChunkSize: 8})
	require.NoError(t, err)
	c := NewCache(store, 1)
	p, f := newTestFile(t, []byte("abcdefgh"))

	buf := make([]byte, 8)
	n, err := c.Read(p, f, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(buf[:n]))

	n, err = c.Write(p, f, []byte("Q"), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, _, _, uncached := c.Stats()
	assert.Equal(t, int64(2), uncached)
}

func TestFillAndInvalidate(t *testing.T) {
	const size = 16
	c, store := newTestCache(t, size, 4)
	data := randomBytes(3*size+1, 5)
	p, f := newTestFile(t, data)
	id := chunk.Digest(p)

	require.NoError(t, c.Fill(p, f, int64(len(data))))
	rs, err := store.Records(id)
	require.NoError(t, err)
	require.Len(t, rs, 4)

	c.Invalidate(p)
	rs, err = store.Records(id)
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestWarmup(t *testing.T) {
	const size = 16
	c, store := newTestCache(t, size, 2)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0755))
	files := map[string][]byte{
		"a/one":   randomBytes(size*2, 6),
		"a/b/two": randomBytes(size+1, 7),
		"three":   randomBytes(3, 8),
	}
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), data, 0644))
	}

	total, failed := c.Warmup(root, []string{"a", "/three", "missing"}, 2, nil)
	assert.Equal(t, int64(3), total)
	assert.Zero(t, failed)

	for name, data := range files {
		rs, err := store.Records(chunk.Digest(LogicalPath(root, name)))
		require.NoError(t, err)
		assert.Len(t, rs, (len(data)+size-1)/size, name)
	}
}

func TestSplice(t *testing.T) {
	assert.Equal(t, "AB", string(splice(nil, 0, []byte("AB"))))
	assert.Equal(t, "ABCD", string(splice([]byte("AB"), 2, []byte("CD"))))
	assert.Equal(t, "aXYd", string(splice([]byte("abcd"), 1, []byte("XY"))))
	assert.Equal(t, "ab\x00\x00Z", string(splice([]byte("ab"), 4, []byte("Z"))))
}

func TestLockSet(t *testing.T) {
	one := newLockSet(0)
	assert.Same(t, one.get("a", 0), one.get("b", 4096))

	many := newLockSet(16)
	assert.Same(t, many.get("a", 4096), many.get("a", 4096))
	many.lockAll()
	many.unlockAll()
}
