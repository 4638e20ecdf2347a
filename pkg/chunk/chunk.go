// pkg/chunk/chunk.go

package chunk

import (
	"time"

	"ChunkFS/pkg/utils"
	"github.com/pkg/errors"
)

var logger = utils.GetLogger("chunkfs")

// DefaultChunkSize is the size of every chunk but possibly the last one of a file.
const DefaultChunkSize = 1 << 16

var (
	// ErrMiss means no record exists for the chunk.
	ErrMiss = errors.New("chunk not cached")
	// ErrCorruptChunk means a record exists but does not decode.
	ErrCorruptChunk = errors.New("corrupt chunk record")
)

type Config struct {
	CacheDir   string
	ChunkSize  int
	Compress   string
	WriteLimit int64 // bytes per second, 0 for unlimited
}

// Record describes one persisted chunk.
type Record struct {
	Index int64
	Size  int64
	Atime time.Time
}

// Store persists the chunks of logical files under per-file directories
// named by the path digest.
type Store interface {
	EnsureDir(id string) error
	Load(id string, index int64) ([]byte, error)
	Save(id string, index int64, payload []byte) error
	Records(id string) ([]Record, error)
	Invalidate(id string) error
	ChunkSize() int
}

// Index returns the start offset of the chunk containing off.
func Index(off int64, size int) int64 {
	return off / int64(size) * int64(size)
}
