// pkg/compress/compress.go

package compress

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/DataDog/zstd"
	"github.com/hungys/go-lz4"
	"github.com/klauspost/compress/zlib"
)

// DefaultAlgorithm is the codec used for chunk records unless told otherwise.
const DefaultAlgorithm = "zlib"

// ZSTD_LEVEL compression level used by ZStandard
const ZSTD_LEVEL = 1

// Compressor compresses a buffer into dst and decompresses it back. dst must
// be at least CompressBound(len(src)) long for Compress, and large enough for
// the original data for Decompress.
type Compressor interface {
	Name() string
	CompressBound(int) int
	Compress(dst, src []byte) (int, error)
	Decompress(dst, src []byte) (int, error)
}

// NewCompressor returns the compressor for algr, or nil if it is unknown.
func NewCompressor(algr string) Compressor {
	switch strings.ToLower(algr) {
	case "zlib", "":
		return Zlib{zlib.DefaultCompression}
	case "zstd":
		return ZStandard{ZSTD_LEVEL}
	case "lz4":
		return LZ4{}
	}
	return nil
}

// Zlib implements Compressor with the deflate based zlib format.
type Zlib struct {
	level int
}

func (n Zlib) Name() string { return "zlib" }

func (n Zlib) CompressBound(l int) int {
	// stored blocks cost 5 bytes per 64KiB, plus header and adler32
	return l + (l>>16+1)*5 + 64
}

func (n Zlib) Compress(dst, src []byte) (int, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, n.level)
	if err != nil {
		return 0, err
	}
	if _, err = w.Write(src); err != nil {
		return 0, err
	}
	if err = w.Close(); err != nil {
		return 0, err
	}
	if buf.Len() > len(dst) {
		return 0, fmt.Errorf("buffer too short: %d < %d", len(dst), buf.Len())
	}
	return copy(dst, buf.Bytes()), nil
}

func (n Zlib) Decompress(dst, src []byte) (int, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return 0, err
	}
	defer r.Close()
	var got int
	for {
		if got == len(dst) {
			var probe [1]byte
			m, err := r.Read(probe[:])
			if m > 0 {
				return got, fmt.Errorf("buffer too short: more than %d bytes", len(dst))
			}
			if err == io.EOF {
				return got, nil
			}
			if err != nil {
				return got, err
			}
			continue
		}
		m, err := r.Read(dst[got:])
		got += m
		if err == io.EOF {
			return got, nil
		}
		if err != nil {
			return got, err
		}
	}
}

// ZStandard implements Compressor using the zstd library.
type ZStandard struct {
	level int
}

func (n ZStandard) Name() string { return "zstd" }

func (n ZStandard) CompressBound(l int) int {
	return zstd.CompressBound(l)
}

func (n ZStandard) Compress(dst, src []byte) (int, error) {
	d, err := zstd.CompressLevel(nil, src, n.level)
	if err != nil {
		return 0, err
	}
	if len(d) > len(dst) {
		return 0, fmt.Errorf("buffer too short: %d < %d", len(dst), len(d))
	}
	return copy(dst, d), nil
}

func (n ZStandard) Decompress(dst, src []byte) (int, error) {
	if len(src) == 0 {
		return 0, fmt.Errorf("zstd: empty frame")
	}
	d, err := zstd.Decompress(nil, src)
	if err != nil {
		return 0, err
	}
	if len(d) > len(dst) {
		return 0, fmt.Errorf("buffer too short: %d < %d", len(dst), len(d))
	}
	return copy(dst, d), nil
}

// LZ4 implements Compressor using LZ4 block format.
type LZ4 struct{}

func (l LZ4) Name() string { return "lz4" }

func (l LZ4) CompressBound(size int) int {
	if size == 0 {
		return 1
	}
	return lz4.CompressBound(size)
}

// An empty input is encoded as the single token byte LZ4 itself emits for it.
func (l LZ4) Compress(dst, src []byte) (int, error) {
	if len(src) == 0 {
		if len(dst) == 0 {
			return 0, fmt.Errorf("buffer too short: 0 < 1")
		}
		dst[0] = 0
		return 1, nil
	}
	return lz4.CompressDefault(src, dst)
}

func (l LZ4) Decompress(dst, src []byte) (int, error) {
	switch {
	case len(src) == 0:
		return 0, fmt.Errorf("lz4: empty block")
	case len(src) == 1 && src[0] == 0:
		return 0, nil
	case len(dst) == 0:
		return 0, fmt.Errorf("buffer too short")
	}
	n, err := lz4.DecompressSafe(src, dst)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("lz4: malformed block")
	}
	return n, nil
}
