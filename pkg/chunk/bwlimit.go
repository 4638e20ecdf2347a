// pkg/chunk/bwlimit.go

package chunk

import (
	"io"

	"github.com/juju/ratelimit"
)

type limitedWriter struct {
	io.Writer
	r *ratelimit.Bucket
}

func (l *limitedWriter) Write(buf []byte) (int, error) {
	if l.r != nil {
		l.r.Wait(int64(len(buf)))
	}
	return l.Writer.Write(buf)
}

// newWriteLimit returns nil when limit is not positive.
func newWriteLimit(limit int64) *ratelimit.Bucket {
	if limit <= 0 {
		return nil
	}
	return ratelimit.NewBucketWithRate(float64(limit), limit)
}
