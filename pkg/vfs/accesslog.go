// pkg/vfs/accesslog.go

package vfs

import (
	"fmt"
	"sync"
	"time"
)

// AccessLogName is the file in the mount root streaming the access log.
const AccessLogName = ".accesslog"

const (
	slowOperation = time.Second * 10
	readerBacklog = 10240
)

// AccessLog fans out one line per operation to every open reader of the
// access log file. Lines are dropped for readers that fall behind.
type AccessLog struct {
	mu      sync.Mutex
	readers map[*LogReader]struct{}
	wait    time.Duration
}

func NewAccessLog() *AccessLog {
	return &AccessLog{readers: make(map[*LogReader]struct{}), wait: time.Second}
}

// LogReader is one open handle of the access log.
type LogReader struct {
	sync.Mutex
	lines chan []byte
	rest  []byte
	wait  time.Duration
}

// Log records an operation. Operations slower than ten seconds also go to
// the process log.
func (l *AccessLog) Log(ctx LogContext, format string, args ...interface{}) {
	used := ctx.Duration()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.readers) == 0 && used < slowOperation {
		return
	}

	op := fmt.Sprintf(format, args...)
	if used >= slowOperation {
		logger.Infof("slow operation: %s <%.6f>", op, used.Seconds())
	}
	ts := time.Now().Format("2006.01.02 15:04:05.000000")
	line := []byte(fmt.Sprintf("%s [uid:%d,gid:%d,pid:%d] %s <%.6f>\n",
		ts, ctx.Uid(), ctx.Gid(), ctx.Pid(), op, used.Seconds()))
	for r := range l.readers {
		select {
		case r.lines <- line:
		default:
		}
	}
}

func (l *AccessLog) Open() *LogReader {
	r := &LogReader{lines: make(chan []byte, readerBacklog), wait: l.wait}
	l.mu.Lock()
	l.readers[r] = struct{}{}
	l.mu.Unlock()
	return r
}

func (l *AccessLog) Close(r *LogReader) {
	l.mu.Lock()
	delete(l.readers, r)
	l.mu.Unlock()
}

// Read fills buf with pending lines, waiting for up to a second for the
// first one. With nothing to report it returns a "#" keepalive line so the
// reader never sees EOF.
func (r *LogReader) Read(buf []byte) int {
	r.Lock()
	defer r.Unlock()
	n := copy(buf, r.rest)
	r.rest = r.rest[n:]
	if n == len(buf) {
		return n
	}
	t := time.NewTimer(r.wait)
	defer t.Stop()
	for n < len(buf) {
		select {
		case line := <-r.lines:
			m := copy(buf[n:], line)
			n += m
			if m < len(line) {
				r.rest = line[m:]
				return n
			}
		case <-t.C:
			if n == 0 {
				n = copy(buf, "#\n")
			}
			return n
		}
	}
	return n
}
