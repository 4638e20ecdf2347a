// pkg/vfs/warmup.go

package vfs

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
)

type _file struct {
	path string
	size int64
}

// Warmup fills the cache for every regular file below the given paths,
// which are relative to root. The bar, if any, counts files.
func (c *Cache) Warmup(root string, paths []string, concurrent int, bar *mpb.Bar) (files int64, failed int64) {
	if concurrent < 1 {
		concurrent = 1
	}
	logger.Infof("start to warmup %d paths with %d workers", len(paths), concurrent)
	start := time.Now()
	todo := make(chan _file, 10240)
	wg := sync.WaitGroup{}
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range todo {
				if err := c.fillFile(f); err != nil {
					logger.Errorf("warmup %s: %s", f.path, err)
					atomic.AddInt64(&failed, 1)
				}
				if bar != nil {
					bar.Increment()
				}
			}
		}()
	}

	var total int64
	for _, p := range paths {
		rel := strings.TrimPrefix(filepath.Clean("/"+p), "/")
		top := LogicalPath(root, rel)
		logger.Debugf("Warming up path %s", top)
		err := filepath.WalkDir(top, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				logger.Warnf("Failed to resolve path %s: %s", p, err)
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				logger.Warnf("stat %s: %s", p, err)
				return nil
			}
			total++
			if bar != nil {
				bar.SetTotal(total, false)
			}
			todo <- _file{p, info.Size()}
			return nil
		})
		if err != nil {
			logger.Warnf("walk %s: %s", top, err)
		}
	}
	close(todo)
	wg.Wait()
	if bar != nil {
		bar.SetTotal(-1, true)
	}
	logger.Infof("Warmup %d files in %s", total, time.Since(start))
	return total, failed
}

func (c *Cache) fillFile(f _file) error {
	fd, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer fd.Close()
	return c.Fill(f.path, fd, f.size)
}
