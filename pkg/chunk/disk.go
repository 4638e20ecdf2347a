// pkg/chunk/disk.go

package chunk

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/juju/ratelimit"
	"github.com/pkg/errors"
)

// DiskStore keeps chunk records as files: <dir>/<id>/<index>.
type DiskStore struct {
	dir   string
	size  int
	codec *Codec
	limit *ratelimit.Bucket
}

var _ Store = (*DiskStore)(nil)

func NewDiskStore(conf *Config) (*DiskStore, error) {
	if conf.CacheDir == "" {
		return nil, errors.New("cache dir is required")
	}
	size := conf.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	codec, err := NewCodec(conf.Compress, size)
	if err != nil {
		return nil, err
	}
	dir, err := filepath.Abs(conf.CacheDir)
	if err != nil {
		return nil, errors.Wrapf(err, "abs of %s", conf.CacheDir)
	}
	return &DiskStore{
		dir:   dir,
		size:  size,
		codec: codec,
		limit: newWriteLimit(conf.WriteLimit),
	}, nil
}

func (s *DiskStore) String() string {
	return "disk://" + s.dir + " (" + s.codec.Name() + ")"
}

func (s *DiskStore) ChunkSize() int {
	return s.size
}

// Dir returns the backing directory of id.
func (s *DiskStore) Dir(id string) string {
	return filepath.Join(s.dir, id)
}

func (s *DiskStore) recordPath(id string, index int64) string {
	return filepath.Join(s.dir, id, strconv.FormatInt(index, 10))
}

func (s *DiskStore) EnsureDir(id string) error {
	if err := os.MkdirAll(s.Dir(id), 0755); err != nil {
		return errors.Wrapf(err, "create backing dir for %s", id)
	}
	return nil
}

func (s *DiskStore) Load(id string, index int64) ([]byte, error) {
	p := s.recordPath(id, index)
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", p)
	}
	payload, err := s.codec.Decode(data)
	if err != nil {
		return nil, errors.WithMessage(err, p)
	}
	return payload, nil
}

// Save replaces the record atomically: readers see either the old record or
// the new one.
func (s *DiskStore) Save(id string, index int64, payload []byte) error {
	if len(payload) > s.size {
		return errors.Errorf("chunk %s/%d: payload of %d bytes exceeds chunk size %d", id, index, len(payload), s.size)
	}
	data, err := s.codec.Encode(payload)
	if err != nil {
		return err
	}
	p := s.recordPath(id, index)
	tmp := filepath.Join(filepath.Dir(p), "."+filepath.Base(p)+".tmp."+uuid.New().String())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}
	_, err = (&limitedWriter{f, s.limit}).Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, p)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "write %s", p)
	}
	logger.Debugf("saved chunk %s: %d -> %d bytes", p, len(payload), len(data))
	return nil
}

// Records lists the records of id ordered by index. A missing backing
// directory has no records.
func (s *DiskStore) Records(id string) ([]Record, error) {
	entries, err := os.ReadDir(s.Dir(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", s.Dir(id))
	}
	var rs []Record
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || e.IsDir() {
			continue
		}
		index, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			logger.Debugf("skip unknown file %s in %s", name, s.Dir(id))
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		rs = append(rs, Record{Index: index, Size: fi.Size(), Atime: getAtime(fi)})
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].Index < rs[j].Index })
	return rs, nil
}

// Invalidate removes every record of id. The directory itself stays.
func (s *DiskStore) Invalidate(id string) error {
	rs, err := s.Records(id)
	if err != nil {
		return err
	}
	for _, r := range rs {
		if err := os.Remove(s.recordPath(id, r.Index)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove chunk %s/%d", id, r.Index)
		}
	}
	if len(rs) > 0 {
		logger.Debugf("invalidated %d chunks of %s", len(rs), id)
	}
	return nil
}

func getAtime(fi os.FileInfo) time.Time {
	if sst, ok := fi.Sys().(*syscall.Stat_t); ok {
		return time.Unix(sst.Atim.Unix())
	}
	return fi.ModTime()
}
