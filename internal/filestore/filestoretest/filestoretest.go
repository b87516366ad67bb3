// Package filestoretest provides an in-memory filestore.Store for tests.
package filestoretest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/programmerrush/InsightDB-api/internal/errs"
	"github.com/programmerrush/InsightDB-api/internal/filestore"
)

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Store keeps objects in memory, keyed by bucket and key.
type Store struct {
	// PutErr, when set, fails every PutObject.
	PutErr error

	mu      sync.Mutex
	buckets map[string]map[string]object
}

var _ filestore.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{buckets: make(map[string]map[string]object)}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) EnsureBucket(_ context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string]object)
	}
	return nil
}

func (s *Store) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, contentType string) (*filestore.ObjectInfo, error) {
	if s.PutErr != nil {
		return nil, s.PutErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if size >= 0 && int64(len(data)) != size {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "size mismatch: declared %d, read %d", size, len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[bucket]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "bucket %q does not exist", bucket)
	}
	obj := object{data: data, contentType: contentType, modified: time.Now().UTC()}
	b[key] = obj
	return info(key, obj), nil
}

func (s *Store) ListObjects(_ context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[bucket]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "bucket %q does not exist", bucket)
	}

	keys := make([]string, 0, len(b))
	for k := range b {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
	}

	out := make([]filestore.ObjectInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, *info(k, b[k]))
	}
	return out, nil
}

func (s *Store) StatObject(_ context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	obj, err := s.lookup(bucket, key)
	if err != nil {
		return nil, err
	}
	return info(key, obj), nil
}

func (s *Store) PresignGetURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if _, err := s.lookup(bucket, key); err != nil {
		return "", err
	}
	return fmt.Sprintf("memory://%s/%s?ttl=%s", bucket, key, ttl), nil
}

// Content returns the bytes stored at key, or nil.
func (s *Store) Content(bucket, key string) []byte {
	obj, err := s.lookup(bucket, key)
	if err != nil {
		return nil
	}
	return bytes.Clone(obj.data)
}

func (s *Store) lookup(bucket, key string) (object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return object{}, errs.Newf(errs.ErrKindNotFound, "object %q not found", key)
	}
	return obj, nil
}

func info(key string, obj object) *filestore.ObjectInfo {
	return &filestore.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		LastModified: obj.modified,
	}
}
