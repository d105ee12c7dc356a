// Package objectstore keeps document artifacts in named buckets backed by directories.
// Every successful Put emits an ObjectCreated event.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/models"
)

// Bucket names used by the pipeline.
const (
	BucketRaw       = "raw"
	BucketProcessed = "processed"
)

// Notifier receives object-created events.
type Notifier func(ctx context.Context, ev models.ObjectCreated) error

// Store maps bucket names to directories.
type Store struct {
	roots    map[string]string
	notifier Notifier
	logger   *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier sets the callback invoked after each Put.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates the bucket directories if needed.
func New(buckets map[string]string, opts ...Option) (*Store, error) {
	s := &Store{roots: make(map[string]string, len(buckets)), logger: zap.NewNop()}
	for name, dir := range buckets {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve bucket %s: %w", name, err)
		}
		if err := os.MkdirAll(abs, 0755); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", name, err)
		}
		s.roots[name] = abs
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetNotifier replaces the notifier. Used when the event consumers are built after the store.
func (s *Store) SetNotifier(n Notifier) { s.notifier = n }

// Root returns the directory behind bucket.
func (s *Store) Root(bucket string) (string, bool) {
	dir, ok := s.roots[bucket]
	return dir, ok
}

// Path resolves bucket/key to a file path, rejecting keys that escape the bucket.
func (s *Store) Path(bucket, key string) (string, error) {
	root, ok := s.roots[bucket]
	if !ok {
		return "", fault.NotFound("object path", "bucket not found: %s", bucket)
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == "." || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return filepath.Join(root, clean), nil
}

// Locate maps a file path back to its bucket and key.
func (s *Store) Locate(path string) (bucket, key string, ok bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", false
	}
	for name, root := range s.roots {
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return name, filepath.ToSlash(rel), true
	}
	return "", "", false
}

// Put writes data atomically and emits ObjectCreated.
func (s *Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	path, err := s.Path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp object: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit object: %w", err)
	}
	s.logger.Debug("object stored", zap.String("bucket", bucket), zap.String("key", key), zap.Int("bytes", len(data)))
	if s.notifier != nil {
		if err := s.notifier(ctx, models.ObjectCreated{Bucket: bucket, ObjectKey: key}); err != nil {
			return fmt.Errorf("failed to emit object-created event: %w", err)
		}
	}
	return nil
}

// Get reads an object.
func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	path, err := s.Path(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fault.NotFound("get object", "object not found: %s/%s", bucket, key)
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Open returns a reader over an object.
func (s *Store) Open(bucket, key string) (io.ReadCloser, error) {
	path, err := s.Path(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fault.NotFound("open object", "object not found: %s/%s", bucket, key)
		}
		return nil, err
	}
	return f, nil
}

// Exists reports whether an object is present.
func (s *Store) Exists(bucket, key string) bool {
	path, err := s.Path(bucket, key)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// List returns the sorted keys in bucket that start with prefix.
func (s *Store) List(bucket, prefix string) ([]string, error) {
	root, ok := s.roots[bucket]
	if !ok {
		return nil, fault.NotFound("list objects", "bucket not found: %s", bucket)
	}
	var keys []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
