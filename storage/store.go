// Package storage keeps uploaded and merged artifacts in a lode.Store.
//
// Uploads live under uploads/ with collision-resistant names; merge outputs
// live under out/<job id>/. Backends are the local filesystem, memory (for
// tests) and S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"path"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/coalesce/iox"
	"github.com/pithecene-io/coalesce/merge"
	"github.com/pithecene-io/coalesce/types"
)

const (
	// UploadPrefix holds inbound artifacts.
	UploadPrefix = "uploads/"
	// OutputPrefix holds merge outputs.
	OutputPrefix = "out/"
)

// Store is the artifact store used by the coordinator.
type Store struct {
	store   lode.Store
	backend string
	now     func() time.Time
	suffix  func() int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for upload keys.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSuffix overrides the random four-digit key component.
func WithSuffix(suffix func() int) Option {
	return func(s *Store) { s.suffix = suffix }
}

// New wraps an existing lode store.
func New(store lode.Store, backend string, opts ...Option) *Store {
	s := &Store{
		store:   store,
		backend: backend,
		now:     time.Now,
		suffix:  func() int { return 1000 + rand.IntN(9000) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewWithFactory builds the backing store from a lode factory.
func NewWithFactory(factory lode.StoreFactory, backend string, opts ...Option) (*Store, error) {
	store, err := factory()
	if err != nil {
		return nil, wrap("init", backend, err)
	}
	return New(store, backend, opts...), nil
}

// NewMemory returns an in-memory store.
func NewMemory(opts ...Option) *Store {
	return New(lode.NewMemory(), BackendMemory, opts...)
}

// Backend returns the backend name ("fs", "memory", "s3").
func (s *Store) Backend() string {
	return s.backend
}

// UniqueName returns "<unix millis>_<4 digits>_<base name>" for name.
func (s *Store) UniqueName(name string) string {
	return fmt.Sprintf("%d_%04d_%s", s.now().UnixMilli(), s.suffix(), SafeName(name))
}

// SafeName strips directory components from a client-supplied file name.
// Names that reduce to nothing become "file".
func SafeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(strings.TrimSpace(name))
	if base == "." || base == "/" || base == ".." || base == "" {
		return "file"
	}
	return base
}

// Put stores an upload and returns its reference.
func (s *Store) Put(ctx context.Context, name string, r io.Reader) (types.ArtifactRef, error) {
	key := UploadPrefix + s.UniqueName(name)
	size, err := s.PutKey(ctx, key, r)
	if err != nil {
		return types.ArtifactRef{}, err
	}
	return types.ArtifactRef{
		Key:        key,
		Name:       SafeName(name),
		Size:       size,
		ReceivedAt: s.now(),
	}, nil
}

// OutputKey returns the key for a job's merged artifact.
func OutputKey(jobID, name string) string {
	return OutputPrefix + jobID + "/" + SafeName(name)
}

// PutKey writes r to key and returns the number of bytes written.
func (s *Store) PutKey(ctx context.Context, key string, r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	if err := s.store.Put(ctx, key, cr); err != nil {
		return 0, wrap("put", key, err)
	}
	return cr.n, nil
}

// Open returns a reader for key.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, wrap("get", key, err)
	}
	return rc, nil
}

// Size returns the stored length of key.
func (s *Store) Size(ctx context.Context, key string) (int64, error) {
	rc, err := s.Open(ctx, key)
	if err != nil {
		return 0, err
	}
	defer iox.DiscardClose(rc)
	n, err := io.Copy(io.Discard, rc)
	if err != nil {
		return 0, wrap("get", key, err)
	}
	return n, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		return false, wrap("exists", key, err)
	}
	return ok, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := wrap("delete", key, s.store.Delete(ctx, key))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// DeleteAll removes every key, returning the joined failures.
func (s *Store) DeleteAll(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Purge removes every upload and output, returning how many keys were
// deleted. Sessions do not survive a restart, so anything left under these
// prefixes at startup is orphaned.
func (s *Store) Purge(ctx context.Context) (int, error) {
	var keys []string
	for _, prefix := range []string{UploadPrefix, OutputPrefix} {
		found, err := s.List(ctx, prefix)
		if err != nil {
			return 0, err
		}
		keys = append(keys, found...)
	}
	if err := s.DeleteAll(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// List returns the keys under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, wrap("list", prefix, err)
	}
	return keys, nil
}

// Input adapts a stored artifact for the merger.
func (s *Store) Input(ref types.ArtifactRef) merge.Input {
	return merge.Input{
		Name: ref.Name,
		Size: ref.Size,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return s.Open(ctx, ref.Key)
		},
	}
}

// Inputs adapts refs in order.
func (s *Store) Inputs(refs []types.ArtifactRef) []merge.Input {
	inputs := make([]merge.Input, len(refs))
	for i, ref := range refs {
		inputs[i] = s.Input(ref)
	}
	return inputs
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
