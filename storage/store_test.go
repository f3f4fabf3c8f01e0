package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/coalesce/dedup"
	"github.com/pithecene-io/coalesce/iox"
	"github.com/pithecene-io/coalesce/merge"
	"github.com/pithecene-io/coalesce/types"
)

// failingStore is a lode.Store that returns configurable errors.
type failingStore struct {
	putErr    error
	getErr    error
	deleteErr error
	listErr   error
	putCalls  int
}

func (s *failingStore) Put(_ context.Context, _ string, r io.Reader) error {
	s.putCalls++
	_, _ = io.Copy(io.Discard, r)
	return s.putErr
}

func (s *failingStore) Get(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, s.getErr
}

func (s *failingStore) Exists(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (s *failingStore) List(_ context.Context, _ string) ([]string, error) {
	return nil, s.listErr
}

func (s *failingStore) Delete(_ context.Context, _ string) error {
	return s.deleteErr
}

func (s *failingStore) ReadRange(_ context.Context, _ string, _, _ int64) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *failingStore) ReaderAt(_ context.Context, _ string) (io.ReaderAt, error) {
	return nil, errors.New("not implemented")
}

var _ lode.Store = (*failingStore)(nil)

func fixedStore() *Store {
	return NewMemory(
		WithClock(func() time.Time { return time.UnixMilli(1_700_000_000_123) }),
		WithSuffix(func() int { return 4242 }),
	)
}

func readAll(t *testing.T, s *Store, key string) string {
	t.Helper()
	rc, err := s.Open(t.Context(), key)
	if err != nil {
		t.Fatalf("Open(%q): %v", key, err)
	}
	defer iox.DiscardClose(rc)
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return string(b)
}

func TestStore_PutOpenDelete(t *testing.T) {
	s := fixedStore()
	ctx := t.Context()

	ref, err := s.Put(ctx, "combo.txt", strings.NewReader("a:b\nc:d\n"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref.Key != "uploads/1700000000123_4242_combo.txt" {
		t.Errorf("Key = %q", ref.Key)
	}
	if ref.Name != "combo.txt" || ref.Size != 8 {
		t.Errorf("ref = %+v", ref)
	}

	if got := readAll(t, s, ref.Key); got != "a:b\nc:d\n" {
		t.Errorf("content = %q", got)
	}
	if n, err := s.Size(ctx, ref.Key); err != nil || n != 8 {
		t.Errorf("Size = %d, %v", n, err)
	}

	ok, err := s.Exists(ctx, ref.Key)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	if err := s.Delete(ctx, ref.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, ref.Key); ok {
		t.Error("artifact still exists after Delete")
	}
}

func TestStore_List(t *testing.T) {
	s := NewMemory()
	ctx := t.Context()

	for _, name := range []string{"a.txt", "b.txt"} {
		if _, err := s.Put(ctx, name, strings.NewReader(name)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if _, err := s.PutKey(ctx, OutputKey("job-1", "combo.txt"), strings.NewReader("x")); err != nil {
		t.Fatalf("PutKey: %v", err)
	}

	uploads, err := s.List(ctx, UploadPrefix)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(uploads) != 2 {
		t.Errorf("uploads = %v, want 2 keys", uploads)
	}
	outputs, err := s.List(ctx, OutputPrefix)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !slices.Contains(outputs, "out/job-1/combo.txt") {
		t.Errorf("outputs = %v", outputs)
	}
}

func TestStore_DeleteAll(t *testing.T) {
	s := NewMemory()
	ctx := t.Context()

	var keys []string
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		ref, err := s.Put(ctx, name, strings.NewReader(name))
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		keys = append(keys, ref.Key)
	}
	if err := s.DeleteAll(ctx, keys); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	left, _ := s.List(ctx, UploadPrefix)
	if len(left) != 0 {
		t.Errorf("left = %v", left)
	}
}

func TestStore_Purge(t *testing.T) {
	s := NewMemory()
	ctx := t.Context()

	if _, err := s.Put(ctx, "a.txt", strings.NewReader("a")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.PutKey(ctx, OutputKey("job-1", "combo.txt"), strings.NewReader("x")); err != nil {
		t.Fatalf("PutKey: %v", err)
	}
	if _, err := s.PutKey(ctx, "keep/me", strings.NewReader("k")); err != nil {
		t.Fatalf("PutKey: %v", err)
	}

	n, err := s.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 2 {
		t.Errorf("purged = %d, want 2", n)
	}
	if ok, _ := s.Exists(ctx, "keep/me"); !ok {
		t.Error("key outside the managed prefixes was removed")
	}
}

func TestStore_InputsFeedMerger(t *testing.T) {
	s := NewMemory()
	ctx := t.Context()

	a, _ := s.Put(ctx, "a.txt", strings.NewReader("u1:p1\nu2:p2\n"))
	b, _ := s.Put(ctx, "b.txt", strings.NewReader("u2:p2\nu3:p3"))

	set := dedup.New()
	res, err := (&merge.Merger{}).Merge(ctx, s.Inputs([]types.ArtifactRef{a, b}), set)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.Unique != 3 || set.Len() != 3 {
		t.Errorf("unique = %d, set = %d", res.Unique, set.Len())
	}
	if res.TotalBytes != a.Size+b.Size {
		t.Errorf("TotalBytes = %d, want %d", res.TotalBytes, a.Size+b.Size)
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"combo.txt":           "combo.txt",
		"../../etc/passwd":    "passwd",
		`C:\Users\x\list.txt`: "list.txt",
		"  spaced.txt ":       "spaced.txt",
		"":                    "file",
		"..":                  "file",
		"/":                   "file",
	}
	for in, want := range tests {
		if got := SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUniqueName_Distinct(t *testing.T) {
	s := NewMemory()
	seen := make(map[string]bool)
	for range 50 {
		seen[s.UniqueName("a.txt")] = true
	}
	// Same-millisecond collisions need matching random suffixes.
	if len(seen) < 2 {
		t.Errorf("got %d distinct names from 50 calls", len(seen))
	}
}

func TestStore_ErrorsAreClassified(t *testing.T) {
	fs := &failingStore{
		putErr:    errors.New("write /data/x: no space left on device"),
		getErr:    errors.New("NoSuchKey: The specified key does not exist"),
		deleteErr: errors.New("open /data/x: no such file or directory"),
		listErr:   errors.New("dial tcp 10.0.0.1:443: connection refused"),
	}
	s := New(fs, "test")
	ctx := t.Context()

	_, err := s.Put(ctx, "a.txt", strings.NewReader("x"))
	if !errors.Is(err, ErrDiskFull) {
		t.Errorf("Put err = %v, want ErrDiskFull", err)
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "put" || !strings.HasPrefix(se.Key, UploadPrefix) {
		t.Errorf("Put err = %#v", err)
	}

	if _, err := s.Open(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete of missing key = %v, want nil", err)
	}
	if _, err := s.List(ctx, ""); !errors.Is(err, ErrNetwork) {
		t.Errorf("List err = %v, want ErrNetwork", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"permission denied", ErrPermissionDenied},
		{"AccessDenied: 403 Forbidden", ErrAccessDenied},
		{"context deadline exceeded", ErrTimeout},
		{"SlowDown: please reduce your request rate", ErrThrottled},
		{"NoCredentialProviders: no valid providers", ErrAuth},
		{"something odd", ErrUnclassified},
	}
	for _, tt := range tests {
		if got := classify(errors.New(tt.msg)); got != tt.want {
			t.Errorf("classify(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestWrap_KeepsExistingClassification(t *testing.T) {
	inner := &StorageError{Kind: ErrNotFound, Op: "get", Key: "k", Err: errors.New("x")}
	if got := wrap("open", "k", inner); got != inner {
		t.Errorf("wrap rewrapped a StorageError: %v", got)
	}
	if wrap("put", "k", nil) != nil {
		t.Error("wrap(nil) != nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		cfg     Config
		wantErr bool
	}{
		{Config{Backend: "fs", Path: "/tmp/x"}, false},
		{Config{Path: "/tmp/x"}, false},
		{Config{Backend: "fs"}, true},
		{Config{Backend: "memory"}, false},
		{Config{Backend: "s3", Path: "bucket/prefix"}, false},
		{Config{Backend: "s3"}, true},
		{Config{Backend: "gcs", Path: "x"}, true},
	}
	for _, tt := range tests {
		if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("Validate(%+v) = %v, wantErr %v", tt.cfg, err, tt.wantErr)
		}
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct{ in, bucket, prefix string }{
		{"bucket", "bucket", ""},
		{"bucket/a/b", "bucket", "a/b"},
		{"/bucket/a/", "bucket", "a"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q", tt.in, b, p)
		}
	}
}

func TestOpen_FSCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "work")
	s, err := Open(t.Context(), Config{Backend: BackendFS, Path: root})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Backend() != BackendFS {
		t.Errorf("Backend = %q", s.Backend())
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Fatalf("root not created: %v", err)
	}

	ref, err := s.Put(t.Context(), "a.txt", strings.NewReader("u:p"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := readAll(t, s, ref.Key); got != "u:p" {
		t.Errorf("content = %q", got)
	}
}
