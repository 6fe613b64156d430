package blob

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
)

// mockS3 is a tiny fake S3 endpoint covering Put/Head/Delete.
type mockS3 struct {
	mu    sync.Mutex
	state map[string][]byte
}

func (m *mockS3) RoundTrip(req *http.Request) (*http.Response, error) {
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	empty := io.NopCloser(bytes.NewReader(nil))
	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		m.state[key] = body
		return &http.Response{StatusCode: http.StatusOK, Body: empty, Header: http.Header{"ETag": {"\"etag\""}}}, nil
	case http.MethodHead:
		if _, ok := m.state[key]; ok {
			return &http.Response{StatusCode: http.StatusOK, Body: empty, Header: http.Header{"Content-Length": {"0"}}}, nil
		}
		return &http.Response{StatusCode: http.StatusNotFound, Body: empty, Header: http.Header{}}, nil
	case http.MethodDelete:
		delete(m.state, key)
		return &http.Response{StatusCode: http.StatusNoContent, Body: empty, Header: http.Header{}}, nil
	}
	return &http.Response{StatusCode: http.StatusNotImplemented, Body: empty, Header: http.Header{}}, nil
}

func newMockS3(t *testing.T) *S3 {
	t.Helper()
	s, err := NewS3(context.Background(), S3Config{
		Bucket:          "datasets",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: &mockS3{state: map[string][]byte{}}},
	})
	if err != nil {
		t.Fatalf("new s3: %v", err)
	}
	return s
}

func TestStores_PutExistsDelete(t *testing.T) {
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem: %v", err)
	}
	stores := map[string]Store{
		"fs":     fsStore,
		"memory": NewMemory(),
		"s3":     newMockS3(t),
	}
	ctx := context.Background()
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			key := "20261015/ds-1/data.csv"
			if err := s.Put(ctx, key, strings.NewReader("a,b\n1,2\n"), "text/csv"); err != nil {
				t.Fatalf("put: %v", err)
			}
			ok, err := s.Exists(ctx, key)
			if err != nil || !ok {
				t.Fatalf("expected blob to exist, ok=%v err=%v", ok, err)
			}
			deleted, err := s.Delete(ctx, key)
			if err != nil || !deleted {
				t.Fatalf("expected delete, deleted=%v err=%v", deleted, err)
			}
			deleted, err = s.Delete(ctx, key)
			if err != nil || deleted {
				t.Fatalf("expected second delete to be a no-op, deleted=%v err=%v", deleted, err)
			}
		})
	}
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	s, _ := NewFilesystem(t.TempDir())
	if err := s.Put(context.Background(), "../escape", strings.NewReader("x"), ""); err == nil {
		t.Fatalf("expected traversal key to be rejected")
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	s, err := Open(context.Background(), Config{Driver: "memory"})
	if err != nil || s.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %v err=%v", s, err)
	}
	s, err = Open(context.Background(), Config{FSRoot: t.TempDir()})
	if err != nil || s.Driver() != DriverFilesystem {
		t.Fatalf("expected default fs driver, err=%v", err)
	}
	if _, err := Open(context.Background(), Config{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
