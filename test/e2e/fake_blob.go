package e2e

import (
	"crypto/md5"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// FakeBlobStore is an in-memory object store speaking just enough of the
// path-style S3 protocol for the blob client: PUT, GET and DELETE under
// /{bucket}/{key}. Request signatures are accepted without verification.
type FakeBlobStore struct {
	srv    *httptest.Server
	bucket string

	mu      sync.Mutex
	objects map[string][]byte
}

// NewFakeBlobStore starts the fake, serving exactly one bucket.
func NewFakeBlobStore(bucket string) *FakeBlobStore {
	f := &FakeBlobStore{
		bucket:  bucket,
		objects: make(map[string][]byte),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// URL is the endpoint the blob client should be pointed at.
func (f *FakeBlobStore) URL() string { return f.srv.URL }

func (f *FakeBlobStore) Close() { f.srv.Close() }

// Object returns a stored object's bytes.
func (f *FakeBlobStore) Object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

// Len is the number of stored objects.
func (f *FakeBlobStore) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func (f *FakeBlobStore) handle(w http.ResponseWriter, r *http.Request) {
	key, ok := strings.CutPrefix(strings.TrimPrefix(r.URL.Path, "/"), f.bucket+"/")
	if !ok || key == "" {
		http.Error(w, "no such bucket", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read failed", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.objects[key] = data
		f.mu.Unlock()
		w.Header().Set("ETag", fmt.Sprintf("%q", fmt.Sprintf("%x", md5.Sum(data))))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		f.mu.Lock()
		data, ok := f.objects[key]
		f.mu.Unlock()
		if !ok {
			http.Error(w, "no such key", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case http.MethodDelete:
		f.mu.Lock()
		delete(f.objects, key)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
