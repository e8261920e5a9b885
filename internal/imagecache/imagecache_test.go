package imagecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/hitalin/notedeck/internal/metrics"
)

func newTestCache(t *testing.T, handler http.HandlerFunc) (*Cache, string) {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(t.TempDir(), 0, zap.NewNop(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.http = srv.Client()
	return c, srv.URL
}

func TestGetOrFetchRejectsNonHTTPS(t *testing.T) {
	c, err := New(t.TempDir(), 0, zap.NewNop(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.GetOrFetch(context.Background(), "http://example.com/x.png"); err == nil {
		t.Fatal("expected rejection of non-https url")
	}
}

func TestGetOrFetchDedupsConcurrentFetches(t *testing.T) {
	var requests int32
	c, baseURL := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("fake-image-bytes"))
	})

	url := baseURL + "/img.png"

	var wg sync.WaitGroup
	n := 8
	entries := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := c.GetOrFetch(context.Background(), url)
			errs[i] = err
			entries[i] = entry.Hash
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("GetOrFetch[%d]: %v", i, err)
		}
	}
	for i := 1; i < n; i++ {
		if entries[i] != entries[0] {
			t.Fatalf("entry %d hash %q != entry 0 hash %q", i, entries[i], entries[0])
		}
	}
	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Fatalf("got %d upstream requests, want exactly 1 due to single-flight dedup", got)
	}
}

func TestGetOrFetchSecondCallHitsDiskCache(t *testing.T) {
	var requests int32
	c, baseURL := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("fake-image-bytes"))
	})

	url := baseURL + "/img.png"

	if _, err := c.GetOrFetch(context.Background(), url); err != nil {
		t.Fatalf("first GetOrFetch: %v", err)
	}
	if _, err := c.GetOrFetch(context.Background(), url); err != nil {
		t.Fatalf("second GetOrFetch: %v", err)
	}

	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Fatalf("got %d upstream requests, want 1 (second call should hit disk cache)", got)
	}
}

func TestGetOrFetchRejectsOversizedFile(t *testing.T) {
	c, baseURL := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(make([]byte, maxFileBytes+1))
	})

	if _, err := c.GetOrFetch(context.Background(), baseURL+"/big.png"); err == nil {
		t.Fatal("expected oversized file to be rejected")
	}
}

func TestGetOrFetchPropagatesUpstreamFailure(t *testing.T) {
	c, baseURL := newTestCache(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetOrFetch(context.Background(), baseURL+"/missing.png")
	if err == nil {
		t.Fatal("expected error for 404 upstream response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Fatalf("got %q, want it to mention the status code", err.Error())
	}
}
