package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestGzipMiddleware(t *testing.T) {
	body := strings.Repeat("#EXTM3U\n#EXTINF:5.0,\nseg.ts\n", 50)
	h := GzipMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte(body))
	})

	t.Run("compresses for gzip clients", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/proxy/manifest", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		rec := httptest.NewRecorder()
		h(rec, req)

		if enc := rec.Header().Get("Content-Encoding"); enc != "gzip" {
			t.Fatalf("Content-Encoding = %q", enc)
		}
		zr, err := gzip.NewReader(rec.Body)
		if err != nil {
			t.Fatal(err)
		}
		defer zr.Close()
		got, err := io.ReadAll(zr)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != body {
			t.Error("decompressed body differs from original")
		}
	})

	t.Run("passes through otherwise", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/proxy/manifest", nil))

		if enc := rec.Header().Get("Content-Encoding"); enc != "" {
			t.Fatalf("Content-Encoding = %q, want none", enc)
		}
		if rec.Body.String() != body {
			t.Error("pass-through body altered")
		}
	})
}

func TestGzipMiddlewarePreservesStatus(t *testing.T) {
	h := GzipMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
