package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/KEithwy1030/BTHsports.com/work/logger"

	"github.com/klauspost/compress/gzip"
)

// gzipWriterPool reuses gzip writers across responses. Writers are created at
// BestSpeed: manifests and JSON bodies are small and latency matters more
// than ratio.
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	},
}

// gzipResponseWriter wraps an http.ResponseWriter so that body writes pass
// through a gzip writer. It tracks whether the status line has been written
// to keep WriteHeader semantics intact.
type gzipResponseWriter struct {
	io.Writer                // gzip writer receiving body bytes
	http.ResponseWriter      // original writer for headers and status
	wroteHeader         bool // whether WriteHeader has run
}

// WriteHeader records the status on the underlying writer once.
func (w *gzipResponseWriter) WriteHeader(status int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

// Write compresses b into the response, defaulting the status to 200 if the
// handler never set one explicitly.
func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.Writer.Write(b)
}

// Flush drains the gzip buffer and then the underlying writer, so rolling
// manifest responses reach the player without waiting for connection close.
func (w *gzipResponseWriter) Flush() {
	if gzw, ok := w.Writer.(*gzip.Writer); ok {
		gzw.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// GzipMiddleware compresses responses for clients that advertise gzip in
// Accept-Encoding; everyone else passes through untouched. Meant for the
// text surfaces (JSON, manifests) - raw segment bytes are already compressed
// media and don't go through this.
func GzipMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next(w, r)
			return
		}

		// compressed size is unknown up front
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")

		gz := gzipWriterPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			if err := gz.Close(); err != nil {
				logger.Error("{middleware/compression - GzipMiddleware} close failed for %s %s: %v", r.Method, r.URL.Path, err)
			}
			gzipWriterPool.Put(gz)
		}()

		gzw := &gzipResponseWriter{
			Writer:         gz,
			ResponseWriter: w,
		}

		next(gzw, r)
	}
}
