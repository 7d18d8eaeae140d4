package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// BrotliConfig tunes response compression. SkipPaths are matched exactly
// against the request path.
type BrotliConfig struct {
	Quality   int
	Skipper   func(c *gin.Context) bool
	SkipPaths []string
	MinLength int
}

var DefaultBrotliConfig = BrotliConfig{
	Quality:   brotli.DefaultCompression,
	MinLength: 1024,
	SkipPaths: []string{"/metrics", "/health"},
}

type writeMode int

const (
	modeBuffer writeMode = iota
	modeCompress
	modePassthrough
)

// brotliWriter buffers the body until MinLength is reached, then commits to
// compression for the rest of the response. A Flush or a short response
// commits to plain output instead.
type brotliWriter struct {
	gin.ResponseWriter
	pool      *sync.Pool
	encoder   *brotli.Writer
	buf       []byte
	minLength int
	mode      writeMode
}

func (w *brotliWriter) Write(data []byte) (int, error) {
	switch w.mode {
	case modeCompress:
		return w.encoder.Write(data)
	case modePassthrough:
		return w.ResponseWriter.Write(data)
	}

	w.buf = append(w.buf, data...)
	if len(w.buf) < w.minLength {
		return len(data), nil
	}
	if err := w.startCompression(); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (w *brotliWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Flush is called by SSE and streaming endpoints.
func (w *brotliWriter) Flush() {
	switch w.mode {
	case modeCompress:
		_ = w.encoder.Flush()
	case modeBuffer:
		_ = w.passthrough()
	}
	w.ResponseWriter.Flush()
}

func (w *brotliWriter) startCompression() error {
	h := w.Header()
	if h.Get("Content-Encoding") != "" {
		return w.passthrough()
	}
	h.Set("Content-Encoding", "br")
	h.Del("Content-Length")

	w.mode = modeCompress
	w.encoder = w.pool.Get().(*brotli.Writer)
	w.encoder.Reset(w.ResponseWriter)
	_, err := w.encoder.Write(w.buf)
	w.buf = nil
	return err
}

func (w *brotliWriter) passthrough() error {
	w.mode = modePassthrough
	if len(w.buf) == 0 {
		return nil
	}
	_, err := w.ResponseWriter.Write(w.buf)
	w.buf = nil
	return err
}

// finish writes whatever is pending and returns the encoder to the pool.
func (w *brotliWriter) finish() error {
	switch w.mode {
	case modeCompress:
		err := w.encoder.Close()
		w.encoder.Reset(io.Discard)
		w.pool.Put(w.encoder)
		w.encoder = nil
		return err
	case modeBuffer:
		return w.passthrough()
	}
	return nil
}

func Brotli() gin.HandlerFunc {
	return BrotliWithConfig(DefaultBrotliConfig)
}

func BrotliWithConfig(cfg BrotliConfig) gin.HandlerFunc {
	if cfg.Quality < 0 || cfg.Quality > 11 {
		cfg.Quality = brotli.DefaultCompression
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultBrotliConfig.MinLength
	}

	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	pool := &sync.Pool{
		New: func() any { return brotli.NewWriterLevel(io.Discard, cfg.Quality) },
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		if shouldSkip(c) || (cfg.Skipper != nil && cfg.Skipper(c)) || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")

		bw := &brotliWriter{
			ResponseWriter: c.Writer,
			pool:           pool,
			minLength:      cfg.MinLength,
		}
		defer func() {
			if err := bw.finish(); err != nil {
				_ = c.Error(err)
			}
		}()

		c.Writer = bw
		c.Next()
	}
}

// shouldSkip returns true for requests whose responses must reach the
// client untouched.
func shouldSkip(c *gin.Context) bool {
	if c.Request.Method == http.MethodHead {
		return true
	}
	// SSE requires immediate streaming.
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		return true
	}
	// The WebSocket handshake needs the raw, hijackable writer.
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if strings.EqualFold(name, "br") {
			return true
		}
	}
	return false
}
