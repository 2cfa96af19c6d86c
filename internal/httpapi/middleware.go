package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

type accessAttrsKey struct{}

// accessAttrs collects what a handler wants on the request's access line.
type accessAttrs struct {
	attrs []slog.Attr
}

// annotate adds attrs to the access log line of the request being served.
// Outside requestLogger it does nothing.
func annotate(r *http.Request, attrs ...slog.Attr) {
	if aa, ok := r.Context().Value(accessAttrsKey{}).(*accessAttrs); ok {
		aa.attrs = append(aa.attrs, attrs...)
	}
}

// requestLogger writes one access line per request. Health checks log at
// debug; 4xx at warn; 5xx at error.
func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		aa := &accessAttrs{}
		r = r.WithContext(context.WithValue(r.Context(), accessAttrsKey{}, aa))
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		attrs := append([]slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sr.status),
			slog.Int("bytes", sr.bytes),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		}, aa.attrs...)
		logger.LogAttrs(r.Context(), accessLevel(r.URL.Path, sr.status), "http: request", attrs...)
	})
}

func accessLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case path == "/healthz":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
