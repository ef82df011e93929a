package middleware

import (
	"log"
	"net/http"
	"time"
)

// Logging writes one line per request: method, path, status, bytes,
// latency and the ids that tie it to an agent and its own logs.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		tag := "[HTTP]"
		if sw.status >= http.StatusInternalServerError {
			tag = "[HTTP] ERROR"
		}
		log.Printf("%s %s %s %d %dB %s client=%s rid=%s",
			tag, r.Method, r.URL.Path, sw.status, sw.bytes,
			time.Since(start).Round(time.Microsecond),
			GetClientID(r.Context()), GetRequestID(r.Context()))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += n
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
