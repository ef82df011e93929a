package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"retailsync/pkg/apierror"
	"retailsync/pkg/response"
)

// Recovery turns a panicking handler into a 500 envelope and logs the
// stack. http.ErrAbortHandler is re-raised so the server can drop the
// connection as intended.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			log.Printf("[Recovery] panic on %s %s (rid=%s): %v\n%s",
				r.Method, r.URL.Path, GetRequestID(r.Context()), v, debug.Stack())
			response.Error(w, apierror.InternalError(""))
		}()
		next.ServeHTTP(w, r)
	})
}
