package statusapi

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// recoverMiddleware turns a handler panic into a 500 so one bad request
// cannot take the status service down.
func recoverMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				log.Error("handler panic", "path", r.URL.Path, "panic", v, "stack", string(debug.Stack()))
				writeJSON(w, http.StatusInternalServerError, errorResp{Error: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
