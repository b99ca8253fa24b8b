// Package requestscope copies per-request values into the context keys the
// isolation core reads, so audit records carry the request's time and
// correlation id.
package requestscope

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"tenantguard/pkg/requestcontext"
)

// Middleware fixes "now" for the request and forwards chi's request id.
// Mount it after chimw.RequestID.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		if reqID := chimw.GetReqID(ctx); reqID != "" {
			ctx = requestcontext.WithRequestID(ctx, reqID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
