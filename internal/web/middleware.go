package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// observe logs each request and feeds the HTTP metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		took := time.Since(start)

		s.Metrics.ObserveHTTP(r.Method, ww.Status(), took)
		s.Log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", took).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
