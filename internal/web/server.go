// Package web serves the booking API, the staff review surface and a small
// calendar UI.
package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/example/room-scheduler/internal/auth"
	"github.com/example/room-scheduler/internal/metrics"
	"github.com/example/room-scheduler/internal/notify"
	"github.com/example/room-scheduler/internal/reservations"
)

//go:embed templates/*.html
var templateFS embed.FS

// QueueStats is the slice of the notification queue the web layer exposes.
type QueueStats interface {
	Stats() notify.Stats
}

type Server struct {
	Auth         *auth.Store
	Reservations *reservations.Service
	Queue        QueueStats
	Metrics      *metrics.Metrics
	Log          zerolog.Logger
	BaseURL      string

	validate *validator.Validate
}

func NewServer(a *auth.Store, svc *reservations.Service, queue QueueStats, m *metrics.Metrics, log zerolog.Logger, baseURL string) *Server {
	return &Server{
		Auth:         a,
		Reservations: svc,
		Queue:        queue,
		Metrics:      m,
		Log:          log.With().Str("component", "web").Logger(),
		BaseURL:      baseURL,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())

	r.Get("/", s.handleIndex)
	r.Get("/login", s.handleLoginPage)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Get("/availability", s.handleAvailability)
		r.Get("/availability/next", s.handleNextAvailable)
		r.Post("/reservations", s.handleCreateReservation)

		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return s.Auth.RequireRole(auth.RoleStaff, next)
			})
			r.Get("/reservations", s.handleListReservations)
			r.Post("/reservations/{id}/approve", s.handleTransition(s.Reservations.Approve))
			r.Post("/reservations/{id}/reject", s.handleTransition(s.Reservations.Reject))
			r.Post("/reservations/{id}/cancel", s.handleTransition(s.Reservations.Cancel))
			r.Get("/queue/stats", s.handleQueueStats)
		})
	})

	return r
}

type tmplData struct {
	Title string
	Sess  auth.Session
	Authn bool
	Flash string
}

func (s *Server) render(w http.ResponseWriter, name string, data tmplData) {
	t, err := template.ParseFS(templateFS, "templates/base.html", name)
	if err != nil {
		http.Error(w, "template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, "base", data); err != nil {
		s.Log.Error().Err(err).Str("template", name).Msg("render failed")
	}
}

func Start(ctx context.Context, addr string, h http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("http server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}
