package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/example/room-scheduler/internal/auth"
	"github.com/example/room-scheduler/internal/db"
	"github.com/example/room-scheduler/internal/reservations"
)

// maxWindowDays caps an availability query so a single request cannot walk
// an arbitrary range.
const maxWindowDays = 92

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := tmplData{Title: "Book a room"}
	if sess, ok := s.Auth.GetSession(r); ok {
		data.Sess = sess
		data.Authn = true
	}
	s.render(w, "templates/index.html", data)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, "templates/login.html", tmplData{Title: "Login"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, err := s.Auth.Authenticate(r.Context(), r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || db.IsNotFound(err) {
			s.render(w, "templates/login.html", tmplData{Title: "Login", Flash: "Invalid username or password."})
			return
		}
		s.Log.Error().Err(err).Msg("login failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := s.Auth.SetSession(w, r, sess); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.ClearSession(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	from, to, ok := s.windowParams(w, r)
	if !ok {
		return
	}
	days, err := s.Reservations.Availability(r.Context(), from, to)
	if err != nil {
		s.serveError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "days": days})
}

func (s *Server) handleNextAvailable(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	if from == "" {
		http.Error(w, "from is required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	day, found, err := s.Reservations.NextAvailable(r.Context(), from, r.URL.Query().Get("max"))
	if err != nil {
		s.serveError(w, err)
		return
	}
	if !found {
		s.writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"found": true, "day": day})
}

type createReservationRequest struct {
	Name      string `json:"name" validate:"required,max=200"`
	Email     string `json:"email" validate:"required,email"`
	Room      string `json:"room" validate:"required,max=100"`
	Day       string `json:"day" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	Note      string `json:"note" validate:"max=2000"`
}

func (s *Server) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			http.Error(w, "invalid field: "+verrs[0].Field(), http.StatusBadRequest)
			return
		}
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	created, err := s.Reservations.Request(r.Context(), reservations.Reservation{
		Name:      req.Name,
		Email:     req.Email,
		Room:      req.Room,
		Day:       req.Day,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Note:      req.Note,
	})
	if err != nil {
		s.serveError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, reservationJSON(created))
}

func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	status := reservations.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = reservations.StatusPending
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := s.Reservations.List(r.Context(), status, limit)
	if err != nil {
		s.serveError(w, err)
		return
	}
	out := make([]map[string]any, len(list))
	for i, res := range list {
		out[i] = reservationJSON(res)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"reservations": out})
}

// handleTransition wraps an approve/reject/cancel service call.
func (s *Server) handleTransition(fn func(ctx context.Context, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := fn(r.Context(), id); err != nil {
			s.serveError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"id": id})
	}
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	st := s.Queue.Stats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"pending":   st.Pending,
		"in_flight": st.InFlight,
	})
}

// windowParams parses ?from&to with defaults of today through +30 days. All
// day math goes through the service so keys resolve in the canonical booking
// timezone, never the server's local zone.
func (s *Server) windowParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	q := r.URL.Query()
	from := q.Get("from")
	if from == "" {
		from = s.Reservations.Today()
	}
	to := q.Get("to")
	if to == "" {
		var err error
		if to, err = s.Reservations.ShiftDay(from, 30); err != nil {
			http.Error(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return "", "", false
		}
	}

	days, err := s.Reservations.DaysBetween(from, to)
	if err != nil {
		http.Error(w, "from and to must be YYYY-MM-DD", http.StatusBadRequest)
		return "", "", false
	}
	if days < 0 {
		http.Error(w, "to must not precede from", http.StatusBadRequest)
		return "", "", false
	}
	if days > maxWindowDays {
		http.Error(w, "window too large", http.StatusBadRequest)
		return "", "", false
	}
	return from, to, true
}

func reservationJSON(res reservations.Reservation) map[string]any {
	return map[string]any{
		"id":         res.ID,
		"name":       res.Name,
		"email":      res.Email,
		"room":       res.Room,
		"day":        res.Day,
		"start_time": res.StartTime,
		"end_time":   res.EndTime,
		"note":       res.Note,
		"status":     res.Status,
		"created_at": res.CreatedAt,
		"updated_at": res.UpdatedAt,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Log.Debug().Err(err).Msg("response write failed")
	}
}

func (s *Server) serveError(w http.ResponseWriter, err error) {
	switch {
	case db.IsNotFound(err):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, reservations.ErrDayUnavailable):
		http.Error(w, "day is not bookable", http.StatusConflict)
	case errors.Is(err, reservations.ErrOutsideHours):
		http.Error(w, "slot is outside business hours", http.StatusUnprocessableEntity)
	case errors.Is(err, reservations.ErrInvalidTransition):
		http.Error(w, "invalid status transition", http.StatusConflict)
	default:
		s.Log.Error().Err(err).Msg("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
