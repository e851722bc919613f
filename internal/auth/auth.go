package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/room-scheduler/internal/db"
)

// Roles, least to most privileged. Staff review reservations; admins also
// manage users.
const (
	RoleMember = "member"
	RoleStaff  = "staff"
	RoleAdmin  = "admin"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Store struct {
	sc *securecookie.SecureCookie
	db *db.DB
}

type ctxKey string

const sessionKey ctxKey = "session"

const cookieName = "roomsched_session"

const sessionTTL = 14 * 24 * time.Hour

func NewStore(d *db.DB, hashKey, blockKey []byte) *Store {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionTTL.Seconds()))
	return &Store{sc: sc, db: d}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func roleRank(role string) int {
	switch role {
	case RoleAdmin:
		return 3
	case RoleStaff:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

func ValidRole(role string) bool { return roleRank(role) > 0 }

func (s *Store) CreateUser(ctx context.Context, username, password, role string) error {
	if !ValidRole(role) {
		return errors.New("auth: unknown role " + role)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.db.Exec(ctx, `INSERT INTO users(username, password_bcrypt, role) VALUES ($1,$2,$3)`, username, hash, role)
}

func (s *Store) Authenticate(ctx context.Context, username, password string) (Session, error) {
	var id int64
	var hash, role string
	err := s.db.QueryRow(ctx, `SELECT id, password_bcrypt, role FROM users WHERE username=$1`, username).Scan(&id, &hash, &role)
	if err != nil {
		return Session{}, db.WrapNotFound(err)
	}
	if !CheckPassword(hash, password) {
		return Session{}, ErrInvalidCredentials
	}
	return Session{UserID: id, Role: role}, nil
}

type Session struct {
	UserID int64
	Role   string
}

func (s *Store) SetSession(w http.ResponseWriter, r *http.Request, sess Session) error {
	val := map[string]any{"uid": sess.UserID, "role": sess.Role, "v": 1}
	encoded, err := s.sc.Encode(cookieName, val)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil, // ok for local http; secure in https
		MaxAge:   int(sessionTTL.Seconds()),
	})
	return nil
}

func (s *Store) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *Store) GetSession(r *http.Request) (Session, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return Session{}, false
	}
	val := map[string]any{}
	if err := s.sc.Decode(cookieName, c.Value, &val); err != nil {
		return Session{}, false
	}
	uid, ok := asInt64(val["uid"])
	if !ok || uid <= 0 {
		return Session{}, false
	}
	role, _ := val["role"].(string)
	if !ValidRole(role) {
		return Session{}, false
	}
	return Session{UserID: uid, Role: role}, true
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// RequireRole gates a handler behind a minimum role. Browsers get a login
// redirect; API clients get a plain 401/403.
func (s *Store) RequireRole(minRole string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.GetSession(r)
		if !ok {
			if wantsHTML(r) {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if roleRank(sess.Role) < roleRank(minRole) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionKey).(Session)
	return sess, ok
}

func wantsHTML(r *http.Request) bool {
	for _, accept := range r.Header["Accept"] {
		if len(accept) >= 9 && accept[:9] == "text/html" {
			return true
		}
	}
	return false
}
