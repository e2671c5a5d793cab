// Package testserver is a fake storefront backend for tests and the load generator. It
// issues HS256 access tokens and opaque refresh tokens, wraps every answer in the
// {code, message, data} envelope and can be switched into failure modes.
package testserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/tokenpipe/jwt"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Envelope codes the backend uses.
const (
	CodeSuccess      = 200
	CodeTokenExpired = 1007
	CodeTokenInvalid = 1008
	CodeBadLogin     = 1001
)

// Mode selects how protected endpoints answer.
type Mode int32

const (
	// ModeNormal validates the access token and answers 200 when it is live.
	ModeNormal Mode = iota
	// ModeAlwaysExpired signals expiry for every request, valid token or not.
	ModeAlwaysExpired
	ModeForbidden
	ModeNotFound
	ModeServerError
)

// ExpirySignal selects how an unusable access token is reported.
type ExpirySignal int32

const (
	// SignalCode answers HTTP 200 with code 1007.
	SignalCode ExpirySignal = iota
	// SignalStatus answers HTTP 401.
	SignalStatus
)

// Config tunes a [Server].
type Config struct {
	// Users maps username to password.
	Users     map[string]string
	AccessTTL time.Duration
	Secret    []byte
}

// Server is a running fake backend. The zero Mode is ModeNormal.
type Server struct {
	*httptest.Server

	tokens *jwt.Manager
	users  map[string]string

	mu      sync.Mutex
	refresh map[string]string // refresh token -> username
	live    map[string]bool   // access token id -> live

	mode          atomic.Int32
	signal        atomic.Int32
	rejectRefresh atomic.Bool
	refreshDelay  atomic.Int64

	refreshCalls   atomic.Int64
	protectedCalls atomic.Int64
	expiredAnswers atomic.Int64
	logoutCalls    atomic.Int64
}

// New starts a Server. Callers must Close it.
func New(cfg Config) *Server {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte("testserver-secret-0123456789abcdef")
	}
	if cfg.Users == nil {
		cfg.Users = map[string]string{"alice": "wonderland"}
	}

	mgr, err := jwt.NewManager(jwt.Config{
		TTL:    cfg.AccessTTL,
		Secret: cfg.Secret,
		Issuer: "testserver",
	})
	if err != nil {
		panic(err)
	}

	s := &Server{
		tokens:  mgr,
		users:   cfg.Users,
		refresh: make(map[string]string),
		live:    make(map[string]bool),
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/user", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.Get("/info", s.protected(s.handleInfo))
	})
	r.Get("/cart", s.protected(s.handleEcho))
	r.Get("/orders", s.protected(s.handleEcho))
	r.Post("/orders", s.protected(s.handleEcho))
	// /admin is forbidden for everyone, whatever the mode or token.
	r.Get("/admin", func(w http.ResponseWriter, _ *http.Request) {
		s.protectedCalls.Add(1)
		writeEnvelope(w, http.StatusForbidden, 403, "forbidden", nil)
	})
	r.Get("/products", func(w http.ResponseWriter, r *http.Request) {
		s.handleEcho(w, r, "")
	})
	r.Get("/plain", s.protected(func(w http.ResponseWriter, _ *http.Request, _ string) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain body"))
	}))
	return r
}

/*
====================================
CONTROLS
====================================
*/

// SetMode switches how protected endpoints answer.
func (s *Server) SetMode(m Mode) { s.mode.Store(int32(m)) }

// SetExpirySignal switches how an unusable access token is reported.
func (s *Server) SetExpirySignal(sig ExpirySignal) { s.signal.Store(int32(sig)) }

// RejectRefresh makes every refresh call fail with code 1008.
func (s *Server) RejectRefresh(reject bool) { s.rejectRefresh.Store(reject) }

// SetRefreshDelay holds every refresh call for d before answering.
func (s *Server) SetRefreshDelay(d time.Duration) { s.refreshDelay.Store(int64(d)) }

// RefreshCalls returns how many refresh requests arrived.
func (s *Server) RefreshCalls() int64 { return s.refreshCalls.Load() }

// ProtectedCalls returns how many requests hit protected endpoints.
func (s *Server) ProtectedCalls() int64 { return s.protectedCalls.Load() }

// ExpiredAnswers returns how many requests were answered with an expiry signal.
func (s *Server) ExpiredAnswers() int64 { return s.expiredAnswers.Load() }

// LogoutCalls returns how many logout requests arrived.
func (s *Server) LogoutCalls() int64 { return s.logoutCalls.Load() }

// Issue creates a live token pair for username without a login round trip.
func (s *Server) Issue(username string) (access, refresh string, err error) {
	return s.issue(username)
}

// ExpireAll invalidates every access token issued so far. Refresh tokens stay valid.
func (s *Server) ExpireAll() {
	s.mu.Lock()
	s.live = make(map[string]bool)
	s.mu.Unlock()
}

func (s *Server) issue(username string) (string, string, error) {
	id := uuid.NewString()
	access, err := s.tokens.Issue(username, id)
	if err != nil {
		return "", "", err
	}
	refresh := uuid.NewString()

	s.mu.Lock()
	s.live[id] = true
	s.refresh[refresh] = username
	s.mu.Unlock()
	return access, refresh, nil
}

/*
====================================
HANDLERS
====================================
*/

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeEnvelope(w, http.StatusBadRequest, 400, "invalid request body", nil)
		return
	}
	if pw, ok := s.users[body.Username]; !ok || pw != body.Password {
		writeEnvelope(w, http.StatusOK, CodeBadLogin, "invalid username or password", nil)
		return
	}
	s.writeGrant(w, body.Username)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	if d := time.Duration(s.refreshDelay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}

	token := r.URL.Query().Get("refreshToken")
	if token == "" && r.Body != nil {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			token = body["refreshToken"]
		}
	}

	s.mu.Lock()
	username, ok := s.refresh[token]
	if ok {
		delete(s.refresh, token)
	}
	s.mu.Unlock()

	if !ok || s.rejectRefresh.Load() {
		writeEnvelope(w, http.StatusOK, CodeTokenInvalid, "invalid refresh token", nil)
		return
	}
	s.writeGrant(w, username)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.logoutCalls.Add(1)
	if claims, ok := s.claims(r); ok {
		s.mu.Lock()
		delete(s.live, claims.ID)
		s.mu.Unlock()
	}
	writeEnvelope(w, http.StatusOK, CodeSuccess, "ok", nil)
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request, username string) {
	writeEnvelope(w, http.StatusOK, CodeSuccess, "ok", map[string]string{
		"username": username,
		"nickname": strings.ToUpper(username[:1]) + username[1:],
	})
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request, username string) {
	writeEnvelope(w, http.StatusOK, CodeSuccess, "ok", map[string]string{
		"path":       r.URL.Path,
		"user":       username,
		"request_id": r.Header.Get("X-Request-ID"),
	})
}

// protected checks the access token before calling next with the token's subject.
func (s *Server) protected(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.protectedCalls.Add(1)

		switch Mode(s.mode.Load()) {
		case ModeForbidden:
			writeEnvelope(w, http.StatusForbidden, 403, "forbidden", nil)
			return
		case ModeNotFound:
			writeEnvelope(w, http.StatusNotFound, 404, "not found", nil)
			return
		case ModeServerError:
			writeEnvelope(w, http.StatusInternalServerError, 500, "internal error", nil)
			return
		case ModeAlwaysExpired:
			s.writeExpired(w)
			return
		}

		claims, ok := s.claims(r)
		if !ok {
			s.writeExpired(w)
			return
		}
		s.mu.Lock()
		live := s.live[claims.ID]
		s.mu.Unlock()
		if !live {
			s.writeExpired(w)
			return
		}
		next(w, r, claims.UID)
	}
}

func (s *Server) claims(r *http.Request) (*jwt.Claims, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return nil, false
	}
	claims, err := s.tokens.Verify(strings.TrimPrefix(h, "Bearer "))
	if err != nil {
		return nil, false
	}
	return claims, true
}

func (s *Server) writeExpired(w http.ResponseWriter) {
	s.expiredAnswers.Add(1)
	if ExpirySignal(s.signal.Load()) == SignalStatus {
		writeEnvelope(w, http.StatusUnauthorized, 401, "unauthorized", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, CodeTokenExpired, "token expired", nil)
}

func (s *Server) writeGrant(w http.ResponseWriter, username string) {
	access, refresh, err := s.issue(username)
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, 500, err.Error(), nil)
		return
	}
	writeEnvelope(w, http.StatusOK, CodeSuccess, "ok", map[string]any{
		"accessToken":           access,
		"refreshToken":          refresh,
		"tokenType":             "Bearer",
		"accessTokenExpiresIn":  900,
		"refreshTokenExpiresIn": 604800,
		"userInfo": map[string]string{
			"username": username,
		},
	})
}

func writeEnvelope(w http.ResponseWriter, status, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": message,
		"data":    data,
	})
}
