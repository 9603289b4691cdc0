// Package web provides the HTTP status/control surface: a JSON API over
// the configured PLC targets and their scan lists, plus a cookie-session
// login for authenticated tag writes.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"

	"github.com/renej-github/etherip/cip"
	"github.com/renej-github/etherip/client"
	"github.com/renej-github/etherip/config"
	"github.com/renej-github/etherip/logging"
	"github.com/renej-github/etherip/scan"
)

const sessionCookieName = "etherip-session"

// Target is one configured PLC with its live session and scanner.
type Target struct {
	Name    string
	Session *client.Session
	Scanner *scan.Scanner
}

// Server is the status/control HTTP server: a chi.Router over the
// configured targets, with session-authenticated tag writes.
type Server struct {
	config  *config.WebConfig
	targets []Target

	store *sessions.CookieStore

	mu      sync.RWMutex
	running bool
	server  *http.Server
	router  chi.Router

	// findUser resolves a login by username; defaults to cfg.UI.Users but
	// swappable in tests.
	findUser func(username string) *config.WebUser
}

// NewServer builds a Server over a fixed set of targets. Targets must
// already be connected and scanning; the server only reads their state.
func NewServer(cfg *config.WebConfig, targets []Target) *Server {
	s := &Server{
		config:  cfg,
		targets: targets,
		store:   sessions.NewCookieStore([]byte(cfg.UI.SessionSecret)),
	}
	s.findUser = func(username string) *config.WebUser {
		for i := range cfg.UI.Users {
			if cfg.UI.Users[i].Username == username {
				return &cfg.UI.Users[i]
			}
		}
		return nil
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/api/plcs", s.handleListPLCs)
	r.Get("/api/plcs/{name}/tags", s.handleListTags)
	r.With(s.requireAdmin).Post("/api/plcs/{name}/tags/{tag}", s.handleWriteTag)

	r.Get("/login", s.handleLoginForm)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	s.router = r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// plcSummary is the JSON shape returned by GET /api/plcs.
type plcSummary struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

func (s *Server) handleListPLCs(w http.ResponseWriter, r *http.Request) {
	out := make([]plcSummary, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, plcSummary{Name: t.Name, Connected: t.Session != nil})
	}
	writeJSON(w, http.StatusOK, out)
}

// tagSnapshot is one entry in the GET /api/plcs/{name}/tags response.
type tagSnapshot struct {
	Tag   string      `json:"tag"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

func (s *Server) findTarget(name string) *Target {
	for i := range s.targets {
		if s.targets[i].Name == name {
			return &s.targets[i]
		}
	}
	return nil
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	t := s.findTarget(name)
	if t == nil {
		http.Error(w, "plc not found", http.StatusNotFound)
		return
	}

	snap := t.Scanner.Snapshot()
	out := make([]tagSnapshot, 0, len(snap))
	for tag, v := range snap {
		jsonVal, err := v.Any(0)
		if err != nil {
			continue
		}
		out = append(out, tagSnapshot{Tag: tag, Type: cip.TypeName(v.Type), Value: jsonVal})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWriteTag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tag := chi.URLParam(r, "tag")
	t := s.findTarget(name)
	if t == nil {
		http.Error(w, "plc not found", http.StatusNotFound)
		return
	}

	var body struct {
		Value interface{} `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var snap map[string]*cip.Value
	if t.Scanner != nil {
		snap = t.Scanner.Snapshot()
	}
	current, ok := snap[tag]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown type for tag %q: not yet scanned", tag), http.StatusUnprocessableEntity)
		return
	}

	value, err := cip.ValueFromJSON(current.Type, body.Value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := t.Session.Write(tag, value); err != nil {
		logging.DebugLog("web", "write %s/%s failed: %v", name, tag, err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<form method="post" action="/login">
<input name="username" placeholder="username">
<input name="password" type="password" placeholder="password">
<button type="submit">Log in</button>
</form>`)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	username := r.FormValue("username")
	password := r.FormValue("password")

	user := s.findUser(username)
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	session, _ := s.store.Get(r, sessionCookieName)
	session.Values["username"] = user.Username
	session.Values["role"] = user.Role
	if err := session.Save(r, w); err != nil {
		http.Error(w, "could not save session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": user.Username, "role": user.Role})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := s.store.Get(r, sessionCookieName)
	session.Options.MaxAge = -1
	_ = session.Save(r, w)
	w.WriteHeader(http.StatusOK)
}

// requireAdmin rejects requests without an admin-role session.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, _ := s.store.Get(r, sessionCookieName)
		role, _ := session.Values["role"].(string)
		if role != config.RoleAdmin {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// debugLogWriter adapts logging.DebugLog to an io.Writer for http.Server's ErrorLog.
type debugLogWriter string

func (tag debugLogWriter) Write(p []byte) (int, error) {
	logging.DebugLog(string(tag), "%s", string(p))
	return len(p), nil
}

var _ io.Writer = debugLogWriter("")

// Start begins serving on the configured host:port.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(debugLogWriter("web"), "", 0),
	}

	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logging.DebugLog("web", "server stopped: %v", err)
		}
	}()
	s.running = true
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	return err
}

// IsRunning reports whether the server is currently serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the server's listen address as a URL.
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s:%d", s.config.Host, s.config.Port)
}
