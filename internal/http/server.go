// Package http serves the expense dashboard: login and registration pages,
// the guarded dashboard and the forms that mutate records.
package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"expensedash/internal/api"
	"expensedash/internal/core"
	"expensedash/internal/guard"
	applog "expensedash/internal/log"
	"expensedash/internal/table"
	appweb "expensedash/web"
)

// SessionService is the session state the handlers read and change.
type SessionService interface {
	Current() core.Session
	User() (core.User, bool)
	Login(ctx context.Context, user core.User, token string) error
	Logout(ctx context.Context) error
}

// AuthService talks to the remote auth endpoints.
type AuthService interface {
	Login(ctx context.Context, creds core.Credentials) (core.User, string, error)
	Register(ctx context.Context, creds core.Credentials, confirm string) (api.RegisterResult, error)
}

// RecordService is the cached record collection.
type RecordService interface {
	List(ctx context.Context, owner core.ID) ([]core.Expense, error)
	Create(ctx context.Context, owner core.ID, draft core.Draft) (core.Expense, error)
	Update(ctx context.Context, id core.ID, draft core.Draft) (core.Expense, error)
	Remove(ctx context.Context, id core.ID) error
}

// Deps are the services a Server renders from.
type Deps struct {
	Sessions SessionService
	Auth     AuthService
	Records  RecordService
	Logger   *applog.Logger
	PageSize int
	// RateLimit caps form posts per client per minute; 0 means 60.
	RateLimit int
	// Now is the clock used for summaries; nil means time.Now.
	Now func() time.Time
}

type Server struct {
	http.Server
	templates *template.Template
	sessions  SessionService
	auth      AuthService
	records   RecordService
	guard     *guard.Guard
	logger    *applog.Logger
	pageSize  int
	now       func() time.Time
	limiter   *rateLimiter

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run
// http.Server. Templates that fail to parse are fatal since every page
// depends on them.
func NewServer(addr string, deps Deps) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = applog.Discard()
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = table.DefaultPageSize
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	s := &Server{
		templates: t,
		sessions:  deps.Sessions,
		auth:      deps.Auth,
		records:   deps.Records,
		guard:     guard.New(deps.Sessions),
		logger:    logger.WithComponent(applog.ComponentHTTP),
		pageSize:  pageSize,
		now:       now,
		limiter:   newRateLimiter(deps.RateLimit),
	}
	s.Server = http.Server{
		Addr:              addr,
		Handler:           applog.Middleware(logger)(s.withSecurityHeaders(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.limiter.startCleanup(5 * time.Minute)

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=3600, immutable")
			static.ServeHTTP(w, r)
		}))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", applog.FieldError, err)
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("GET /{$}", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /register", s.handleRegisterPage)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.Handle("GET /dashboard", s.protect(s.handleDashboard))
	mux.Handle("POST /dashboard/expenses", s.protect(s.handleCreateExpense))
	mux.Handle("GET /dashboard/expenses/{id}/edit", s.protect(s.handleEditPage))
	mux.Handle("POST /dashboard/expenses/{id}/edit", s.protect(s.handleUpdateExpense))
	mux.Handle("POST /dashboard/expenses/{id}/delete", s.protect(s.handleDeleteExpense))

	return s, nil
}

// Shutdown stops the rate limiter janitor and gracefully shuts down the
// server. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withSecurityHeaders adds security headers, rejects cross-site form posts
// and rate limits the rest. Every change goes out with the one stored
// session, so a foreign page must not be able to submit a form here.
func (s *Server) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := extractClientIP(r)
		logger := applog.FromContext(r.Context())

		if isSuspicious(r) {
			logger.WarnContext(r.Context(), "Suspicious request",
				applog.FieldClientIP, clientIP,
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
		}

		if r.Method != http.MethodGet && r.Method != http.MethodHead && isCrossSite(r) {
			logger.WarnContext(r.Context(), "Cross-site request rejected",
				applog.FieldClientIP, clientIP,
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path,
				"origin", r.Header.Get("Origin"))
			http.Error(w, "Cross-site requests are not allowed.", http.StatusForbidden)
			return
		}

		if r.Method == http.MethodPost && !s.limiter.allow(clientIP) {
			logger.WarnContext(r.Context(), "Rate limit exceeded",
				applog.FieldClientIP, clientIP,
				applog.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		setSecurityHeaders(w.Header())
		next.ServeHTTP(w, r)
	})
}

// protect admits the request when a user is logged in and otherwise sends
// the visitor to the login page, remembering where they were going.
func (s *Server) protect(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested := r.URL.Path
		if r.Method != http.MethodGet {
			requested = guard.HomePath
		} else if r.URL.RawQuery != "" {
			requested += "?" + r.URL.RawQuery
		}

		decision := s.guard.Check(requested)
		if !decision.Admit {
			applog.FromContext(r.Context()).DebugContext(r.Context(), "Guarded route rejected",
				applog.FieldPath, r.URL.Path)
			http.Redirect(w, r, decision.Redirect, http.StatusSeeOther)
			return
		}
		next(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// render executes a page template. Errors after the header is written can
// only be logged.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			"template", name,
			applog.FieldError, err)
	}
}

// statusFor maps a failure to the status of the page that reports it.
func statusFor(err error) int {
	switch core.KindOf(err) {
	case core.KindValidation:
		return http.StatusUnprocessableEntity
	case core.KindAuth:
		return http.StatusUnauthorized
	case core.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
