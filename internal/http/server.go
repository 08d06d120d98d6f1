// Package http serves the BudgetBuddy web UI. Pages are rendered on the
// server from embedded templates; htmx boosts links and forms.
package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"budgetbuddy/internal/cache"
	"budgetbuddy/internal/core"
	"budgetbuddy/internal/guard"
	"budgetbuddy/internal/log"
	"budgetbuddy/internal/middleware/ratelimit"
	"budgetbuddy/internal/middleware/security"
	"budgetbuddy/internal/middleware/trace"
	"budgetbuddy/internal/services"
	appweb "budgetbuddy/web"
)

// Budget is the part of the budget service the web UI uses.
type Budget interface {
	CurrentUser() (core.User, bool)
	IsAuthenticated() bool

	Login(ctx context.Context, creds core.Credentials) (core.User, error)
	Register(ctx context.Context, reg core.Registration) (core.User, error)
	Logout(ctx context.Context) error
	UpdateProfile(ctx context.Context, in core.ProfileUpdate) (core.User, error)
	ChangePassword(ctx context.Context, in core.PasswordChange) error

	ListCategories(ctx context.Context) ([]core.Category, error)
	Category(ctx context.Context, id core.ID) (core.Category, error)
	CreateCategory(ctx context.Context, in core.CategoryInput) (core.Category, error)
	UpdateCategory(ctx context.Context, id core.ID, in core.CategoryInput) (core.Category, error)
	DeleteCategory(ctx context.Context, id core.ID) error

	ListTransactions(ctx context.Context, filter core.TransactionFilter) ([]core.Transaction, error)
	GetTransaction(ctx context.Context, id core.ID) (core.Transaction, error)
	CreateTransaction(ctx context.Context, in core.TransactionInput) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, id core.ID, in core.TransactionInput) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id core.ID) error

	Dashboard(ctx context.Context) (services.Dashboard, error)
	Refetch(ctx context.Context, key cache.Key) error
}

var _ Budget = (*services.BudgetService)(nil)

type Config struct {
	Addr      string
	Logger    *log.Logger
	RateLimit ratelimit.Config
	// Ready is an optional readiness check for /readyz.
	Ready func(ctx context.Context) error
	// TrustedProxies are CIDRs whose X-Forwarded-For hops are believed.
	TrustedProxies []string
}

type Server struct {
	http.Server
	budget    Budget
	guard     *guard.Guard
	templates map[string]*template.Template
	limiter   *ratelimit.Limiter
	detector  *security.Detector
	tracer    *trace.Middleware
	ready     func(ctx context.Context) error
	logger    *log.Logger

	shutdownOnce sync.Once
}

// NewServer configures routes, middleware and templates, returning a
// ready-to-run server.
func NewServer(cfg Config, budget Budget, g *guard.Guard) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}

	templates, err := parseTemplates(appweb.TemplatesFS)
	if err != nil {
		return nil, err
	}
	detector, err := security.NewDetector(cfg.TrustedProxies...)
	if err != nil {
		return nil, err
	}

	s := &Server{
		budget:    budget,
		guard:     g,
		templates: templates,
		limiter:   ratelimit.NewLimiter(cfg.RateLimit),
		detector:  detector,
		ready:     cfg.Ready,
		logger:    cfg.Logger.WithComponent(log.ComponentHTTP),
	}
	s.tracer = trace.NewMiddleware(cfg.Logger, s.detector.ClientIP)

	mux := http.NewServeMux()
	s.routes(mux)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) {
	// Static assets (served from embedded FS)
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssets(time.Hour)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /register", s.handleRegisterPage)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.HandleFunc("GET /dashboard", s.handleDashboard)
	mux.HandleFunc("GET /profile", s.handleProfilePage)
	mux.HandleFunc("POST /profile", s.handleUpdateProfile)
	mux.HandleFunc("POST /profile/password", s.handleChangePassword)

	mux.HandleFunc("GET /categories", s.handleCategories)
	mux.HandleFunc("GET /add-category", s.handleAddCategoryPage)
	mux.HandleFunc("POST /add-category", s.handleAddCategory)
	mux.HandleFunc("GET /update-category/{id}", s.handleUpdateCategoryPage)
	mux.HandleFunc("POST /update-category/{id}", s.handleUpdateCategory)
	mux.HandleFunc("POST /categories/{id}/delete", s.handleDeleteCategory)

	mux.HandleFunc("GET /transactions", s.handleTransactions)
	mux.HandleFunc("GET /add-transaction", s.handleAddTransactionPage)
	mux.HandleFunc("POST /add-transaction", s.handleAddTransaction)
	mux.HandleFunc("GET /update-transaction/{id}", s.handleUpdateTransactionPage)
	mux.HandleFunc("POST /update-transaction/{id}", s.handleUpdateTransaction)
	mux.HandleFunc("POST /transactions/{id}/delete", s.handleDeleteTransaction)

	mux.HandleFunc("/", s.handleNotFound)
}

// middleware wraps the mux, outermost first: tracing and request logs,
// security headers, suspicious request detection, POST rate limiting and
// finally the route guard.
func (s *Server) middleware(next http.Handler) http.Handler {
	h := s.guard.Middleware("/static/", "/healthz", "/readyz")(next)
	h = s.limiter.Middleware(s.detector.ClientIP, s.rateLimited)(h)
	h = s.detector.Middleware(h)
	h = security.Headers(security.DefaultPolicy())(h)
	return s.tracer.Middleware(h)
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
	TooManyRequests().Write(w, r)
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// parseTemplates builds one template set per page, each combined with the
// shared layout.
func parseTemplates(fsys fs.FS) (map[string]*template.Template, error) {
	pages, err := fs.Glob(fsys, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	out := make(map[string]*template.Template, len(pages))
	for _, p := range pages {
		name := strings.TrimPrefix(p, "templates/")
		if name == "layout.html" {
			continue
		}
		t, err := template.New(name).Funcs(templateFuncs).ParseFS(fsys, "templates/layout.html", p)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}
