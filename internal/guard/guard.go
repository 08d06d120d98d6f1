// Package guard decides whether a route may be shown given the current
// session. Decisions are recomputed on every navigation.
package guard

import (
	"net/http"
	"net/url"
	"strings"

	"budgetbuddy/internal/log"
)

// LoginPath is where unauthenticated navigation to a protected route lands.
const LoginPath = "/login"

// Action is what the presentation layer should do with a navigation.
type Action int

const (
	Render Action = iota
	Redirect
)

func (a Action) String() string {
	if a == Redirect {
		return "redirect"
	}
	return "render"
}

// Decision is the outcome of Authorize.
type Decision struct {
	Action Action
	// Target is set for redirects.
	Target string
}

// SessionChecker reports whether a session is present.
type SessionChecker interface {
	IsAuthenticated() bool
}

// Guard authorizes routes against a session.
type Guard struct {
	session SessionChecker
	public  map[string]bool
	logger  *log.Logger
}

// PublicRoutes are the routes reachable without a session. Everything else,
// including paths the application does not know, is protected.
var PublicRoutes = []string{"/", "/login", "/register"}

// ProtectedRoutes lists the known routes that need a session.
var ProtectedRoutes = []string{
	"/dashboard",
	"/profile",
	"/categories",
	"/add-category",
	"/update-category/:id",
	"/add-transaction",
	"/transactions",
	"/update-transaction/:id",
	"/logout",
}

func New(session SessionChecker, logger *log.Logger) *Guard {
	if logger == nil {
		logger = log.Discard()
	}
	public := make(map[string]bool, len(PublicRoutes))
	for _, p := range PublicRoutes {
		public[p] = true
	}
	return &Guard{
		session: session,
		public:  public,
		logger:  logger.WithComponent(log.ComponentGuard),
	}
}

// IsPublic reports whether path is reachable without a session.
func (g *Guard) IsPublic(path string) bool {
	return g.public[normalize(path)]
}

// Authorize renders public routes unconditionally and protected routes only
// while a session is present; otherwise it redirects to the login route.
func (g *Guard) Authorize(path string) Decision {
	if g.IsPublic(path) || g.session.IsAuthenticated() {
		return Decision{Action: Render}
	}
	return Decision{Action: Redirect, Target: LoginPath}
}

// Middleware applies Authorize to every request. Static assets and health
// endpoints under the given prefixes bypass the guard.
func (g *Guard) Middleware(bypass ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range bypass {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			d := g.Authorize(r.URL.Path)
			if d.Action == Render {
				next.ServeHTTP(w, r)
				return
			}

			route, known := Route(r.URL.Path)
			if !known {
				route = r.URL.Path
			}
			log.FromContext(r.Context()).DebugContext(r.Context(), "Redirecting unauthenticated request",
				log.FieldRoute, route, log.FieldDecision, d.Action.String())

			// only known pages are worth returning to after login
			target := d.Target
			if r.Method == http.MethodGet && known {
				target += "?next=" + url.QueryEscape(r.URL.RequestURI())
			}
			// htmx requests follow HX-Redirect instead of a 3xx
			if r.Header.Get("HX-Request") == "true" {
				w.Header().Set("HX-Redirect", target)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
		})
	}
}

// Route returns the ProtectedRoutes pattern path matches. A ":id" segment
// matches any single non-empty segment.
func Route(path string) (string, bool) {
	segs := strings.Split(normalize(path), "/")
	for _, pattern := range ProtectedRoutes {
		if matchSegments(strings.Split(pattern, "/"), segs) {
			return pattern, true
		}
	}
	return "", false
}

func matchSegments(pattern, segs []string) bool {
	if len(pattern) != len(segs) {
		return false
	}
	for i, p := range pattern {
		if strings.HasPrefix(p, ":") {
			if segs[i] == "" {
				return false
			}
			continue
		}
		if p != segs[i] {
			return false
		}
	}
	return true
}

func normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			return "/"
		}
	}
	return path
}
