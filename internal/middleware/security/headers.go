package security

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTMXSource is the CDN prefix the layout loads htmx from.
const HTMXSource = "https://unpkg.com/htmx.org@1.9.12/"

// Policy describes the response headers of the web UI.
type Policy struct {
	// ScriptSources are allowed next to 'self'.
	ScriptSources []string
	// HSTS is sent on TLS connections only; zero disables it.
	HSTS           time.Duration
	ReferrerPolicy string
}

func DefaultPolicy() Policy {
	return Policy{
		ScriptSources:  []string{HTMXSource},
		HSTS:           365 * 24 * time.Hour,
		ReferrerPolicy: "same-origin",
	}
}

// ContentSecurityPolicy renders the CSP header value. htmx adds its
// indicator styles inline, hence 'unsafe-inline' for styles only.
func (p Policy) ContentSecurityPolicy() string {
	scripts := append([]string{"'self'"}, p.ScriptSources...)
	return strings.Join([]string{
		"default-src 'self'",
		"script-src " + strings.Join(scripts, " "),
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data:",
		"connect-src 'self'",
		"object-src 'none'",
		"frame-ancestors 'none'",
		"base-uri 'self'",
		"form-action 'self'",
	}, "; ")
}

// Headers applies p to every response. Pages show one user's budget, so
// they are never stored by shared caches, and boosted htmx requests get
// different statuses than full loads, so responses vary on HX-Request.
func Headers(p Policy) func(http.Handler) http.Handler {
	csp := p.ContentSecurityPolicy()
	hsts := ""
	if p.HSTS > 0 {
		hsts = "max-age=" + strconv.Itoa(int(p.HSTS.Seconds())) + "; includeSubDomains"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", csp)
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", p.ReferrerPolicy)
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			h.Set("Cache-Control", "no-store")
			h.Add("Vary", "HX-Request")
			if r.TLS != nil && hsts != "" {
				h.Set("Strict-Transport-Security", hsts)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StaticAssets lets browsers keep the embedded stylesheet for maxAge,
// replacing the no-store set by Headers.
func StaticAssets(maxAge time.Duration) func(http.Handler) http.Handler {
	value := "public, max-age=" + strconv.Itoa(int(maxAge.Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", value)
			next.ServeHTTP(w, r)
		})
	}
}
