package http

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"net/url"

	"budgetbuddy/internal/api"
	"budgetbuddy/internal/core"
	"budgetbuddy/internal/guard"
	"budgetbuddy/internal/log"
	"budgetbuddy/internal/services"
)

// Flash is the dismissible banner shown above the page content.
type Flash struct {
	Kind    string
	Message string
}

// page is the data every template receives.
type page struct {
	Title  string
	Path   string
	User   *core.User
	Flash  *Flash
	Errors core.ValidationErrors
	Form   map[string]string
	Data   any
	// Query is the request query, kept by the Retry link.
	Query url.Values
	// LoadError replaces a list with a full-panel message.
	LoadError string
	// Retryable offers a Retry link next to LoadError.
	Retryable bool
}

// notices are the banners that can be requested through ?notice=. Only known
// codes are shown so the query string cannot inject text.
var notices = map[string]Flash{
	"registered":          {Kind: "success", Message: "Registration successful, please log in."},
	"logged-out":          {Kind: "info", Message: "You have been logged out."},
	"expired":             {Kind: "error", Message: "Your session has expired, please log in again."},
	"profile-saved":       {Kind: "success", Message: "Profile updated."},
	"password-changed":    {Kind: "success", Message: "Password changed."},
	"category-saved":      {Kind: "success", Message: "Category saved."},
	"category-deleted":    {Kind: "success", Message: "Category deleted."},
	"transaction-saved":   {Kind: "success", Message: "Transaction saved."},
	"transaction-deleted": {Kind: "success", Message: "Transaction deleted."},
}

var templateFuncs = template.FuncMap{
	"money":        formatMoney,
	"categoryName": categoryName,
	"retryURL":     retryURL,
}

func (s *Server) newPage(r *http.Request, title string) *page {
	p := &page{Title: title, Path: r.URL.Path, Query: r.URL.Query(), Form: map[string]string{}}
	if u, ok := s.budget.CurrentUser(); ok {
		p.User = &u
	}
	if n, ok := notices[r.URL.Query().Get("notice")]; ok {
		p.Flash = &n
	}
	return p
}

// render executes a page into a buffer first so template failures still
// produce a clean 500. htmx only swaps 2xx responses, so boosted requests
// always get 200.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, p *page) {
	t, ok := s.templates[name]
	if !ok {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template not found", "template", name)
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", p); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err, "template", name, log.FieldOperation, log.OpRender)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	if isHTMX(r) {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// formFailed re-renders a form after err. Validation errors go next to their
// fields, everything else into the banner. An expired session sends the user
// to the login page instead.
func (s *Server) formFailed(w http.ResponseWriter, r *http.Request, name string, p *page, err error) {
	if s.sessionExpired(w, r, err) {
		return
	}
	var verr core.ValidationErrors
	if errors.As(err, &verr) {
		p.Errors = verr
		s.render(w, r, http.StatusUnprocessableEntity, name, p)
		return
	}
	s.logFailure(r, err)
	p.Flash = &Flash{Kind: "error", Message: userMessage(err)}
	s.render(w, r, statusFor(err), name, p)
}

// loadFailed renders a page whose data could not be fetched.
func (s *Server) loadFailed(w http.ResponseWriter, r *http.Request, name string, p *page, err error) {
	if s.sessionExpired(w, r, err) {
		return
	}
	s.logFailure(r, err)
	p.LoadError = userMessage(err)
	p.Retryable = true
	s.render(w, r, statusFor(err), name, p)
}

func (s *Server) sessionExpired(w http.ResponseWriter, r *http.Request, err error) bool {
	if !errors.Is(err, services.ErrSessionExpired) {
		return false
	}
	target := guard.LoginPath + "?notice=expired"
	if r.Method == http.MethodGet {
		target += "&next=" + url.QueryEscape(r.URL.RequestURI())
	}
	redirect(w, r, target)
	return true
}

func (s *Server) logFailure(r *http.Request, err error) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Request failed",
		log.FieldError, err, log.FieldPath, r.URL.Path, log.FieldErrorType, errorType(err))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	p := s.newPage(r, "Page not found")
	p.LoadError = "The page you are looking for does not exist."
	s.render(w, r, http.StatusNotFound, "error.html", p)
}

// retryURL links back to path with the same query plus retry=1, so a
// filtered list refetches the key that failed.
func retryURL(path string, q url.Values) string {
	v := url.Values{}
	for k, vals := range q {
		if k != "notice" {
			v[k] = vals
		}
	}
	v.Set("retry", "1")
	return path + "?" + v.Encode()
}

// redirect sends the browser to target after a form post. Boosted htmx
// requests follow the 303 on their own.
func redirect(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// userMessage is the text shown for a failed request: the backend message
// when there is one, a generic message otherwise.
func userMessage(err error) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if errors.Is(err, api.ErrNotFound) {
		return "Not found"
	}
	return api.DefaultErrorMessage
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, api.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, api.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}

func errorType(err error) string {
	var apiErr *api.APIError
	switch {
	case errors.Is(err, api.ErrUnauthorized):
		return log.ErrorTypeAuth
	case errors.Is(err, api.ErrNotFound):
		return log.ErrorTypeNotFound
	case errors.As(err, &apiErr):
		return log.ErrorTypeInternal
	default:
		return log.ErrorTypeNetwork
	}
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
