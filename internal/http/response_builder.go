package http

import (
	"html/template"
	"net/http"
)

// bannerTemplate matches the dismissible banner of layout.html.
var bannerTemplate = template.Must(template.New("banner").Parse(
	`<div class="banner banner-{{.Kind}}" role="alert"><span>{{.Message}}</span></div>`))

// BannerResponse answers a request that never reached a page handler, such
// as a malformed form or a rate-limited post, with a single banner. Full page
// loads get the banner and the real status. Boosted htmx requests get a 200
// with HX-Retarget and HX-Reswap so the banner is prepended to <main> instead
// of replacing the page the user is editing.
type BannerResponse struct {
	status int
	flash  Flash
}

func NewBannerResponse(status int, kind, message string) *BannerResponse {
	return &BannerResponse{status: status, flash: Flash{Kind: kind, Message: message}}
}

// BadRequestError is the response to a body that could not be parsed.
func BadRequestError(message string) *BannerResponse {
	return NewBannerResponse(http.StatusBadRequest, "error", message)
}

// TooManyRequests is the response of the POST rate limiter.
func TooManyRequests() *BannerResponse {
	return NewBannerResponse(http.StatusTooManyRequests, "error", "Too many requests. Please try again later.")
}

func (b *BannerResponse) Status() int { return b.status }

func (b *BannerResponse) Write(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	status := b.status
	if isHTMX(r) {
		h.Set("HX-Retarget", "main")
		h.Set("HX-Reswap", "afterbegin")
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_ = bannerTemplate.Execute(w, b.flash)
}
