package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBannerResponseFullPage(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/add-category", nil)

	BadRequestError("Invalid request format").Write(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Empty(t, w.Header().Get("HX-Retarget"))
	assert.Contains(t, w.Body.String(), `class="banner banner-error"`)
	assert.Contains(t, w.Body.String(), "Invalid request format")
}

func TestBannerResponseHTMX(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/add-transaction", nil)
	r.Header.Set("HX-Request", "true")

	resp := TooManyRequests()
	resp.Write(w, r)

	assert.Equal(t, http.StatusTooManyRequests, resp.Status())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "main", w.Header().Get("HX-Retarget"))
	assert.Equal(t, "afterbegin", w.Header().Get("HX-Reswap"))
	assert.Contains(t, w.Body.String(), "Too many requests")
}

func TestBannerResponseEscapesMessage(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	NewBannerResponse(http.StatusBadGateway, "error", `<script>alert("x")</script>`).Write(w, r)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "<script>")
	assert.Contains(t, w.Body.String(), "&lt;script&gt;")
}
