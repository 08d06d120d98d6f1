// This file implements utilities for parsing and validating HTTP request data.
// Forms arrive either form-encoded (plain browsers and htmx) or as JSON
// (htmx json-enc); both are read through RequestBodyParser.

package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"budgetbuddy/internal/core"
)

// maxFormSize bounds request bodies.
const maxFormSize = 64 << 10

// RequestBodyParser handles different content types for request body parsing.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]interface{}
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(w http.ResponseWriter, r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	p.body, p.err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxFormSize))
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if strings.HasPrefix(p.contentType, "application/json") || p.body[0] == '{' {
		p.jsonData = make(map[string]interface{})
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(p.body))
	return p.err
}

// Get returns a sanitized string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// Values returns the named fields, for re-rendering a form.
func (p *RequestBodyParser) Values(keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = p.Get(k)
	}
	return out
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// stringValue converts an interface{} to string.
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// parseForm reads the request body or reports it as unreadable.
func parseForm(w http.ResponseWriter, r *http.Request) (*RequestBodyParser, error) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		return nil, errors.New("invalid request format")
	}
	return p, nil
}

var (
	credentialFields  = []string{"email", "password", "next"}
	registerFields    = []string{"username", "email", "password", "confirmPassword"}
	profileFields     = []string{"username", "email"}
	categoryFields    = []string{"name", "type"}
	transactionFields = []string{"type", "amount", "categoryId", "date", "description"}
	filterFields      = []string{"startDate", "endDate", "type", "categoryId"}
)

func parseCredentials(p *RequestBodyParser) core.Credentials {
	return core.Credentials{
		Email:    p.Get("email"),
		Password: p.Get("password"),
	}
}

func parseRegistration(p *RequestBodyParser) core.Registration {
	return core.Registration{
		Username:        p.Get("username"),
		Email:           p.Get("email"),
		Password:        p.Get("password"),
		ConfirmPassword: p.Get("confirmPassword"),
	}
}

func parseCategory(p *RequestBodyParser) core.CategoryInput {
	return core.CategoryInput{
		Name: p.Get("name"),
		Type: core.TransactionType(strings.ToLower(p.Get("type"))),
	}
}

// parseTransaction converts the form into a validated input.
func parseTransaction(p *RequestBodyParser) (core.TransactionInput, error) {
	return core.ParseTransactionInput(p.Get("type"), p.Get("amount"), p.Get("categoryId"), p.Get("date"), p.Get("description"))
}

// parseFilter reads transaction filters from the query string.
func parseFilter(q url.Values) (core.TransactionFilter, error) {
	return core.ParseFilter(q)
}

func queryValues(q url.Values, keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = strings.TrimSpace(q.Get(k))
	}
	return out
}
