package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetbuddy/internal/core"
)

func newParser(t *testing.T, contentType, body string) *RequestBodyParser {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	p := NewRequestBodyParser(httptest.NewRecorder(), req)
	require.NoError(t, p.Parse())
	return p
}

func TestRequestBodyParser_Form(t *testing.T) {
	p := newParser(t, "application/x-www-form-urlencoded", "name=%20Rent%20&type=expense")

	assert.False(t, p.IsJSON())
	assert.Equal(t, "Rent", p.Get("name"))
	assert.Equal(t, map[string]string{"name": "Rent", "type": "expense", "missing": ""}, p.Values("name", "type", "missing"))
}

func TestRequestBodyParser_JSON(t *testing.T) {
	p := newParser(t, "application/json", `{"amount": 12.5, "type": "income", "flag": true}`)

	assert.True(t, p.IsJSON())
	assert.Equal(t, "12.5", p.Get("amount"))
	assert.Equal(t, "income", p.Get("type"))
	assert.Equal(t, "true", p.Get("flag"))
	assert.Empty(t, p.Get("missing"))
}

func TestRequestBodyParser_StripsControlCharacters(t *testing.T) {
	p := newParser(t, "", "description=a%00b%07c")
	assert.Equal(t, "abc", p.Get("description"))
}

func TestRequestBodyParser_RejectsMalformedJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
	req.Header.Set("Content-Type", "application/json")

	_, err := parseForm(httptest.NewRecorder(), req)
	assert.Error(t, err)
}

func TestRequestBodyParser_RejectsOversizedBody(t *testing.T) {
	body := "description=" + strings.Repeat("x", maxFormSize+1)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	_, err := parseForm(httptest.NewRecorder(), req)
	assert.Error(t, err)
}

func TestParseTransaction(t *testing.T) {
	p := newParser(t, "", "type=Expense&amount=12,345&categoryId=2&date=2025-01-02&description=Lunch")

	in, err := parseTransaction(p)
	require.NoError(t, err)
	assert.Equal(t, core.TransactionInput{
		Type:        core.Expense,
		CategoryID:  "2",
		Date:        core.NewDate(2025, 1, 2),
		Description: "Lunch",
		Amount:      core.Money{Cents: 1235},
	}, in)
}

func TestParseTransaction_ReportsAllFields(t *testing.T) {
	p := newParser(t, "", "type=&amount=-3&date=tomorrow")

	_, err := parseTransaction(p)
	var verr core.ValidationErrors
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Amount must be a positive number", verr["amount"])
	assert.Equal(t, "Invalid date", verr["date"])
	assert.Equal(t, "Transaction type is required", verr["type"])
	assert.Equal(t, "Category is required", verr["categoryId"])
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    core.TransactionFilter
		wantErr string
	}{
		{
			name:  "empty",
			query: "",
			want:  core.TransactionFilter{},
		},
		{
			name:  "all fields",
			query: "categoryId=2&type=EXPENSE&startDate=2025-01-01&endDate=2025-01-31",
			want: core.TransactionFilter{
				CategoryID: "2",
				Type:       core.Expense,
				StartDate:  core.NewDate(2025, 1, 1),
				EndDate:    core.NewDate(2025, 1, 31),
			},
		},
		{
			name:    "bad date",
			query:   "startDate=01/02/2025",
			wantErr: "startDate",
		},
		{
			name:    "reversed range",
			query:   "startDate=2025-02-01&endDate=2025-01-01",
			wantErr: "endDate",
		},
		{
			name:    "unknown type",
			query:   "type=transfer",
			wantErr: "type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			require.NoError(t, err)

			got, err := parseFilter(q)
			if tt.wantErr != "" {
				var verr core.ValidationErrors
				require.ErrorAs(t, err, &verr)
				assert.Contains(t, verr, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "$0.00"},
		{5, "$0.05"},
		{123456, "$1,234.56"},
		{100000000, "$1,000,000.00"},
		{-4550, "-$45.50"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatMoney(tt.cents))
	}
}

func TestSafeNext(t *testing.T) {
	tests := []struct {
		next string
		want string
	}{
		{"/categories", "/categories"},
		{"/update-transaction/7?x=1", "/update-transaction/7?x=1"},
		{"", "/dashboard"},
		{"https://evil.example", "/dashboard"},
		{"//evil.example", "/dashboard"},
		{"/\\evil.example", "/dashboard"},
		{"/no-such-page", "/dashboard"},
		{"/logout", "/dashboard"},
		{"/login", "/dashboard"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, safeNext(tt.next, "/dashboard"), tt.next)
	}
}

func TestCategoryName(t *testing.T) {
	cats := []core.Category{{ID: "1", Name: "Salary"}}

	assert.Equal(t, "Rent", categoryName(cats, core.Transaction{Category: "Rent", CategoryID: "1"}))
	assert.Equal(t, "Salary", categoryName(cats, core.Transaction{CategoryID: "1"}))
	assert.Equal(t, "Uncategorized", categoryName(cats, core.Transaction{CategoryID: "9"}))
}
