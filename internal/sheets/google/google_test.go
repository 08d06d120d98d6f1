package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

type fakeSheets struct {
	mu       sync.Mutex
	existing [][]string
	appended [][]interface{}
	ranges   []string
	query    string
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/values/"):
		f.ranges = append(f.ranges, r.URL.Path)
		values := make([][]string, 0, 1)
		if len(f.existing) > 0 {
			values = append(values, f.existing[0][:1])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"values": values})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":append"):
		f.ranges = append(f.ranges, r.URL.Path)
		f.query = r.URL.RawQuery
		var body struct {
			Values [][]interface{} `json:"values"`
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		f.appended = append(f.appended, body.Values...)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"updates": map[string]any{"updatedRows": len(body.Values)},
		})
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found"}}`)
	}
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return NewWithService(svc, "sheet-id", "My Budget", nil)
}

func TestExportWritesHeaderToEmptySheet(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)

	n, err := c.Export(context.Background(), [][]string{
		{"2025-01-05", "expense", "Food", "Groceries", "45.50"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, fake.appended, 2)
	assert.Equal(t, "Date", fake.appended[0][0])
	assert.Equal(t, "Groceries", fake.appended[1][3])
	assert.Contains(t, fake.query, "valueInputOption=USER_ENTERED")
	assert.Contains(t, fake.query, "insertDataOption=INSERT_ROWS")
	assert.Contains(t, fake.ranges[len(fake.ranges)-1], "'My Budget'!A:E")
}

func TestExportAppendsBelowExistingData(t *testing.T) {
	fake := &fakeSheets{existing: [][]string{{"Date"}}}
	c := newTestClient(t, fake)

	n, err := c.Export(context.Background(), [][]string{
		{"2025-01-05", "expense", "Food", "Groceries", "45.50"},
		{"2025-01-06", "income", "Salary", "", "2000.00"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, fake.appended, 2)
	assert.Equal(t, "2025-01-05", fake.appended[0][0])
}

func TestExportNothing(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)

	n, err := c.Export(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, fake.ranges)
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{CredentialsJSON: "{}"}, nil)
	require.Error(t, err)
	assert.Equal(t, "missing GOOGLE_SPREADSHEET_ID", err.Error())
}

func TestNew_MissingCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{SpreadsheetID: "id"}, nil)
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestNew_UnreadableCredentialsFile(t *testing.T) {
	_, err := New(context.Background(), Config{SpreadsheetID: "id", CredentialsFile: t.TempDir() + "/missing.json"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read service account file")
}

func TestRangeForQuotesSheetName(t *testing.T) {
	c := &Client{sheetName: "Ben's sheet"}
	assert.Equal(t, "'Ben''s sheet'!A:E", c.rangeFor("A:E"))
}
