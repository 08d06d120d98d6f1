package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetbuddy/internal/config"
	"budgetbuddy/internal/core"
	"budgetbuddy/internal/guard"
	"budgetbuddy/internal/log"
	"budgetbuddy/internal/services"
)

// apiStub is a minimal BudgetBuddy backend.
type apiStub struct {
	mu        sync.Mutex
	created   []map[string]any
	listCalls int
}

func (s *apiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var body map[string]any
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")

	if path == "/users/login" {
		if body["password"] != "123456" {
			respond(w, http.StatusUnauthorized, map[string]any{"message": "Invalid credentials"})
			return
		}
		respond(w, http.StatusOK, map[string]any{
			"token": "abc123",
			"user":  map[string]any{"id": 1, "username": "Ben", "email": body["email"]},
		})
		return
	}
	if r.Header.Get("Authorization") != "Bearer abc123" {
		respond(w, http.StatusUnauthorized, map[string]any{"message": "Token expired"})
		return
	}

	switch path {
	case "/categories/lists":
		respond(w, http.StatusOK, []map[string]any{
			{"id": 1, "name": "Salary", "type": "income"},
			{"id": 2, "name": "Food", "type": "expense"},
		})
	case "/categories/create":
		body["id"] = 3
		s.created = append(s.created, body)
		respond(w, http.StatusCreated, body)
	case "/transactions/lists":
		s.listCalls++
		respond(w, http.StatusOK, []map[string]any{
			{"_id": "t1", "type": "income", "categoryId": 1, "date": "2025-01-01", "description": "January pay", "amount": 2000},
			{"_id": "t2", "type": "expense", "category": "Food", "date": "2025-01-03", "description": "Groceries", "amount": 45.5},
		})
	case "/transactions/create":
		body["_id"] = "t9"
		s.created = append(s.created, body)
		respond(w, http.StatusCreated, body)
	default:
		respond(w, http.StatusNotFound, map[string]any{"message": "Not found"})
	}
}

func (s *apiStub) createdBodies() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.created...)
}

func (s *apiStub) transactionLists() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type cliEnv struct {
	stub *apiStub
	dir  string
}

// newCLIEnv points the configuration at a stub backend and a file store in
// a temporary directory, so the session survives between runs.
func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	stub := &apiStub{}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	t.Setenv("API_BASE_URL", srv.URL+"/api/v1")
	t.Setenv("STORAGE_BACKEND", "file")
	t.Setenv("STORAGE_FILE_PATH", filepath.Join(dir, "userinfo.json"))
	t.Setenv("AMQP_URL", "")
	t.Setenv("LOG_LEVEL", "error")
	return &cliEnv{stub: stub, dir: dir}
}

type result struct {
	code   int
	stdout string
	stderr string
}

func (e *cliEnv) run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	return e.runContext(t, context.Background(), stdin, args...)
}

func (e *cliEnv) runContext(t *testing.T, ctx context.Context, stdin string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	args = append([]string{"--color", "never", "--env-file", filepath.Join(e.dir, "missing.env")}, args...)
	code := Execute(ctx, args, Streams{In: strings.NewReader(stdin), Out: &out, Err: &errOut}, "test")
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func (e *cliEnv) login(t *testing.T) {
	t.Helper()
	res := e.run(t, "", "login", "--email", "ben@gmail.com", "--password", "123456")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
}

func TestProtectedCommandNeedsLogin(t *testing.T) {
	e := newCLIEnv(t)

	res := e.run(t, "", "categories", "list")
	assert.Equal(t, ExitAuthError, res.code)
	assert.Contains(t, res.stderr, "not logged in")
}

func TestLoginPersistsAcrossRuns(t *testing.T) {
	e := newCLIEnv(t)

	res := e.run(t, "123456\n", "login", "--email", "ben@gmail.com")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Logged in as Ben")

	res = e.run(t, "", "categories", "list")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Salary")
	assert.Contains(t, res.stdout, "expense")

	res = e.run(t, "", "status")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "ben@gmail.com")
	assert.Contains(t, res.stdout, "file")

	res = e.run(t, "", "logout")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, ExitAuthError, e.run(t, "", "dashboard").code)
}

func TestLoginRejected(t *testing.T) {
	e := newCLIEnv(t)

	res := e.run(t, "", "login", "--email", "ben@gmail.com", "--password", "wrong1")
	assert.Equal(t, ExitAuthError, res.code)
	assert.Contains(t, res.stderr, "Invalid credentials")

	res = e.run(t, "", "login", "--email", "nope", "--password", "123456")
	assert.Equal(t, ExitUsageError, res.code)
	assert.Contains(t, res.stderr, "email: Invalid email address")
}

func TestAddCategory(t *testing.T) {
	e := newCLIEnv(t)
	e.login(t)

	res := e.run(t, "", "categories", "add", "--name", "Rent")
	assert.Equal(t, ExitUsageError, res.code)
	assert.Contains(t, res.stderr, "type: Category type is required")

	res = e.run(t, "", "categories", "add", "--name", "Rent", "--type", "Expense")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, `Category "Rent" saved`)
	assert.Equal(t, "expense", e.stub.createdBodies()[0]["type"])
}

func TestTransactions(t *testing.T) {
	e := newCLIEnv(t)
	e.login(t)

	res := e.run(t, "", "transactions", "list")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "January pay")
	assert.Contains(t, res.stdout, "Salary")
	assert.Contains(t, res.stdout, "$45.50")

	res = e.run(t, "", "transactions", "list", "--start", "2025-02-01", "--end", "2025-01-01")
	assert.Equal(t, ExitUsageError, res.code)
	assert.Contains(t, res.stderr, "endDate")

	res = e.run(t, "", "transactions", "add", "--type", "expense", "--amount", "12,50", "--category", "2", "--date", "2025-01-09")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Transaction saved (id t9)")
	assert.EqualValues(t, 12.5, e.stub.createdBodies()[0]["amount"])
}

func TestDashboard(t *testing.T) {
	e := newCLIEnv(t)
	e.login(t)

	res := e.run(t, "", "dashboard")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "$2,000.00")
	assert.Contains(t, res.stdout, "$1,954.50")
	assert.Contains(t, res.stdout, "Groceries")
}

func TestExportDryRun(t *testing.T) {
	e := newCLIEnv(t)
	e.login(t)

	res := e.run(t, "", "export", "--dry-run")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Exported 2 transactions.")
	assert.Contains(t, res.stdout, "Groceries")

	t.Setenv("GOOGLE_SPREADSHEET_ID", "")
	res = e.run(t, "", "export")
	assert.Equal(t, ExitConfigError, res.code)
	assert.Contains(t, res.stderr, "Google Spreadsheet ID is required")
}

func TestInvalidConfiguration(t *testing.T) {
	e := newCLIEnv(t)
	t.Setenv("API_BASE_URL", "ftp://example.com")

	res := e.run(t, "", "status")
	assert.Equal(t, ExitConfigError, res.code)
	assert.Contains(t, res.stderr, "invalid API base URL scheme")
}

func TestInvalidColorFlag(t *testing.T) {
	e := newCLIEnv(t)

	res := e.run(t, "", "--color", "sometimes", "status")
	assert.Equal(t, ExitUsageError, res.code)
}

func TestDashboardWatchRedrawsOnInterval(t *testing.T) {
	e := newCLIEnv(t)
	e.login(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	res := e.runContext(t, ctx, "", "dashboard", "--watch", "--interval", "40ms")

	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.GreaterOrEqual(t, strings.Count(res.stdout, "Summary"), 2)
	assert.GreaterOrEqual(t, e.stub.transactionLists(), 2)
	assert.Equal(t, strings.Count(res.stdout, "Summary"), strings.Count(res.stdout, "Updated "))
}

func TestDashboardWatchRejectsNegativeInterval(t *testing.T) {
	e := newCLIEnv(t)
	e.login(t)

	res := e.run(t, "", "dashboard", "--watch", "--interval", "-1s")
	assert.Equal(t, ExitUsageError, res.code)
}

func TestCommandRoutesAreGuarded(t *testing.T) {
	known := map[string]bool{}
	for _, route := range guard.ProtectedRoutes {
		known[route] = true
	}

	r := &runner{streams: StdStreams(), version: "test"}
	var walk func(cmd *cobra.Command)
	walk = func(cmd *cobra.Command) {
		if route, ok := cmd.Annotations[routeAnnotation]; ok {
			assert.True(t, known[route], "%s guards unknown route %s", cmd.CommandPath(), route)
		}
		for _, sub := range cmd.Commands() {
			walk(sub)
		}
	}
	walk(r.rootCommand())
}

func TestDashboardWatcherRedrawsOnInvalidation(t *testing.T) {
	e := newCLIEnv(t)
	e.login(t)

	app, err := Bootstrap(context.Background(), config.Load(), log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	draws := make(chan services.Dashboard, 4)
	w := &dashboardWatcher{
		budget: app.Budget,
		cache:  app.Cache,
		draw: func(d services.Dashboard) error {
			draws <- d
			return nil
		},
		failed: func(err error) { t.Errorf("unexpected failure: %v", err) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	nextDraw := func() services.Dashboard {
		t.Helper()
		select {
		case d := <-draws:
			return d
		case <-time.After(2 * time.Second):
			t.Fatal("dashboard was not drawn")
			return services.Dashboard{}
		}
	}

	d := nextDraw()
	assert.Len(t, d.Transactions, 2)
	entry, ok := app.Cache.Peek(services.TransactionsKey(core.TransactionFilter{}))
	require.True(t, ok)
	assert.Equal(t, 1, entry.Subscribers)

	// what the invalidation listener does after a write elsewhere
	calls := e.stub.transactionLists()
	app.Cache.InvalidateResources(services.ResourceTransactions)
	nextDraw()
	assert.Equal(t, calls+1, e.stub.transactionLists())

	cancel()
	require.NoError(t, <-done)
	entry, _ = app.Cache.Peek(services.TransactionsKey(core.TransactionFilter{}))
	assert.Zero(t, entry.Subscribers)
}
