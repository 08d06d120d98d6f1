package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetbuddy/internal/api"
	"budgetbuddy/internal/cache"
	"budgetbuddy/internal/core"
	"budgetbuddy/internal/session"
	"budgetbuddy/internal/storage"
)

// fakeBackend is an in-memory BudgetBuddy API.
type fakeBackend struct {
	mu           sync.Mutex
	hits         map[string]int
	categories   []map[string]any
	transactions []map[string]any
	unauthorized bool
	nextID       int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		hits: map[string]int{},
		categories: []map[string]any{
			{"id": 1, "name": "Salary", "type": "income"},
			{"id": 2, "name": "Food", "type": "expense"},
		},
		transactions: []map[string]any{
			{"_id": "t1", "type": "income", "categoryId": 1, "date": "2025-01-01", "description": "January", "amount": 2000},
			{"_id": "t2", "type": "expense", "categoryId": 2, "date": "2025-01-05", "description": "Groceries", "amount": 45.5},
		},
		nextID: 100,
	}
}

func (f *fakeBackend) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	f.hits[r.Method+" "+path]++

	var body map[string]any
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}

	if path == "/users/login" {
		if body["email"] == "ben@gmail.com" && body["password"] == "123456" {
			reply(w, http.StatusOK, map[string]any{
				"token": "abc123",
				"user":  map[string]any{"id": "1", "name": "Ben", "email": "ben@gmail.com"},
			})
			return
		}
		reply(w, http.StatusUnauthorized, map[string]any{"message": "Invalid credentials"})
		return
	}
	if path == "/users/register" {
		reply(w, http.StatusCreated, map[string]any{"id": "2", "username": body["username"], "email": body["email"]})
		return
	}

	if f.unauthorized || r.Header.Get("Authorization") != "Bearer abc123" {
		reply(w, http.StatusUnauthorized, map[string]any{"message": "Token expired"})
		return
	}

	switch {
	case path == "/categories/lists":
		reply(w, http.StatusOK, f.categories)
	case path == "/categories/create":
		f.nextID++
		body["id"] = f.nextID
		f.categories = append(f.categories, body)
		reply(w, http.StatusCreated, body)
	case strings.HasPrefix(path, "/categories/delete/"):
		reply(w, http.StatusOK, map[string]any{"message": "deleted"})
	case path == "/transactions/lists":
		reply(w, http.StatusOK, map[string]any{"data": f.transactions})
	case path == "/transactions/create":
		f.nextID++
		body["_id"] = f.nextID
		f.transactions = append(f.transactions, body)
		reply(w, http.StatusCreated, body)
	case strings.HasPrefix(path, "/transactions/update/"):
		body["_id"] = strings.TrimPrefix(path, "/transactions/update/")
		reply(w, http.StatusOK, body)
	case path == "/transactions/t1":
		reply(w, http.StatusOK, f.transactions[0])
	case path == "/users/update-profile":
		reply(w, http.StatusOK, map[string]any{"message": "Profile updated"})
	case path == "/users/change-password":
		reply(w, http.StatusOK, map[string]any{"message": "ok"})
	default:
		reply(w, http.StatusNotFound, map[string]any{"message": "Not found"})
	}
}

func (f *fakeBackend) setUnauthorized(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unauthorized = v
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type recordingPublisher struct {
	mu        sync.Mutex
	published [][]string
	err       error
}

func (p *recordingPublisher) PublishInvalidation(_ context.Context, resources ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, resources)
	return p.err
}

type fixture struct {
	svc       *BudgetService
	backend   *fakeBackend
	session   *session.Store
	store     storage.Store
	cache     *cache.Cache
	publisher *recordingPublisher
}

func newFixture(t *testing.T, forceLogout bool) *fixture {
	t.Helper()
	backend := newFakeBackend()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	store := storage.NewMemoryStore()
	sess := session.New(store, nil)
	client, err := api.New(srv.URL+"/api/v1", sess, 5*time.Second)
	require.NoError(t, err)

	c := cache.New(cache.Options{})
	pub := &recordingPublisher{}
	svc := NewBudgetService(sess, client, c, Options{ForceLogout: forceLogout, Publisher: pub})
	return &fixture{svc: svc, backend: backend, session: sess, store: store, cache: c, publisher: pub}
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	_, err := f.svc.Login(context.Background(), core.Credentials{Email: "ben@gmail.com", Password: "123456"})
	require.NoError(t, err)
}

func TestLoginStartsSession(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	u, err := f.svc.Login(ctx, core.Credentials{Email: " ben@gmail.com ", Password: "123456"})
	require.NoError(t, err)
	assert.Equal(t, core.User{ID: "1", Name: "Ben", Email: "ben@gmail.com"}, u)

	token, ok := f.session.CurrentToken()
	require.True(t, ok)
	assert.Equal(t, "abc123", token)

	raw, err := f.store.Get(ctx, session.StorageKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"token":"abc123"`)
}

func TestLoginValidationNeverReachesBackend(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.svc.Login(context.Background(), core.Credentials{Email: "not-an-email", Password: "1"})
	var verr core.ValidationErrors
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Invalid email address", verr["email"])
	assert.Zero(t, f.backend.count("POST /users/login"))
}

func TestLoginRejectedKeepsSessionAbsent(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.svc.Login(context.Background(), core.Credentials{Email: "ben@gmail.com", Password: "wrong1"})
	require.Error(t, err)
	assert.Equal(t, "Invalid credentials", api.Message(err))
	assert.False(t, f.svc.IsAuthenticated())
	assert.NotErrorIs(t, err, ErrSessionExpired)
}

func TestLogoutClearsSessionAndCache(t *testing.T) {
	f := newFixture(t, true)
	f.login(t)
	ctx := context.Background()

	_, err := f.svc.ListCategories(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.cache.Len())

	require.NoError(t, f.svc.Logout(ctx))
	require.NoError(t, f.svc.Logout(ctx))

	assert.False(t, f.svc.IsAuthenticated())
	assert.Zero(t, f.cache.Len())
	_, err = f.store.Get(ctx, session.StorageKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListCategoriesIsCached(t *testing.T) {
	f := newFixture(t, true)
	f.login(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cats, err := f.svc.ListCategories(ctx)
		require.NoError(t, err)
		require.Len(t, cats, 2)
		assert.Equal(t, core.ID("1"), cats[0].ID)
	}
	assert.Equal(t, 1, f.backend.count("GET /categories/lists"))
}

func TestCreateCategoryInvalidatesList(t *testing.T) {
	f := newFixture(t, true)
	f.login(t)
	ctx := context.Background()

	before, err := f.svc.ListCategories(ctx)
	require.NoError(t, err)

	cat, err := f.svc.CreateCategory(ctx, core.CategoryInput{Name: "<b>Rent</b>", Type: core.Expense})
	require.NoError(t, err)
	assert.Equal(t, "Rent", cat.Name)

	after, err := f.svc.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, after, len(before)+1)
	assert.Equal(t, 2, f.backend.count("GET /categories/lists"))
	assert.Equal(t, [][]string{{ResourceCategories}}, f.publisher.published)
}

func TestFailedMutationLeavesCacheFresh(t *testing.T) {
	f := newFixture(t, true)
	f.login(t)
	ctx := context.Background()

	_, err := f.svc.ListTransactions(ctx, core.TransactionFilter{})
	require.NoError(t, err)

	err = f.svc.DeleteTransaction(ctx, "missing")
	require.Error(t, err)

	e, ok := f.cache.Peek(TransactionsKey(core.TransactionFilter{}))
	require.True(t, ok)
	assert.True(t, e.Fresh())
	assert.Empty(t, f.publisher.published)
}

func TestInvalidCategoryInputIsRejectedLocally(t *testing.T) {
	f := newFixture(t, true)
	f.login(t)

	_, err := f.svc.CreateCategory(context.Background(), core.CategoryInput{Name: "<script></script>", Type: "savings"})
	var verr core.ValidationErrors
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr, "name")
	assert.Contains(t, verr, "type")
	assert.Zero(t, f.backend.count("POST /categories/create"))
}

func TestDeleteCategoryInvalidatesTransactions(t *testing.T) {
	f := newFixture(t, true)
	f.login(t)
	ctx := context.Background()

	_, err := f.svc.Dashboard(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteCategory(ctx, "2"))

	for _, key := range []cache.Key{CategoriesKey(), TransactionsKey(core.TransactionFilter{})} {
		e, ok := f.cache.Peek(key)
		require.True(t, ok)
		assert.True(t, e.Stale, key.String())
	}
}

func TestTransactionLifecycle(t *testing.T) {
	f := newFixture(t, true)
	f.login(t)
	ctx := context.Background()

	in := core.TransactionInput{
		Type:        core.Expense,
		CategoryID:  "2",
		Date:        core.NewDate(2025, 2, 1),
		Description: "Lunch & coffee",
		Amount:      core.Money{Cents: 1250},
	}
	tx, err := f.svc.CreateTransaction(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "Lunch & coffee", tx.Description)
	assert.Equal(t, int64(1250), tx.Amount.Cents)

	got, err := f.svc.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "January", got.Description)

	in.Description = "Dinner"
	updated, err := f.svc.UpdateTransaction(ctx, "t1", in)
	require.NoError(t, err)
	assert.Equal(t, core.ID("t1"), updated.ID)

	e, ok := f.cache.Peek(TransactionKey("t1"))
	require.True(t, ok)
	assert.True(t, e.Stale)
}

func TestListTransactionsRejectsInvertedRange(t *testing.T) {
	f := newFixture(t, true)
	f.login(t)

	_, err := f.svc.ListTransactions(context.Background(), core.TransactionFilter{
		StartDate: core.NewDate(2025, 2, 1),
		EndDate:   core.NewDate(2025, 1, 1),
	})
	var verr core.ValidationErrors
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, f.backend.count("GET /transactions/lists"))
}

func TestDashboard(t *testing.T) {
	f := newFixture(t, true)
	f.login(t)

	d, err := f.svc.Dashboard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(200000), d.Summary.Income.Cents)
	assert.Equal(t, int64(4550), d.Summary.Expense.Cents)
	assert.Equal(t, int64(195450), d.Summary.Balance())
	require.Len(t, d.Recent, 2)
	assert.Equal(t, "Groceries", d.Recent[0].Description)
	require.Len(t, d.Summary.ByCategory, 2)
	assert.Equal(t, "Salary", d.Summary.ByCategory[0].Name)
}

func TestUnauthorizedForcesLogout(t *testing.T) {
	f := newFixture(t, true)
	f.login(t)
	f.backend.setUnauthorized(true)

	_, err := f.svc.ListCategories(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.False(t, f.svc.IsAuthenticated())
	assert.Zero(t, f.cache.Len())
}

func TestUnauthorizedWithoutForcedLogout(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)
	f.backend.setUnauthorized(true)

	_, err := f.svc.ListCategories(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, "Token expired", api.Message(err))
	assert.True(t, f.svc.IsAuthenticated())

	e, ok := f.cache.Peek(CategoriesKey())
	require.True(t, ok)
	assert.Equal(t, cache.StatusError, e.Status)
	assert.Equal(t, "Token expired", e.ErrorDetail())
}

func TestRefetchRetriesFailedList(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)
	ctx := context.Background()

	f.backend.setUnauthorized(true)
	_, err := f.svc.ListCategories(ctx)
	require.Error(t, err)

	f.backend.setUnauthorized(false)
	require.NoError(t, f.svc.Refetch(ctx, CategoriesKey()))

	cats, err := f.svc.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, 2)
}

func TestFailedListRecoversOnNextLoad(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)
	ctx := context.Background()

	f.backend.setUnauthorized(true)
	_, err := f.svc.ListCategories(ctx)
	require.Error(t, err)

	f.backend.setUnauthorized(false)
	cats, err := f.svc.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, 2)
}

func TestRefetchOfUnknownKeyIsNoop(t *testing.T) {
	f := newFixture(t, false)
	f.login(t)
	assert.NoError(t, f.svc.Refetch(context.Background(), TransactionsKey(core.TransactionFilter{Type: core.Income})))
}

func TestUpdateProfileKeepsIdentityID(t *testing.T) {
	f := newFixture(t, true)
	f.login(t)

	u, err := f.svc.UpdateProfile(context.Background(), core.ProfileUpdate{Username: "Benjamin", Email: "benjamin@gmail.com"})
	require.NoError(t, err)
	assert.Equal(t, core.User{ID: "1", Name: "Benjamin", Email: "benjamin@gmail.com"}, u)

	current, ok := f.svc.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, u, current)
	token, _ := f.session.CurrentToken()
	assert.Equal(t, "abc123", token)
}

func TestUpdateProfileWithoutSession(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.svc.UpdateProfile(context.Background(), core.ProfileUpdate{Username: "Ben", Email: "ben@gmail.com"})
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, true)
	f.login(t)
	ctx := context.Background()

	var verr core.ValidationErrors
	require.ErrorAs(t, f.svc.ChangePassword(ctx, core.PasswordChange{NewPassword: "123"}), &verr)
	require.NoError(t, f.svc.ChangePassword(ctx, core.PasswordChange{NewPassword: "s3cret!"}))
	assert.Equal(t, 1, f.backend.count("PUT /users/change-password"))
}

func TestRegisterDoesNotLogIn(t *testing.T) {
	f := newFixture(t, true)

	u, err := f.svc.Register(context.Background(), core.Registration{
		Username: "Ann", Email: "ann@example.com", Password: "secret", ConfirmPassword: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.Name)
	assert.False(t, f.svc.IsAuthenticated())
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t, true)
	f.login(t)
	f.publisher.err = errors.New("broker down")

	_, err := f.svc.CreateCategory(context.Background(), core.CategoryInput{Name: "Gifts", Type: core.Expense})
	assert.NoError(t, err)
}

func TestCategoryLookup(t *testing.T) {
	f := newFixture(t, true)
	f.login(t)
	ctx := context.Background()

	c, err := f.svc.Category(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "Food", c.Name)

	_, err = f.svc.Category(ctx, "99")
	assert.ErrorIs(t, err, api.ErrNotFound)
}
