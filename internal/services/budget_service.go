// Package services holds the BudgetService, the single entry point views use
// to read and write remote data. Reads go through the cache, writes
// invalidate the keys they affect.
package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/errgroup"

	"budgetbuddy/internal/api"
	"budgetbuddy/internal/cache"
	"budgetbuddy/internal/core"
	"budgetbuddy/internal/log"
	"budgetbuddy/internal/session"
)

// Cache resources. Transactions are keyed by their encoded filter, a single
// transaction by its id.
const (
	ResourceCategories   = "categories"
	ResourceTransactions = "transactions"
	ResourceTransaction  = "transaction"
)

// recentLimit is the number of transactions shown on the dashboard.
const recentLimit = 5

// ErrSessionExpired is returned when the backend rejected the session and the
// service logged out as a consequence.
var ErrSessionExpired = errors.New("session expired, please log in again")

// Backend is the REST surface the service depends on.
type Backend interface {
	Register(ctx context.Context, in core.Registration) (core.User, error)
	Login(ctx context.Context, in core.Credentials) (api.LoginResponse, error)
	ChangePassword(ctx context.Context, in core.PasswordChange) error
	UpdateProfile(ctx context.Context, in core.ProfileUpdate) (core.User, error)

	CreateCategory(ctx context.Context, in core.CategoryInput) (core.Category, error)
	ListCategories(ctx context.Context) ([]core.Category, error)
	UpdateCategory(ctx context.Context, id core.ID, in core.CategoryInput) (core.Category, error)
	DeleteCategory(ctx context.Context, id core.ID) error

	CreateTransaction(ctx context.Context, in core.TransactionInput) (core.Transaction, error)
	ListTransactions(ctx context.Context, filter core.TransactionFilter) ([]core.Transaction, error)
	GetTransaction(ctx context.Context, id core.ID) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, id core.ID, in core.TransactionInput) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id core.ID) error
}

// Publisher announces changed resources to other running instances.
type Publisher interface {
	PublishInvalidation(ctx context.Context, resources ...string) error
}

type Options struct {
	// ForceLogout ends the session when the backend answers 401.
	ForceLogout bool
	// Publisher is optional.
	Publisher Publisher
	Logger    *log.Logger
}

// Dashboard is the overview of all transactions.
type Dashboard struct {
	Summary      core.Summary
	Categories   []core.Category
	Transactions []core.Transaction
	Recent       []core.Transaction
}

type BudgetService struct {
	session     *session.Store
	backend     Backend
	cache       *cache.Cache
	publisher   Publisher
	forceLogout bool
	policy      *bluemonday.Policy
	logger      *log.Logger
	structured  *log.StructuredLogger
}

func NewBudgetService(sess *session.Store, backend Backend, c *cache.Cache, opts Options) *BudgetService {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	return &BudgetService{
		session:     sess,
		backend:     backend,
		cache:       c,
		publisher:   opts.Publisher,
		forceLogout: opts.ForceLogout,
		policy:      bluemonday.StrictPolicy(),
		logger:      opts.Logger.WithComponent(log.ComponentService),
		structured:  log.NewStructuredLogger(opts.Logger),
	}
}

func CategoriesKey() cache.Key {
	return cache.NewKey(ResourceCategories)
}

func TransactionsKey(filter core.TransactionFilter) cache.Key {
	return cache.NewKey(ResourceTransactions, filter.Encode())
}

func TransactionKey(id core.ID) cache.Key {
	return cache.NewKey(ResourceTransaction, id.String())
}

// CurrentUser returns the identity of the active session.
func (s *BudgetService) CurrentUser() (core.User, bool) {
	return s.session.Identity()
}

func (s *BudgetService) IsAuthenticated() bool {
	return s.session.IsAuthenticated()
}

// Login validates the credentials, authenticates against the backend and
// starts a new session. Data cached for a previous session is dropped.
func (s *BudgetService) Login(ctx context.Context, creds core.Credentials) (core.User, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if err := creds.Validate(); err != nil {
		return core.User{}, err
	}

	resp, err := s.backend.Login(ctx, creds)
	if err != nil {
		s.logger.WarnContext(ctx, "Login rejected", log.FieldOperation, log.OpLogin, log.FieldError, err)
		return core.User{}, err
	}
	if err := s.session.Login(ctx, resp.User, resp.Token); err != nil {
		return core.User{}, fmt.Errorf("start session: %w", err)
	}
	s.cache.Clear()

	s.logger.InfoContext(ctx, "User logged in", log.FieldOperation, log.OpLogin, log.FieldUserID, resp.User.ID.String())
	return resp.User, nil
}

// Register creates an account without logging in.
func (s *BudgetService) Register(ctx context.Context, reg core.Registration) (core.User, error) {
	reg.Username = s.sanitize(reg.Username)
	reg.Email = strings.TrimSpace(reg.Email)
	if err := reg.Validate(); err != nil {
		return core.User{}, err
	}
	u, err := s.backend.Register(ctx, reg)
	if err != nil {
		return core.User{}, err
	}
	s.logger.InfoContext(ctx, "User registered", log.FieldOperation, log.OpRegister)
	return u, nil
}

// Logout ends the session and drops all cached data. Calling it without a
// session is a no-op.
func (s *BudgetService) Logout(ctx context.Context) error {
	err := s.session.Logout(ctx)
	s.cache.Clear()
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	s.logger.InfoContext(ctx, "User logged out", log.FieldOperation, log.OpLogout)
	return nil
}

// UpdateProfile changes name and email and refreshes the session identity.
func (s *BudgetService) UpdateProfile(ctx context.Context, in core.ProfileUpdate) (core.User, error) {
	in.Username = s.sanitize(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := in.Validate(); err != nil {
		return core.User{}, err
	}

	current, ok := s.session.Identity()
	if !ok {
		return core.User{}, session.ErrNoSession
	}
	u, err := s.backend.UpdateProfile(ctx, in)
	if err != nil {
		return core.User{}, s.authFailure(ctx, err)
	}
	if u.ID.IsZero() {
		u.ID = current.ID
	}
	if err := s.session.UpdateIdentity(ctx, u); err != nil {
		return core.User{}, fmt.Errorf("update session: %w", err)
	}
	s.structured.LogMutation(ctx, log.OpUpdate, "profile", u.ID.String())
	return u, nil
}

func (s *BudgetService) ChangePassword(ctx context.Context, in core.PasswordChange) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if err := s.backend.ChangePassword(ctx, in); err != nil {
		return s.authFailure(ctx, err)
	}
	s.structured.LogMutation(ctx, log.OpUpdate, "password", "")
	return nil
}

func (s *BudgetService) ListCategories(ctx context.Context) ([]core.Category, error) {
	cats, err := cache.Get(ctx, s.cache, CategoriesKey(), s.backend.ListCategories)
	if err != nil {
		return nil, s.authFailure(ctx, err)
	}
	return cats, nil
}

// Category finds one category in the cached list.
func (s *BudgetService) Category(ctx context.Context, id core.ID) (core.Category, error) {
	cats, err := s.ListCategories(ctx)
	if err != nil {
		return core.Category{}, err
	}
	for _, c := range cats {
		if c.ID == id {
			return c, nil
		}
	}
	return core.Category{}, fmt.Errorf("category %s: %w", id, api.ErrNotFound)
}

func (s *BudgetService) CreateCategory(ctx context.Context, in core.CategoryInput) (core.Category, error) {
	in.Name = s.sanitize(in.Name)
	if err := in.Validate(); err != nil {
		return core.Category{}, err
	}
	cat, err := cache.Do(ctx, s.cache, func(ctx context.Context) (core.Category, error) {
		return s.backend.CreateCategory(ctx, in)
	}, CategoriesKey())
	if err != nil {
		return core.Category{}, s.authFailure(ctx, err)
	}
	s.written(ctx, log.OpCreate, ResourceCategories, cat.ID, ResourceCategories)
	return cat, nil
}

func (s *BudgetService) UpdateCategory(ctx context.Context, id core.ID, in core.CategoryInput) (core.Category, error) {
	in.Name = s.sanitize(in.Name)
	if err := in.Validate(); err != nil {
		return core.Category{}, err
	}
	// transactions carry category names
	cat, err := cache.Do(ctx, s.cache, func(ctx context.Context) (core.Category, error) {
		return s.backend.UpdateCategory(ctx, id, in)
	}, CategoriesKey(), cache.NewKey(ResourceTransactions), cache.NewKey(ResourceTransaction))
	if err != nil {
		return core.Category{}, s.authFailure(ctx, err)
	}
	s.written(ctx, log.OpUpdate, ResourceCategories, id, ResourceCategories, ResourceTransactions, ResourceTransaction)
	return cat, nil
}

func (s *BudgetService) DeleteCategory(ctx context.Context, id core.ID) error {
	err := s.cache.Mutate(ctx, func(ctx context.Context) error {
		return s.backend.DeleteCategory(ctx, id)
	}, CategoriesKey(), cache.NewKey(ResourceTransactions), cache.NewKey(ResourceTransaction))
	if err != nil {
		return s.authFailure(ctx, err)
	}
	s.written(ctx, log.OpDelete, ResourceCategories, id, ResourceCategories, ResourceTransactions, ResourceTransaction)
	return nil
}

func (s *BudgetService) ListTransactions(ctx context.Context, filter core.TransactionFilter) ([]core.Transaction, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	txs, err := cache.Get(ctx, s.cache, TransactionsKey(filter), func(ctx context.Context) ([]core.Transaction, error) {
		return s.backend.ListTransactions(ctx, filter)
	})
	if err != nil {
		return nil, s.authFailure(ctx, err)
	}
	return txs, nil
}

func (s *BudgetService) GetTransaction(ctx context.Context, id core.ID) (core.Transaction, error) {
	tx, err := cache.Get(ctx, s.cache, TransactionKey(id), func(ctx context.Context) (core.Transaction, error) {
		return s.backend.GetTransaction(ctx, id)
	})
	if err != nil {
		return core.Transaction{}, s.authFailure(ctx, err)
	}
	return tx, nil
}

func (s *BudgetService) CreateTransaction(ctx context.Context, in core.TransactionInput) (core.Transaction, error) {
	in.Description = s.sanitize(in.Description)
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}
	tx, err := cache.Do(ctx, s.cache, func(ctx context.Context) (core.Transaction, error) {
		return s.backend.CreateTransaction(ctx, in)
	}, cache.NewKey(ResourceTransactions))
	if err != nil {
		return core.Transaction{}, s.authFailure(ctx, err)
	}
	s.written(ctx, log.OpCreate, ResourceTransactions, tx.ID, ResourceTransactions)
	return tx, nil
}

func (s *BudgetService) UpdateTransaction(ctx context.Context, id core.ID, in core.TransactionInput) (core.Transaction, error) {
	in.Description = s.sanitize(in.Description)
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}
	tx, err := cache.Do(ctx, s.cache, func(ctx context.Context) (core.Transaction, error) {
		return s.backend.UpdateTransaction(ctx, id, in)
	}, cache.NewKey(ResourceTransactions), TransactionKey(id))
	if err != nil {
		return core.Transaction{}, s.authFailure(ctx, err)
	}
	s.written(ctx, log.OpUpdate, ResourceTransactions, id, ResourceTransactions, ResourceTransaction)
	return tx, nil
}

func (s *BudgetService) DeleteTransaction(ctx context.Context, id core.ID) error {
	err := s.cache.Mutate(ctx, func(ctx context.Context) error {
		return s.backend.DeleteTransaction(ctx, id)
	}, cache.NewKey(ResourceTransactions), TransactionKey(id))
	if err != nil {
		return s.authFailure(ctx, err)
	}
	s.written(ctx, log.OpDelete, ResourceTransactions, id, ResourceTransactions, ResourceTransaction)
	return nil
}

// Dashboard loads categories and all transactions concurrently and
// summarizes them.
func (s *BudgetService) Dashboard(ctx context.Context) (Dashboard, error) {
	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cats, err := s.ListCategories(gctx)
		d.Categories = cats
		return err
	})
	g.Go(func() error {
		txs, err := s.ListTransactions(gctx, core.TransactionFilter{})
		d.Transactions = txs
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	d.Summary = core.Summarize(d.Transactions, d.Categories)
	d.Recent = recent(d.Transactions, recentLimit)
	return d, nil
}

// Refetch forces a fresh fetch of key, for "retry" actions on failed lists.
func (s *BudgetService) Refetch(ctx context.Context, key cache.Key) error {
	_, err := s.cache.Refetch(ctx, key)
	if errors.Is(err, cache.ErrNoFetcher) {
		return nil
	}
	return s.authFailure(ctx, err)
}

// authFailure ends the session when err is an authorization failure and
// forced logout is enabled. Other errors are returned unchanged.
func (s *BudgetService) authFailure(ctx context.Context, err error) error {
	if err == nil || !errors.Is(err, api.ErrUnauthorized) || !s.forceLogout {
		return err
	}
	if !s.session.IsAuthenticated() {
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	s.logger.WarnContext(ctx, "Backend rejected the session, logging out",
		log.FieldErrorType, log.ErrorTypeAuth, log.FieldError, err)
	if lerr := s.Logout(ctx); lerr != nil {
		s.structured.LogError(ctx, "Forced logout failed", lerr, log.ComponentSession, log.OpLogout, log.NewFields())
	}
	return fmt.Errorf("%w: %w", ErrSessionExpired, err)
}

// written logs a successful write and tells other instances about it.
// Publishing is best effort; the write already succeeded.
func (s *BudgetService) written(ctx context.Context, op, resource string, id core.ID, resources ...string) {
	s.structured.LogMutation(ctx, op, resource, id.String())
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishInvalidation(ctx, resources...); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish invalidation",
			log.FieldResource, strings.Join(resources, ","), log.FieldError, err)
	}
}

// sanitize strips markup from free text. Entities are decoded again since
// the text is escaped when rendered.
func (s *BudgetService) sanitize(text string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
}

// recent returns the n newest transactions without reordering txs.
func recent(txs []core.Transaction, n int) []core.Transaction {
	out := make([]core.Transaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date.Time)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
