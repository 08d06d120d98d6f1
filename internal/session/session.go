// Package session holds the authenticated identity and its credential token,
// persisted as one durable entry so both survive a restart together.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"budgetbuddy/internal/core"
	"budgetbuddy/internal/log"
	"budgetbuddy/internal/storage"
)

// StorageKey is the durable entry holding the session.
const StorageKey = "userInfo"

var (
	ErrInvalidSession = errors.New("session needs both an identity and a token")
	ErrNoSession      = errors.New("no active session")
)

// Session is an identity together with its credential token.
type Session struct {
	Identity core.User
	Token    string
}

// persisted is the serialized form of the durable entry.
type persisted struct {
	Token     string    `json:"token,omitempty"`
	User      core.User `json:"user"`
	LoggedOut bool      `json:"loggedOut,omitempty"`
}

// logoutMarker replaces the entry when a logout cannot remove it.
const logoutMarker = `{"loggedOut":true}`

// Store keeps the current session in memory and mirrors it to durable
// storage. Identity and token are always both present or both absent.
type Store struct {
	mu      sync.RWMutex
	storage storage.Store
	logger  *log.Logger
	current *Session
}

func New(st storage.Store, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Discard()
	}
	return &Store{
		storage: st,
		logger:  logger.WithComponent(log.ComponentSession),
	}
}

// Initialize loads the persisted session. A missing, unreadable or malformed
// entry leaves the session empty; a malformed entry is removed, and so is
// the marker left by a logout that could not remove the entry.
func (s *Store) Initialize(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	raw, err := s.storage.Get(ctx, StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.WarnContext(ctx, "Cannot read persisted session, starting logged out", log.FieldError, err)
		return
	}

	var p persisted
	err = json.Unmarshal([]byte(raw), &p)
	if err == nil && p.LoggedOut {
		s.logger.DebugContext(ctx, "Finishing interrupted logout", log.FieldOperation, log.OpLogout)
		if rmErr := s.storage.Remove(ctx, StorageKey); rmErr != nil {
			s.logger.WarnContext(ctx, "Cannot remove logout marker", log.FieldError, rmErr)
		}
		return
	}
	if err != nil || p.Token == "" || p.User.Validate() != nil {
		if err == nil {
			err = ErrInvalidSession
		}
		s.logger.WarnContext(ctx, "Discarding malformed persisted session", log.FieldError, err)
		if rmErr := s.storage.Remove(ctx, StorageKey); rmErr != nil {
			s.logger.WarnContext(ctx, "Cannot remove malformed session", log.FieldError, rmErr)
		}
		return
	}

	s.current = &Session{Identity: p.User, Token: p.Token}
	s.logger.DebugContext(ctx, "Restored session", log.FieldUserID, p.User.ID.String())
}

// Login persists identity and token in a single write and then makes them
// current. If the write fails the in-memory session is unchanged.
func (s *Store) Login(ctx context.Context, identity core.User, token string) error {
	if token == "" || identity.Validate() != nil {
		return ErrInvalidSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persistLocked(ctx, identity, token); err != nil {
		return err
	}
	s.current = &Session{Identity: identity, Token: token}
	s.logger.InfoContext(ctx, "Logged in", log.FieldOperation, log.OpLogin, log.FieldUserID, identity.ID.String())
	return nil
}

// Logout ends the session. It is safe to call without a session. Memory is
// cleared even when removing the durable entry fails; the error is returned
// and the entry is overwritten with a logout marker so the next Initialize
// starts logged out and removes it.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasActive := s.current != nil
	s.current = nil
	if err := s.storage.Remove(ctx, StorageKey); err != nil {
		if mErr := s.storage.Set(ctx, StorageKey, logoutMarker); mErr != nil {
			err = errors.Join(err, fmt.Errorf("write logout marker: %w", mErr))
		}
		return fmt.Errorf("remove persisted session: %w", err)
	}
	if wasActive {
		s.logger.InfoContext(ctx, "Logged out", log.FieldOperation, log.OpLogout)
	}
	return nil
}

// UpdateIdentity replaces the identity of the active session, keeping its token.
func (s *Store) UpdateIdentity(ctx context.Context, identity core.User) error {
	if identity.Validate() != nil {
		return ErrInvalidSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNoSession
	}
	if err := s.persistLocked(ctx, identity, s.current.Token); err != nil {
		return err
	}
	s.current = &Session{Identity: identity, Token: s.current.Token}
	return nil
}

// CurrentToken returns the credential token, if any.
func (s *Store) CurrentToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return "", false
	}
	return s.current.Token, true
}

// Identity returns the authenticated user, if any.
func (s *Store) Identity() (core.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return core.User{}, false
	}
	return s.current.Identity, true
}

// Current returns a copy of the whole session.
func (s *Store) Current() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

func (s *Store) IsAuthenticated() bool {
	_, ok := s.CurrentToken()
	return ok
}

// TokenExpiry decodes the exp claim when the token is a JWT. The signature is
// not verified; the result is informational only and never used to
// authorize anything.
func (s *Store) TokenExpiry() (time.Time, bool) {
	token, ok := s.CurrentToken()
	if !ok {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func (s *Store) persistLocked(ctx context.Context, identity core.User, token string) error {
	data, err := json.Marshal(persisted{Token: token, User: identity})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.storage.Set(ctx, StorageKey, string(data)); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}
