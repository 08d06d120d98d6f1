package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"budgetbuddy/internal/core"
)

// LoginResponse is the session issued by the backend.
type LoginResponse struct {
	Token string    `json:"token"`
	User  core.User `json:"user"`
}

// UnmarshalJSON accepts the user either nested under "user" or flattened
// next to the token.
func (l *LoginResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		Token string          `json:"token"`
		User  json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	l.Token = raw.Token
	userData := []byte(raw.User)
	if len(userData) == 0 || string(userData) == "null" {
		userData = data
	}
	return json.Unmarshal(userData, &l.User)
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, in core.Registration) (core.User, error) {
	var out core.User
	err := c.do(ctx, http.MethodPost, "/users/register", nil, false, in, &out)
	return out, err
}

// Login exchanges credentials for a token and the user's identity.
func (c *Client) Login(ctx context.Context, in core.Credentials) (LoginResponse, error) {
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/users/login", nil, false, in, &out); err != nil {
		return LoginResponse{}, err
	}
	if out.Token == "" || out.User.Validate() != nil {
		return LoginResponse{}, fmt.Errorf("%w: login response without token or user", core.ErrMalformedPayload)
	}
	return out, nil
}

func (c *Client) ChangePassword(ctx context.Context, in core.PasswordChange) error {
	return c.do(ctx, http.MethodPut, "/users/change-password", nil, true, in, nil)
}

// UpdateProfile returns the updated user. The backend may wrap it under
// "user" or answer with a bare status, in which case the submitted values are
// returned and the caller keeps the id it already knows.
func (c *Client) UpdateProfile(ctx context.Context, in core.ProfileUpdate) (core.User, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPut, "/users/update-profile", nil, true, in, &raw); err != nil {
		return core.User{}, err
	}

	data := bytes.TrimSpace(raw)
	var wrapped struct {
		User json.RawMessage `json:"user"`
	}
	if json.Unmarshal(data, &wrapped) == nil && len(wrapped.User) > 0 && string(wrapped.User) != "null" {
		data = wrapped.User
	}

	var u core.User
	if len(data) > 0 && data[0] == '{' {
		if err := json.Unmarshal(data, &u); err != nil {
			return core.User{}, fmt.Errorf("%w: %v", core.ErrMalformedPayload, err)
		}
	}
	if u.Name == "" {
		u.Name = in.Username
	}
	if u.Email == "" {
		u.Email = in.Email
	}
	return u, nil
}
