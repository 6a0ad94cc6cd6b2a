package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/slok/ocrtrack/internal/model"
)

type loginJSON struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenJSON struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login authenticates with a local account and returns the access token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	return c.login(ctx, "/auth/login", username, password)
}

// LoginLDAP authenticates with a directory (LDAP/AD) account and returns the
// access token.
func (c *Client) LoginLDAP(ctx context.Context, username, password string) (string, error) {
	return c.login(ctx, "/auth/login/ldap", username, password)
}

func (c *Client) login(ctx context.Context, path, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", fmt.Errorf("username and password are required: %w", model.ErrNotValid)
	}

	body, err := json.Marshal(loginJSON{Username: username, Password: password})
	if err != nil {
		return "", fmt.Errorf("could not encode login: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var token tokenJSON
	if err := c.do(req, &token); err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("login response without token: %w", model.ErrNotAuthenticated)
	}

	c.logger.Infof("Logged in as %s", username)
	return token.AccessToken, nil
}
