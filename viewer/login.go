// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bureau-foundation/pairview/lib/netutil"
	"github.com/bureau-foundation/pairview/lib/prefs"
	"github.com/bureau-foundation/pairview/lib/secret"
)

var (
	// ErrBadPassword is returned when the editor rejects a password.
	ErrBadPassword = errors.New("viewer: password rejected")

	// ErrLoginRequired is returned when no cached token works and
	// there is no way to ask for a password.
	ErrLoginRequired = errors.New("viewer: login required")
)

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login configures the exchange of a password for an auth token.
type Login struct {
	// BaseURL is where the /login endpoint lives. It also keys the
	// cached token.
	BaseURL string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Prefs, if set, caches the token between runs.
	Prefs *prefs.Store

	// Prompt, if set, asks for a password. The returned buffer is
	// closed by Token.
	Prompt func() (*secret.Buffer, error)

	Logger *slog.Logger
}

// Token returns a token for BaseURL. A cached token is tried first by
// presenting it as the password, which the editor accepts for tokens
// it issued. Otherwise Prompt is asked for a password and a fresh
// token is cached. An empty token means the editor has no password.
func (l Login) Token(ctx context.Context) (string, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if l.Prefs != nil {
		token, err := l.cached(ctx)
		switch {
		case err == nil:
			return token, nil
		case errors.Is(err, prefs.ErrNoToken):
		case errors.Is(err, ErrBadPassword):
			logger.Info("cached token rejected, forgetting it", "server", l.BaseURL)
			if err := l.Prefs.ForgetToken(l.BaseURL); err != nil {
				logger.Warn("forgetting cached token", "error", err)
			}
		default:
			return "", err
		}
	}

	if l.Prompt == nil {
		return "", ErrLoginRequired
	}
	password, err := l.Prompt()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	defer password.Close()

	token, err := PostLogin(ctx, l.HTTPClient, l.BaseURL, password.Bytes())
	if err != nil {
		return "", err
	}
	if token != "" && l.Prefs != nil {
		if err := l.save(token); err != nil {
			logger.Warn("caching auth token", "error", err)
		}
	}
	return token, nil
}

func (l Login) cached(ctx context.Context) (string, error) {
	buffer, err := l.Prefs.Token(l.BaseURL)
	if err != nil {
		return "", err
	}
	defer buffer.Close()
	return PostLogin(ctx, l.HTTPClient, l.BaseURL, buffer.Bytes())
}

func (l Login) save(token string) error {
	buffer, err := secret.NewFromBytes([]byte(token))
	if err != nil {
		return err
	}
	defer buffer.Close()
	return l.Prefs.SaveToken(l.BaseURL, buffer)
}

// PostLogin posts password to {baseURL}/login and returns the token
// from the reply. A 401 reply is ErrBadPassword.
func PostLogin(ctx context.Context, client *http.Client, baseURL string, password []byte) (string, error) {
	url := strings.TrimRight(baseURL, "/") + "/login"
	var response loginResponse
	err := netutil.PostJSON(ctx, client, url, loginRequest{Password: string(password)}, &response)
	if err != nil {
		var statusErr *netutil.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
			return "", ErrBadPassword
		}
		return "", fmt.Errorf("logging in: %w", err)
	}
	return response.Token, nil
}
