package sis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"sis-grade-sync/internal/logger"
	"sis-grade-sync/pkg/errors"

	"github.com/rs/zerolog"
)

const loginPath = "/webservice/InternalViewREST/login"

// Authenticate exchanges credentials for a session token. The SIS answers 200
// with the token as the whole body (sometimes JSON-quoted).
func (c *Client) Authenticate(ctx context.Context, username, password string) (string, error) {
	resp, err := c.execute(ctx, request{
		method: http.MethodGet,
		path:   loginPath,
		query: []param{
			{"_type", "json"},
			{"username", username},
			{"password", password},
		},
	})
	if err != nil {
		return "", err
	}

	if resp.status != http.StatusOK {
		if resp.status >= http.StatusInternalServerError {
			return "", errors.NewRetryableError(fmt.Errorf("HTTP %d", resp.status), "SIS login unavailable")
		}
		return "", fmt.Errorf("login returned HTTP %d: %w", resp.status, errors.ErrAuthenticationFailed)
	}

	token := strings.TrimSpace(string(resp.body))
	if strings.HasPrefix(token, `"`) {
		var unquoted string
		if err := json.Unmarshal([]byte(token), &unquoted); err == nil {
			token = strings.TrimSpace(unquoted)
		}
	}
	if token == "" {
		return "", fmt.Errorf("login returned an empty token: %w", errors.ErrAuthenticationFailed)
	}

	c.log.Debug().Msg("SIS session established")
	return token, nil
}

// Authenticator is the part of Client a Session needs.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
}

// Session owns the token for one batch run. It logs in lazily, re-authenticates
// every refreshEvery processed records, and once more when the SIS rejects the token.
type Session struct {
	auth         Authenticator
	username     string
	password     string
	refreshEvery int

	mu        sync.Mutex
	token     string
	processed int
	refreshes int
	log       zerolog.Logger
}

func NewSession(auth Authenticator, username, password string, refreshEvery int) *Session {
	return &Session{
		auth:         auth,
		username:     username,
		password:     password,
		refreshEvery: refreshEvery,
		log:          logger.Component("sis-session"),
	}
}

// Token returns the current token, logging in if there is none yet.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" {
		return s.token, nil
	}
	token, err := s.auth.Authenticate(ctx, s.username, s.password)
	if err != nil {
		return "", err
	}
	s.token = token
	return token, nil
}

// Tick counts one record about to be processed and refreshes the token when
// the count reaches a multiple of refreshEvery.
func (s *Session) Tick(ctx context.Context) error {
	s.mu.Lock()
	s.processed++
	processed := s.processed
	s.mu.Unlock()

	if s.refreshEvery <= 0 || processed%s.refreshEvery != 0 {
		return nil
	}
	s.log.Debug().Int("processed", processed).Msg("Refreshing SIS token")
	return s.Refresh(ctx)
}

// Refresh forces a new login.
func (s *Session) Refresh(ctx context.Context) error {
	token, err := s.auth.Authenticate(ctx, s.username, s.password)
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.refreshes++
	s.mu.Unlock()
	return nil
}

// Do runs call with the current token, refreshing and retrying once if the
// SIS reports the session as no longer valid.
func (s *Session) Do(ctx context.Context, call func(token string) error) error {
	token, err := s.Token(ctx)
	if err != nil {
		return err
	}
	err = call(token)
	if !errors.Is(err, errors.ErrUnauthorized) {
		return err
	}

	s.log.Info().Msg("SIS rejected session, logging in again")
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	token, err = s.Token(ctx)
	if err != nil {
		return err
	}
	return call(token)
}

func (s *Session) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}
