package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/cloudzz-dev/periskope/internal/backend"
	"github.com/cloudzz-dev/periskope/internal/chat"
	"github.com/cloudzz-dev/periskope/internal/client/session"
)

// expiryMargin refreshes a token slightly before it actually expires.
const expiryMargin = 30 * time.Second

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*chat.Identity, error) {
	var tok tokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		json:   map[string]string{"email": email, "password": password},
		token:  c.anonKey,
	}, &tok)
	if err != nil {
		return nil, err
	}

	c.setSession(c.sessionFrom(tok))
	return &chat.Identity{ID: tok.User.ID, Email: tok.User.Email}, nil
}

// CurrentIdentity resumes the stored session, refreshing the access token
// when it has expired, and asks GoTrue who it belongs to.
func (c *Client) CurrentIdentity(ctx context.Context) (*chat.Identity, error) {
	sess, err := c.loadSession()
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, backend.ErrNoSession
	}

	token, err := c.validToken(ctx)
	if err != nil {
		return nil, err
	}

	var u userResponse
	err = c.do(ctx, request{method: http.MethodGet, path: "/auth/v1/user", token: token}, &u)
	if err != nil {
		var be *backend.Error
		if errors.As(err, &be) && (be.Status == http.StatusUnauthorized || be.Status == http.StatusForbidden) {
			c.dropSession()
			return nil, fmt.Errorf("%w: %s", backend.ErrNoSession, be.Message)
		}
		return nil, err
	}
	if u.ID == "" {
		return nil, backend.ErrNoSession
	}
	return &chat.Identity{ID: u.ID, Email: u.Email}, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	token := c.accessToken()
	defer c.dropSession()
	if token == c.anonKey {
		return nil
	}
	err := c.do(ctx, request{method: http.MethodPost, path: "/auth/v1/logout", token: token}, nil)
	var be *backend.Error
	if errors.As(err, &be) && (be.Status == http.StatusUnauthorized || be.Status == http.StatusNotFound) {
		return nil
	}
	return err
}

// validToken returns the token for the next platform call: the anon key
// before sign-in, otherwise the session's access token, refreshed first
// when it has expired.
func (c *Client) validToken(ctx context.Context) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	sess, err := c.loadSession()
	if err != nil {
		return "", err
	}
	if sess == nil || sess.AccessToken == "" {
		return c.anonKey, nil
	}
	if !tokenExpired(sess, time.Now()) {
		return sess.AccessToken, nil
	}

	c.logger.Debug("access token expired, refreshing", zap.String("email", sess.Email))
	next, err := c.refresh(ctx, sess)
	if err != nil {
		return "", err
	}
	return next.AccessToken, nil
}

func (c *Client) refresh(ctx context.Context, sess *session.Session) (*session.Session, error) {
	if sess.RefreshToken == "" {
		c.dropSession()
		return nil, backend.ErrNoSession
	}
	var tok tokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		json:   map[string]string{"refresh_token": sess.RefreshToken},
		token:  c.anonKey,
	}, &tok)
	if err != nil {
		var be *backend.Error
		if errors.As(err, &be) && be.Status < 500 {
			c.dropSession()
			return nil, fmt.Errorf("%w: %s", backend.ErrNoSession, be.Message)
		}
		return nil, err
	}
	next := c.sessionFrom(tok)
	c.setSession(next)
	return &next, nil
}

func (c *Client) sessionFrom(tok tokenResponse) session.Session {
	expiresAt := tok.ExpiresAt
	if expiresAt == 0 && tok.ExpiresIn > 0 {
		expiresAt = time.Now().Unix() + tok.ExpiresIn
	}
	return session.Session{
		ServerURL:    c.baseURL,
		UserID:       tok.User.ID,
		Email:        tok.User.Email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt,
	}
}

func (c *Client) setSession(s session.Session) {
	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()
	if err := c.store.Save(s); err != nil {
		c.logger.Warn("persist session failed", zap.Error(err))
	}
}

func (c *Client) dropSession() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("clear session failed", zap.Error(err))
	}
}

// loadSession prefers the in-memory session and falls back to the store.
// A stored session for a different project is ignored.
func (c *Client) loadSession() (*session.Session, error) {
	c.mu.Lock()
	if c.session != nil {
		s := *c.session
		c.mu.Unlock()
		return &s, nil
	}
	c.mu.Unlock()

	s, err := c.store.Load()
	if err != nil {
		c.logger.Warn("load stored session failed", zap.Error(err))
		return nil, nil
	}
	if s == nil || s.AccessToken == "" || (s.ServerURL != "" && s.ServerURL != c.baseURL) {
		return nil, nil
	}

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	out := *s
	return &out, nil
}

// tokenExpired reads the exp claim without verifying the signature; GoTrue
// verifies the token on every call. ExpiresAt is the fallback for tokens
// that do not parse.
func tokenExpired(s *session.Session, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err == nil {
		if t, err := claims.GetExpirationTime(); err == nil && t != nil {
			return now.Add(expiryMargin).After(t.Time)
		}
	}
	if s.ExpiresAt == 0 {
		return false
	}
	return now.Add(expiryMargin).After(time.Unix(s.ExpiresAt, 0))
}
