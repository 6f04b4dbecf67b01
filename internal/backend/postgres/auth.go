package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/cloudzz-dev/periskope/internal/backend"
	"github.com/cloudzz-dev/periskope/internal/chat"
	"github.com/cloudzz-dev/periskope/internal/client/session"
)

var errInvalidCredentials = &backend.Error{
	Status:  http.StatusBadRequest,
	Code:    "invalid_credentials",
	Message: "Invalid login credentials",
}

// CreateUser registers an account with a bcrypt hash of password.
func (s *Store) CreateUser(ctx context.Context, email, password string) (chat.Identity, error) {
	email = strings.TrimSpace(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return chat.Identity{}, err
	}

	var id chat.Identity
	err = s.db.QueryRowContext(ctx,
		"INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3) RETURNING id, email",
		uuid.NewString(), email, string(hash),
	).Scan(&id.ID, &id.Email)
	return id, err
}

func (s *Store) SignInWithPassword(ctx context.Context, email, password string) (*chat.Identity, error) {
	if !s.limiter.allow(email) {
		s.logger.Warn("sign in throttled", zap.String("email", email))
		return nil, errRateLimited
	}

	var (
		id   chat.Identity
		hash string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash FROM users WHERE email = $1",
		strings.TrimSpace(email),
	).Scan(&id.ID, &id.Email, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, errInvalidCredentials
	}

	token := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO auth_sessions (token, user_id) VALUES ($1, $2)",
		token, id.ID,
	); err != nil {
		return nil, err
	}

	s.setCurrent(&id, token)
	if err := s.sessions.Save(session.Session{
		ServerURL:   s.serverKey,
		UserID:      id.ID,
		Email:       id.Email,
		AccessToken: token,
	}); err != nil {
		s.logger.Warn("persist session failed", zap.Error(err))
	}
	out := id
	return &out, nil
}

// CurrentIdentity resolves the stored session token against auth_sessions.
func (s *Store) CurrentIdentity(ctx context.Context) (*chat.Identity, error) {
	token := s.sessionToken()
	if token == "" {
		sess, err := s.sessions.Load()
		if err != nil {
			s.logger.Warn("load stored session failed", zap.Error(err))
		}
		if sess == nil || sess.AccessToken == "" || sess.ServerURL != s.serverKey {
			return nil, backend.ErrNoSession
		}
		token = sess.AccessToken
	}

	var id chat.Identity
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email
		FROM auth_sessions a
		JOIN users u ON u.id = a.user_id
		WHERE a.token = $1
	`, token).Scan(&id.ID, &id.Email)
	if errors.Is(err, sql.ErrNoRows) {
		s.dropSession()
		return nil, fmt.Errorf("%w: session revoked", backend.ErrNoSession)
	}
	if err != nil {
		return nil, err
	}

	s.setCurrent(&id, token)
	out := id
	return &out, nil
}

func (s *Store) SignOut(ctx context.Context) error {
	token := s.sessionToken()
	defer s.dropSession()
	if token == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM auth_sessions WHERE token = $1", token)
	return err
}

func (s *Store) setCurrent(id *chat.Identity, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = id
	s.token = token
}

func (s *Store) sessionToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Store) identity() *chat.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Store) dropSession() {
	s.setCurrent(nil, "")
	if err := s.sessions.Clear(); err != nil {
		s.logger.Warn("clear session failed", zap.Error(err))
	}
}

// requireSession guards writes, which the hosted platform would reject for
// anonymous callers.
func (s *Store) requireSession() error {
	if s.identity() == nil {
		return backend.ErrNoSession
	}
	return nil
}
