// Package postgres runs the chat backend on a plain PostgreSQL database:
// rows through database/sql and lib/pq, realtime through LISTEN/NOTIFY,
// password auth against a users table, and attachments in a local directory
// served by any static file server.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/cloudzz-dev/periskope/internal/backend"
	"github.com/cloudzz-dev/periskope/internal/chat"
	"github.com/cloudzz-dev/periskope/internal/client/session"
)

//go:embed schema.sql
var schema string

type Options struct {
	DatabaseURL   string
	StorageDir    string
	PublicBaseURL string
	Bucket        string

	// AuthAttemptsPerMinute caps sign-in attempts per email. Zero means 5.
	AuthAttemptsPerMinute int

	Store  session.Store
	Logger *zap.Logger
}

type Store struct {
	db        *sql.DB
	dsn       string
	serverKey string
	objects   *objectDir
	sessions  session.Store
	logger    *zap.Logger
	limiter   *attemptLimiter

	mu      sync.Mutex
	current *chat.Identity
	token   string

	rt *hub
}

var _ backend.Backend = (*Store)(nil)

func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.DatabaseURL == "" {
		return nil, errors.New("postgres: database url is required")
	}
	db, err := sql.Open("postgres", opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	bucket := opts.Bucket
	if bucket == "" {
		bucket = "chat-files"
	}
	s := &Store{
		db:        db,
		dsn:       opts.DatabaseURL,
		serverKey: serverKey(opts.DatabaseURL),
		objects: &objectDir{
			root:       filepath.Join(opts.StorageDir, bucket),
			publicBase: opts.PublicBaseURL,
			bucket:     bucket,
		},
		sessions: opts.Store,
		logger:   opts.Logger,
		limiter:  newAttemptLimiter(opts.AuthAttemptsPerMinute),
	}
	if s.sessions == nil {
		s.sessions = &session.MemoryStore{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.rt = newHub(s)

	s.logger.Info("connected to database", zap.String("server", s.serverKey))
	return s, nil
}

// Migrate creates the tables and change triggers when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.rt.close()
	return s.db.Close()
}

// serverKey identifies the database in the stored session without keeping
// its credentials.
func serverKey(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "postgres"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
