package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/cloudzz-dev/periskope/internal/backend"
	"github.com/cloudzz-dev/periskope/internal/backend/memory"
	"github.com/cloudzz-dev/periskope/internal/backend/postgres"
	"github.com/cloudzz-dev/periskope/internal/backend/supabase"
	"github.com/cloudzz-dev/periskope/internal/client/app"
	"github.com/cloudzz-dev/periskope/internal/client/logging"
	"github.com/cloudzz-dev/periskope/internal/client/session"
	"github.com/cloudzz-dev/periskope/internal/config"
)

type options struct {
	Profile string `short:"p" long:"profile" description:"session profile to use (overrides CHAT_PROFILE)"`
	Debug   bool   `short:"d" long:"debug" description:"write a JSON debug log (overrides CHAT_DEBUG)"`
	LogFile string `long:"log-file" description:"debug log path (overrides CHAT_LOG_FILE)"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if opts.Profile != "" {
		cfg.App.Profile = opts.Profile
	}
	if opts.Debug {
		cfg.App.Debug = true
	}
	if opts.LogFile != "" {
		cfg.App.LogFile = opts.LogFile
	}

	logger, err := logging.New(cfg.App.Debug, cfg.App.LogFile)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	be, err := newBackend(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to start %s backend: %v", cfg.App.Backend, err)
	}
	logger.Info("client starting",
		zap.String("backend", cfg.App.Backend),
		zap.String("profile", cfg.App.Profile),
	)

	wd, _ := os.Getwd()
	m := app.New(app.Options{
		Backend:  be,
		Logger:   logger,
		PageSize: cfg.App.PageSize,
		StartDir: wd,
		Now:      time.Now,
		Location: time.Local,
		Context:  ctx,
	})

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, runErr := p.Run()
	if err := be.Close(); err != nil {
		logger.Warn("closing backend failed", zap.Error(err))
	}
	if runErr != nil {
		fmt.Printf("Error: %v\n", runErr)
		os.Exit(1)
	}
}

func newBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend.Backend, error) {
	switch cfg.App.Backend {
	case config.BackendSupabase:
		return supabase.New(supabase.Options{
			URL:     cfg.Supabase.URL,
			AnonKey: cfg.Supabase.AnonKey,
			Bucket:  cfg.App.Bucket,
			Store:   session.NewFileStore(cfg.App.Profile),
			Logger:  logger.Named("supabase"),
		})

	case config.BackendPostgres:
		store, err := postgres.Open(ctx, postgres.Options{
			DatabaseURL:   cfg.Postgres.DatabaseURL,
			StorageDir:    cfg.Postgres.StorageDir,
			PublicBaseURL: cfg.Postgres.PublicBaseURL,
			Bucket:        cfg.App.Bucket,

			AuthAttemptsPerMinute: cfg.Postgres.AuthAttemptsPerMin,
			Store:                 session.NewFileStore(cfg.App.Profile),
			Logger:                logger.Named("postgres"),
		})
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil

	case config.BackendMemory:
		return memory.NewDemo(), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.App.Backend)
}
