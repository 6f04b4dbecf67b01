// Command chatadmin prepares a self-hosted postgres backend: it creates the
// schema, registers accounts and opens conversations.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/cloudzz-dev/periskope/internal/backend/postgres"
	"github.com/cloudzz-dev/periskope/internal/chat"
	"github.com/cloudzz-dev/periskope/internal/config"
)

type Migrate struct{}

type AddUser struct {
	Email    string `short:"e" long:"email" required:"true" description:"account email"`
	Password string `short:"p" long:"password" required:"true" description:"account password"`
}

type AddChat struct {
	Name  string `short:"n" long:"name" required:"true" description:"conversation name"`
	Phone string `long:"phone" description:"phone number shown next to the name"`
}

type ListChats struct{}

var parser = flags.NewParser(nil, flags.Default)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not loaded: %v", err)
	}

	parser.AddCommand("migrate",
		"create the schema",
		"The migrate command creates the tables and change triggers when they are missing",
		&Migrate{})
	parser.AddCommand("add-user",
		"register an account",
		"The add-user command stores an email and a bcrypt hash of the password",
		&AddUser{})
	parser.AddCommand("add-chat",
		"open a conversation",
		"The add-chat command inserts a conversation every signed-in user can see",
		&AddChat{})
	parser.AddCommand("list-chats",
		"print every conversation",
		"The list-chats command prints id, name and last message of each conversation",
		&ListChats{})

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}

// withStore opens the database named by the PG_ settings, runs fn and
// closes it again.
func withStore(fn func(ctx context.Context, s *postgres.Store) error) error {
	cfg, err := config.LoadPostgres()
	if err != nil {
		return err
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := postgres.Open(ctx, postgres.Options{
		DatabaseURL:   cfg.DatabaseURL,
		StorageDir:    cfg.StorageDir,
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        logger,

		AuthAttemptsPerMinute: cfg.AuthAttemptsPerMin,
	})
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func (x *Migrate) Execute(args []string) error {
	return withStore(func(ctx context.Context, s *postgres.Store) error {
		if err := s.Migrate(ctx); err != nil {
			return err
		}
		fmt.Println("Schema is up to date")
		return nil
	})
}

func (x *AddUser) Execute(args []string) error {
	return withStore(func(ctx context.Context, s *postgres.Store) error {
		id, err := s.CreateUser(ctx, x.Email, x.Password)
		if err != nil {
			return err
		}
		fmt.Printf("Created user %s (%s)\n", id.Email, id.ID)
		return nil
	})
}

func (x *AddChat) Execute(args []string) error {
	return withStore(func(ctx context.Context, s *postgres.Store) error {
		c, err := s.CreateChat(ctx, chat.Conversation{Name: x.Name, Phone: x.Phone})
		if err != nil {
			return err
		}
		fmt.Printf("Created chat %s (%s)\n", c.Name, c.ID)
		return nil
	})
}

func (x *ListChats) Execute(args []string) error {
	return withStore(func(ctx context.Context, s *postgres.Store) error {
		chats, err := s.ListChats(ctx)
		if err != nil {
			return err
		}
		for _, c := range chats {
			fmt.Printf("%s\t%s\t%s\n", c.ID, c.Name, c.Preview())
		}
		return nil
	})
}
