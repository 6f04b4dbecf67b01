// Package backend defines what the chat client needs from its hosted
// platform: password auth, the chats and messages collections, realtime
// change events, and public object storage.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudzz-dev/periskope/internal/chat"
)

const (
	TableChats    = "chats"
	TableMessages = "messages"

	// AttachmentPreview is written to last_message after a file is sent.
	AttachmentPreview = "Attachment"
)

var (
	ErrNoSession    = errors.New("backend: no authenticated session")
	ErrObjectExists = errors.New("backend: object already exists")
	ErrNotFound     = errors.New("backend: not found")
)

// Error is a failure reported by the platform. Message is the provider's own
// text and is safe to show to the user verbatim.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend: %d: %s", e.Status, e.Message)
}

// ErrorMessage returns the provider's message when err carries one, and
// err.Error() otherwise.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return err.Error()
}

type Auth interface {
	CurrentIdentity(ctx context.Context) (*chat.Identity, error)
	SignInWithPassword(ctx context.Context, email, password string) (*chat.Identity, error)
	SignOut(ctx context.Context) error
}

type Chats interface {
	// ListChats returns every conversation visible to the caller.
	ListChats(ctx context.Context) ([]chat.Conversation, error)
	SetLastMessage(ctx context.Context, chatID, preview string) error
}

type Messages interface {
	// ListMessages returns one page of a conversation in ascending
	// created_at order.
	ListMessages(ctx context.Context, chatID string, page chat.Page) ([]chat.Message, error)
	InsertMessage(ctx context.Context, msg chat.NewMessage) (*chat.Message, error)
}

// Channel is a live subscription. Events is closed once the channel is
// released; Unsubscribe may be called more than once.
type Channel interface {
	Events() <-chan chat.ChangeEvent
	Unsubscribe() error
}

type Realtime interface {
	Subscribe(ctx context.Context, sub chat.Subscription) (Channel, error)
}

type UploadOptions struct {
	ContentType  string
	CacheControl string // seconds, e.g. "3600"
	Upsert       bool
}

type Objects interface {
	Upload(ctx context.Context, name string, r io.Reader, opts UploadOptions) error
	PublicURL(name string) string
}

type Backend interface {
	Auth
	Chats
	Messages
	Realtime
	Objects
	Close() error
}
