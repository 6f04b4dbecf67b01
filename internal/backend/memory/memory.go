// Package memory is an in-process backend. It backs the demo mode and the
// client tests: it records every call and can be told to fail the next one.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cloudzz-dev/periskope/internal/backend"
	"github.com/cloudzz-dev/periskope/internal/chat"
)

const (
	OpCurrentIdentity = "current_identity"
	OpSignIn          = "sign_in"
	OpSignOut         = "sign_out"
	OpListChats       = "list_chats"
	OpSetLastMessage  = "set_last_message"
	OpListMessages    = "list_messages"
	OpInsertMessage   = "insert_message"
	OpSubscribe       = "subscribe"
	OpUpload          = "upload"
)

const channelBuffer = 64

type user struct {
	identity chat.Identity
	hash     []byte
}

type object struct {
	data []byte
	opts backend.UploadOptions
}

type Backend struct {
	mu       sync.Mutex
	users    map[string]user
	current  *chat.Identity
	chats    []chat.Conversation
	messages []chat.Message
	objects  map[string]object
	channels map[*channel]struct{}
	failures map[string]error
	calls    []string
	baseURL  string

	// Now stamps created_at on inserted messages.
	Now func() time.Time
}

var _ backend.Backend = (*Backend)(nil)

func New(baseURL string) *Backend {
	return &Backend{
		users:    make(map[string]user),
		objects:  make(map[string]object),
		channels: make(map[*channel]struct{}),
		failures: make(map[string]error),
		baseURL:  baseURL,
		Now:      time.Now,
	}
}

// NewDemo returns a backend with one account (demo@example.com / demo) and
// a few conversations.
func NewDemo() *Backend {
	b := New("memory://chat-files")
	id := b.AddUser("demo@example.com", "demo")
	now := time.Now()
	alice := b.AddChat(chat.Conversation{Name: "Alice", Phone: "+1 555 0100"})
	b.AddChat(chat.Conversation{Name: "bob", Phone: "+1 555 0101"})
	b.AddChat(chat.Conversation{Name: "Periskope Team", Phone: "+91 98765 43210"})
	b.seedMessage(alice.ID, "alice", "Hi! Are we still on for tomorrow?", now.Add(-26*time.Hour))
	b.seedMessage(alice.ID, id.ID, "Yes, 10am works.", now.Add(-25*time.Hour))
	b.seedMessage(alice.ID, "alice", "Great, see you then", now.Add(-time.Hour))
	return b
}

func (b *Backend) seedMessage(chatID, senderID, content string, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, chat.Message{
		ID:        uuid.NewString(),
		Content:   &content,
		SenderID:  senderID,
		ChatID:    chatID,
		CreatedAt: at,
	})
	for i := range b.chats {
		if b.chats[i].ID == chatID {
			preview := content
			b.chats[i].LastMessage = &preview
		}
	}
}

// AddUser registers an account and returns its identity.
func (b *Backend) AddUser(email, password string) chat.Identity {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("memory: hash password: %v", err))
	}
	id := chat.Identity{ID: uuid.NewString(), Email: email}
	b.mu.Lock()
	b.users[email] = user{identity: id, hash: hash}
	b.mu.Unlock()
	return id
}

// SetCurrent signs id in without a password, as a restored session would.
func (b *Backend) SetCurrent(id *chat.Identity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = id
}

// AddChat inserts a conversation, filling in an id when empty, and notifies
// chats subscribers.
func (b *Backend) AddChat(c chat.Conversation) chat.Conversation {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chats = append(b.chats, c)
	b.emitLocked(backend.TableChats, chat.EventInsert, c)
	return c
}

// FailNext makes the next call of op return err.
func (b *Backend) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = err
}

// Calls returns the operations performed so far, in order.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// CountCalls returns how many times op was called.
func (b *Backend) CountCalls(op string) int {
	n := 0
	for _, c := range b.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

// ActiveChannels reports how many subscriptions are still open on table.
func (b *Backend) ActiveChannels(table string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for ch := range b.channels {
		if ch.sub.Table == table {
			n++
		}
	}
	return n
}

// Messages returns a copy of every stored message row.
func (b *Backend) Messages() []chat.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]chat.Message(nil), b.messages...)
}

// Chat returns the stored conversation with id.
func (b *Backend) Chat(id string) (chat.Conversation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.chats {
		if c.ID == id {
			return c, true
		}
	}
	return chat.Conversation{}, false
}

// Object returns the bytes and options stored under name.
func (b *Backend) Object(name string) ([]byte, backend.UploadOptions, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.objects[name]
	return o.data, o.opts, ok
}

// begin records op and returns the injected failure, if any. Callers hold mu.
func (b *Backend) begin(op string) error {
	b.calls = append(b.calls, op)
	if err, ok := b.failures[op]; ok {
		delete(b.failures, op)
		return err
	}
	return nil
}

func (b *Backend) CurrentIdentity(ctx context.Context) (*chat.Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(OpCurrentIdentity); err != nil {
		return nil, err
	}
	if b.current == nil {
		return nil, backend.ErrNoSession
	}
	id := *b.current
	return &id, nil
}

func (b *Backend) SignInWithPassword(ctx context.Context, email, password string) (*chat.Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(OpSignIn); err != nil {
		return nil, err
	}
	u, ok := b.users[email]
	if !ok || bcrypt.CompareHashAndPassword(u.hash, []byte(password)) != nil {
		return nil, &backend.Error{Status: 400, Code: "invalid_credentials", Message: "Invalid login credentials"}
	}
	id := u.identity
	b.current = &id
	out := id
	return &out, nil
}

func (b *Backend) SignOut(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(OpSignOut); err != nil {
		return err
	}
	b.current = nil
	return nil
}

func (b *Backend) ListChats(ctx context.Context) ([]chat.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(OpListChats); err != nil {
		return nil, err
	}
	return append([]chat.Conversation(nil), b.chats...), nil
}

func (b *Backend) SetLastMessage(ctx context.Context, chatID, preview string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(OpSetLastMessage); err != nil {
		return err
	}
	for i := range b.chats {
		if b.chats[i].ID == chatID {
			p := preview
			b.chats[i].LastMessage = &p
			b.emitLocked(backend.TableChats, chat.EventUpdate, b.chats[i])
		}
	}
	return nil
}

func (b *Backend) ListMessages(ctx context.Context, chatID string, page chat.Page) ([]chat.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(OpListMessages); err != nil {
		return nil, err
	}
	var rows []chat.Message
	for _, m := range b.messages {
		if m.ChatID != chatID {
			continue
		}
		if !page.Precedes(m) {
			continue
		}
		rows = append(rows, m)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})
	if page.Limit > 0 && len(rows) > page.Limit {
		rows = rows[len(rows)-page.Limit:]
	}
	return rows, nil
}

func (b *Backend) InsertMessage(ctx context.Context, msg chat.NewMessage) (*chat.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(OpInsertMessage); err != nil {
		return nil, err
	}
	row := chat.Message{
		ID:        uuid.NewString(),
		Content:   msg.Content,
		SenderID:  msg.SenderID,
		ChatID:    msg.ChatID,
		CreatedAt: b.Now(),
		FileURL:   msg.FileURL,
		FileType:  msg.FileType,
	}
	b.messages = append(b.messages, row)
	b.emitLocked(backend.TableMessages, chat.EventInsert, row)
	out := row
	return &out, nil
}

func (b *Backend) Upload(ctx context.Context, name string, r io.Reader, opts backend.UploadOptions) error {
	b.mu.Lock()
	if err := b.begin(OpUpload); err != nil {
		b.mu.Unlock()
		return err
	}
	_, exists := b.objects[name]
	b.mu.Unlock()
	if exists && !opts.Upsert {
		return backend.ErrObjectExists
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("memory: read upload: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[name] = object{data: buf.Bytes(), opts: opts}
	return nil
}

func (b *Backend) PublicURL(name string) string {
	return b.baseURL + "/" + name
}

func (b *Backend) Subscribe(ctx context.Context, sub chat.Subscription) (backend.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(OpSubscribe); err != nil {
		return nil, err
	}
	ch := &channel{
		backend: b,
		sub:     sub,
		events:  make(chan chat.ChangeEvent, channelBuffer),
	}
	b.channels[ch] = struct{}{}
	return ch, nil
}

// emitLocked fans an event out to matching channels. A full channel drops
// the event rather than blocking the writer.
func (b *Backend) emitLocked(table string, t chat.EventType, row any) {
	data, err := json.Marshal(row)
	if err != nil {
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		// Rows are structs, so this only fails if a row type stops
		// encoding as an object. Filters could not match it anyway.
		return
	}

	ev := chat.ChangeEvent{Type: t, Table: table, Record: data, CommitTime: b.Now()}
	for ch := range b.channels {
		if !ch.sub.Accepts(table, t, fields) {
			continue
		}
		select {
		case ch.events <- ev:
		default:
		}
	}
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.channels {
		delete(b.channels, ch)
		close(ch.events)
	}
	return nil
}

type channel struct {
	backend *Backend
	sub     chat.Subscription
	events  chan chat.ChangeEvent
	once    sync.Once
}

func (c *channel) Events() <-chan chat.ChangeEvent { return c.events }

func (c *channel) Unsubscribe() error {
	c.once.Do(func() {
		c.backend.mu.Lock()
		defer c.backend.mu.Unlock()
		if _, ok := c.backend.channels[c]; ok {
			delete(c.backend.channels, c)
			close(c.events)
		}
	})
	return nil
}
