package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Conversation struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	LastMessage *string `json:"last_message,omitempty"`
	Phone       string  `json:"phone"`
}

// Preview is the sidebar line under the conversation name.
func (c Conversation) Preview() string {
	if c.LastMessage == nil || *c.LastMessage == "" {
		return "No messages"
	}
	return *c.LastMessage
}

// Initial returns the first letter of the name, or "?" for an empty name.
func (c Conversation) Initial() string {
	for _, r := range c.Name {
		return string(r)
	}
	return "?"
}

type MessageKind int

const (
	KindEmpty MessageKind = iota
	KindText
	KindAttachment
)

type Message struct {
	ID        string    `json:"id"`
	Content   *string   `json:"content,omitempty"`
	SenderID  string    `json:"sender_id"`
	ChatID    string    `json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
	FileURL   *string   `json:"file_url,omitempty"`
	FileType  *string   `json:"file_type,omitempty"`
}

// Kind classifies a row. Rows written by other clients may carry both
// content and a file; content wins, matching how the thread renders them.
func (m Message) Kind() MessageKind {
	switch {
	case m.Content != nil && *m.Content != "":
		return KindText
	case m.FileURL != nil && *m.FileURL != "":
		return KindAttachment
	default:
		return KindEmpty
	}
}

func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var raw struct {
		alias
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(raw.alias)
	if raw.CreatedAt == "" {
		return nil
	}
	t, err := ParseTimestamp(raw.CreatedAt)
	if err != nil {
		return err
	}
	m.CreatedAt = t
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts the timestamp shapes Postgres and PostgREST emit.
// Values without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("chat: unrecognised timestamp %q", s)
}

// NewMessage is the insert payload for the messages collection.
type NewMessage struct {
	ChatID   string  `json:"chat_id"`
	SenderID string  `json:"sender_id"`
	Content  *string `json:"content,omitempty"`
	FileURL  *string `json:"file_url,omitempty"`
	FileType *string `json:"file_type,omitempty"`
}

func NewTextMessage(chatID, senderID, content string) NewMessage {
	return NewMessage{ChatID: chatID, SenderID: senderID, Content: &content}
}

func NewAttachmentMessage(chatID, senderID, fileURL, fileType string) NewMessage {
	return NewMessage{ChatID: chatID, SenderID: senderID, FileURL: &fileURL, FileType: &fileType}
}

// Realtime

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

// Eq is an equality predicate on one column.
type Eq struct {
	Column string
	Value  string
}

type Subscription struct {
	Table  string
	Event  EventType
	Filter *Eq
}

func (s Subscription) String() string {
	if s.Filter == nil {
		return fmt.Sprintf("%s:%s", s.Table, s.Event)
	}
	return fmt.Sprintf("%s:%s:%s=eq.%s", s.Table, s.Event, s.Filter.Column, s.Filter.Value)
}

// Accepts reports whether an event of type t on table with the given row
// passes this subscription.
func (s Subscription) Accepts(table string, t EventType, row map[string]any) bool {
	if s.Table != table {
		return false
	}
	if s.Event != EventAll && s.Event != t {
		return false
	}
	if s.Filter == nil {
		return true
	}
	v, ok := row[s.Filter.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == s.Filter.Value
}

type ChangeEvent struct {
	Type       EventType       `json:"type"`
	Table      string          `json:"table"`
	Record     json.RawMessage `json:"record,omitempty"`
	OldRecord  json.RawMessage `json:"old_record,omitempty"`
	CommitTime time.Time       `json:"commit_timestamp"`
}

// Message decodes the new row of a messages event.
func (e ChangeEvent) Message() (Message, error) {
	var m Message
	if len(e.Record) == 0 {
		return m, fmt.Errorf("chat: %s event on %s carries no record", e.Type, e.Table)
	}
	err := json.Unmarshal(e.Record, &m)
	return m, err
}

// Page selects the newest Limit messages ordered strictly before the
// (Before, BeforeID) key in (created_at, id) order. A zero Before means
// "from the newest"; an empty BeforeID compares on created_at alone.
type Page struct {
	Limit    int
	Before   time.Time
	BeforeID string
}

// Precedes reports whether m sorts before the page cursor.
func (p Page) Precedes(m Message) bool {
	if p.Before.IsZero() {
		return true
	}
	if !m.CreatedAt.Equal(p.Before) {
		return m.CreatedAt.Before(p.Before)
	}
	return p.BeforeID != "" && m.ID < p.BeforeID
}

// FileUpload describes a local file chosen for sending.
type FileUpload struct {
	Path string
	Name string
	Type string
	Size int64
}
