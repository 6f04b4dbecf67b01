package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cloudzz-dev/periskope/internal/backend"
	"github.com/cloudzz-dev/periskope/internal/chat"
)

// Chat Methods

// CreateChat inserts a conversation, assigning an id when c has none.
func (s *Store) CreateChat(ctx context.Context, c chat.Conversation) (chat.Conversation, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO chats (id, name, last_message, phone) VALUES ($1, $2, $3, $4)",
		c.ID, c.Name, nullString(c.LastMessage), c.Phone,
	)
	return c, err
}

func (s *Store) ListChats(ctx context.Context) ([]chat.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, last_message, phone FROM chats ORDER BY created_at, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []chat.Conversation
	for rows.Next() {
		var (
			c    chat.Conversation
			last sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &last, &c.Phone); err != nil {
			return nil, err
		}
		if last.Valid {
			c.LastMessage = &last.String
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (s *Store) SetLastMessage(ctx context.Context, chatID, preview string) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "UPDATE chats SET last_message = $1 WHERE id = $2", preview, chatID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: chat %s", backend.ErrNotFound, chatID)
	}
	return nil
}

// Message Methods

const messageColumns = "id, chat_id, sender_id, content, file_url, file_type, created_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (chat.Message, error) {
	var (
		m                          chat.Message
		content, fileURL, fileType sql.NullString
	)
	if err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &content, &fileURL, &fileType, &m.CreatedAt); err != nil {
		return m, err
	}
	m.Content = stringPtr(content)
	m.FileURL = stringPtr(fileURL)
	m.FileType = stringPtr(fileType)
	return m, nil
}

// ListMessages reads the page newest-first so LIMIT keeps the most recent
// rows, then reverses it.
func (s *Store) ListMessages(ctx context.Context, chatID string, page chat.Page) ([]chat.Message, error) {
	var (
		q    strings.Builder
		args = []any{chatID}
	)
	q.WriteString("SELECT " + messageColumns + " FROM messages WHERE chat_id = $1")
	if !page.Before.IsZero() {
		args = append(args, page.Before)
		if page.BeforeID != "" {
			args = append(args, page.BeforeID)
			fmt.Fprintf(&q, " AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
		} else {
			fmt.Fprintf(&q, " AND created_at < $%d", len(args))
		}
	}
	if page.Limit > 0 {
		args = append(args, page.Limit)
		fmt.Fprintf(&q, " ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	} else {
		q.WriteString(" ORDER BY created_at, id")
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if page.Limit > 0 {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return msgs, nil
}

func (s *Store) InsertMessage(ctx context.Context, msg chat.NewMessage) (*chat.Message, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, file_url, file_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+messageColumns,
		uuid.NewString(), msg.ChatID, msg.SenderID,
		nullString(msg.Content), nullString(msg.FileURL), nullString(msg.FileType),
	)
	m, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
