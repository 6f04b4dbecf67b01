package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/cloudzz-dev/periskope/internal/backend"
	"github.com/cloudzz-dev/periskope/internal/chat"
)

const (
	notifyChannel  = "table_changes"
	channelBuffer  = 64
	pingInterval   = 90 * time.Second
	refetchTimeout = 5 * time.Second
)

// notification is the payload written by periskope_notify_change.
type notification struct {
	Table           string          `json:"table"`
	Type            string          `json:"type"`
	Record          json.RawMessage `json:"record"`
	OldRecord       json.RawMessage `json:"old_record"`
	ID              string          `json:"id"`
	Truncated       bool            `json:"truncated"`
	CommitTimestamp string          `json:"commit_timestamp"`
}

func decodeNotification(extra string) (notification, error) {
	var n notification
	if err := json.Unmarshal([]byte(extra), &n); err != nil {
		return n, fmt.Errorf("postgres: decode notification: %w", err)
	}
	if isNull(n.Record) {
		n.Record = nil
	}
	if isNull(n.OldRecord) {
		n.OldRecord = nil
	}
	return n, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// event converts n and returns the row fields subscription filters match on:
// the new row, or the old one for deletes.
func (n notification) event() (chat.ChangeEvent, map[string]any, error) {
	ev := chat.ChangeEvent{
		Type:      chat.EventType(n.Type),
		Table:     n.Table,
		Record:    n.Record,
		OldRecord: n.OldRecord,
	}
	if n.CommitTimestamp != "" {
		ev.CommitTime, _ = chat.ParseTimestamp(n.CommitTimestamp)
	}

	row := n.Record
	if row == nil {
		row = n.OldRecord
	}
	var fields map[string]any
	if row != nil {
		if err := json.Unmarshal(row, &fields); err != nil {
			return ev, nil, fmt.Errorf("postgres: decode %s row: %w", n.Table, err)
		}
	}
	return ev, fields, nil
}

// hub fans NOTIFY payloads out to subscriptions. The pq.Listener starts on
// the first Subscribe and reconnects by itself; changes made while it is
// disconnected are not replayed.
type hub struct {
	store  *Store
	logger *zap.Logger

	mu       sync.Mutex
	listener *pq.Listener
	done     chan struct{}
	channels map[*channel]struct{}
}

func newHub(s *Store) *hub {
	return &hub{
		store:    s,
		logger:   s.logger,
		channels: make(map[*channel]struct{}),
	}
}

func (h *hub) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		h.logger.Debug("listener connected")
	case pq.ListenerEventDisconnected:
		h.logger.Warn("listener disconnected", zap.Error(err))
	case pq.ListenerEventReconnected:
		h.logger.Info("listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		h.logger.Warn("listener connection attempt failed", zap.Error(err))
	}
}

// startLocked runs with mu held.
func (h *hub) startLocked() error {
	if h.listener != nil {
		return nil
	}
	l := pq.NewListener(h.store.dsn, 10*time.Second, time.Minute, h.onListenerEvent)
	if err := l.Listen(notifyChannel); err != nil {
		l.Close()
		return fmt.Errorf("postgres: listen %s: %w", notifyChannel, err)
	}
	h.listener = l
	h.done = make(chan struct{})
	go h.run(l, h.done)
	return nil
}

func (h *hub) run(l *pq.Listener, done chan struct{}) {
	for {
		select {
		case n, ok := <-l.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Sent after a reconnect.
				h.logger.Info("listener resumed, changes in the gap were missed")
				continue
			}
			h.handle(n.Extra)
		case <-time.After(pingInterval):
			go l.Ping()
		case <-done:
			return
		}
	}
}

func (h *hub) handle(extra string) {
	n, err := decodeNotification(extra)
	if err != nil {
		h.logger.Warn("notification dropped", zap.Error(err))
		return
	}
	if n.Truncated {
		if err := h.refetch(&n); err != nil {
			h.logger.Warn("refetch of oversized row failed", zap.String("table", n.Table), zap.String("id", n.ID), zap.Error(err))
			return
		}
	}

	ev, fields, err := n.event()
	if err != nil {
		h.logger.Warn("notification dropped", zap.Error(err))
		return
	}
	h.dispatch(ev, fields)
}

// refetch reads back a row whose NOTIFY payload was too large to carry it.
func (h *hub) refetch(n *notification) error {
	var query string
	switch n.Table {
	case backend.TableChats:
		query = "SELECT row_to_json(t) FROM chats t WHERE t.id = $1"
	case backend.TableMessages:
		query = "SELECT row_to_json(t) FROM messages t WHERE t.id = $1"
	default:
		return fmt.Errorf("postgres: unknown table %q", n.Table)
	}
	if n.Type == string(chat.EventDelete) {
		n.OldRecord = json.RawMessage(fmt.Sprintf(`{"id":%q}`, n.ID))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), refetchTimeout)
	defer cancel()
	var raw []byte
	if err := h.store.db.QueryRowContext(ctx, query, n.ID).Scan(&raw); err != nil {
		return err
	}
	n.Record = raw
	return nil
}

func (h *hub) dispatch(ev chat.ChangeEvent, fields map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.channels {
		if !ch.sub.Accepts(ev.Table, ev.Type, fields) {
			continue
		}
		select {
		case ch.events <- ev:
		default:
			h.logger.Warn("subscription full, event dropped", zap.String("subscription", ch.sub.String()))
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		close(h.done)
		h.listener.Close()
		h.listener = nil
	}
	for ch := range h.channels {
		delete(h.channels, ch)
		close(ch.events)
	}
}

func (s *Store) Subscribe(ctx context.Context, sub chat.Subscription) (backend.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := s.rt
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.startLocked(); err != nil {
		return nil, err
	}
	ch := &channel{
		hub:    h,
		sub:    sub,
		events: make(chan chat.ChangeEvent, channelBuffer),
	}
	h.channels[ch] = struct{}{}
	s.logger.Debug("subscribed", zap.String("subscription", sub.String()))
	return ch, nil
}

type channel struct {
	hub    *hub
	sub    chat.Subscription
	events chan chat.ChangeEvent
	once   sync.Once
}

func (c *channel) Events() <-chan chat.ChangeEvent { return c.events }

func (c *channel) Unsubscribe() error {
	c.once.Do(func() {
		c.hub.mu.Lock()
		defer c.hub.mu.Unlock()
		if _, ok := c.hub.channels[c]; ok {
			delete(c.hub.channels, c)
			close(c.events)
		}
	})
	return nil
}
