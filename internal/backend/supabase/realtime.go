package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cloudzz-dev/periskope/internal/backend"
	"github.com/cloudzz-dev/periskope/internal/chat"
)

const (
	writeWait       = 10 * time.Second
	heartbeatPeriod = 25 * time.Second
	eventBuffer     = 64
)

// Phoenix channel events.
const (
	phxJoin         = "phx_join"
	phxLeave        = "phx_leave"
	phxReply        = "phx_reply"
	phxError        = "phx_error"
	phxClose        = "phx_close"
	heartbeat       = "heartbeat"
	postgresChanges = "postgres_changes"
)

var errSocketClosed = errors.New("supabase: realtime socket closed")

type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type changePayload struct {
	Data struct {
		Type            string          `json:"type"`
		Table           string          `json:"table"`
		Record          json.RawMessage `json:"record"`
		OldRecord       json.RawMessage `json:"old_record"`
		CommitTimestamp string          `json:"commit_timestamp"`
	} `json:"data"`
}

func realtimeURL(base, apiKey string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("supabase: parse url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("supabase: unsupported url scheme %q", u.Scheme)
	}
	u.Path += "/realtime/v1/websocket"
	u.RawQuery = url.Values{"apikey": {apiKey}, "vsn": {"1.0.0"}}.Encode()
	return u.String(), nil
}

// socket multiplexes every channel over one websocket, dialled on the first
// Subscribe. A broken socket closes all of its channels; the next Subscribe
// dials again.
type socket struct {
	url    string
	token  func(ctx context.Context) (string, error)
	logger *zap.Logger
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	done     chan struct{}
	ref      uint64
	topics   uint64
	channels map[string]*rtChannel
	pending  map[string]chan replyPayload

	writeMu sync.Mutex
}

func newSocket(wsURL string, token func(ctx context.Context) (string, error), logger *zap.Logger) *socket {
	return &socket{
		url:      wsURL,
		token:    token,
		logger:   logger,
		dialer:   websocket.DefaultDialer,
		channels: make(map[string]*rtChannel),
		pending:  make(map[string]chan replyPayload),
	}
}

func (s *socket) nextRef() string {
	s.ref++
	return strconv.FormatUint(s.ref, 10)
}

func (s *socket) connect(ctx context.Context) (*websocket.Conn, chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, s.done, nil
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("supabase: dial realtime: %w", err)
	}
	s.conn = conn
	s.done = make(chan struct{})
	go s.readLoop(conn, s.done)
	go s.heartbeatLoop(conn, s.done)
	s.logger.Debug("realtime socket connected")
	return conn, s.done, nil
}

func (s *socket) write(conn *websocket.Conn, msg phxMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func topicName(sub chat.Subscription, n uint64) string {
	name := "realtime:" + sub.Table
	if sub.Filter != nil {
		name += ":" + sub.Filter.Value
	}
	return name + ":" + strconv.FormatUint(n, 10)
}

func (s *socket) subscribe(ctx context.Context, sub chat.Subscription) (*rtChannel, error) {
	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	conn, done, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	filter := changeFilter{Event: string(sub.Event), Schema: "public", Table: sub.Table}
	if sub.Filter != nil {
		filter.Filter = sub.Filter.Column + "=eq." + sub.Filter.Value
	}
	payload, err := json.Marshal(map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]bool{"self": false},
			"presence":         map[string]string{"key": ""},
			"postgres_changes": []changeFilter{filter},
		},
		"access_token": token,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return nil, errSocketClosed
	}
	s.topics++
	ref := s.nextRef()
	ch := &rtChannel{
		socket: s,
		conn:   conn,
		topic:  topicName(sub, s.topics),
		sub:    sub,
		events: make(chan chat.ChangeEvent, eventBuffer),
	}
	reply := make(chan replyPayload, 1)
	s.pending[ref] = reply
	s.channels[ch.topic] = ch
	s.mu.Unlock()

	err = s.write(conn, phxMessage{Topic: ch.topic, Event: phxJoin, Payload: payload, Ref: &ref, JoinRef: &ref})
	if err != nil {
		s.drop(ch, ref)
		return nil, fmt.Errorf("supabase: join %s: %w", ch.topic, err)
	}

	select {
	case r := <-reply:
		if r.Status != "ok" {
			s.drop(ch, ref)
			return nil, fmt.Errorf("supabase: join %s rejected: %s %s", ch.topic, r.Status, string(r.Response))
		}
	case <-done:
		s.drop(ch, ref)
		return nil, errSocketClosed
	case <-ctx.Done():
		s.drop(ch, ref)
		return nil, ctx.Err()
	}

	s.logger.Debug("realtime channel joined", zap.String("topic", ch.topic), zap.String("subscription", sub.String()))
	return ch, nil
}

func (s *socket) drop(ch *rtChannel, ref string) {
	s.mu.Lock()
	delete(s.pending, ref)
	s.mu.Unlock()
	ch.release(false)
}

func (s *socket) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer s.teardown(conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Warn("realtime socket read failed", zap.Error(err))
			return
		}

		var msg phxMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("realtime message decode failed", zap.Error(err))
			continue
		}
		s.dispatch(msg)
	}
}

func (s *socket) dispatch(msg phxMessage) {
	switch msg.Event {
	case phxReply:
		if msg.Ref == nil {
			return
		}
		var r replyPayload
		if err := json.Unmarshal(msg.Payload, &r); err != nil {
			// The waiter still gets an answer and fails the join.
			s.logger.Debug("phx_reply decode failed", zap.String("topic", msg.Topic), zap.Error(err))
			r = replyPayload{Status: "error", Response: msg.Payload}
		}
		s.mu.Lock()
		reply, ok := s.pending[*msg.Ref]
		delete(s.pending, *msg.Ref)
		s.mu.Unlock()
		if ok {
			reply <- r
		}

	case postgresChanges:
		var p changePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			s.logger.Warn("postgres_changes decode failed", zap.Error(err))
			return
		}
		ev := chat.ChangeEvent{
			Type:      chat.EventType(p.Data.Type),
			Table:     p.Data.Table,
			Record:    p.Data.Record,
			OldRecord: p.Data.OldRecord,
		}
		if p.Data.CommitTimestamp != "" {
			ev.CommitTime, _ = chat.ParseTimestamp(p.Data.CommitTimestamp)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		ch, ok := s.channels[msg.Topic]
		if !ok {
			return
		}
		select {
		case ch.events <- ev:
		default:
			s.logger.Warn("realtime channel full, event dropped", zap.String("topic", msg.Topic))
		}

	case phxError, phxClose:
		s.mu.Lock()
		ch, ok := s.channels[msg.Topic]
		s.mu.Unlock()
		if ok {
			s.logger.Warn("realtime channel closed by server", zap.String("topic", msg.Topic), zap.String("event", msg.Event))
			ch.release(false)
		}
	}
}

func (s *socket) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.Lock()
			ref := s.nextRef()
			s.mu.Unlock()
			err := s.write(conn, phxMessage{Topic: "phoenix", Event: heartbeat, Payload: json.RawMessage(`{}`), Ref: &ref})
			if err != nil {
				s.logger.Warn("realtime heartbeat failed", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}

// teardown runs once per connection, when its read loop ends.
func (s *socket) teardown(conn *websocket.Conn, done chan struct{}) {
	conn.Close()

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	close(done)
	var orphans []*rtChannel
	for topic, ch := range s.channels {
		if ch.conn == conn {
			orphans = append(orphans, ch)
			delete(s.channels, topic)
		}
	}
	s.mu.Unlock()

	for _, ch := range orphans {
		ch.release(false)
	}
}

func (s *socket) close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	s.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	s.writeMu.Unlock()
	return conn.Close()
}

type rtChannel struct {
	socket *socket
	conn   *websocket.Conn
	topic  string
	sub    chat.Subscription
	events chan chat.ChangeEvent
	once   sync.Once
}

func (ch *rtChannel) Events() <-chan chat.ChangeEvent { return ch.events }

func (ch *rtChannel) Unsubscribe() error {
	return ch.release(true)
}

// release removes the channel, optionally tells the server, and closes
// Events. Only the first call has any effect.
func (ch *rtChannel) release(leave bool) error {
	var err error
	ch.once.Do(func() {
		s := ch.socket
		s.mu.Lock()
		if s.channels[ch.topic] == ch {
			delete(s.channels, ch.topic)
		}
		ref := s.nextRef()
		live := s.conn == ch.conn
		close(ch.events)
		s.mu.Unlock()

		if leave && live {
			err = s.write(ch.conn, phxMessage{Topic: ch.topic, Event: phxLeave, Payload: json.RawMessage(`{}`), Ref: &ref})
		}
	})
	return err
}

func (c *Client) Subscribe(ctx context.Context, sub chat.Subscription) (backend.Channel, error) {
	ch, err := c.rt.subscribe(ctx, sub)
	if err != nil {
		return nil, err
	}
	return ch, nil
}
