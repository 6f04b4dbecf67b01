package app

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"go.uber.org/zap/zaptest"

	"github.com/cloudzz-dev/periskope/internal/backend"
	"github.com/cloudzz-dev/periskope/internal/backend/memory"
	"github.com/cloudzz-dev/periskope/internal/chat"
)

var (
	sendTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	t0       = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

type fixture struct {
	be    *memory.Backend
	me    chat.Identity
	alice chat.Conversation
	bob   chat.Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	be := memory.New("memory://chat-files")
	f := &fixture{
		be:    be,
		me:    be.AddUser("me@example.com", "secret"),
		alice: be.AddChat(chat.Conversation{Name: "Alice", Phone: "+1 555 0100"}),
		bob:   be.AddChat(chat.Conversation{Name: "bob"}),
	}
	be.AddChat(chat.Conversation{Name: "Periskope Team"})
	return f
}

// seed stores a message created at the given time.
func (f *fixture) seed(t *testing.T, chatID, senderID, text string, at time.Time) chat.Message {
	t.Helper()
	f.be.Now = func() time.Time { return at }
	row, err := f.be.InsertMessage(t.Context(), chat.NewTextMessage(chatID, senderID, text))
	if err != nil {
		t.Fatalf("Failed to seed message: %v", err)
	}
	f.be.Now = func() time.Time { return sendTime }
	return *row
}

func (f *fixture) model(t *testing.T, pageSize int) Model {
	t.Helper()
	m := New(Options{
		Backend:  f.be,
		Logger:   zaptest.NewLogger(t),
		PageSize: pageSize,
		StartDir: t.TempDir(),
		Now:      func() time.Time { return sendTime },
		Location: time.UTC,
		Context:  t.Context(),
	})
	m.listen = func(eventSource, int, backend.Channel) tea.Cmd { return nil }
	return m
}

// signedIn starts a model with a restored session and runs it to the chat
// screen.
func (f *fixture) signedIn(t *testing.T, pageSize int) Model {
	t.Helper()
	f.be.SetCurrent(&f.me)
	m := f.model(t, pageSize)
	m = run(t, m, m.Init())
	if m.route != routeChat {
		t.Fatalf("Expected chat route, got %v", m.route)
	}
	return m
}

// update feeds msg to the model and runs every command it returns.
func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	return run(t, next.(Model), cmd)
}

func run(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	if cmd == nil {
		return m
	}
	switch msg := cmd().(type) {
	case nil:
		return m
	case tea.BatchMsg:
		for _, c := range msg {
			m = run(t, m, c)
		}
		return m
	default:
		return update(t, m, msg)
	}
}

func key(k tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: k}
}

func typed(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// openChat moves from the search box to the i-th visible conversation and
// opens it.
func openChat(t *testing.T, m Model, i int) Model {
	t.Helper()
	m.setFocus(focusSearch)
	m = update(t, m, key(tea.KeyEnter))
	m.cursor = 0
	for range i {
		m = update(t, m, key(tea.KeyDown))
	}
	return update(t, m, key(tea.KeyEnter))
}

func TestStartWithoutSessionShowsLogin(t *testing.T) {
	f := newFixture(t)
	m := f.model(t, 50)
	if m.route != routeLoading {
		t.Fatalf("Expected loading route before the session check, got %v", m.route)
	}

	m = run(t, m, m.Init())

	if m.route != routeLogin {
		t.Errorf("Expected login route, got %v", m.route)
	}
	if n := f.be.CountCalls(memory.OpListChats); n != 0 {
		t.Errorf("Expected no chat loads while signed out, got %d", n)
	}
	if !strings.Contains(m.View(), "Email") {
		t.Errorf("Expected login form in view")
	}
}

func TestStartWithSessionLoadsChats(t *testing.T) {
	f := newFixture(t)
	m := f.signedIn(t, 50)

	if len(m.chats) != 3 {
		t.Fatalf("Expected 3 chats, got %d", len(m.chats))
	}
	if m.identity == nil || m.identity.ID != f.me.ID {
		t.Errorf("Expected identity %s, got %+v", f.me.ID, m.identity)
	}
	if n := f.be.ActiveChannels(backend.TableChats); n != 1 {
		t.Errorf("Expected 1 chats subscription, got %d", n)
	}
	if m.chatsCh == nil {
		t.Errorf("Expected chats channel to be held")
	}

	view := m.View()
	if !strings.Contains(view, "Select a chat to start messaging") {
		t.Errorf("Expected empty-thread placeholder in view")
	}
	if !strings.Contains(view, "No messages") {
		t.Errorf("Expected preview placeholder in view")
	}
}

func TestSignIn(t *testing.T) {
	f := newFixture(t)
	m := f.model(t, 50)
	m = run(t, m, m.Init())

	m = update(t, m, typed("me@example.com"))
	m = update(t, m, key(tea.KeyTab))
	m = update(t, m, typed("wrong"))
	m = update(t, m, key(tea.KeyEnter))

	if m.route != routeLogin {
		t.Fatalf("Expected to stay on login, got %v", m.route)
	}
	if m.loginErr != "Invalid login credentials" {
		t.Errorf("Expected provider message, got %q", m.loginErr)
	}
	if m.signingIn {
		t.Errorf("Expected signingIn to be cleared")
	}

	m.passwordInput.SetValue("secret")
	m = update(t, m, key(tea.KeyEnter))

	if m.route != routeChat {
		t.Fatalf("Expected chat route, got %v", m.route)
	}
	if m.loginErr != "" {
		t.Errorf("Expected no login error, got %q", m.loginErr)
	}
	if m.passwordInput.Value() != "" {
		t.Errorf("Expected password to be cleared")
	}
	if len(m.chats) != 3 {
		t.Errorf("Expected 3 chats, got %d", len(m.chats))
	}
}

func TestSearchFiltersChats(t *testing.T) {
	f := newFixture(t)
	m := f.signedIn(t, 50)

	m = update(t, m, typed("AL"))

	visible := m.visibleChats()
	if len(visible) != 1 || visible[0].ID != f.alice.ID {
		t.Fatalf("Expected only Alice, got %+v", visible)
	}

	m = update(t, m, typed("zz"))
	if len(m.visibleChats()) != 0 {
		t.Errorf("Expected no matches")
	}
	if !strings.Contains(m.View(), "No chats available.") {
		t.Errorf("Expected empty-list text in view")
	}
}

func TestOpenChatLoadsNewestPage(t *testing.T) {
	f := newFixture(t)
	first := f.seed(t, f.alice.ID, "alice", "one", t0)
	f.seed(t, f.alice.ID, f.me.ID, "two", t0.Add(time.Minute))
	f.seed(t, f.alice.ID, "alice", "three", t0.Add(2*time.Minute))
	m := f.signedIn(t, 2)

	m = openChat(t, m, 0)

	if m.selected == nil || m.selected.ID != f.alice.ID {
		t.Fatalf("Expected Alice selected, got %+v", m.selected)
	}
	if len(m.messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(m.messages))
	}
	if *m.messages[0].Content != "two" || *m.messages[1].Content != "three" {
		t.Errorf("Expected newest page in ascending order, got %q, %q", *m.messages[0].Content, *m.messages[1].Content)
	}
	if !m.hasOlder {
		t.Errorf("Expected older messages to be available")
	}
	if m.focus != focusComposer {
		t.Errorf("Expected composer focus, got %v", m.focus)
	}
	if n := f.be.ActiveChannels(backend.TableMessages); n != 1 {
		t.Errorf("Expected 1 messages subscription, got %d", n)
	}
	if !strings.Contains(m.View(), "Ctrl+O for older messages") {
		t.Errorf("Expected older-messages hint in view")
	}

	m = update(t, m, key(tea.KeyCtrlO))

	if len(m.messages) != 3 {
		t.Fatalf("Expected 3 messages after loading older, got %d", len(m.messages))
	}
	if m.messages[0].ID != first.ID {
		t.Errorf("Expected oldest message first, got %q", *m.messages[0].Content)
	}
	if m.hasOlder {
		t.Errorf("Expected no more older messages")
	}

	calls := f.be.CountCalls(memory.OpListMessages)
	m = update(t, m, key(tea.KeyCtrlO))
	if got := f.be.CountCalls(memory.OpListMessages); got != calls {
		t.Errorf("Expected no load once history is exhausted, got %d calls", got-calls)
	}
}

func TestOlderPageKeepsSameTimestampMessages(t *testing.T) {
	f := newFixture(t)
	for _, text := range []string{"one", "two", "three"} {
		f.seed(t, f.alice.ID, "alice", text, t0)
	}
	m := f.signedIn(t, 2)
	m = openChat(t, m, 0)

	if len(m.messages) != 2 || !m.hasOlder {
		t.Fatalf("Expected a full first page, got %d messages", len(m.messages))
	}

	m = update(t, m, key(tea.KeyCtrlO))

	if len(m.messages) != 3 {
		t.Fatalf("Expected 3 messages after loading older, got %d", len(m.messages))
	}
	seen := map[string]bool{}
	for _, msg := range m.messages {
		if seen[msg.ID] {
			t.Errorf("Expected %s once, got it twice", msg.ID)
		}
		seen[msg.ID] = true
	}
}

func TestHeaderSeparatesNameAndPhone(t *testing.T) {
	f := newFixture(t)
	m := f.signedIn(t, 50)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = openChat(t, m, 0)

	header := strings.SplitN(ansi.Strip(m.mainView()), "\n", 2)[0]
	if !regexp.MustCompile(`Alice\s+\+1 555 0100`).MatchString(header) {
		t.Errorf("Expected name and phone separated in %q", header)
	}
}

func TestSwitchingChatsReleasesPreviousChannel(t *testing.T) {
	f := newFixture(t)
	m := f.signedIn(t, 50)
	m = openChat(t, m, 0)
	if n := f.be.ActiveChannels(backend.TableMessages); n != 1 {
		t.Fatalf("Expected 1 messages subscription, got %d", n)
	}
	prevGen := m.gen

	m.setFocus(focusSearch)
	m = update(t, m, key(tea.KeyEnter))
	m = update(t, m, key(tea.KeyDown))
	next, cmd := m.Update(key(tea.KeyEnter))
	m = next.(Model)

	if n := f.be.ActiveChannels(backend.TableMessages); n != 0 {
		t.Errorf("Expected previous subscription released before new requests run, got %d", n)
	}
	if m.gen != prevGen+1 {
		t.Errorf("Expected generation %d, got %d", prevGen+1, m.gen)
	}
	if len(m.messages) != 0 {
		t.Errorf("Expected thread cleared on switch, got %d messages", len(m.messages))
	}

	m = run(t, m, cmd)
	if m.selected.ID != f.bob.ID {
		t.Errorf("Expected bob selected, got %s", m.selected.Name)
	}
	if n := f.be.ActiveChannels(backend.TableMessages); n != 1 {
		t.Errorf("Expected 1 messages subscription, got %d", n)
	}
}

func TestStaleResultsAreDropped(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.alice.ID, "alice", "for alice", t0)
	f.seed(t, f.bob.ID, "bob", "for bob", t0)
	m := f.signedIn(t, 50)

	next, aliceCmd := m.selectChat(f.alice)
	m = next.(Model)
	next, bobCmd := m.selectChat(f.bob)
	m = next.(Model)

	m = run(t, m, bobCmd)
	m = run(t, m, aliceCmd)

	if m.selected.ID != f.bob.ID {
		t.Fatalf("Expected bob selected, got %s", m.selected.Name)
	}
	if len(m.messages) != 1 || *m.messages[0].Content != "for bob" {
		t.Errorf("Expected only bob's messages, got %+v", m.messages)
	}
	if n := f.be.ActiveChannels(backend.TableMessages); n != 1 {
		t.Errorf("Expected stale subscription released, got %d active", n)
	}
}

func messageEvent(t *testing.T, msg chat.Message) chat.ChangeEvent {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal message: %v", err)
	}
	return chat.ChangeEvent{Type: chat.EventInsert, Table: backend.TableMessages, Record: data}
}

func TestRealtimeInsertIsOrdered(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.alice.ID, "alice", "first", t0)
	f.seed(t, f.alice.ID, "alice", "third", t0.Add(2*time.Minute))
	m := f.signedIn(t, 50)
	m = openChat(t, m, 0)

	late := "second"
	row := chat.Message{ID: "late", Content: &late, SenderID: "alice", ChatID: f.alice.ID, CreatedAt: t0.Add(time.Minute)}
	m = update(t, m, channelEventMsg{source: sourceMessages, gen: m.gen, ch: m.msgCh, event: messageEvent(t, row), ok: true})

	if len(m.messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(m.messages))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got := *m.messages[i].Content; got != want {
			t.Errorf("Expected %q at %d, got %q", want, i, got)
		}
	}

	// Same row again, and a row for another conversation.
	m = update(t, m, channelEventMsg{source: sourceMessages, gen: m.gen, ch: m.msgCh, event: messageEvent(t, row), ok: true})
	other := row
	other.ID = "other"
	other.ChatID = f.bob.ID
	m = update(t, m, channelEventMsg{source: sourceMessages, gen: m.gen, ch: m.msgCh, event: messageEvent(t, other), ok: true})
	if len(m.messages) != 3 {
		t.Errorf("Expected duplicates and foreign rows ignored, got %d messages", len(m.messages))
	}

	// An event from an earlier generation is ignored.
	stale := row
	stale.ID = "stale"
	m = update(t, m, channelEventMsg{source: sourceMessages, gen: m.gen - 1, ch: m.msgCh, event: messageEvent(t, stale), ok: true})
	if len(m.messages) != 3 {
		t.Errorf("Expected stale event ignored, got %d messages", len(m.messages))
	}

	m = update(t, m, channelEventMsg{source: sourceMessages, gen: m.gen, ch: m.msgCh, ok: false})
	if m.msgCh != nil {
		t.Errorf("Expected closed channel to be dropped")
	}
}

func TestChatsEventReloadsList(t *testing.T) {
	f := newFixture(t)
	m := f.signedIn(t, 50)

	if err := f.be.SetLastMessage(t.Context(), f.alice.ID, "updated elsewhere"); err != nil {
		t.Fatalf("Failed to set last message: %v", err)
	}
	m = update(t, m, channelEventMsg{source: sourceChats, gen: m.session, ch: m.chatsCh, ok: true})

	if got := m.chats[0].Preview(); got != "updated elsewhere" {
		t.Errorf("Expected %q, got %q", "updated elsewhere", got)
	}
}

func TestSendText(t *testing.T) {
	f := newFixture(t)
	m := f.signedIn(t, 50)
	m = openChat(t, m, 0)
	inserts := f.be.CountCalls(memory.OpInsertMessage)

	m = update(t, m, typed("   "))
	m = update(t, m, key(tea.KeyEnter))
	if got := f.be.CountCalls(memory.OpInsertMessage); got != inserts {
		t.Fatalf("Expected blank message not to be sent")
	}
	if m.composer.Value() != "   " {
		t.Errorf("Expected blank draft kept, got %q", m.composer.Value())
	}

	m.composer.SetValue("hello")
	m = update(t, m, key(tea.KeyEnter))

	if m.composer.Value() != "" {
		t.Errorf("Expected draft cleared, got %q", m.composer.Value())
	}
	if len(m.messages) != 0 {
		t.Errorf("Expected thread to wait for the realtime insert, got %d messages", len(m.messages))
	}
	rows := f.be.Messages()
	if len(rows) != 1 || *rows[0].Content != "hello" || rows[0].SenderID != f.me.ID {
		t.Fatalf("Expected one stored message from me, got %+v", rows)
	}
	c, _ := f.be.Chat(f.alice.ID)
	if c.Preview() != "hello" {
		t.Errorf("Expected preview %q, got %q", "hello", c.Preview())
	}
}

func TestSendTextFailureKeepsDraft(t *testing.T) {
	f := newFixture(t)
	m := f.signedIn(t, 50)
	m = openChat(t, m, 0)

	f.be.FailNext(memory.OpInsertMessage, errors.New("network down"))
	m.composer.SetValue("hello")
	m = update(t, m, key(tea.KeyEnter))

	if m.composer.Value() != "hello" {
		t.Errorf("Expected draft kept, got %q", m.composer.Value())
	}
	if n := f.be.CountCalls(memory.OpSetLastMessage); n != 0 {
		t.Errorf("Expected no preview update, got %d", n)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	return path
}

func TestDeclinedUploadSendsNothing(t *testing.T) {
	f := newFixture(t)
	m := f.signedIn(t, 50)
	m = openChat(t, m, 0)
	calls := len(f.be.Calls())

	m = update(t, m, key(tea.KeyCtrlT))
	if !m.picking {
		t.Fatalf("Expected file picker to open")
	}

	next, _ := m.chooseFile(writeFile(t, "notes.txt", "hello world\n"))
	m = next.(Model)
	if !m.confirming || m.pending == nil {
		t.Fatalf("Expected confirmation prompt")
	}
	if !strings.Contains(m.View(), `Do you want to send the file "notes.txt"? (y/n)`) {
		t.Errorf("Expected confirmation text in view")
	}

	m = update(t, m, typed("n"))

	if m.pending != nil || m.confirming || m.picking {
		t.Errorf("Expected staged file cleared")
	}
	if got := len(f.be.Calls()); got != calls {
		t.Errorf("Expected no backend calls, got %v", f.be.Calls()[calls:])
	}
}

func TestAcceptedUpload(t *testing.T) {
	f := newFixture(t)
	m := f.signedIn(t, 50)
	m = openChat(t, m, 0)

	next, _ := m.chooseFile(writeFile(t, "notes.txt", "hello world\n"))
	m = next.(Model)
	if m.pending.Type != "text/plain" {
		t.Errorf("Expected text/plain, got %q", m.pending.Type)
	}

	m = update(t, m, typed("y"))

	object := objectName("notes.txt", sendTime.UnixMilli())
	data, opts, ok := f.be.Object(object)
	if !ok {
		t.Fatalf("Expected object %s to be stored", object)
	}
	if string(data) != "hello world\n" {
		t.Errorf("Expected file content, got %q", data)
	}
	if opts.CacheControl != "3600" || opts.Upsert || opts.ContentType != "text/plain" {
		t.Errorf("Unexpected upload options %+v", opts)
	}

	rows := f.be.Messages()
	if len(rows) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(rows))
	}
	row := rows[0]
	if row.Content != nil {
		t.Errorf("Expected no content, got %q", *row.Content)
	}
	if row.FileURL == nil || *row.FileURL != "memory://chat-files/"+object {
		t.Errorf("Expected public URL, got %v", row.FileURL)
	}
	if row.FileType == nil || *row.FileType != "text/plain" {
		t.Errorf("Expected file type, got %v", row.FileType)
	}
	c, _ := f.be.Chat(f.alice.ID)
	if c.Preview() != backend.AttachmentPreview {
		t.Errorf("Expected preview %q, got %q", backend.AttachmentPreview, c.Preview())
	}
	if m.uploading || m.pending != nil {
		t.Errorf("Expected upload state cleared")
	}
}

func TestFailedUploadStopsSequence(t *testing.T) {
	f := newFixture(t)
	m := f.signedIn(t, 50)
	m = openChat(t, m, 0)

	f.be.FailNext(memory.OpUpload, backend.ErrObjectExists)
	next, _ := m.chooseFile(writeFile(t, "photo.png", "not really a png"))
	m = next.(Model)
	m = update(t, m, typed("y"))

	if n := f.be.CountCalls(memory.OpInsertMessage); n != 0 {
		t.Errorf("Expected no message insert, got %d", n)
	}
	if n := f.be.CountCalls(memory.OpSetLastMessage); n != 0 {
		t.Errorf("Expected no preview update, got %d", n)
	}
	if m.uploading || m.pending != nil {
		t.Errorf("Expected upload state cleared")
	}
}

func TestPreviewFailureAfterUpload(t *testing.T) {
	f := newFixture(t)
	m := f.signedIn(t, 50)
	m = openChat(t, m, 0)

	f.be.FailNext(memory.OpSetLastMessage, errors.New("network down"))
	next, _ := m.chooseFile(writeFile(t, "notes.txt", "hello world\n"))
	m = next.(Model)
	m = update(t, m, typed("y"))

	if _, _, ok := f.be.Object(objectName("notes.txt", sendTime.UnixMilli())); !ok {
		t.Errorf("Expected object to be stored")
	}
	if rows := f.be.Messages(); len(rows) != 1 || rows[0].FileURL == nil {
		t.Errorf("Expected the file message to be kept, got %+v", rows)
	}
	c, _ := f.be.Chat(f.alice.ID)
	if c.Preview() == backend.AttachmentPreview {
		t.Errorf("Expected preview unchanged")
	}
	if m.uploading || m.pending != nil || m.confirming {
		t.Errorf("Expected upload state cleared")
	}
}

func TestInsertFailureAfterUpload(t *testing.T) {
	f := newFixture(t)
	m := f.signedIn(t, 50)
	m = openChat(t, m, 0)

	f.be.FailNext(memory.OpInsertMessage, errors.New("network down"))
	next, _ := m.chooseFile(writeFile(t, "notes.txt", "hello world\n"))
	m = next.(Model)
	m = update(t, m, typed("y"))

	if _, _, ok := f.be.Object(objectName("notes.txt", sendTime.UnixMilli())); !ok {
		t.Errorf("Expected object to be stored")
	}
	if rows := f.be.Messages(); len(rows) != 0 {
		t.Errorf("Expected no message, got %d", len(rows))
	}
	if n := f.be.CountCalls(memory.OpSetLastMessage); n != 0 {
		t.Errorf("Expected no preview update, got %d", n)
	}
	if m.uploading || m.pending != nil {
		t.Errorf("Expected upload state cleared")
	}
}

func TestLogoutReleasesSubscriptions(t *testing.T) {
	f := newFixture(t)
	m := f.signedIn(t, 50)
	m = openChat(t, m, 0)
	m.composer.SetValue("draft")

	m = update(t, m, key(tea.KeyCtrlX))

	if m.route != routeLogin {
		t.Fatalf("Expected login route, got %v", m.route)
	}
	if n := f.be.ActiveChannels(backend.TableMessages) + f.be.ActiveChannels(backend.TableChats); n != 0 {
		t.Errorf("Expected all subscriptions released, got %d", n)
	}
	if m.identity != nil || m.selected != nil || len(m.chats) != 0 || m.composer.Value() != "" {
		t.Errorf("Expected signed-in state cleared")
	}
	if _, err := f.be.CurrentIdentity(t.Context()); !errors.Is(err, backend.ErrNoSession) {
		t.Errorf("Expected session ended, got %v", err)
	}
}

func TestChatListAfterLogoutIsDropped(t *testing.T) {
	f := newFixture(t)
	m := f.signedIn(t, 50)

	m.chatsSeq++
	inFlight := m.loadChats(m.chatsSeq)
	m = update(t, m, key(tea.KeyCtrlX))
	m = run(t, m, inFlight)

	if len(m.chats) != 0 {
		t.Fatalf("Expected no chats after logout, got %d", len(m.chats))
	}

	m.emailInput.SetValue("me@example.com")
	m.passwordInput.SetValue("secret")
	m = update(t, m, key(tea.KeyEnter))

	if m.route != routeChat {
		t.Fatalf("Expected chat route, got %v", m.route)
	}
	if len(m.chats) != 3 {
		t.Errorf("Expected 3 chats after signing in again, got %d", len(m.chats))
	}
}

func TestAvatarLetter(t *testing.T) {
	f := newFixture(t)
	m := f.model(t, 50)
	if got := m.avatarLetter(); got != "P" {
		t.Errorf("Expected %q, got %q", "P", got)
	}

	tests := map[string]string{"bob": "B", "Alice": "A", "": "?"}
	for name, want := range tests {
		m.selected = &chat.Conversation{Name: name}
		if got := m.avatarLetter(); got != want {
			t.Errorf("Expected %q for %q, got %q", want, name, got)
		}
	}
}

func TestObjectName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"photo.png", "1700000000000.png"},
		{"archive.tar.gz", "1700000000000.gz"},
		{"README", "1700000000000.README"},
	}
	for _, tt := range tests {
		if got := objectName(tt.name, 1700000000000); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

func TestMediaType(t *testing.T) {
	if got := mediaType("text/plain; charset=utf-8"); got != "text/plain" {
		t.Errorf("Expected %q, got %q", "text/plain", got)
	}
	if got := mediaType("image/png"); got != "image/png" {
		t.Errorf("Expected %q, got %q", "image/png", got)
	}
}
