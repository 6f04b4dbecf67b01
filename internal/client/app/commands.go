package app

import (
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cloudzz-dev/periskope/internal/backend"
	"github.com/cloudzz-dev/periskope/internal/chat"
)

// --- Messages ---

type sessionCheckedMsg struct {
	identity *chat.Identity
	err      error
}

type signedInMsg struct {
	identity *chat.Identity
	err      error
}

type signedOutMsg struct {
	err error
}

type chatsLoadedMsg struct {
	seq   int
	chats []chat.Conversation
	err   error
}

type chatsSubscribedMsg struct {
	session int
	ch      backend.Channel
	err     error
}

type messagesLoadedMsg struct {
	gen      int
	older    bool
	messages []chat.Message
	err      error
}

type messagesSubscribedMsg struct {
	gen int
	ch  backend.Channel
	err error
}

type eventSource int

const (
	sourceChats eventSource = iota
	sourceMessages
)

// channelEventMsg carries one realtime event, or ok=false once the channel
// has been closed.
type channelEventMsg struct {
	source eventSource
	gen    int
	ch     backend.Channel
	event  chat.ChangeEvent
	ok     bool
}

type textSentMsg struct {
	chatID string
	text   string
	err    error
}

type previewUpdatedMsg struct {
	chatID string
	err    error
}

type fileSentMsg struct {
	object string
	step   string
	err    error
}

// --- Commands ---

func (m Model) checkSession() tea.Cmd {
	be, ctx := m.be, m.ctx
	return func() tea.Msg {
		id, err := be.CurrentIdentity(ctx)
		return sessionCheckedMsg{identity: id, err: err}
	}
}

func (m Model) signIn(email, password string) tea.Cmd {
	be, ctx := m.be, m.ctx
	return func() tea.Msg {
		id, err := be.SignInWithPassword(ctx, email, password)
		return signedInMsg{identity: id, err: err}
	}
}

func (m Model) signOut() tea.Cmd {
	be, ctx := m.be, m.ctx
	return func() tea.Msg {
		return signedOutMsg{err: be.SignOut(ctx)}
	}
}

func (m Model) loadChats(seq int) tea.Cmd {
	be, ctx := m.be, m.ctx
	return func() tea.Msg {
		chats, err := be.ListChats(ctx)
		return chatsLoadedMsg{seq: seq, chats: chats, err: err}
	}
}

func (m Model) subscribeChats(session int) tea.Cmd {
	be, ctx := m.be, m.ctx
	return func() tea.Msg {
		ch, err := be.Subscribe(ctx, chat.Subscription{Table: backend.TableChats, Event: chat.EventAll})
		return chatsSubscribedMsg{session: session, ch: ch, err: err}
	}
}

func (m Model) loadMessages(gen int, chatID string, page chat.Page, older bool) tea.Cmd {
	be, ctx := m.be, m.ctx
	return func() tea.Msg {
		msgs, err := be.ListMessages(ctx, chatID, page)
		return messagesLoadedMsg{gen: gen, older: older, messages: msgs, err: err}
	}
}

func (m Model) subscribeMessages(gen int, chatID string) tea.Cmd {
	be, ctx := m.be, m.ctx
	return func() tea.Msg {
		ch, err := be.Subscribe(ctx, chat.Subscription{
			Table:  backend.TableMessages,
			Event:  chat.EventInsert,
			Filter: &chat.Eq{Column: "chat_id", Value: chatID},
		})
		return messagesSubscribedMsg{gen: gen, ch: ch, err: err}
	}
}

func waitForEvent(src eventSource, gen int, ch backend.Channel) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch.Events()
		return channelEventMsg{source: src, gen: gen, ch: ch, event: ev, ok: ok}
	}
}

func (m Model) sendText(chatID, senderID, text string) tea.Cmd {
	be, ctx := m.be, m.ctx
	return func() tea.Msg {
		_, err := be.InsertMessage(ctx, chat.NewTextMessage(chatID, senderID, text))
		return textSentMsg{chatID: chatID, text: text, err: err}
	}
}

func (m Model) updatePreview(chatID, preview string) tea.Cmd {
	be, ctx := m.be, m.ctx
	return func() tea.Msg {
		return previewUpdatedMsg{chatID: chatID, err: be.SetLastMessage(ctx, chatID, preview)}
	}
}

// objectName names an upload after the send time, keeping the file's
// extension. A name without a dot is used whole as the extension.
func objectName(fileName string, unixMillis int64) string {
	ext := fileName
	if i := strings.LastIndex(fileName, "."); i >= 0 {
		ext = fileName[i+1:]
	}
	return fmt.Sprintf("%d.%s", unixMillis, ext)
}

// sendFile uploads the file, then records it as a message and updates the
// preview. The first failing step ends the sequence.
func (m Model) sendFile(chatID, senderID string, f chat.FileUpload, object string) tea.Cmd {
	be, ctx := m.be, m.ctx
	return func() tea.Msg {
		file, err := os.Open(f.Path)
		if err != nil {
			return fileSentMsg{object: object, step: "open", err: err}
		}
		defer file.Close()

		opts := backend.UploadOptions{ContentType: f.Type, CacheControl: "3600"}
		if err := be.Upload(ctx, object, file, opts); err != nil {
			return fileSentMsg{object: object, step: "upload", err: err}
		}

		url := be.PublicURL(object)
		if _, err := be.InsertMessage(ctx, chat.NewAttachmentMessage(chatID, senderID, url, f.Type)); err != nil {
			return fileSentMsg{object: object, step: "insert", err: err}
		}

		if err := be.SetLastMessage(ctx, chatID, backend.AttachmentPreview); err != nil {
			return fileSentMsg{object: object, step: "preview", err: err}
		}
		return fileSentMsg{object: object}
	}
}
