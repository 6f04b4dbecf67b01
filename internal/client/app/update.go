package app

import (
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/cloudzz-dev/periskope/internal/backend"
	"github.com/cloudzz-dev/periskope/internal/chat"
)

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.releaseSubscriptions()
			return m, tea.Quit
		}
		switch m.route {
		case routeLogin:
			return m.updateLogin(msg)
		case routeChat:
			return m.updateChat(msg)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.picker, _ = m.picker.Update(msg)
		return m, nil

	case sessionCheckedMsg:
		if msg.err != nil || msg.identity == nil {
			m.logger.Info("no active session", zap.Error(msg.err))
			m.route = routeLogin
			return m, nil
		}
		return m.enterChat(msg.identity)

	case signedInMsg:
		m.signingIn = false
		if msg.err != nil {
			m.loginErr = backend.ErrorMessage(msg.err)
			m.logger.Warn("sign in failed", zap.Error(msg.err))
			return m, nil
		}
		m.loginErr = ""
		m.passwordInput.SetValue("")
		return m.enterChat(msg.identity)

	case signedOutMsg:
		if msg.err != nil {
			m.logger.Warn("sign out failed", zap.Error(msg.err))
		}
		return m, nil

	case chatsLoadedMsg:
		return m.applyChats(msg), nil

	case chatsSubscribedMsg:
		if msg.err != nil {
			m.logger.Error("subscribe to chats failed", zap.Error(msg.err))
			return m, nil
		}
		if msg.session != m.session || m.route != routeChat {
			msg.ch.Unsubscribe()
			return m, nil
		}
		m.chatsCh = msg.ch
		return m, m.listen(sourceChats, msg.session, msg.ch)

	case messagesLoadedMsg:
		return m.applyMessages(msg), nil

	case messagesSubscribedMsg:
		if msg.err != nil {
			m.logger.Error("subscribe to messages failed", zap.Int("generation", msg.gen), zap.Error(msg.err))
			return m, nil
		}
		if msg.gen != m.gen || m.selected == nil {
			m.logger.Debug("releasing stale message subscription", zap.Int("generation", msg.gen))
			msg.ch.Unsubscribe()
			return m, nil
		}
		m.msgCh = msg.ch
		return m, m.listen(sourceMessages, msg.gen, msg.ch)

	case channelEventMsg:
		return m.handleEvent(msg)

	case textSentMsg:
		if msg.err != nil {
			m.logger.Error("send message failed", zap.String("chat_id", msg.chatID), zap.Error(msg.err))
			return m, nil
		}
		m.composer.SetValue("")
		return m, m.updatePreview(msg.chatID, msg.text)

	case previewUpdatedMsg:
		if msg.err != nil {
			m.logger.Warn("update last message failed", zap.String("chat_id", msg.chatID), zap.Error(msg.err))
		}
		return m, nil

	case fileSentMsg:
		if msg.err != nil {
			m.logger.Error("send file failed",
				zap.String("object", msg.object),
				zap.String("step", msg.step),
				zap.Error(msg.err),
			)
		} else {
			m.logger.Info("file sent", zap.String("object", msg.object))
		}
		m.uploading = false
		return m.resetPicker()
	}

	// Cursor blinks and directory listings.
	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)
	m.updateFocusedInput(msg)
	return m, cmd
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	main := m.mainWidth()
	m.thread.Width = main
	m.thread.Height = max(height-7, 3)
	m.composer.Width = max(main-4, 10)
}

func (m Model) mainWidth() int {
	return max(m.width-railWidth-sidebarWidth-2, 20)
}

func (m *Model) updateFocusedInput(msg tea.Msg) {
	switch m.route {
	case routeLogin:
		if m.loginFocused == 0 {
			m.emailInput, _ = m.emailInput.Update(msg)
		} else {
			m.passwordInput, _ = m.passwordInput.Update(msg)
		}
	case routeChat:
		switch m.focus {
		case focusSearch:
			m.searchInput, _ = m.searchInput.Update(msg)
		case focusComposer:
			m.composer, _ = m.composer.Update(msg)
		}
	}
}

// --- Login ---

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab", "up", "down":
		if m.loginFocused == 0 {
			m.loginFocused = 1
			m.emailInput.Blur()
			m.passwordInput.Focus()
		} else {
			m.loginFocused = 0
			m.passwordInput.Blur()
			m.emailInput.Focus()
		}
		return m, nil

	case "enter":
		if m.signingIn {
			return m, nil
		}
		m.signingIn = true
		m.loginErr = ""
		return m, m.signIn(m.emailInput.Value(), m.passwordInput.Value())
	}

	m.updateFocusedInput(msg)
	return m, nil
}

// enterChat switches to the chat screen for id and starts the conversation
// list: one load and one standing subscription for this sign-in.
func (m Model) enterChat(id *chat.Identity) (tea.Model, tea.Cmd) {
	m.identity = id
	m.route = routeChat
	m.session++
	m.setFocus(focusSearch)
	m.logger.Info("signed in", zap.String("user_id", id.ID))

	m.chatsSeq++
	return m, tea.Batch(
		m.loadChats(m.chatsSeq),
		m.subscribeChats(m.session),
	)
}

func (m Model) applyChats(msg chatsLoadedMsg) Model {
	if msg.seq <= m.chatsApplied {
		m.logger.Debug("dropping outdated chat list", zap.Int("seq", msg.seq))
		return m
	}
	if msg.err != nil {
		m.logger.Error("load chats failed", zap.Error(msg.err))
		return m
	}
	m.chatsApplied = msg.seq
	m.chats = msg.chats

	if m.selected != nil {
		for _, c := range m.chats {
			if c.ID == m.selected.ID {
				c := c
				m.selected = &c
				break
			}
		}
	}
	m.clampCursor()
	return m
}

func (m *Model) clampCursor() {
	n := len(m.visibleChats())
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// --- Chat screen ---

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirming {
		return m.updateConfirm(msg)
	}
	if m.picking {
		return m.updatePicker(msg)
	}

	switch msg.String() {
	case "tab":
		m.setFocus((m.focus + 1) % 3)
		return m, nil

	case "shift+tab":
		m.setFocus((m.focus + 2) % 3)
		return m, nil

	case "ctrl+x":
		return m.logout()

	case "ctrl+o":
		return m.loadOlder()

	case "ctrl+t":
		if m.selected == nil || m.uploading {
			return m, nil
		}
		m.picking = true
		return m, m.picker.Init()

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.thread, cmd = m.thread.Update(msg)
		return m, cmd

	case "enter":
		switch m.focus {
		case focusSearch:
			m.setFocus(focusList)
			return m, nil
		case focusList:
			visible := m.visibleChats()
			if m.cursor < len(visible) {
				return m.selectChat(visible[m.cursor])
			}
			return m, nil
		case focusComposer:
			return m.sendComposer()
		}
	}

	if m.focus == focusList {
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.visibleChats())-1 {
				m.cursor++
			}
		}
		return m, nil
	}

	m.updateFocusedInput(msg)
	if m.focus == focusSearch {
		m.clampCursor()
	}
	return m, nil
}

func (m *Model) setFocus(f focus) {
	m.focus = f
	m.searchInput.Blur()
	m.composer.Blur()
	switch f {
	case focusSearch:
		m.searchInput.Focus()
	case focusComposer:
		m.composer.Focus()
	}
}

// selectChat makes conv the open conversation. The previous message channel
// is released before the new page and subscription are requested, and both
// requests carry the new generation.
func (m Model) selectChat(conv chat.Conversation) (tea.Model, tea.Cmd) {
	m.gen++
	m.releaseMessages()

	m.selected = &conv
	m.messages = nil
	m.hasOlder = false
	m.loadingOlder = false
	m.refreshThread(true)
	m.setFocus(focusComposer)

	m.logger.Debug("chat selected", zap.String("chat_id", conv.ID), zap.Int("generation", m.gen))
	return m, tea.Batch(
		m.loadMessages(m.gen, conv.ID, chat.Page{Limit: m.pageSize}, false),
		m.subscribeMessages(m.gen, conv.ID),
	)
}

func (m Model) loadOlder() (tea.Model, tea.Cmd) {
	if m.selected == nil || !m.hasOlder || m.loadingOlder || len(m.messages) == 0 {
		return m, nil
	}
	m.loadingOlder = true
	page := chat.OlderPage(m.messages, m.pageSize)
	return m, m.loadMessages(m.gen, m.selected.ID, page, true)
}

func (m Model) applyMessages(msg messagesLoadedMsg) Model {
	if msg.gen != m.gen {
		m.logger.Debug("dropping stale messages", zap.Int("generation", msg.gen), zap.Int("current", m.gen))
		return m
	}
	if msg.older {
		m.loadingOlder = false
	}
	if msg.err != nil {
		m.logger.Error("load messages failed", zap.Error(msg.err))
		return m
	}

	m.hasOlder = len(msg.messages) >= m.pageSize
	if msg.older {
		m.messages = chat.PrependOlder(m.messages, msg.messages)
		m.refreshThread(false)
		m.thread.GotoTop()
		return m
	}

	// Inserts that arrived on the subscription before the page are kept.
	merged := append([]chat.Message(nil), msg.messages...)
	for _, live := range m.messages {
		merged = chat.InsertOrdered(merged, live)
	}
	m.messages = merged
	m.refreshThread(true)
	return m
}

func (m Model) handleEvent(msg channelEventMsg) (tea.Model, tea.Cmd) {
	switch msg.source {
	case sourceChats:
		if msg.ch != m.chatsCh {
			return m, nil
		}
		if !msg.ok {
			m.logger.Warn("chats subscription closed")
			m.chatsCh = nil
			return m, nil
		}
		m.chatsSeq++
		return m, tea.Batch(
			m.loadChats(m.chatsSeq),
			m.listen(sourceChats, msg.gen, msg.ch),
		)

	case sourceMessages:
		if msg.ch != m.msgCh || msg.gen != m.gen {
			return m, nil
		}
		if !msg.ok {
			m.logger.Warn("messages subscription closed", zap.Int("generation", msg.gen))
			m.msgCh = nil
			return m, nil
		}
		if msg.event.Type == chat.EventInsert {
			row, err := msg.event.Message()
			if err != nil {
				m.logger.Warn("undecodable message event", zap.Error(err))
			} else if m.selected != nil && row.ChatID == m.selected.ID {
				atBottom := m.thread.AtBottom()
				m.messages = chat.InsertOrdered(m.messages, row)
				m.refreshThread(atBottom)
			}
		}
		return m, m.listen(sourceMessages, msg.gen, msg.ch)
	}
	return m, nil
}

func (m *Model) releaseMessages() {
	if m.msgCh == nil {
		return
	}
	if err := m.msgCh.Unsubscribe(); err != nil {
		m.logger.Warn("unsubscribe messages failed", zap.Error(err))
	}
	m.msgCh = nil
}

func (m *Model) releaseSubscriptions() {
	m.releaseMessages()
	if m.chatsCh != nil {
		if err := m.chatsCh.Unsubscribe(); err != nil {
			m.logger.Warn("unsubscribe chats failed", zap.Error(err))
		}
		m.chatsCh = nil
	}
}

// logout drops every subscription and all signed-in state before asking the
// backend to end the session.
func (m Model) logout() (tea.Model, tea.Cmd) {
	m.releaseSubscriptions()
	m.gen++
	m.session++
	// Chat lists still in flight belong to the old sign-in.
	m.chatsApplied = m.chatsSeq

	m.identity = nil
	m.chats = nil
	m.cursor = 0
	m.selected = nil
	m.messages = nil
	m.hasOlder = false
	m.loadingOlder = false
	m.searchInput.SetValue("")
	m.composer.SetValue("")
	m.pending = nil
	m.confirming = false
	m.picking = false
	m.refreshThread(true)

	m.route = routeLogin
	m.loginFocused = 0
	m.passwordInput.Blur()
	m.emailInput.Focus()
	return m, m.signOut()
}

// --- Composer ---

func (m Model) sendComposer() (tea.Model, tea.Cmd) {
	text := m.composer.Value()
	switch {
	case strings.TrimSpace(text) == "":
		m.logger.Debug("not sending blank message")
		return m, nil
	case m.selected == nil:
		m.logger.Warn("no chat selected, message not sent")
		return m, nil
	case m.identity == nil:
		m.logger.Warn("no identity, message not sent")
		return m, nil
	}
	return m, m.sendText(m.selected.ID, m.identity.ID, text)
}

func (m Model) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "esc" {
		return m.resetPicker()
	}
	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)
	if ok, path := m.picker.DidSelectFile(msg); ok {
		return m.chooseFile(path)
	}
	return m, cmd
}

// chooseFile stages path for sending and asks for confirmation.
func (m Model) chooseFile(path string) (tea.Model, tea.Cmd) {
	info, err := os.Stat(path)
	if err != nil {
		m.logger.Warn("cannot read chosen file", zap.String("path", path), zap.Error(err))
		return m.resetPicker()
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(path); err == nil {
		contentType = mediaType(mt.String())
	} else {
		m.logger.Warn("content type detection failed", zap.String("path", path), zap.Error(err))
	}

	m.picking = false
	m.pending = &chat.FileUpload{
		Path: path,
		Name: filepath.Base(path),
		Type: contentType,
		Size: info.Size(),
	}
	m.confirming = true
	return m, nil
}

// mediaType strips parameters such as "; charset=utf-8".
func mediaType(s string) string {
	if i := strings.Index(s, ";"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func (m Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.confirming = false
		if m.pending == nil || m.selected == nil || m.identity == nil {
			m.logger.Warn("nothing to send")
			return m.resetPicker()
		}
		m.uploading = true
		object := objectName(m.pending.Name, m.now().UnixMilli())
		m.logger.Info("sending file", zap.String("name", m.pending.Name), zap.String("object", object))
		return m, m.sendFile(m.selected.ID, m.identity.ID, *m.pending, object)

	case "n", "N", "esc":
		m.logger.Debug("file send declined")
		m.confirming = false
		return m.resetPicker()
	}
	return m, nil
}

// resetPicker clears the staged file and reloads the picker in the same
// directory so the same file can be chosen again.
func (m Model) resetPicker() (tea.Model, tea.Cmd) {
	dir := m.picker.CurrentDirectory
	m.pending = nil
	m.confirming = false
	m.picking = false
	m.picker = newPicker(dir)
	m.picker, _ = m.picker.Update(tea.WindowSizeMsg{Width: m.width, Height: m.height})
	return m, m.picker.Init()
}
