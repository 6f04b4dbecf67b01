// Package app is the terminal chat client: a bubbletea model with a login
// form, a searchable conversation list, a live message thread and a composer
// that sends text and files. Every platform call goes through the injected
// backend.Backend.
package app

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/cloudzz-dev/periskope/internal/backend"
	"github.com/cloudzz-dev/periskope/internal/chat"
)

const (
	defaultPageSize = 50
	railWidth       = 5
	sidebarWidth    = 34
)

// --- Routes ---

type route int

const (
	routeLoading route = iota
	routeLogin
	routeChat
)

type focus int

const (
	focusSearch focus = iota
	focusList
	focusComposer
)

type Options struct {
	Backend  backend.Backend
	Logger   *zap.Logger
	PageSize int

	// StartDir is where the file picker opens.
	StartDir string

	// Now and Location drive timestamps, day separators and upload names.
	Now      func() time.Time
	Location *time.Location

	Context context.Context
}

// --- Model ---

type Model struct {
	be       backend.Backend
	logger   *zap.Logger
	ctx      context.Context
	pageSize int
	now      func() time.Time
	loc      *time.Location

	// listen drains one realtime channel; replaced in tests.
	listen func(src eventSource, gen int, ch backend.Channel) tea.Cmd

	route    route
	identity *chat.Identity

	// Login
	emailInput    textinput.Model
	passwordInput textinput.Model
	loginFocused  int // 0=email, 1=password
	loginErr      string
	signingIn     bool

	// Conversations
	chats        []chat.Conversation
	searchInput  textinput.Model
	cursor       int
	chatsSeq     int
	chatsApplied int
	chatsCh      backend.Channel
	session      int

	// Thread
	selected     *chat.Conversation
	gen          int
	messages     []chat.Message
	hasOlder     bool
	loadingOlder bool
	msgCh        backend.Channel
	thread       viewport.Model

	// Composer
	composer textinput.Model
	focus    focus

	// Attachments
	picker     filepicker.Model
	picking    bool
	pending    *chat.FileUpload
	confirming bool
	uploading  bool

	width  int
	height int
}

func New(opts Options) Model {
	emailInput := textinput.New()
	emailInput.Placeholder = "Email"
	emailInput.Focus()
	emailInput.CharLimit = 254
	emailInput.Width = 30

	passwordInput := textinput.New()
	passwordInput.Placeholder = "Password"
	passwordInput.EchoMode = textinput.EchoPassword
	passwordInput.CharLimit = 128
	passwordInput.Width = 30

	searchInput := textinput.New()
	searchInput.Placeholder = "Search chats"
	searchInput.Prompt = "/ "
	searchInput.CharLimit = 64
	searchInput.Width = sidebarWidth - 6

	composer := textinput.New()
	composer.Placeholder = "Type a message..."
	composer.CharLimit = 4000
	composer.Width = 50

	m := Model{
		be:            opts.Backend,
		logger:        opts.Logger,
		ctx:           opts.Context,
		pageSize:      opts.PageSize,
		now:           opts.Now,
		loc:           opts.Location,
		listen:        waitForEvent,
		route:         routeLoading,
		emailInput:    emailInput,
		passwordInput: passwordInput,
		searchInput:   searchInput,
		composer:      composer,
		thread:        viewport.New(80, 20),
		picker:        newPicker(opts.StartDir),
		width:         100,
		height:        30,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.ctx == nil {
		m.ctx = context.Background()
	}
	if m.pageSize <= 0 {
		m.pageSize = defaultPageSize
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.loc == nil {
		m.loc = time.Local
	}
	return m
}

func newPicker(dir string) filepicker.Model {
	fp := filepicker.New()
	if dir != "" {
		fp.CurrentDirectory = dir
	}
	fp.ShowPermissions = false
	fp.AutoHeight = false
	fp.Height = 12
	return fp
}

// --- Init ---

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.checkSession(),
	)
}

// visibleChats is the conversation list after the search filter.
func (m Model) visibleChats() []chat.Conversation {
	return chat.FilterByName(m.chats, m.searchInput.Value())
}
