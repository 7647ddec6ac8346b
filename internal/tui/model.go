// Package tui is a bubbletea live view of one group's ledger.
package tui

import (
	"strings"
	"sync/atomic"

	"github.com/adamavenir/ledgersync/internal/nav"
	"github.com/adamavenir/ledgersync/internal/session"
	"github.com/adamavenir/ledgersync/internal/types"
	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
)

const (
	headerHeight = 2
	footerHeight = 2
)

type changeMsg struct{}

// Model renders the selected group of a session.
type Model struct {
	session     *session.Session
	changes     chan struct{}
	unsubscribe func()
	copy        func(string) error

	viewport viewport.Model
	ready    bool
	width    int
	height   int

	events []types.Event
	focus  int
	follow bool
	status string

	// lastError is written from session goroutines.
	lastError atomic.Value
}

// NewModel subscribes to s. Call Close when the program exits.
func NewModel(s *session.Session) *Model {
	m := &Model{
		session: s,
		changes: make(chan struct{}, 1),
		copy:    clipboard.WriteAll,
		focus:   -1,
		follow:  true,
	}
	m.unsubscribe = s.Subscribe(func(change session.Change) {
		if change.Kind == session.ChangeError && change.Err != nil {
			m.lastError.Store(change.Err.Error())
		}
		select {
		case m.changes <- struct{}{}:
		default:
		}
	})
	return m
}

// Run starts the program and blocks until it exits.
func Run(s *session.Session) error {
	m := NewModel(s)
	defer m.Close()
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion()).Run()
	return err
}

func (m *Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

func (m *Model) Init() tea.Cmd {
	return m.waitForChange()
}

func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.changes
		return changeMsg{}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		height := msg.Height - headerHeight - footerHeight
		if height < 1 {
			height = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.refresh()
	case changeMsg:
		m.refresh()
		cmds = append(cmds, m.waitForChange())
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "y":
			m.copyFocusedAddress()
		case "n":
			m.moveFocus(1)
		case "p":
			m.moveFocus(-1)
		case "G", "end":
			m.follow = true
			m.focus = len(m.events) - 1
			m.refresh()
			m.viewport.GotoBottom()
		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
		}
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.ready {
		m.session.SetView(true, m.viewport.AtBottom())
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) refresh() {
	m.events = m.session.Events()
	if m.follow || m.focus >= len(m.events) {
		m.focus = len(m.events) - 1
	}
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	store := m.session.Ledger()
	lines := make([]string, 0, len(m.events))
	for i, ev := range m.events {
		lines = append(lines, renderEvent(ev, store, m.width, i == m.focus))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) moveFocus(delta int) {
	if len(m.events) == 0 {
		return
	}
	m.focus += delta
	if m.focus < 0 {
		m.focus = 0
	}
	if m.focus >= len(m.events) {
		m.focus = len(m.events) - 1
	}
	m.follow = m.focus == len(m.events)-1
	m.refresh()
}

func (m *Model) focused() (types.Event, bool) {
	if m.focus < 0 || m.focus >= len(m.events) {
		return types.Event{}, false
	}
	return m.events[m.focus], true
}

func (m *Model) copyFocusedAddress() {
	ev, ok := m.focused()
	if !ok {
		m.status = "Nothing to copy."
		return
	}
	address := nav.Address(m.session.Selected().GroupID, ev.ID)
	if err := m.copy(address); err != nil {
		m.status = err.Error()
		return
	}
	m.status = "Copied " + address + " to clipboard."
}

func (m *Model) View() string {
	if !m.ready {
		return "loading…"
	}
	return m.header() + "\n" + m.viewport.View() + "\n" + m.footer()
}

func (m *Model) header() string {
	group := m.session.Group()
	title := group.Title
	if title == "" {
		title = group.ID
	}
	if label := group.ScopeLabel(); label != "" {
		title += metaStyle.Render(" · " + label)
	}
	right := connectionLabel(m.session.ConnectionStatus())
	line := alignStatusLine(headerStyle.Render(title), right, m.width)

	badges := pendingBadges(m.session.UnreadCount(), m.session.PendingAcks(), m.session.PendingReplies())
	if group.UpdatedAt != "" {
		if updated := (types.Event{TS: group.UpdatedAt}).Time(); !updated.IsZero() {
			badges = append(badges, "updated "+humanize.Time(updated))
		}
	}
	return line + "\n" + metaStyle.Render(strings.Join(badges, " · "))
}

func (m *Model) footer() string {
	status := m.status
	if status == "" {
		if lastError, ok := m.lastError.Load().(string); ok {
			status = lastError
		}
	}
	detail := ""
	if ev, ok := m.focused(); ok {
		if waiting := pendingObservers(m.session.Ledger().AckStatus(ev.ID)); len(waiting) > 0 {
			detail = "awaiting ack: " + strings.Join(waiting, ", ")
		} else if waiting := pendingObservers(m.session.Ledger().ReadStatus(ev.ID)); len(waiting) > 0 {
			detail = "unread by: " + strings.Join(waiting, ", ")
		}
	}
	help := metaStyle.Render("n/p focus · y copy link · G follow · q quit")
	return metaStyle.Render(detail) + "\n" + alignStatusLine(status, help, m.width)
}
