package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ashureev/wardline/internal/chat"
	"github.com/ashureev/wardline/internal/connectivity"
	"github.com/ashureev/wardline/internal/domain"
	"github.com/ashureev/wardline/internal/notify"
	"github.com/ashureev/wardline/internal/session"
)

const actionTimeout = 2 * time.Minute

type (
	scopeMsg        chat.StateChange
	connMsg         connectivity.Event
	noteMsg         notify.Notification
	storeChangedMsg struct{}
	departmentsMsg  struct {
		departments []domain.Department
		err         error
	}
	actionDoneMsg struct {
		status string
		err    error
	}
)

type uiTheme struct {
	header   lipgloss.Style
	dateKey  lipgloss.Style
	sender   lipgloss.Style
	muted    lipgloss.Style
	online   lipgloss.Style
	offline  lipgloss.Style
	errorMsg lipgloss.Style
	footer   lipgloss.Style
}

func newTheme() uiTheme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")

	return uiTheme{
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(blue).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(muted),
		dateKey:  lipgloss.NewStyle().Foreground(muted).Bold(true),
		sender:   lipgloss.NewStyle().Foreground(blue),
		muted:    lipgloss.NewStyle().Foreground(muted),
		online:   lipgloss.NewStyle().Foreground(mint).Bold(true),
		offline:  lipgloss.NewStyle().Foreground(pink).Bold(true),
		errorMsg: lipgloss.NewStyle().Foreground(pink),
		footer:   lipgloss.NewStyle().Foreground(muted),
	}
}

// backend is the part of session.Session the UI drives.
type backend interface {
	SelectDepartment(ctx context.Context, departmentID domain.ID) error
	Refresh(ctx context.Context) error
	Send(ctx context.Context, text string) error
	Departments(ctx context.Context) ([]domain.Department, error)
}

type model struct {
	sess   backend
	groups func() []domain.MessageGroup
	events <-chan tea.Msg
	theme  uiTheme

	input      textinput.Model
	transcript viewport.Model
	ready      bool

	initialDept domain.ID
	departments []domain.Department
	scope       domain.ChatScope
	online      bool
	note        *notify.Notification
	status      string
}

func newModel(sess *session.Session, events <-chan tea.Msg, initialDept domain.ID) model {
	m := newModelWith(sess, sess.Store.Groups, events)
	m.initialDept = initialDept
	return m
}

func newModelWith(sess backend, groups func() []domain.MessageGroup, events <-chan tea.Msg) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 2000
	input.Placeholder = "Type a message, /dept <id>, /depts, /refresh or /quit"
	input.Focus()

	transcript := viewport.New(0, 0)
	transcript.MouseWheelEnabled = true

	return model{
		sess:       sess,
		groups:     groups,
		events:     events,
		theme:      newTheme(),
		input:      input,
		transcript: transcript,
		online:     true,
		status:     "starting...",
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, waitEvent(m.events), m.listDepartments()}
	if m.initialDept != "" {
		cmds = append(cmds, m.selectDepartment(m.initialDept))
	}
	return tea.Batch(cmds...)
}

func waitEvent(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.transcript.Width = msg.Width
		m.transcript.Height = max(msg.Height-4, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.ready = true
		m.render()
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" {
				break
			}
			if cmd := m.handleLine(line); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
	case scopeMsg:
		m.scope = domain.ChatScope{DepartmentID: msg.DepartmentID, SocketState: msg.State}
		cmds = append(cmds, waitEvent(m.events))
	case connMsg:
		m.online = msg.Status == connectivity.StatusConnected
		cmds = append(cmds, waitEvent(m.events))
	case noteMsg:
		n := notify.Notification(msg)
		m.note = &n
		cmds = append(cmds, waitEvent(m.events))
	case storeChangedMsg:
		m.render()
		cmds = append(cmds, waitEvent(m.events))
	case departmentsMsg:
		if msg.err != nil {
			m.status = "could not load departments"
			break
		}
		m.departments = msg.departments
		m.status = "departments: " + departmentList(msg.departments)
	case actionDoneMsg:
		if msg.err != nil {
			m.status = "error: " + msg.err.Error()
		} else if msg.status != "" {
			m.status = msg.status
		}
		m.render()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.transcript, cmd = m.transcript.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handleLine dispatches slash commands; anything else is a chat message.
func (m *model) handleLine(line string) tea.Cmd {
	if !strings.HasPrefix(line, "/") {
		return m.send(line)
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/q":
		return tea.Quit
	case "/dept", "/d":
		if len(fields) < 2 {
			m.status = "usage: /dept <id>"
			return nil
		}
		return m.selectDepartment(domain.ID(fields[1]))
	case "/depts":
		return m.listDepartments()
	case "/refresh", "/r":
		return m.refresh()
	default:
		m.status = "unknown command " + fields[0]
		return nil
	}
}

func (m model) selectDepartment(id domain.ID) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := sess.SelectDepartment(ctx, id); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{status: "joined " + id.String()}
	}
}

func (m model) refresh() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := sess.Refresh(ctx); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{status: "history refreshed"}
	}
}

func (m model) send(text string) tea.Cmd {
	sess := m.sess
	open := m.scope.SocketState == domain.SocketOpen
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := sess.Send(ctx, text); err != nil {
			return actionDoneMsg{err: err}
		}
		if !open {
			return actionDoneMsg{status: "not connected, message dropped"}
		}
		return actionDoneMsg{}
	}
}

func (m model) listDepartments() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		depts, err := sess.Departments(ctx)
		return departmentsMsg{departments: depts, err: err}
	}
}

func (m *model) render() {
	if !m.ready {
		return
	}
	m.transcript.SetContent(renderGroups(m.theme, m.groups()))
	m.transcript.GotoBottom()
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}
	title := "wardline"
	if m.scope.DepartmentID != "" {
		title += " · " + m.scope.DepartmentID.String()
	}
	return strings.Join([]string{
		m.theme.header.Render(title),
		m.transcript.View(),
		m.input.View(),
		m.statusLine(),
	}, "\n")
}

func (m model) statusLine() string {
	conn := m.theme.online.Render("● online")
	if !m.online {
		conn = m.theme.offline.Render("● offline")
	}
	parts := []string{conn, m.theme.muted.Render("socket " + m.scope.SocketState.String())}
	if m.note != nil {
		style := m.theme.footer
		if m.note.Level == notify.LevelError || m.note.Level == notify.LevelWarning {
			style = m.theme.errorMsg
		}
		parts = append(parts, style.Render(m.note.Message))
	}
	if m.status != "" {
		parts = append(parts, m.theme.footer.Render(m.status))
	}
	return strings.Join(parts, "  ")
}

func renderGroups(theme uiTheme, groups []domain.MessageGroup) string {
	if len(groups) == 0 {
		return theme.muted.Render("No messages yet.")
	}
	var b strings.Builder
	for i, g := range groups {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(theme.dateKey.Render("── " + g.DateKey + " ──"))
		b.WriteString("\n")
		for _, msg := range g.Messages {
			at := "--:--"
			if !msg.CreatedAt.IsZero() {
				at = msg.CreatedAt.Local().Format("15:04")
			}
			sender := msg.SenderID.String()
			if sender == "" {
				sender = "unknown"
			}
			if msg.SenderDepartmentID != "" {
				sender += "@" + msg.SenderDepartmentID.String()
			}
			fmt.Fprintf(&b, "%s %s %s\n", theme.muted.Render(at), theme.sender.Render(sender+":"), msg.Text)
		}
	}
	return b.String()
}

func departmentList(depts []domain.Department) string {
	if len(depts) == 0 {
		return "none"
	}
	names := make([]string, 0, len(depts))
	for _, d := range depts {
		names = append(names, fmt.Sprintf("%s (%s)", d.ID, d.Name))
	}
	return strings.Join(names, ", ")
}
