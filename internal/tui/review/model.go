package review

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/courier/internal/auth"
	"github.com/mattjoyce/courier/internal/events"
)

// maxDecisions is how many recent decisions stay on screen.
const maxDecisions = 8

type decision struct {
	verb string
	req  auth.PendingRequest
	at   time.Time
}

// Model is the bubbletea model for the review screen.
type Model struct {
	client Client
	ctx    context.Context
	cancel context.CancelFunc

	width  int
	height int

	requests  []auth.PendingRequest
	table     table.Model
	decisions []decision

	hubEvents   chan events.Event
	lastEventID int64
	connected   bool
	lastError   string

	theme Theme
	now   func() time.Time
}

func New(ctx context.Context, c Client) Model {
	ctx, cancel := context.WithCancel(ctx)

	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(lipgloss.Color("#61AFEF"))
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#874BFD"))
	t.SetStyles(styles)

	return Model{
		client:    c,
		ctx:       ctx,
		cancel:    cancel,
		table:     t,
		hubEvents: make(chan events.Event, 100),
		theme:     NewDefaultTheme(),
		now:       time.Now,
	}
}

// Run shows the review screen until the operator quits.
func Run(ctx context.Context, c Client) error {
	_, err := tea.NewProgram(New(ctx, c), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func columns(width int) []table.Column {
	scopes := max(width-4-38-24-20, 20)
	return []table.Column{
		{Title: "Request", Width: 38},
		{Title: "Identity", Width: 24},
		{Title: "Scopes", Width: scopes},
		{Title: "Requested", Width: 20},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		fetchPending(m.client),
		subscribe(m.ctx, m.client, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		schedulePoll(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		case "a":
			if req, ok := m.selected(); ok {
				return m, decide(m.client, "approved", req.ID)
			}
			return m, nil
		case "d":
			if req, ok := m.selected(); ok {
				return m, decide(m.client, "denied", req.ID)
			}
			return m, nil
		case "r":
			return m, fetchPending(m.client)
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(columns(msg.Width))
		m.table.SetHeight(max(msg.Height-16, 3))

	case pendingMsg:
		if msg.err != nil {
			m.lastError = fmt.Sprintf("list pending: %v", msg.err)
			return m, nil
		}
		m.lastError = ""
		m.setRequests(msg.requests)

	case decidedMsg:
		if msg.err != nil {
			m.lastError = fmt.Sprintf("request %s not %s: %v", msg.req.ID, msg.verb, msg.err)
			// The request may have been decided elsewhere.
			return m, fetchPending(m.client)
		}
		m.lastError = ""
		m.decisions = append([]decision{{verb: msg.verb, req: msg.req, at: m.now()}}, m.decisions...)
		if len(m.decisions) > maxDecisions {
			m.decisions = m.decisions[:maxDecisions]
		}
		m.setRequests(slices.DeleteFunc(slices.Clone(m.requests), func(r auth.PendingRequest) bool {
			return r.ID == msg.req.ID
		}))
		return m, fetchPending(m.client)

	case eventMsg:
		m.connected = true
		if msg.ID > m.lastEventID {
			m.lastEventID = msg.ID
		}
		if isGrantEvent(msg.Type) {
			return m, tea.Batch(fetchPending(m.client), receiveNextEvent(m.hubEvents))
		}
		return m, receiveNextEvent(m.hubEvents)

	case streamClosedMsg:
		m.connected = false
		if m.ctx.Err() != nil {
			return m, nil
		}
		if msg.err != nil {
			m.lastError = fmt.Sprintf("event stream: %v; reconnecting", msg.err)
		}
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribe(m.ctx, m.client, m.lastEventID, m.hubEvents)

	case pollMsg:
		return m, tea.Batch(fetchPending(m.client), schedulePoll())
	}

	return m, nil
}

func (m Model) selected() (auth.PendingRequest, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.requests) {
		return auth.PendingRequest{}, false
	}
	return m.requests[i], true
}

func (m *Model) setRequests(reqs []auth.PendingRequest) {
	m.requests = reqs
	rows := make([]table.Row, 0, len(reqs))
	for _, r := range reqs {
		rows = append(rows, table.Row{
			r.ID,
			r.Identity,
			strings.Join(r.Scopes, ", "),
			r.RequestedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	m.table.SetRows(rows)
	if c := m.table.Cursor(); c >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
}

func (m Model) View() string {
	status := m.theme.Failed.Render("● disconnected")
	if m.connected {
		status = m.theme.Approved.Render("● live")
	}
	title := lipgloss.JoinHorizontal(lipgloss.Top,
		m.theme.Title.Render("courier grant review"),
		" ",
		status,
		" ",
		m.theme.Pending.Render(fmt.Sprintf("%d pending", len(m.requests))),
	)

	var body string
	if len(m.requests) == 0 {
		body = m.theme.Dim.Render("No pending scope requests.")
	} else {
		body = m.table.View()
	}

	parts := []string{title, m.theme.Border.Render(body), m.renderDecisions()}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, m.theme.Dim.Render(" [a] Approve • [d] Deny • [r] Refresh • [↑/↓] Select • [q] Quit"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderDecisions() string {
	if len(m.decisions) == 0 {
		return ""
	}
	lines := []string{m.theme.Header.Render("Recent decisions")}
	for _, d := range m.decisions {
		style := m.theme.Approved
		if d.verb == "denied" {
			style = m.theme.Denied
		}
		lines = append(lines, fmt.Sprintf("%s %s %s %s",
			m.theme.Dim.Render(d.at.Format("15:04:05")),
			style.Render(fmt.Sprintf("%-8s", d.verb)),
			m.theme.Highlight.Render(d.req.Identity),
			strings.Join(d.req.Scopes, ", "),
		))
	}
	return strings.Join(lines, "\n")
}
