package ui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sjoeboo/loopbot/internal/api"
	"github.com/sjoeboo/loopbot/internal/brainstorm"
	"github.com/sjoeboo/loopbot/internal/notify"
	"github.com/sjoeboo/loopbot/internal/task"
)

// Snapshot is everything the dashboard shows at one refresh.
type Snapshot struct {
	Tasks       []api.TaskView
	Queues      map[string][]task.QueuedTask
	Brainstorms []brainstorm.Session
}

// Fetcher loads a fresh snapshot.
type Fetcher func(ctx context.Context) (Snapshot, error)

const maxEvents = 6

type (
	snapshotMsg struct {
		snap Snapshot
		err  error
		at   time.Time
	}
	tickMsg  struct{}
	eventMsg notify.Event
	// feedClosedMsg means the event stream ended.
	feedClosedMsg struct{}
)

// Dashboard is the bubbletea model behind `loopbot watch`.
type Dashboard struct {
	ctx      context.Context
	fetch    Fetcher
	events   <-chan notify.Event
	interval time.Duration

	table   table.Model
	spinner spinner.Model

	snap      Snapshot
	err       error
	fetchedAt time.Time
	loading   bool
	recent    []notify.Event
	width     int
}

// NewDashboard polls fetch every interval. events may be nil.
func NewDashboard(ctx context.Context, fetch Fetcher, events <-chan notify.Event, interval time.Duration) Dashboard {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := table.New(
		table.WithColumns(columns(100)),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Foreground(colors.Text).BorderForeground(colors.Border).Bold(true)
	styles.Selected = SelectedStyle
	t.SetStyles(styles)

	return Dashboard{
		ctx:      ctx,
		fetch:    fetch,
		events:   events,
		interval: interval,
		table:    t,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(SpinnerStyle)),
		loading:  true,
	}
}

func columns(width int) []table.Column {
	project := max(12, width-62)
	return []table.Column{
		{Title: "Project", Width: project},
		{Title: "Mode", Width: 6},
		{Title: "Progress", Width: 20},
		{Title: "Elapsed", Width: 10},
		{Title: "Queued", Width: 6},
		{Title: "Status", Width: 10},
	}
}

func (m Dashboard) Init() tea.Cmd {
	return tea.Batch(m.load(), m.spinner.Tick, m.listen())
}

func (m Dashboard) load() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
		defer cancel()
		snap, err := m.fetch(ctx)
		return snapshotMsg{snap: snap, err: err, at: time.Now()}
	}
}

func (m Dashboard) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m Dashboard) listen() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return feedClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, m.load()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.table.SetColumns(columns(msg.Width))
		m.table.SetHeight(max(4, msg.Height/2))
		return m, nil
	case snapshotMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.fetchedAt = msg.at
			m.table.SetRows(rows(msg.snap))
		}
		return m, m.tick()
	case tickMsg:
		m.loading = true
		return m, m.load()
	case eventMsg:
		m.recent = append(m.recent, notify.Event(msg))
		if len(m.recent) > maxEvents {
			m.recent = m.recent[len(m.recent)-maxEvents:]
		}
		// Events usually mean the task list changed.
		return m, tea.Batch(m.listen(), m.load())
	case feedClosedMsg:
		m.events = nil
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// rows lists running tasks first, then projects that only have a queue.
func rows(s Snapshot) []table.Row {
	queued := make(map[string]int, len(s.Queues))
	for path, q := range s.Queues {
		queued[path] = len(q)
	}

	out := make([]table.Row, 0, len(s.Tasks)+len(s.Queues))
	seen := make(map[string]bool, len(s.Tasks))
	for _, t := range s.Tasks {
		seen[t.ProjectPath] = true
		out = append(out, table.Row{
			t.Project,
			t.Mode.Title(),
			progressCell(t),
			t.Elapsed,
			countCell(queued[t.ProjectPath]),
			statusCell(t),
		})
	}

	var waiting []table.Row
	for path, q := range s.Queues {
		if seen[path] || len(q) == 0 {
			continue
		}
		waiting = append(waiting, table.Row{q[0].Project, q[0].Mode.Title(), "", "", countCell(len(q)), "queued"})
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i][0] < waiting[j][0] })
	return append(out, waiting...)
}

func progressCell(t api.TaskView) string {
	if !t.HasIteration || t.Iterations <= 0 {
		return fmt.Sprintf("?/%d", t.Iterations)
	}
	pct := t.Iteration * 100 / t.Iterations
	return fmt.Sprintf("%s %d/%d", notify.ProgressBar(pct), t.Iteration, t.Iterations)
}

func countCell(n int) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprint(n)
}

func statusCell(t api.TaskView) string {
	if t.StaleWarned {
		return "stale"
	}
	return string(t.Status)
}

func (m Dashboard) View() string {
	var b strings.Builder

	title := TitleStyle.Render("loopbot")
	if m.loading {
		title += " " + m.spinner.View()
	}
	if !m.fetchedAt.IsZero() {
		title += DimStyle.Render("  updated " + m.fetchedAt.Format("15:04:05"))
	}
	b.WriteString(title + "\n\n")

	if m.err != nil {
		b.WriteString(ErrorStyle.Render("✗ "+m.err.Error()) + "\n\n")
	}

	if len(m.table.Rows()) == 0 {
		b.WriteString(DimStyle.Render("No running or queued tasks.") + "\n")
	} else {
		b.WriteString(m.table.View() + "\n")
	}

	if len(m.snap.Brainstorms) > 0 {
		b.WriteString("\n" + HeaderStyle.Render("Brainstorms") + "\n")
		for _, s := range m.snap.Brainstorms {
			line := fmt.Sprintf("  %s  %s  %d turns  %s", s.Project, s.Status, len(s.Conversation)/2, s.InitialPrompt)
			b.WriteString(Truncate(line, m.lineWidth()) + "\n")
		}
	}

	if len(m.recent) > 0 {
		b.WriteString("\n" + HeaderStyle.Render("Recent") + "\n")
		for i := len(m.recent) - 1; i >= 0; i-- {
			ev := m.recent[i]
			first, _, _ := strings.Cut(ev.Text, "\n")
			line := fmt.Sprintf("  %s %s", ev.Time.Format("15:04"), first)
			b.WriteString(eventStyle(ev.Kind).Render(Truncate(line, m.lineWidth())) + "\n")
		}
	}

	b.WriteString("\n" + help())
	return b.String()
}

func (m Dashboard) lineWidth() int {
	if m.width <= 0 {
		return 100
	}
	return m.width
}

func eventStyle(k notify.Kind) lipgloss.Style {
	switch k {
	case notify.KindTaskStale, notify.KindQueueExpired:
		return WarningStyle
	case notify.KindTaskStartFailed:
		return ErrorStyle
	case notify.KindTaskCompleted:
		return SuccessStyle
	}
	return DimStyle
}

func help() string {
	keys := []struct{ key, desc string }{{"↑/↓", "select"}, {"r", "refresh"}, {"q", "quit"}}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, HelpKeyStyle.Render(k.key)+" "+HelpDescStyle.Render(k.desc))
	}
	return strings.Join(parts, DimStyle.Render(" • "))
}

// RunDashboard runs the dashboard on the terminal until the user quits or
// ctx is cancelled.
func RunDashboard(ctx context.Context, fetch Fetcher, events <-chan notify.Event, interval time.Duration) error {
	p := tea.NewProgram(NewDashboard(ctx, fetch, events, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
