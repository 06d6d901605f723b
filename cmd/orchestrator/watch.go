package main

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"

	"github.com/jenozu/orchestrator/pkg/protocol"
	"github.com/jenozu/orchestrator/pkg/runlog"
)

// theme holds the colors used by the watch view.
type theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

func defaultTheme() theme {
	return theme{
		Primary: lipgloss.Color("12"),  // Blue
		Success: lipgloss.Color("10"),  // Green
		Warning: lipgloss.Color("11"),  // Yellow
		Error:   lipgloss.Color("9"),   // Red
		Muted:   lipgloss.Color("240"), // Gray
	}
}

// statusColor maps a task status to a theme color.
func (t theme) statusColor(status string) lipgloss.Color {
	switch status {
	case "completed":
		return t.Success
	case "started":
		return t.Warning
	case "failed":
		return t.Error
	default:
		return t.Muted
	}
}

// taskRow is the latest known state of one task in a run.
type taskRow struct {
	ID      string
	Status  string
	Agent   string
	Updated time.Time
}

// runView is everything the watch view renders for one run.
type runView struct {
	Summary runlog.Summary
	Tasks   []taskRow
	Err     error
}

// loadRunView reads the run log at path and folds it into rows.
func loadRunView(path string) runView {
	events, err := runlog.ReadFile(path, runlog.QueryOpts{})
	if err != nil {
		return runView{Err: err}
	}

	v := runView{Summary: runlog.Summarize(events)}
	index := make(map[string]int)
	for _, ev := range events {
		if ev.Event != protocol.EventTask || ev.TaskID() == "" {
			continue
		}
		agent, _ := ev.Data["agent_id"].(string)
		row := taskRow{ID: ev.TaskID(), Status: ev.Status(), Agent: agent, Updated: ev.Timestamp}
		if i, ok := index[row.ID]; ok {
			v.Tasks[i] = row
			continue
		}
		index[row.ID] = len(v.Tasks)
		v.Tasks = append(v.Tasks, row)
	}
	return v
}

// counts tallies rows per status.
func (v runView) counts() map[string]int {
	out := make(map[string]int)
	for _, r := range v.Tasks {
		out[r.Status]++
	}
	return out
}

func (v runView) state() string {
	switch {
	case v.Err != nil:
		return "error"
	case !v.Summary.Ended.IsZero():
		return "ended"
	default:
		return "running"
	}
}

// renderPlain renders v without styling, for non-terminal output.
func renderPlain(runID string, v runView) string {
	var b strings.Builder
	if v.Err != nil {
		fmt.Fprintf(&b, "run %s: %v\n", runID, v.Err)
		return b.String()
	}
	c := v.counts()
	fmt.Fprintf(&b, "run %s (%s) completed=%d failed=%d started=%d\n",
		runID, v.state(), c["completed"], c["failed"], c["started"])
	for _, r := range v.Tasks {
		fmt.Fprintf(&b, "  %-20s %-10s %-14s %s\n", r.ID, r.Status, r.Agent, r.Updated.Format("15:04:05"))
	}
	return b.String()
}

// tickMsg drives the fallback refresh when no watcher is available.
type tickMsg time.Time

// fsChangeMsg is sent when the run log directory changes.
type fsChangeMsg struct{}

// runViewMsg carries a freshly loaded run view.
type runViewMsg runView

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func loadRunViewCmd(path string) tea.Cmd {
	return func() tea.Msg {
		return runViewMsg(loadRunView(path))
	}
}

// watchModel is the Bubble Tea model for `orchestrator watch`.
type watchModel struct {
	runID   string
	path    string
	watcher *fsnotify.Watcher // nil falls back to polling
	theme   theme

	view  runView
	table table.Model
	width int
}

func newWatchModel(runID, path string, watcher *fsnotify.Watcher) watchModel {
	th := defaultTheme()

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Task", Width: 24},
			{Title: "Status", Width: 10},
			{Title: "Agent", Width: 16},
			{Title: "Updated", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(th.Primary)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("15")).Background(th.Primary)
	t.SetStyles(styles)

	return watchModel{runID: runID, path: path, watcher: watcher, theme: th, table: t}
}

// Init implements tea.Model.
func (m watchModel) Init() tea.Cmd {
	cmds := []tea.Cmd{loadRunViewCmd(m.path)}
	if m.watcher != nil {
		cmds = append(cmds, runWatcher(m.watcher))
	} else {
		cmds = append(cmds, tickCmd())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if h := msg.Height - 6; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case runViewMsg:
		m.view = runView(msg)
		m.table.SetRows(m.rows())
		return m, nil

	case fsChangeMsg:
		return m, tea.Batch(loadRunViewCmd(m.path), runWatcher(m.watcher))

	case tickMsg:
		return m, tea.Batch(loadRunViewCmd(m.path), tickCmd())
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m watchModel) rows() []table.Row {
	rows := make([]table.Row, 0, len(m.view.Tasks))
	for _, r := range m.view.Tasks {
		rows = append(rows, table.Row{r.ID, r.Status, r.Agent, r.Updated.Format("15:04:05")})
	}
	return rows
}

// View implements tea.Model.
func (m watchModel) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Primary).Render("run " + m.runID)
	muted := lipgloss.NewStyle().Foreground(m.theme.Muted)

	if m.view.Err != nil {
		return title + "\n" + lipgloss.NewStyle().Foreground(m.theme.Error).Render(m.view.Err.Error()) + "\n"
	}

	c := m.view.counts()
	parts := make([]string, 0, 3)
	for _, s := range []string{"completed", "started", "failed"} {
		style := lipgloss.NewStyle().Foreground(m.theme.statusColor(s))
		parts = append(parts, style.Render(fmt.Sprintf("%s %d", s, c[s])))
	}

	var b strings.Builder
	b.WriteString(title + "  " + muted.Render("("+m.view.state()+")") + "\n")
	b.WriteString(strings.Join(parts, "  ") + "\n\n")
	b.WriteString(m.table.View() + "\n")
	b.WriteString(muted.Render("↑/↓ scroll • q quit") + "\n")
	return b.String()
}

// initWatcher watches the directory holding the run log. Returns nil if the
// watcher cannot be created (the view falls back to polling).
func initWatcher(path string) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("fsnotify: failed to create watcher: %v (falling back to polling)", err)
		return nil
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		log.Printf("fsnotify: failed to watch %s: %v (falling back to polling)", filepath.Dir(path), err)
		return nil
	}
	return watcher
}

// runWatcher returns a tea.Cmd that waits for changes to the watched
// directory and sends one fsChangeMsg per burst of events.
func runWatcher(watcher *fsnotify.Watcher) tea.Cmd {
	return func() tea.Msg {
		debounce := newDebounceTimer()
		defer debounce.Stop()

		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				resetDebounceTimer(debounce)
			case <-debounce.C:
				return fsChangeMsg{}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				log.Printf("fsnotify: watcher error: %v", err)
				return nil
			}
		}
	}
}

func newDebounceTimer() *time.Timer {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	return timer
}

func resetDebounceTimer(timer *time.Timer) {
	const debounceDuration = 100 * time.Millisecond
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(debounceDuration)
}
