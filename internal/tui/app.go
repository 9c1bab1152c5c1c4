// Package tui provides the interactive terminal dashboard for cortex.
package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/cortex/internal/models"
	"github.com/fentz26/cortex/internal/scheduler"
	"github.com/fentz26/cortex/internal/think"
)

var (
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	itemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// refreshInterval is how often the dashboard reloads the current view.
const refreshInterval = 2 * time.Second

// App is the dashboard model.
type App struct {
	client      *Client
	view        view
	goals       []models.Goal
	tasks       []models.ScheduledTask
	sessions    []think.SessionInfo
	current     *think.SessionInfo
	stats       *scheduler.Stats
	selectedIdx int
	input       textinput.Model
	viewport    viewport.Model
	suggestions *Suggestions
	width       int
	height      int
	message     string
	online      bool
}

// New creates a dashboard talking to the daemon at apiAddr.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type / for commands: think <query> | goal <description> | run | poll"
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 80

	return &App{
		client:      NewClient(apiAddr),
		input:       ti,
		viewport:    viewport.New(80, 20),
		view:        viewGoals,
		suggestions: NewSuggestions(),
	}
}

// Run starts the dashboard.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, a.refresh(), a.tickCmd())
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			if a.view == viewSession {
				a.view = viewSessions
				a.current = nil
				return a, a.refresh()
			}
			a.input.SetValue("")
			a.suggestions.Update("")
			return a, nil

		case "up":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
			} else if a.view == viewSession {
				a.viewport.LineUp(1)
			} else if a.selectedIdx > 0 {
				a.selectedIdx--
			}
			return a, nil

		case "down":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
			} else if a.view == viewSession {
				a.viewport.LineDown(1)
			} else if a.selectedIdx < a.rows()-1 {
				a.selectedIdx++
			}
			return a, nil

		case "pgup", "pgdown":
			if a.view == viewSession {
				var cmd tea.Cmd
				a.viewport, cmd = a.viewport.Update(msg)
				return a, cmd
			}

		case "tab":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}
			a.switchView(nextView(a.view))
			return a, a.refresh()

		case "enter":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}
			line := strings.TrimSpace(a.input.Value())
			if line != "" {
				a.input.SetValue("")
				a.suggestions.Update("")
				a.message = "Running: " + line
				return a, a.executeCommand(line)
			}
			if a.view == viewSessions && len(a.sessions) > 0 {
				s := a.sessions[a.selectedIdx]
				a.view = viewSession
				a.current = &s
				return a, a.fetchSteps(s)
			}
			return a, nil
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-10, 5)

	case goalsLoadedMsg:
		a.goals = msg.goals
		a.clampSelection()

	case tasksLoadedMsg:
		a.tasks = msg.tasks
		a.clampSelection()

	case sessionsLoadedMsg:
		a.sessions = msg.sessions
		a.clampSelection()

	case stepsLoadedMsg:
		if a.current != nil && a.current.ID == msg.session.ID {
			info := msg.session
			a.current = &info
			a.viewport.SetContent(renderSteps(msg.steps))
		}

	case statsLoadedMsg:
		stats := msg.stats
		a.stats = &stats

	case daemonStatusMsg:
		a.online = msg.online

	case tickMsg:
		return a, tea.Batch(a.refresh(), a.tickCmd())

	case switchViewMsg:
		a.switchView(msg.view)
		return a, a.refresh()

	case commandResultMsg:
		a.message = msg.message
		return a, a.refresh()

	case errMsg:
		a.message = "Error: " + msg.err.Error()
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)
	a.suggestions.Update(a.input.Value())

	return a, tea.Batch(cmds...)
}

func (a *App) acceptSuggestion() {
	if selected := a.suggestions.Selected(); selected != nil {
		a.input.SetValue("/" + selected.Text + " ")
		a.input.CursorEnd()
		a.suggestions.Update("")
	}
}

func (a *App) switchView(v view) {
	if a.view != v {
		a.selectedIdx = 0
	}
	a.view = v
	a.current = nil
}

func nextView(v view) view {
	for i, lv := range listViews {
		if lv == v {
			return listViews[(i+1)%len(listViews)]
		}
	}
	return viewGoals
}

func (a *App) rows() int {
	switch a.view {
	case viewGoals:
		return len(a.goals)
	case viewTasks:
		return len(a.tasks)
	case viewSessions:
		return len(a.sessions)
	}
	return 0
}

func (a *App) clampSelection() {
	if a.selectedIdx >= a.rows() {
		a.selectedIdx = max(0, a.rows()-1)
	}
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemon := onlineStyle.Render("● DAEMON")
	if !a.online {
		daemon = offlineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render("CORTEX") + "  " + daemon
	if a.stats != nil {
		header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(
			fmt.Sprintf("[%d/%d running, %d executed, %d failed]",
				a.stats.Active, a.stats.MaxConcurrent, a.stats.Executed, a.stats.Failed))
	}
	b.WriteString(header + "\n")
	b.WriteString(a.renderTabs() + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 20)) + "\n")

	contentHeight := max(a.height-10, 5)
	switch a.view {
	case viewGoals:
		b.WriteString(a.renderGoals(contentHeight))
	case viewTasks:
		b.WriteString(a.renderTasks(contentHeight))
	case viewSessions:
		b.WriteString(a.renderSessions(contentHeight))
	case viewSession:
		b.WriteString(a.renderSession())
	}

	if a.message != "" {
		style := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			style = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + style.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.view {
	case viewSession:
		status = " ↑↓/PgUp/PgDn:scroll | Esc:back | Ctrl+C:quit"
	case viewSessions:
		status = fmt.Sprintf(" %s: %d | ↑↓:nav | Enter:open | Tab:next view | Ctrl+C:quit", a.view, a.rows())
	default:
		status = fmt.Sprintf(" %s: %d | ↑↓:nav | Tab:next view | /:commands | Ctrl+C:quit", a.view, a.rows())
	}
	b.WriteString(statusBarStyle.Width(max(a.width, 20)).Render(status))

	return b.String()
}

func (a *App) renderTabs() string {
	var tabs []string
	for _, v := range listViews {
		label := " " + v.String() + " "
		if v == a.view || (a.view == viewSession && v == viewSessions) {
			tabs = append(tabs, selectedStyle.Padding(0, 1).Render(label))
		} else {
			tabs = append(tabs, helpStyle.Render(label))
		}
	}
	return strings.Join(tabs, " ")
}

// window returns the slice of lines around the selection that fits height.
func (a *App) window(lines []string, height int) []string {
	if len(lines) <= height {
		return lines
	}
	start := max(a.selectedIdx-height/2, 0)
	end := start + height
	if end > len(lines) {
		end = len(lines)
		start = max(0, end-height)
	}
	return lines[start:end]
}

func (a *App) renderRow(i int, text string) string {
	if i == a.selectedIdx {
		return selectedStyle.Render("▶ " + text)
	}
	return itemStyle.Render("  " + text)
}

func (a *App) renderGoals(height int) string {
	if len(a.goals) == 0 {
		return "\n  No goals yet. Type: /goal <description>\n"
	}
	var lines []string
	for i, g := range a.goals {
		text := fmt.Sprintf("%s  p%-3d %-6s %s", formatStatus(string(g.Status)), g.Priority, g.Horizon, clip(g.Description, 60))
		lines = append(lines, a.renderRow(i, text))
	}
	return strings.Join(a.window(lines, height), "\n")
}

func (a *App) renderTasks(height int) string {
	if len(a.tasks) == 0 {
		return "\n  No scheduled tasks. Type: /schedule <handler> [json]\n"
	}
	var lines []string
	for i, t := range a.tasks {
		every := "once"
		if t.Recurring() {
			every = "every " + t.Interval.String()
		}
		text := fmt.Sprintf("%s  %-12s runs:%-3d %-12s next %s", formatStatus(string(t.Status)), clip(t.HandlerName, 12),
			t.RunCount, every, t.NextRunAt.Local().Format(time.TimeOnly))
		if t.LastError != "" {
			text += "  " + lipgloss.NewStyle().Foreground(errorColor).Render(clip(t.LastError, 40))
		}
		lines = append(lines, a.renderRow(i, text))
	}
	return strings.Join(a.window(lines, height), "\n")
}

func (a *App) renderSessions(height int) string {
	if len(a.sessions) == 0 {
		return "\n  No sessions yet. Type: /think <query>\n"
	}
	var lines []string
	for i, s := range a.sessions {
		text := fmt.Sprintf("%s  %3d steps  %s", formatStatus(string(s.Status)), s.Steps, clip(s.Query, 60))
		lines = append(lines, a.renderRow(i, text))
	}
	return strings.Join(a.window(lines, height), "\n")
}

func (a *App) renderSession() string {
	if a.current == nil {
		return "\n  Loading...\n"
	}
	s := a.current
	var b strings.Builder
	b.WriteString(fmt.Sprintf("\n  %s\n", lipgloss.NewStyle().Bold(true).Render(clip(s.Query, 80))))
	b.WriteString(fmt.Sprintf("  %s  %s", formatStatus(string(s.Status)), helpStyle.Render(s.ID)))
	if s.Reason != "" {
		b.WriteString("  " + helpStyle.Render(s.Reason))
	}
	if s.Error != "" {
		b.WriteString("\n  " + lipgloss.NewStyle().Foreground(errorColor).Render(s.Error))
	}
	b.WriteString("\n\n")
	b.WriteString(a.viewport.View())
	return b.String()
}

func renderSteps(steps []models.Step) string {
	typeStyle := lipgloss.NewStyle().Foreground(cyanColor).Bold(true)
	var b strings.Builder
	for _, s := range steps {
		b.WriteString(fmt.Sprintf("  %s %s\n", typeStyle.Render(fmt.Sprintf("%-8s", s.Type)), helpStyle.Render(s.Timestamp.Local().Format(time.TimeOnly))))
		for _, line := range strings.Split(strings.TrimSpace(s.Content), "\n") {
			b.WriteString("    " + line + "\n")
		}
		if s.Action != nil {
			if s.Action.ToolCall != nil {
				b.WriteString("    " + helpStyle.Render("tool: "+s.Action.ToolCall.Type) + "\n")
			}
			if s.Action.Error != "" {
				b.WriteString("    " + lipgloss.NewStyle().Foreground(errorColor).Render("error: "+s.Action.Error) + "\n")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatStatus(status string) string {
	switch status {
	case "pending":
		return lipgloss.NewStyle().Foreground(warningColor).Render("○ PENDING  ")
	case "active", "running":
		return lipgloss.NewStyle().Foreground(primaryColor).Render("◑ RUNNING  ")
	case "completed":
		return lipgloss.NewStyle().Foreground(successColor).Render("● DONE     ")
	case "failed":
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ FAILED   ")
	case "incomplete", "timeout":
		return lipgloss.NewStyle().Foreground(warningColor).Render(fmt.Sprintf("◌ %-9s", strings.ToUpper(status)))
	}
	return status
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func (a *App) refresh() tea.Cmd {
	cmds := []tea.Cmd{a.checkDaemon(), a.fetchStats()}
	switch a.view {
	case viewGoals:
		cmds = append(cmds, a.fetchGoals())
	case viewTasks:
		cmds = append(cmds, a.fetchTasks())
	case viewSessions:
		cmds = append(cmds, a.fetchSessions())
	case viewSession:
		if a.current != nil {
			cmds = append(cmds, a.fetchSteps(*a.current))
		}
	}
	return tea.Batch(cmds...)
}

func (a *App) fetchGoals() tea.Cmd {
	return func() tea.Msg {
		goals, err := a.client.ListGoals()
		if err != nil {
			return errMsg{err}
		}
		return goalsLoadedMsg{goals}
	}
}

func (a *App) fetchTasks() tea.Cmd {
	return func() tea.Msg {
		tasks, err := a.client.ListTasks("")
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{tasks}
	}
}

func (a *App) fetchSessions() tea.Cmd {
	return func() tea.Msg {
		sessions, err := a.client.ListSessions()
		if err != nil {
			return errMsg{err}
		}
		return sessionsLoadedMsg{sessions}
	}
}

func (a *App) fetchSteps(s think.SessionInfo) tea.Cmd {
	return func() tea.Msg {
		steps, err := a.client.SessionSteps(s.ID)
		if err != nil {
			return errMsg{err}
		}
		return stepsLoadedMsg{session: s, steps: steps}
	}
}

func (a *App) fetchStats() tea.Cmd {
	return func() tea.Msg {
		stats, err := a.client.Stats()
		if err != nil {
			return nil
		}
		return statsLoadedMsg{stats}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		return daemonStatusMsg{online: a.client.Health() == nil}
	}
}

type tickMsg time.Time

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// executeCommand runs a command-bar line. The leading "/" is optional.
func (a *App) executeCommand(input string) tea.Cmd {
	parts := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]
	rest := strings.Join(args, " ")

	return func() tea.Msg {
		switch cmd {
		case "think":
			if rest == "" {
				return commandResultMsg{"Usage: think <query>"}
			}
			s, err := a.client.Think(rest)
			if err != nil && s.ID == "" {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("Session %s %s after %d steps", shortID(s.ID), s.Status, s.Steps)}

		case "goal":
			if rest == "" {
				return commandResultMsg{"Usage: goal <description>"}
			}
			g, err := a.client.AddGoal(rest)
			if err != nil {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("✓ Created goal: %s", shortID(g.ID))}

		case "run":
			outcomes, err := a.client.RunGoals()
			if err != nil && len(outcomes) == 0 {
				return errMsg{err}
			}
			done := 0
			for _, o := range outcomes {
				if o.Status == models.GoalCompleted {
					done++
				}
			}
			return commandResultMsg{fmt.Sprintf("Ran %d goals, %d completed", len(outcomes), done)}

		case "schedule":
			if len(args) < 1 {
				return commandResultMsg{"Usage: schedule <handler> [json]"}
			}
			var data any
			if len(args) > 1 {
				if err := json.Unmarshal([]byte(strings.Join(args[1:], " ")), &data); err != nil {
					return errMsg{fmt.Errorf("task data is not valid JSON: %w", err)}
				}
			}
			t, err := a.client.Schedule(args[0], data)
			if err != nil {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("✓ Scheduled task %s for %s", shortID(t.ID), t.HandlerName)}

		case "poll":
			stats, err := a.client.Poll()
			if err != nil {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("✓ Poll done: %d executed, %d failed", stats.Executed, stats.Failed)}

		case "remember":
			if rest == "" {
				return commandResultMsg{"Usage: remember <text>"}
			}
			id, err := a.client.Remember(rest)
			if err != nil {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("✓ Stored memory %s", shortID(id))}

		case "recall":
			if rest == "" {
				return commandResultMsg{"Usage: recall <query>"}
			}
			matches, err := a.client.Recall(rest)
			if err != nil {
				return errMsg{err}
			}
			if len(matches) == 0 {
				return commandResultMsg{"No matching memories"}
			}
			return commandResultMsg{fmt.Sprintf("Found %d: %s (%.2f)", len(matches), clip(matches[0].Content, 60), matches[0].Similarity)}

		case "goals":
			return switchViewMsg{viewGoals}
		case "tasks":
			return switchViewMsg{viewTasks}
		case "sessions":
			return switchViewMsg{viewSessions}

		case "q", "quit", "exit":
			return tea.Quit()

		default:
			return commandResultMsg{fmt.Sprintf("Unknown: %s (try: think, goal, run, schedule, poll)", cmd)}
		}
	}
}
