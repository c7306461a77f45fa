package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"scaffold/cli/api"
	"scaffold/cli/style"
)

func watch(start func() (*api.Build, error)) error {
	p := tea.NewProgram(newWatchModel(start))
	final, err := p.Run()
	if err != nil {
		return err
	}
	if wm := final.(watchModel); wm.failed {
		return fmt.Errorf("build failed")
	}
	return nil
}

// --- Messages ---

type wsEvent struct {
	Type     string          `json:"type"`
	BuildID  string          `json:"buildId"`
	ActionID string          `json:"actionId"`
	Payload  json.RawMessage `json:"payload"`
}

type watchStarted struct {
	build *api.Build
	ch    chan tea.Msg
}

type stepUpdate struct {
	stepID string
	step   string
	status string
}

type logUpdate struct {
	stepID string
	entry  api.LogEntry
}

type buildFinished struct {
	status    string
	outcome   string
	conflicts []string
}

type watchError struct{ err error }

// --- Model ---

type watchStep struct {
	id      string
	name    string
	message string
	status  string
}

type watchModel struct {
	start   func() (*api.Build, error)
	spinner spinner.Model

	build     *api.Build
	steps     []watchStep
	logs      []string
	status    string // connecting, running, done
	outcome   string
	conflicts []string
	errMsg    string
	failed    bool
	startTime time.Time
	eventCh   chan tea.Msg
}

const maxLogLines = 12

func newWatchModel(start func() (*api.Build, error)) watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(style.Primary)
	return watchModel{
		start:     start,
		spinner:   s,
		status:    "connecting",
		startTime: time.Now(),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, connectAndWatch(m.start))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case watchStarted:
		m.build = msg.build
		m.eventCh = msg.ch
		for _, s := range msg.build.Steps {
			m.steps = append(m.steps, watchStep{id: s.ID, name: s.Name, message: s.Message, status: s.Status})
			for _, l := range s.Logs {
				m.logs = append(m.logs, formatLog(l))
			}
		}
		if msg.build.Status != "Running" {
			m.status = "done"
			m.failed = msg.build.Status != "Completed"
			return m, tea.Quit
		}
		m.status = "running"
		return m, waitForEvent(m.eventCh)

	case stepUpdate:
		found := false
		for i := range m.steps {
			if m.steps[i].id == msg.stepID {
				m.steps[i].status = msg.status
				found = true
				break
			}
		}
		if !found {
			m.steps = append(m.steps, watchStep{id: msg.stepID, name: msg.step, message: msg.step, status: msg.status})
		}
		return m, waitForEvent(m.eventCh)

	case logUpdate:
		if m.hasStep(msg.stepID) {
			m.logs = append(m.logs, formatLog(msg.entry))
		}
		return m, waitForEvent(m.eventCh)

	case buildFinished:
		m.status = "done"
		m.outcome = msg.outcome
		m.conflicts = msg.conflicts
		m.failed = msg.status == "Failed"
		return m, tea.Quit

	case watchError:
		m.status = "done"
		m.errMsg = msg.err.Error()
		m.failed = true
		return m, tea.Quit
	}

	return m, nil
}

func (m watchModel) hasStep(id string) bool {
	for _, s := range m.steps {
		if s.id == id {
			return true
		}
	}
	return false
}

func formatLog(l api.LogEntry) string {
	return style.DimText.Render(l.CreatedAt.Format("15:04:05")) + " " + style.Level(l.Level).Render(l.Message)
}

func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(style.Banner.Render("SCAFFOLD BUILD"))
	b.WriteString("\n")

	if m.build == nil {
		if m.errMsg != "" {
			b.WriteString(style.ErrorBox.Render("✗ " + m.errMsg))
		} else {
			b.WriteString(m.spinner.View() + style.DimText.Render(" Connecting to the build manager..."))
		}
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(style.Key.Render("Build") + style.Bold.Render(m.build.ID) + "\n")
	b.WriteString(style.Key.Render("Resource") + style.Val.Render(m.build.ResourceID) + "\n")
	b.WriteString(style.Key.Render("Version") + style.Commit.Render(m.build.Version) + "\n\n")

	for _, s := range m.steps {
		name := padRight(s.message, 26)
		switch s.status {
		case "Running":
			b.WriteString(fmt.Sprintf("  %s %s %s\n", style.StepRunning.Render(name), m.spinner.View(), style.StepRunning.Render("running")))
		case "Success":
			b.WriteString(fmt.Sprintf("  %s %s\n", style.StepDone.Render(name), style.StepDone.Render("✓ done")))
		case "Failed":
			b.WriteString(fmt.Sprintf("  %s %s\n", style.StepFailed.Render(name), style.StepFailed.Render("✗ failed")))
		default:
			b.WriteString(fmt.Sprintf("  %s %s\n", style.StepPending.Render(name), style.StepPending.Render(strings.ToLower(s.status))))
		}
	}

	logs := m.logs
	if len(logs) > maxLogLines {
		logs = logs[len(logs)-maxLogLines:]
	}
	if len(logs) > 0 {
		b.WriteString("\n")
		for _, l := range logs {
			b.WriteString("    " + l + "\n")
		}
	}
	b.WriteString("\n")

	elapsed := time.Since(m.startTime).Round(time.Second)
	switch {
	case m.status == "running":
		b.WriteString(m.spinner.View() + style.DimText.Render(fmt.Sprintf(" Generating... (%s)", elapsed)))
	case m.errMsg != "":
		b.WriteString(style.ErrorBox.Render("✗ " + m.errMsg))
	case m.failed:
		msg := "Build failed"
		if m.outcome != "" {
			msg += ": " + m.outcome
		}
		if len(m.conflicts) > 0 {
			msg += "\n" + strings.Join(m.conflicts, "\n")
		}
		b.WriteString(style.ErrorBox.Render("✗ " + msg))
	default:
		msg := "Build completed"
		if m.outcome != "" {
			msg += ": " + m.outcome
		}
		b.WriteString(style.SuccessBox.Render("✓ " + msg))
	}
	b.WriteString("\n")
	return b.String()
}

// --- Commands ---

// connectAndWatch dials the websocket before start runs so no event of the
// build is missed, then forwards the build's events to a channel.
func connectAndWatch(start func() (*api.Build, error)) tea.Cmd {
	return func() tea.Msg {
		conn, _, err := websocket.DefaultDialer.Dial(client.WebSocketURL(), nil)
		if err != nil {
			return watchError{err: fmt.Errorf("websocket connect: %w", err)}
		}

		b, err := start()
		if err != nil {
			conn.Close()
			return watchError{err: err}
		}

		ch := make(chan tea.Msg, 32)
		go func() {
			defer conn.Close()
			defer close(ch)
			for {
				_, message, err := conn.ReadMessage()
				if err != nil {
					ch <- watchError{err: fmt.Errorf("websocket read: %w", err)}
					return
				}
				msg, done := translate(b, message)
				if msg == nil {
					continue
				}
				ch <- msg
				if done {
					return
				}
			}
		}()

		return watchStarted{build: b, ch: ch}
	}
}

// translate turns a hub event into a model message. Events of other builds
// yield nil.
func translate(b *api.Build, message []byte) (tea.Msg, bool) {
	var evt wsEvent
	if err := json.Unmarshal(message, &evt); err != nil {
		return nil, false
	}
	switch evt.Type {
	case "build.step":
		if evt.ActionID != b.ActionID {
			return nil, false
		}
		var p map[string]string
		json.Unmarshal(evt.Payload, &p)
		return stepUpdate{stepID: p["stepId"], step: p["step"], status: p["status"]}, false
	case "build.log":
		var l struct {
			api.LogEntry
			StepID string `json:"stepId"`
		}
		if err := json.Unmarshal(evt.Payload, &l); err != nil {
			return nil, false
		}
		return logUpdate{stepID: l.StepID, entry: l.LogEntry}, false
	case "build.completed", "build.failed":
		if evt.BuildID != b.ID {
			return nil, false
		}
		var res struct {
			Outcome   string   `json:"outcome"`
			Status    string   `json:"status"`
			Conflicts []string `json:"conflicts"`
		}
		json.Unmarshal(evt.Payload, &res)
		if evt.Type == "build.failed" {
			res.Status = "Failed"
		}
		return buildFinished{status: res.Status, outcome: res.Outcome, conflicts: res.Conflicts}, true
	}
	return nil, false
}

func waitForEvent(ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return watchError{err: fmt.Errorf("event stream closed")}
		}
		return msg
	}
}
