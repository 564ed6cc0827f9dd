// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/vendlink/pkg/dispatch"
	"github.com/Thermoquad/vendlink/pkg/link"
	"github.com/Thermoquad/vendlink/pkg/vmc"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// Messages
type tickMsg time.Time
type busMsg dispatch.Envelope
type logLineMsg string
type servicesDoneMsg struct{ err error }

// monitorModel shows the live link and the dispatcher's events
type monitorModel struct {
	connInfo string
	machine  string
	engine   *link.Engine
	dispatch *dispatch.Dispatcher
	events   <-chan dispatch.Envelope
	logs     <-chan string

	stats   link.StatisticsSnapshot
	started time.Time

	entries       []logEntry
	maxLogEntries int
	viewport      viewport.Model
	input         textinput.Model
	buying        bool

	width    int
	height   int
	quitting bool
	err      error
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	headerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statsLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	statsValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	boxStyle        = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func newMonitorModel(s *stack, events <-chan dispatch.Envelope, logs <-chan string) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "selection number"
	ti.CharLimit = 4
	ti.Width = 20

	return monitorModel{
		connInfo:      s.connInfo,
		machine:       cfg.MachineID,
		engine:        s.engine,
		dispatch:      s.dispatch,
		events:        events,
		logs:          logs,
		started:       time.Now(),
		maxLogEntries: 500,
		viewport:      viewport.New(76, 10),
		input:         ti,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		waitForEvent(m.events),
		waitForLog(m.logs),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForEvent(ch <-chan dispatch.Envelope) tea.Cmd {
	return func() tea.Msg {
		env, ok := <-ch
		if !ok {
			return nil
		}
		return busMsg(env)
	}
}

func waitForLog(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-ch
		if !ok {
			return nil
		}
		return logLineMsg(line)
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.buying {
			return m.updateInput(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "b":
			m.buying = true
			m.input.SetValue("")
			return m, m.input.Focus()
		case "x":
			m.request("cancel", func() error { return m.dispatch.CancelPurchase() })
		case "s":
			m.request("machine status", func() error {
				_, err := m.dispatch.RequestMachineStatus()
				return err
			})
		case "y":
			m.request("sync", func() error {
				_, err := m.dispatch.Sync()
				return err
			})
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 6
		m.viewport.Height = max(msg.Height-17, 5)
		m.refreshLog()

	case tickMsg:
		m.stats = m.engine.Statistics().Snapshot(time.Time(msg))
		return m, tickCmd()

	case busMsg:
		text, isError := describeEvent(msg.Event)
		m.addLogEntry(msg.At, text, isError)
		cmds = append(cmds, waitForEvent(m.events))

	case logLineMsg:
		m.addLogEntry(time.Now(), string(msg), false)
		cmds = append(cmds, waitForLog(m.logs))

	case servicesDoneMsg:
		m.err = msg.err
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m monitorModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.buying = false
		m.input.Blur()
		return m, nil
	case "enter":
		m.buying = false
		m.input.Blur()
		n, err := strconv.Atoi(strings.TrimSpace(m.input.Value()))
		if err != nil || n < 1 || n > vmc.MaxSelection {
			m.addLogEntry(time.Now(), fmt.Sprintf("invalid selection %q", m.input.Value()), true)
			return m, nil
		}
		m.request(fmt.Sprintf("buy %d", n), func() error {
			_, err := m.dispatch.SubmitPurchase(uint16(n))
			return err
		})
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// request runs an application call and logs a refusal
func (m *monitorModel) request(what string, fn func() error) {
	if err := fn(); err != nil {
		m.addLogEntry(time.Now(), fmt.Sprintf("%s: %v", what, err), true)
		return
	}
	m.addLogEntry(time.Now(), what+" queued", false)
}

func (m *monitorModel) addLogEntry(at time.Time, message string, isError bool) {
	m.entries = append(m.entries, logEntry{timestamp: at, message: message, isError: isError})

	// Keep only last N entries
	if len(m.entries) > m.maxLogEntries {
		m.entries = m.entries[len(m.entries)-m.maxLogEntries:]
	}
	m.refreshLog()
}

func (m *monitorModel) refreshLog() {
	var sb strings.Builder
	if len(m.entries) == 0 {
		sb.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range m.entries {
		timestamp := headerStyle.Render(entry.timestamp.Format("15:04:05.000"))
		if entry.isError {
			sb.WriteString(timestamp + " " + errorStyle.Render("✗ "+entry.message) + "\n")
		} else {
			sb.WriteString(timestamp + " " + warningStyle.Render("ℹ "+entry.message) + "\n")
		}
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(sb.String())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// describeEvent renders one bus event for the log
func describeEvent(ev dispatch.Event) (string, bool) {
	switch e := ev.(type) {
	case dispatch.LinkStatusChanged:
		return "link " + e.Status.String(), e.Status != link.StatusUp
	case dispatch.SelectionRequested:
		return fmt.Sprintf("selection %d requested", e.Selection), false
	case dispatch.SelectionChecked:
		return fmt.Sprintf("selection %d is %s", e.Selection, e.State), e.State != vmc.SelectionNormal
	case dispatch.SelectionCancelled:
		return fmt.Sprintf("selection %d cancelled", e.Selection), false
	case dispatch.DispenseStarted:
		return fmt.Sprintf("dispensing selection %d", e.Selection), false
	case dispatch.DispenseSucceeded:
		return fmt.Sprintf("selection %d dispensed, price %d", e.Selection, e.Price), false
	case dispatch.DispenseFailed:
		return fmt.Sprintf("selection %d failed: %s", e.Selection, e.Reason), true
	case dispatch.MoneyCollected:
		return fmt.Sprintf("%s collected %d (total %d)", e.Mode, e.Amount, e.Total), false
	case dispatch.DisplayText:
		return "display: " + e.Text, false
	case dispatch.ConfigChanged:
		return fmt.Sprintf("%s %s = %d (%s)", vmc.FormatSelector(e.Selector), e.Field, e.Value, e.Origin), false
	case dispatch.CommandFailed:
		return fmt.Sprintf("%s failed: %s", vmc.CommandName(e.Command), e.Err), true
	case dispatch.ProtocolError:
		return "protocol: " + e.Err, true
	case dispatch.UnrecognizedCommand:
		return fmt.Sprintf("unrecognized command 0x%02X: %s", e.Command, vmc.FormatHex(e.Payload)), true
	case dispatch.CommandCompleted:
		return vmc.CommandName(e.Command) + " acknowledged", false
	default:
		return ev.EventName(), false
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		if m.err != nil {
			return errorStyle.Render(fmt.Sprintf("Stopped: %v", m.err)) + "\n"
		}
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("VENDLINK - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Machine: %s | Up %s | b buy, x cancel, s status, y sync, q quit",
		m.connInfo, m.machine, vmc.FormatDuration(time.Since(m.started)))))
	s.WriteString("\n\n")

	// Link status
	status := m.engine.Status()
	switch status {
	case link.StatusUp:
		s.WriteString(statsValueStyle.Render("✓ Link up"))
	case link.StatusDegraded:
		s.WriteString(warningStyle.Render("⚠ Link degraded"))
	default:
		s.WriteString(errorStyle.Render("✗ Link down, waiting for POLL..."))
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("  %s, %d queued", m.engine.State(), m.engine.Queue().Len())))
	s.WriteString("\n\n")

	// Statistics
	st := m.stats
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", st.FramesReceived)),
		statsLabelStyle.Render("Polls:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Polls)),
		statsLabelStyle.Render("Sent:"), statsValueStyle.Render(fmt.Sprintf("%d", st.FramesSent)),
		statsLabelStyle.Render("Commands:"), statsValueStyle.Render(fmt.Sprintf("%d/%d", st.Completed, st.CommandsSent)),
	))
	if st.Errors() > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Checksum:"), errorStyle.Render(fmt.Sprintf("%d", st.ChecksumFailures)),
			statsLabelStyle.Render("Malformed:"), errorStyle.Render(fmt.Sprintf("%d", st.Malformed)),
			statsLabelStyle.Render("Timeouts:"), errorStyle.Render(fmt.Sprintf("%d", st.Timeouts)),
			statsLabelStyle.Render("Retries:"), warningStyle.Render(fmt.Sprintf("%d", st.Retries)),
			statsLabelStyle.Render("Duplicates:"), warningStyle.Render(fmt.Sprintf("%d", st.Duplicates)),
		))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", st.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if st.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
		}(),
	))
	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n")

	// Current purchase
	if sess, ok := m.dispatch.Session(); ok {
		line := fmt.Sprintf("%s %s   %s %d   %s %d",
			statsLabelStyle.Render("Selection:"), statsValueStyle.Render(fmt.Sprintf("%d %s", sess.Selection, m.dispatch.DispenseState(sess.Selection))),
			statsLabelStyle.Render("Collected:"), sess.Collected,
			statsLabelStyle.Render("Credit:"), sess.Credit,
		)
		s.WriteString(boxStyle.Render(line))
		s.WriteString("\n")
	}

	if m.buying {
		s.WriteString(statsLabelStyle.Render("Buy: ") + m.input.View() + headerStyle.Render("  enter to queue, esc to cancel"))
		s.WriteString("\n")
	}

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.viewport.View()))

	return s.String()
}
