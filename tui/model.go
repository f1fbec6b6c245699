package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/rentnasi/authguard/session"
)

// tickMsg is fired every second to update the expiry countdown.
type tickMsg time.Time

// maxStatusLines bounds the toast log kept on screen.
const maxStatusLines = 8

// phase is what the main panel currently shows.
type phase int

const (
	phaseInit phase = iota
	phaseRefreshing
	phaseAuthenticated
	phaseRedirecting
	phaseEnded
	phaseError
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusErr             // failure that leads to a redirect
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the session guard TUI.
type Model struct {
	phase   phase
	spinner spinner.Model
	width   int
	height  int

	// Authenticated session info
	tokenPreview string
	expiresAt    time.Time
	remaining    time.Duration
	ticking      bool

	// Redirect / error display
	target string
	reason string
	errMsg string

	statusLines []statusLine
}

var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleTargetBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		phase:   phaseInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if m.phase == phaseAuthenticated {
			m.remaining = max(time.Until(m.expiresAt), 0)
		}
		return m, tickAfterSecond()

	// ── session messages ─────────────────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgToast:
		m.addStatus(toastStatus(msg.Kind), msg.Text)
		return m, nil

	case MsgState:
		switch msg.To {
		case session.StateInitializing:
			m.phase = phaseInit
		case session.StateRefreshing:
			m.phase = phaseRefreshing
			m.addStatus(statusInfo, "Access token expired, refreshing...")
		case session.StateAuthenticated:
			if msg.From == session.StateRefreshing {
				m.addStatus(statusOK, "Access token refreshed")
			}
			if !m.expiresAt.IsZero() {
				m.phase = phaseAuthenticated
			}
		case session.StateRedirecting:
			m.phase = phaseRedirecting
		}
		return m, nil

	case MsgAuthenticated:
		m.tokenPreview = msg.Preview
		m.expiresAt = msg.ExpiresAt
		m.remaining = max(time.Until(msg.ExpiresAt), 0)
		m.phase = phaseAuthenticated
		m.addStatus(statusOK, "Session active")
		if m.ticking {
			return m, nil
		}
		m.ticking = true
		return m, tickAfterSecond()

	case MsgFetched:
		kind := statusOK
		if msg.Status >= 400 {
			kind = statusWarn
		}
		m.addStatus(kind, fmt.Sprintf("GET %s -> %d", msg.URL, msg.Status))
		return m, nil

	case MsgRedirect:
		m.phase = phaseRedirecting
		m.target = msg.Target
		m.reason = msg.Reason
		return m, nil

	case MsgSessionEnded:
		m.phase = phaseEnded
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.phase = phaseError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.phase {
	case phaseAuthenticated:
		return tea.NewView(m.viewAuthenticated())
	case phaseRedirecting:
		return tea.NewView(m.viewRedirect())
	case phaseEnded:
		return tea.NewView(styleDim.Render("\n  Session closed.\n") + m.viewStatusLog())
	case phaseError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown while the session is being established or refreshed.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Rentnasi Session Guard  "))
	b.WriteString("\n\n")

	b.WriteString(m.spinner.View())
	if m.phase == phaseRefreshing {
		b.WriteString(" Refreshing access token...\n")
	} else {
		b.WriteString(" Checking session...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewAuthenticated() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleOK.Render("  ✓ Session active"))
	b.WriteString("\n\n")

	b.WriteString(styleBold.Render("Access Token: "))
	b.WriteString(m.tokenPreview + "...\n")

	b.WriteString(styleBold.Render("Expires In:   "))
	b.WriteString(formatDuration(m.remaining) + "\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewRedirect() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ " + nonEmpty(m.reason, "Session ended")))
	b.WriteString("\n\n")

	if m.target != "" {
		b.WriteString(styleBold.Render("Continue at:"))
		b.WriteString("\n")
		b.WriteString(styleTargetBox.Render(m.target))
		b.WriteString("\n")
	} else {
		b.WriteString(m.spinner.View())
		b.WriteString(" Redirecting...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Session guard failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		case statusErr:
			b.WriteString(styleErr.Render("  ✗ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log, dropping the oldest beyond maxStatusLines.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
	if n := len(m.statusLines); n > maxStatusLines {
		m.statusLines = m.statusLines[n-maxStatusLines:]
	}
}

func toastStatus(kind session.ToastKind) statusKind {
	switch kind {
	case session.ToastWarn:
		return statusWarn
	case session.ToastError:
		return statusErr
	default:
		return statusInfo
	}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// tickAfterSecond returns a command that fires tickMsg after one second.
func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xh Ym", "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
