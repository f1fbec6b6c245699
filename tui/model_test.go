package tui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/rentnasi/authguard/session"
	"github.com/stretchr/testify/require"
)

func update(t *testing.T, m Model, msg any) Model {
	t.Helper()
	next, _ := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm
}

func TestModel_SessionLifecycle(t *testing.T) {
	m := NewModel()
	require.Equal(t, phaseInit, m.phase)

	m = update(t, m, MsgState{From: session.StateInitializing, To: session.StateRefreshing})
	require.Equal(t, phaseRefreshing, m.phase)

	m = update(t, m, MsgAuthenticated{Preview: "abc", ExpiresAt: time.Now().Add(time.Hour)})
	require.Equal(t, phaseAuthenticated, m.phase)
	require.Equal(t, "abc", m.tokenPreview)

	m = update(t, m, MsgToast{Kind: session.ToastWarn, Text: "You are offline"})
	require.Equal(t, statusWarn, m.statusLines[len(m.statusLines)-1].kind)

	m = update(t, m, MsgRedirect{Target: "https://auth.example", Reason: "Network changed"})
	require.Equal(t, phaseRedirecting, m.phase)
	require.Equal(t, "https://auth.example", m.target)
}

func TestModel_StatusLogIsBounded(t *testing.T) {
	m := NewModel()
	for i := 0; i < maxStatusLines+5; i++ {
		m = update(t, m, MsgToast{Kind: session.ToastInfo, Text: "tick"})
	}
	require.Len(t, m.statusLines, maxStatusLines)
}

func TestModel_Fatal(t *testing.T) {
	m := update(t, NewModel(), MsgFatal{Err: errors.New("APP_URL not set")})
	require.Equal(t, phaseError, m.phase)
	require.Equal(t, "APP_URL not set", m.errMsg)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{-time.Second, "0s"},
		{42 * time.Second, "42s"},
		{9*time.Minute + 5*time.Second, "9m 5s"},
		{2*time.Hour + 3*time.Minute, "2h 3m"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, formatDuration(tt.in))
	}
}

func TestPlainDisplayer(t *testing.T) {
	var buf bytes.Buffer
	d := NewPlainDisplayer(&buf)

	d.Toast(session.ToastWarn, "You are offline")
	d.Toast(session.ToastError, "Session expired")
	d.Redirect("https://auth.example", "Session expired")

	out := buf.String()
	require.Contains(t, out, "Warning: You are offline")
	require.Contains(t, out, "Error: Session expired")
	require.Contains(t, out, "https://auth.example")
}

var _ session.Notifier = (*PlainDisplayer)(nil)
var _ session.Notifier = (*ProgramDisplayer)(nil)
var _ session.Notifier = NoopDisplayer{}

func TestModel_KeyPressesAreIgnored(t *testing.T) {
	next, cmd := NewModel().Update(tea.KeyPressMsg{Code: 'c', Mod: tea.ModCtrl})
	require.Nil(t, cmd)
	require.Equal(t, phaseInit, next.(Model).phase)
}
