package tui

import (
	"fmt"
	"io"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/rentnasi/authguard/session"
)

// Displayer abstracts all output from the session handler. It satisfies
// session.Notifier.
type Displayer interface {
	Banner()
	Toast(kind session.ToastKind, msg string)
	StateChanged(from, to session.State)
	Authenticated(preview string, expiresAt time.Time)
	Fetched(url string, status int)
	Redirect(target, reason string)
	SessionEnded()
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== Rentnasi Session Guard ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) Toast(kind session.ToastKind, msg string) {
	switch kind {
	case session.ToastWarn:
		fmt.Fprintf(p.w, "Warning: %s\n", msg)
	case session.ToastError:
		fmt.Fprintf(p.w, "Error: %s\n", msg)
	default:
		fmt.Fprintln(p.w, msg)
	}
}

func (p *PlainDisplayer) StateChanged(_, to session.State) {
	switch to {
	case session.StateInitializing:
		fmt.Fprintln(p.w, "Checking session...")
	case session.StateRefreshing:
		fmt.Fprintln(p.w, "Access token expired, refreshing...")
	}
}

func (p *PlainDisplayer) Authenticated(preview string, expiresAt time.Time) {
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintln(p.w, "Session active")
	fmt.Fprintf(p.w, "Access Token: %s...\n", preview)
	fmt.Fprintf(p.w, "Expires In: %s\n", time.Until(expiresAt).Round(time.Second))
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fetched(url string, status int) {
	fmt.Fprintf(p.w, "GET %s -> %d\n", url, status)
}

func (p *PlainDisplayer) Redirect(target, reason string) {
	fmt.Fprintf(p.w, "Redirecting (%s): %s\n", reason, target)
}

func (p *PlainDisplayer) SessionEnded() {
	fmt.Fprintln(p.w, "Session closed.")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                             {}
func (NoopDisplayer) Toast(_ session.ToastKind, _ string) {}
func (NoopDisplayer) StateChanged(_, _ session.State)     {}
func (NoopDisplayer) Authenticated(_ string, _ time.Time) {}
func (NoopDisplayer) Fetched(_ string, _ int)             {}
func (NoopDisplayer) Redirect(_, _ string)                {}
func (NoopDisplayer) SessionEnded()                       {}
func (NoopDisplayer) Fatal(_ error)                       {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) Toast(kind session.ToastKind, msg string) {
	t.p.Send(MsgToast{Kind: kind, Text: msg})
}

func (t *ProgramDisplayer) StateChanged(from, to session.State) {
	t.p.Send(MsgState{From: from, To: to})
}

func (t *ProgramDisplayer) Authenticated(preview string, expiresAt time.Time) {
	t.p.Send(MsgAuthenticated{Preview: preview, ExpiresAt: expiresAt})
}

func (t *ProgramDisplayer) Fetched(url string, status int) {
	t.p.Send(MsgFetched{URL: url, Status: status})
}

func (t *ProgramDisplayer) Redirect(target, reason string) {
	t.p.Send(MsgRedirect{Target: target, Reason: reason})
}

func (t *ProgramDisplayer) SessionEnded() {
	t.p.Send(MsgSessionEnded{})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
