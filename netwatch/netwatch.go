// Package netwatch turns host network state into session events: a
// connectivity probe against the auth host and a fingerprint of the local
// network interfaces.
package netwatch

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rentnasi/authguard/session"
	"github.com/rs/zerolog"
)

// Emitter receives the events a watcher detects.
type Emitter interface {
	Emit(e session.Event)
}

// ConnectivityWatcher reports online/offline transitions.
type ConnectivityWatcher struct {
	Interval time.Duration
	// Probe returns nil while the network is reachable.
	Probe  func(ctx context.Context) error
	Logger zerolog.Logger
}

// NewConnectivityWatcher probes a TCP connection to rawURL's host.
func NewConnectivityWatcher(rawURL string, interval time.Duration, logger zerolog.Logger) (*ConnectivityWatcher, error) {
	addr, err := dialAddr(rawURL)
	if err != nil {
		return nil, err
	}
	timeout := min(interval, 5*time.Second)

	return &ConnectivityWatcher{
		Interval: interval,
		Logger:   logger,
		Probe: func(ctx context.Context) error {
			d := net.Dialer{Timeout: timeout}
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return err
			}
			return conn.Close()
		},
	}, nil
}

// Run probes every Interval until ctx is done. The host is assumed online
// when Run starts, so an unreachable first probe emits EventOffline.
func (w *ConnectivityWatcher) Run(ctx context.Context, out Emitter) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	online := true
	for {
		err := w.Probe(ctx)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err != nil && online:
			online = false
			w.Logger.Warn().Err(err).Msg("connectivity probe failed")
			out.Emit(session.EventOffline)
		case err == nil && !online:
			online = true
			w.Logger.Info().Msg("connectivity restored")
			out.Emit(session.EventOnline)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// InterfaceWatcher reports changes to the set of active network interfaces
// and their addresses, e.g. a Wi-Fi to cellular handover.
type InterfaceWatcher struct {
	Interval time.Duration
	// Snapshot returns a value that changes whenever the network identity does.
	Snapshot func() (string, error)
	Logger   zerolog.Logger
}

// NewInterfaceWatcher fingerprints net.Interfaces every interval.
func NewInterfaceWatcher(interval time.Duration, logger zerolog.Logger) *InterfaceWatcher {
	return &InterfaceWatcher{
		Interval: interval,
		Snapshot: interfaceFingerprint,
		Logger:   logger,
	}
}

// Run polls until ctx is done, emitting EventNetworkChanged whenever the
// snapshot differs from the previous successful one.
func (w *InterfaceWatcher) Run(ctx context.Context, out Emitter) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	last, err := w.Snapshot()
	if err != nil {
		w.Logger.Warn().Err(err).Msg("interface snapshot failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current, err := w.Snapshot()
		if err != nil {
			w.Logger.Warn().Err(err).Msg("interface snapshot failed")
			continue
		}
		if last != "" && current != last {
			w.Logger.Warn().Str("previous", last).Str("current", current).Msg("network interfaces changed")
			out.Emit(session.EventNetworkChanged)
		}
		last = current
	}
}

// interfaceFingerprint lists every up, non-loopback interface with its
// addresses in a stable order.
func interfaceFingerprint() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	var parts []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			return "", fmt.Errorf("addresses of %s: %w", iface.Name, err)
		}
		ips := make([]string, 0, len(addrs))
		for _, a := range addrs {
			ips = append(ips, a.String())
		}
		sort.Strings(ips)
		parts = append(parts, iface.Name+"="+strings.Join(ips, ","))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";"), nil
}

// dialAddr derives host:port from an http(s) URL.
func dialAddr(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("URL must include a host: %s", rawURL)
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
