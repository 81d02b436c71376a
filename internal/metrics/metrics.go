// Package metrics provides lightweight, lock-free counters and gauges
// for tracking the console sessions and tunnels served by ptyd.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a ptyd process.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	sessionsActive    atomic.Int64
	sessionsTotal     atomic.Int64
	spawnFailures     atomic.Int64
	bytesToRemote     atomic.Int64
	bytesToChild      atomic.Int64
	oobDropped        atomic.Int64
	tunnelsTotal      atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Admin connections ────────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of admin connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// ── Console sessions ─────────────────────────────────────────────────

// SessionOpened records a successful spawn.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed records a session reaching Closed.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// SpawnFailed records a failed spawn attempt.
func (c *Collector) SpawnFailed() {
	if c == nil {
		return
	}
	c.spawnFailures.Add(1)
}

// ActiveSessions returns the number of open console sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// SpawnFailures returns the number of failed spawns.
func (c *Collector) SpawnFailures() int64 {
	if c == nil {
		return 0
	}
	return c.spawnFailures.Load()
}

// ── I/O ──────────────────────────────────────────────────────────────

// OutputEmitted records n bytes of child output sent to the remote side.
func (c *Collector) OutputEmitted(n int64) {
	if c == nil {
		return
	}
	c.bytesToRemote.Add(n)
}

// InputDelivered records n bytes written into the child.
func (c *Collector) InputDelivered(n int64) {
	if c == nil {
		return
	}
	c.bytesToChild.Add(n)
}

// OOBDropped records a keystroke rejected by a full out-of-band queue.
func (c *Collector) OOBDropped() {
	if c == nil {
		return
	}
	c.oobDropped.Add(1)
}

// TotalOutput returns total bytes sent to the remote side.
func (c *Collector) TotalOutput() int64 {
	if c == nil {
		return 0
	}
	return c.bytesToRemote.Load()
}

// TotalInput returns total bytes written into children.
func (c *Collector) TotalInput() int64 {
	if c == nil {
		return 0
	}
	return c.bytesToChild.Load()
}

// DroppedKeys returns the number of dropped out-of-band bytes.
func (c *Collector) DroppedKeys() int64 {
	if c == nil {
		return 0
	}
	return c.oobDropped.Load()
}

// ── Tunnel ───────────────────────────────────────────────────────────

// TunnelOpened records a tunnel child being spawned.
func (c *Collector) TunnelOpened() {
	if c == nil {
		return
	}
	c.tunnelsTotal.Add(1)
}

// TotalTunnels returns the lifetime tunnel count.
func (c *Collector) TotalTunnels() int64 {
	if c == nil {
		return 0
	}
	return c.tunnelsTotal.Load()
}

// ── Errors ───────────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	SessionsActive    int64  `json:"sessions_active"`
	SessionsTotal     int64  `json:"sessions_total"`
	SpawnFailures     int64  `json:"spawn_failures"`
	BytesToRemote     int64  `json:"bytes_to_remote"`
	BytesToChild      int64  `json:"bytes_to_child"`
	OOBDropped        int64  `json:"oob_dropped"`
	TunnelsTotal      int64  `json:"tunnels_total"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		SessionsActive:    c.sessionsActive.Load(),
		SessionsTotal:     c.sessionsTotal.Load(),
		SpawnFailures:     c.spawnFailures.Load(),
		BytesToRemote:     c.bytesToRemote.Load(),
		BytesToChild:      c.bytesToChild.Load(),
		OOBDropped:        c.oobDropped.Load(),
		TunnelsTotal:      c.tunnelsTotal.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
