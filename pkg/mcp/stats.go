package mcp

import (
	"sync/atomic"
	"time"
)

// ConnectionStats is a snapshot of one connection's counters.
type ConnectionStats struct {
	MessagesSent     int64     `json:"messagesSent"`
	MessagesReceived int64     `json:"messagesReceived"`
	Errors           int64     `json:"errors"`
	ToolCalls        int64     `json:"toolCalls"`
	ResourceReads    int64     `json:"resourceReads"`
	PromptGets       int64     `json:"promptGets"`
	ListCalls        int64     `json:"listCalls"`
	Reconnects       int64     `json:"reconnects"`
	Timeouts         int64     `json:"timeouts"`
	LastActivity     time.Time `json:"lastActivity,omitzero"`
}

// GlobalStats is a snapshot of the counters aggregated across a Registry.
type GlobalStats struct {
	TotalConnections  int64     `json:"totalConnections"`
	ActiveConnections int64     `json:"activeConnections"`
	TotalMessages     int64     `json:"totalMessages"`
	TotalErrors       int64     `json:"totalErrors"`
	LastActivity      time.Time `json:"lastActivity,omitzero"`
}

// globalCounters is shared by every connection of a registry.
type globalCounters struct {
	connections  atomic.Int64
	active       atomic.Int64
	messages     atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Int64 // unix nanoseconds
}

func (g *globalCounters) snapshot() GlobalStats {
	return GlobalStats{
		TotalConnections:  g.connections.Load(),
		ActiveConnections: g.active.Load(),
		TotalMessages:     g.messages.Load(),
		TotalErrors:       g.errors.Load(),
		LastActivity:      unixNanoTime(g.lastActivity.Load()),
	}
}

// connCounters holds one connection's counters and feeds the global ones.
type connCounters struct {
	global *globalCounters

	sent          atomic.Int64
	received      atomic.Int64
	errors        atomic.Int64
	toolCalls     atomic.Int64
	resourceReads atomic.Int64
	promptGets    atomic.Int64
	listCalls     atomic.Int64
	reconnects    atomic.Int64
	timeouts      atomic.Int64
	lastActivity  atomic.Int64
}

func (s *connCounters) touch() {
	now := time.Now().UnixNano()
	s.lastActivity.Store(now)
	s.global.lastActivity.Store(now)
}

func (s *connCounters) messageSent() {
	s.sent.Add(1)
	s.global.messages.Add(1)
	s.touch()
}

func (s *connCounters) messageReceived() {
	s.received.Add(1)
	s.global.messages.Add(1)
	s.touch()
}

func (s *connCounters) failure() {
	s.errors.Add(1)
	s.global.errors.Add(1)
	s.touch()
}

func (s *connCounters) timeout() {
	s.timeouts.Add(1)
	s.failure()
}

func (s *connCounters) snapshot() ConnectionStats {
	return ConnectionStats{
		MessagesSent:     s.sent.Load(),
		MessagesReceived: s.received.Load(),
		Errors:           s.errors.Load(),
		ToolCalls:        s.toolCalls.Load(),
		ResourceReads:    s.resourceReads.Load(),
		PromptGets:       s.promptGets.Load(),
		ListCalls:        s.listCalls.Load(),
		Reconnects:       s.reconnects.Load(),
		Timeouts:         s.timeouts.Load(),
		LastActivity:     unixNanoTime(s.lastActivity.Load()),
	}
}

func unixNanoTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
