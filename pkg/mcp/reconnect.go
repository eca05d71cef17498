package mcp

import (
	"context"
	"fmt"
	"time"
)

// afterFailure applies the reconnection policy once a connect attempt failed
// (lost == false) or a live transport went away (lost == true). The caller
// has already moved the connection to StatusError.
func (c *Connection) afterFailure(cause error, lost bool) {
	c.mu.Lock()
	if c.status != StatusError {
		// Disconnect or Connect got in first.
		c.mu.Unlock()
		return
	}

	switch {
	case c.config.AutoReconnect && c.attempts < c.config.MaxReconnectAttempts:
		c.attempts++
		attempt := c.attempts
		gen := c.gen
		delay := c.config.ReconnectDelay()
		c.status = StatusReconnecting
		c.reconnectTimer = time.AfterFunc(delay, func() { c.reconnect(gen) })
		c.mu.Unlock()

		c.logger.Info("reconnect scheduled", "attempt", attempt, "max", c.config.MaxReconnectAttempts, "delay", delay)
		c.emit(Event{Type: EventReconnecting, Attempt: attempt})

	case c.config.AutoReconnect:
		attempts := c.attempts
		c.status = StatusDisconnected
		c.mu.Unlock()

		c.logger.Warn("giving up reconnecting", "attempts", attempts, "err", cause)
		c.emit(Event{Type: EventDisconnected, Reason: fmt.Sprintf("reconnect attempts exhausted after %d: %v", attempts, cause)})

	case lost:
		c.status = StatusDisconnected
		c.mu.Unlock()

		c.emit(Event{Type: EventDisconnected, Reason: cause.Error()})

	default:
		// auto-reconnect off: a failed connect stays in error for the caller
		c.mu.Unlock()
	}
}

// reconnect is the timer callback scheduled for gen. It does nothing if the
// connection moved on since.
func (c *Connection) reconnect(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.status != StatusReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.mu.Unlock()

	c.stats.reconnects.Add(1)
	if err := c.connect(context.Background(), gen); err != nil {
		c.logger.Debug("reconnect attempt failed", "err", err)
	}
}

// stopReconnectLocked cancels a scheduled reconnect. c.mu must be held.
func (c *Connection) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}
