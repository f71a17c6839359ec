package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context carried from the moment a
// frame is read off the wire through pipeline completion.
type LogContext struct {
	TraceID   string    // Correlation ID minted per inbound frame
	Channel   string    // Channel the frame arrived on
	MTI       string    // Message type indicator
	Stan      string    // System trace audit number
	Terminal  string    // Terminal identifier (field 41)
	ClientIP  string    // Peer IP address (without port)
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a frame arriving on channel
// from clientIP.
func NewLogContext(channel, clientIP string) *LogContext {
	return &LogContext{
		Channel:   channel,
		ClientIP:  clientIP,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	cp := *lc
	return &cp
}

// WithMessage returns a copy with the message identifiers set.
func (lc *LogContext) WithMessage(mti, stan string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.MTI = mti
		clone.Stan = stan
	}
	return clone
}

// WithTerminal returns a copy with the terminal id set.
func (lc *LogContext) WithTerminal(terminal string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Terminal = terminal
	}
	return clone
}

// WithTrace returns a copy with the trace id set.
func (lc *LogContext) WithTrace(traceID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
