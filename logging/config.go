package logging

import "time"

// Config tunes the event router and its sinks. Start from
// DefaultConfig; a zero Config enables no sinks at all.
type Config struct {
	// EnabledSinks names the sinks the router fans out to. Router
	// construction fails when a named sink is not provided.
	EnabledSinks []string
	// BufferSize bounds the dispatch queue. Publishers never block; a
	// full queue drops the event instead.
	BufferSize      int
	MinimumSeverity Severity
	// Fields is stamped into every event's Extra map unless the event
	// already carries the key.
	Fields map[string]any

	JSON    JSONConfig
	Console ConsoleConfig

	// DropWarnInterval rate-limits the fallback warning logged when
	// the queue overflows.
	DropWarnInterval time.Duration
}

// JSONConfig configures the append-only file sink that keeps the
// machine-readable trail of chat, admin, and connection events.
type JSONConfig struct {
	FilePath string
	// MaxBatch is how many events accumulate before a flush.
	MaxBatch int
}

// ConsoleConfig configures the operator console stream.
type ConsoleConfig struct {
	// UseColor enables ANSI coloring of warn and error lines.
	UseColor bool
}

// DefaultConfig fits a single-process game server: console output
// only, info and above, and a queue deep enough to absorb the event
// burst of a full frame tick across every room.
func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{"console"},
		BufferSize:       1024,
		MinimumSeverity:  SeverityInfo,
		Fields:           map[string]any{"service": "flagfall"},
		DropWarnInterval: 10 * time.Second,
		JSON: JSONConfig{
			MaxBatch: 64,
		},
	}
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}
