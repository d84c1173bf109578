package logging

import (
	"time"

	"github.com/google/uuid"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Component field helpers for common component names
func Component(name string) Field {
	return String("component", name)
}

// NodeID is the roster id of a cluster node
func NodeID(id int64) Field {
	return Int64("node_id", id)
}

// Instance identifies one process run; it changes on every restart while the
// roster id may be reused after a revive
func Instance(id uuid.UUID) Field {
	return String("instance", id.String())
}

// Property is the name of a cluster property
func Property(name string) Field {
	return String("property", name)
}

// Seq is a property log sequence number
func Seq(seq int64) Field {
	return Int64("seq", seq)
}

// State is a node lifecycle state
func State(state string) Field {
	return String("state", state)
}

func Operation(op string) Field {
	return String("operation", op)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}

func Path(p string) Field {
	return String("path", p)
}
