package logger

import (
	"encoding/json"
	"sync"
)

const defaultBufferSize = 1000

// Broadcaster is the minimal hub surface the log stream needs.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// LogEntry is one parsed log line, ready for streaming.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// LogBroadcaster is an io.Writer that keeps the most recent entries in a
// ring buffer and forwards each one to connected WebSocket clients.
type LogBroadcaster struct {
	hub    Broadcaster
	buffer *RingBuffer[LogEntry]
	mu     sync.RWMutex
}

// NewLogBroadcaster creates a broadcaster. The hub may be nil until the
// WebSocket hub exists; attach it later with SetHub.
func NewLogBroadcaster(hub Broadcaster, bufferSize int) *LogBroadcaster {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &LogBroadcaster{
		hub:    hub,
		buffer: NewRingBuffer[LogEntry](bufferSize),
	}
}

// SetHub attaches the hub that receives new entries.
func (b *LogBroadcaster) SetHub(hub Broadcaster) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hub = hub
}

// Write implements io.Writer for zerolog's JSON output. Lines that do
// not parse as JSON are dropped rather than breaking the writer chain.
func (b *LogBroadcaster) Write(p []byte) (n int, err error) {
	n = len(p)

	entry, parseErr := b.parseEntry(p)
	if parseErr != nil {
		return n, nil
	}

	b.buffer.Push(entry)

	b.mu.RLock()
	hub := b.hub
	b.mu.RUnlock()

	if hub != nil {
		hub.Broadcast("logs:entry", entry)
	}
	return n, nil
}

// GetRecentLogs returns the buffered entries, oldest first.
func (b *LogBroadcaster) GetRecentLogs() []LogEntry {
	return b.buffer.GetAll()
}

func (b *LogBroadcaster) parseEntry(data []byte) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return LogEntry{}, err
	}

	entry := LogEntry{Fields: make(map[string]any)}
	if ts, ok := raw["time"].(string); ok {
		entry.Timestamp = ts
		delete(raw, "time")
	}
	if level, ok := raw["level"].(string); ok {
		entry.Level = level
		delete(raw, "level")
	}
	if component, ok := raw["component"].(string); ok {
		entry.Component = component
		delete(raw, "component")
	}
	if msg, ok := raw["message"].(string); ok {
		entry.Message = msg
		delete(raw, "message")
	}
	for k, v := range raw {
		entry.Fields[k] = v
	}
	return entry, nil
}
