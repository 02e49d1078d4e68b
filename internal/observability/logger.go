package observability

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"goalline/internal/domain"
	"goalline/internal/events"
)

// EventType categorizes a log entry.
type EventType string

const (
	EventTypeTimeline EventType = "timeline"
	EventTypeDecision EventType = "decision"
	EventTypeDeleted  EventType = "goal_deleted"
)

// Entry is one structured JSONL line.
type Entry struct {
	Type      EventType `json:"type"`
	GoalID    string    `json:"goal_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger appends JSONL entries to a file under the workspace, rotating
// once past maxSize.
type Logger struct {
	mu      sync.Mutex
	path    string
	maxSize int64
}

// NewLogger writes to <workspace>/.goalline/logs/events.jsonl.
func NewLogger(workspace string) *Logger {
	if workspace == "" {
		workspace = "."
	}
	return &Logger{
		path:    filepath.Join(workspace, ".goalline", "logs", "events.jsonl"),
		maxSize: 10 * 1024 * 1024,
	}
}

// Attach subscribes the logger to a bus. The returned function removes
// the subscriptions.
func (l *Logger) Attach(bus *events.Bus) func() {
	offTimeline := bus.OnTimelineEvent(func(evt domain.TimelineEvent) {
		l.Log(Entry{Type: EventTypeTimeline, GoalID: evt.GoalID, Data: evt})
	})
	offDecision := bus.OnUserDecisionCreated(func(goalID string, d domain.UserDecision) {
		l.Log(Entry{Type: EventTypeDecision, GoalID: goalID, Data: d})
	})
	offDeleted := bus.OnGoalDeleted(func(goalID string) {
		l.Log(Entry{Type: EventTypeDeleted, GoalID: goalID})
	})
	return func() {
		offTimeline()
		offDecision()
		offDeleted()
	}
}

// Log appends one entry. Failures are reported on the process log and
// never propagate to the publisher.
func (l *Logger) Log(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("observability: marshal entry: %v", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.write(data)
}

func (l *Logger) write(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		log.Printf("observability: create log directory: %v", err)
		return
	}
	if info, err := os.Stat(l.path); err == nil && info.Size() > l.maxSize {
		l.rotate()
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("observability: open log file: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("observability: write log file: %v", err)
	}
}

// rotate keeps a single .old file.
func (l *Logger) rotate() {
	oldPath := l.path + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.path, oldPath)
}
