// Package notify carries user-facing notifications (toasts, status
// lines) from the communication core to whatever UI is attached.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level is the severity shown to the user.
type Level string

// Notification levels.
const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Topic groups notifications by their source.
type Topic string

// Notification topics.
const (
	TopicRetrying     Topic = "retrying"
	TopicRequest      Topic = "request_failed"
	TopicConnectivity Topic = "connectivity"
)

// Notification is a single user-visible message.
type Notification struct {
	Level   Level
	Topic   Topic
	Message string
	At      time.Time
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a function to Notifier.
type Func func(Notification)

// Notify calls f(n).
func (f Func) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	logger.Log(context.Background(), level, "Notification", "topic", string(n.Topic), "message", n.Message)
}

// Recorder keeps every notification it receives. Safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// Notify implements Notifier.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Count returns how many notifications with the given topic were recorded.
func (r *Recorder) Count(topic Topic) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.Topic == topic {
			n++
		}
	}
	return n
}

// Fanout delivers each notification to every wrapped notifier.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(n Notification) {
	for _, target := range f {
		if target != nil {
			target.Notify(n)
		}
	}
}
