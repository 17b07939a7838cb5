// Package notify carries the short user-facing messages produced by ledger
// operations.
package notify

import (
	"sync"
	"time"

	"spendlog/internal/log"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

type Notification struct {
	Level   Level     `json:"type"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type Notifier interface {
	Notify(level Level, message string)
}

// Func adapts a plain function to Notifier.
type Func func(level Level, message string)

func (f Func) Notify(level Level, message string) { f(level, message) }

// Discard drops every notification.
var Discard Notifier = Func(func(Level, string) {})

// DefaultBufferSize bounds a Buffer built with a non-positive size.
const DefaultBufferSize = 50

// Buffer keeps the most recent notifications until they are drained.
type Buffer struct {
	mu    sync.Mutex
	items []Notification
	size  int
	now   func() time.Time
}

func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{size: size, now: time.Now}
}

// Notify appends a message, dropping the oldest once the buffer is full.
func (b *Buffer) Notify(level Level, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == b.size {
		copy(b.items, b.items[1:])
		b.items = b.items[:len(b.items)-1]
	}
	b.items = append(b.items, Notification{Level: level, Message: message, At: b.now()})
}

// Drain returns the buffered notifications, oldest first, and empties the buffer.
func (b *Buffer) Drain() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: log.OrDiscard(logger).WithComponent(log.ComponentNotify)}
}

func (n *LogNotifier) Notify(level Level, message string) {
	if level == LevelError {
		n.logger.Warn("User notification", "notice_level", string(level), "message", message)
		return
	}
	n.logger.Info("User notification", "notice_level", string(level), "message", message)
}

// Multi fans a notification out to every non-nil notifier.
func Multi(notifiers ...Notifier) Notifier {
	var live []Notifier
	for _, n := range notifiers {
		if n != nil {
			live = append(live, n)
		}
	}
	return Func(func(level Level, message string) {
		for _, n := range live {
			n.Notify(level, message)
		}
	})
}

// OrDiscard returns n, or Discard when n is nil.
func OrDiscard(n Notifier) Notifier {
	if n == nil {
		return Discard
	}
	return n
}
