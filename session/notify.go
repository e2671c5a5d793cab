package session

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Navigator moves the user agent between locations.
type Navigator interface {
	Location() string
	Navigate(path string)
}

// Level grades a [Notice].
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a user-visible message.
type Notice struct {
	Level   Level
	Message string
	Cause   error
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(ctx context.Context, n Notice)

func (f NotifierFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// LogNotifier writes notices to a logger; useful for headless hosts.
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (l LogNotifier) Notify(_ context.Context, n Notice) {
	log := l.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := log.WithField("notice", n.Message)
	if n.Cause != nil {
		entry = entry.WithError(n.Cause)
	}
	switch n.Level {
	case LevelError:
		entry.Error("user notice")
	case LevelWarning:
		entry.Warn("user notice")
	default:
		entry.Info("user notice")
	}
}

// MemoryNavigator records navigation in memory. It is safe for concurrent use.
type MemoryNavigator struct {
	mu      sync.Mutex
	current string
	history []string
}

// NewMemoryNavigator starts at location.
func NewMemoryNavigator(location string) *MemoryNavigator {
	return &MemoryNavigator{current: location}
}

func (m *MemoryNavigator) Location() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *MemoryNavigator) Navigate(path string) {
	m.mu.Lock()
	m.current = path
	m.history = append(m.history, path)
	m.mu.Unlock()
}

// History returns every path navigated to, oldest first.
func (m *MemoryNavigator) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.history))
	copy(out, m.history)
	return out
}

// Recorder collects notices in memory.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

// Notices returns the recorded notices, oldest first.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}
