package tokenpipe

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Audit event types.
const (
	AuditRenewalSuccess = "renewal_success"
	AuditRenewalFailure = "renewal_failure"
	AuditSessionCleared = "session_cleared"
	AuditRedirect       = "session_redirect"
	AuditLogin          = "login"
	AuditLogout         = "logout"
)

// AuditEvent records one session-relevant action. Token values are never included.
type AuditEvent struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	RequestID string            `json:"request_id,omitempty"`
	Username  string            `json:"username,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// LogSink writes events to a logrus logger at info level, failures at warn.
type LogSink struct {
	Log logrus.FieldLogger
}

func (s LogSink) Emit(_ context.Context, event AuditEvent) {
	if s.Log == nil {
		return
	}
	fields := logrus.Fields{
		"audit_id":   event.ID,
		"event_type": event.EventType,
		"success":    event.Success,
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.Username != "" {
		fields["username"] = event.Username
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}
	entry := s.Log.WithFields(fields)
	if event.Success {
		entry.Info("audit")
		return
	}
	entry.WithField("error", event.Error).Warn("audit")
}
