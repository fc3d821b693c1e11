// Package notify delivers transient user-facing messages: the success and
// error toasts raised while processing an image.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/geosegment/internal/logging"
)

// Level classifies a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is one transient message.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
	Time    time.Time `json:"time"`
}

// Notifier delivers notifications. Delivery is best effort and never fails
// the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Success builds a success notification.
func Success(msg string) Notification {
	return Notification{Level: LevelSuccess, Message: msg, Time: time.Now()}
}

// Info builds an informational notification.
func Info(msg string) Notification {
	return Notification{Level: LevelInfo, Message: msg, Time: time.Now()}
}

// Error builds an error notification carrying err as detail.
func Error(msg string, err error) Notification {
	n := Notification{Level: LevelError, Message: msg, Time: time.Now()}
	if err != nil {
		n.Detail = err.Error()
	}
	return n
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a notifier logging through l.
func NewLogNotifier(l *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: l.Named("notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, note Notification) {
	fields := []zap.Field{zap.String("level", string(note.Level))}
	if note.Detail != "" {
		fields = append(fields, zap.String("detail", note.Detail))
	}
	if note.Level == LevelError {
		n.logger.Warn(ctx, note.Message, fields...)
		return
	}
	n.logger.Info(ctx, note.Message, fields...)
}

// ChannelNotifier forwards notifications to a channel, dropping them when
// the buffer is full.
type ChannelNotifier struct {
	ch chan Notification
}

// NewChannelNotifier creates a channel notifier with the given buffer.
func NewChannelNotifier(buffer int) *ChannelNotifier {
	return &ChannelNotifier{ch: make(chan Notification, buffer)}
}

// C returns the receive side.
func (n *ChannelNotifier) C() <-chan Notification {
	return n.ch
}

func (n *ChannelNotifier) Notify(_ context.Context, note Notification) {
	select {
	case n.ch <- note:
	default:
	}
}

// NATSNotifier publishes notifications as JSON to
// geosegment.notifications.{level}.
type NATSNotifier struct {
	nc     *nats.Conn
	logger *logging.Logger
}

// NewNATSNotifier creates a notifier publishing on nc.
func NewNATSNotifier(nc *nats.Conn, l *logging.Logger) *NATSNotifier {
	return &NATSNotifier{nc: nc, logger: l}
}

// NotificationSubject returns the subject for a level.
func NotificationSubject(level Level) string {
	return fmt.Sprintf("geosegment.notifications.%s", level)
}

func (n *NATSNotifier) Notify(ctx context.Context, note Notification) {
	data, err := json.Marshal(note)
	if err != nil {
		n.logger.Warn(ctx, "failed to encode notification", zap.Error(err))
		return
	}
	if err := n.nc.Publish(NotificationSubject(note.Level), data); err != nil {
		n.logger.Warn(ctx, "failed to publish notification", zap.Error(err))
	}
}

// Multi fans a notification out to several notifiers.
type Multi struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

// NewMulti creates a fan-out notifier. Nil entries are skipped.
func NewMulti(notifiers ...Notifier) *Multi {
	m := &Multi{}
	for _, n := range notifiers {
		m.Add(n)
	}
	return m
}

// Add registers another notifier.
func (m *Multi) Add(n Notifier) {
	if n == nil {
		return
	}
	m.mu.Lock()
	m.notifiers = append(m.notifiers, n)
	m.mu.Unlock()
}

func (m *Multi) Notify(ctx context.Context, note Notification) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.notifiers {
		n.Notify(ctx, note)
	}
}
