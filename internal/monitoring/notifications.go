package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType classifies a notification.
type EventType string

const (
	EventSuccess EventType = "success"
	EventFailure EventType = "failure"
	EventAlert   EventType = "alert"
)

// Priority orders events for channels that support it.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Event is one notification dispatched to all channels. Metadata is an
// explicit string-keyed bag of small values (string, number, bool).
type Event struct {
	Type      EventType
	Subject   string
	Body      string
	Priority  Priority
	Metadata  map[string]any
	Timestamp time.Time
	// ChannelErrors records per-channel delivery failures, keyed by
	// channel name. Populated by the manager during fan-out.
	ChannelErrors map[string]string
}

// Channel delivers events over one transport. Implementations must be
// safe for concurrent Send calls.
type Channel interface {
	Name() string
	Send(ctx context.Context, ev *Event) error
}

// SendTimeout bounds one channel delivery.
const SendTimeout = 30 * time.Second

// NotificationManager fans events out to its channels. A failing
// channel never blocks the others; per-channel errors are recorded on
// the event and folded into the returned error.
type NotificationManager struct {
	mu       sync.Mutex
	channels []Channel
	logger   *zap.Logger
}

// NewNotificationManager creates a manager with no channels.
func NewNotificationManager(logger *zap.Logger) *NotificationManager {
	return &NotificationManager{logger: logger.Named("notification")}
}

// AddChannel registers a delivery channel.
func (m *NotificationManager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// Channels returns the registered channel names.
func (m *NotificationManager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.channels))
	for i, ch := range m.channels {
		names[i] = ch.Name()
	}
	return names
}

// Send builds an event and dispatches it to every channel. Returns nil
// when every channel accepted the event (or no channels are
// configured); otherwise an error naming the channels that failed.
func (m *NotificationManager) Send(t EventType, subject, body string, metadata map[string]any) error {
	ev := &Event{
		Type:          t,
		Subject:       subject,
		Body:          body,
		Priority:      priorityFor(t),
		Metadata:      metadata,
		Timestamp:     time.Now().UTC(),
		ChannelErrors: map[string]string{},
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	return m.dispatch(ev)
}

// SendAlert dispatches an alert trigger with normalized formatting.
func (m *NotificationManager) SendAlert(trig Trigger) error {
	meta := map[string]any{
		"rule":     trig.RuleName,
		"severity": string(trig.Severity),
		"instance": trig.Instance,
	}
	if trig.Database != "" {
		meta["database"] = trig.Database
	}
	return m.Send(EventAlert,
		fmt.Sprintf("[%s] Alert: %s", trig.Severity, trig.RuleName),
		trig.String(),
		meta,
	)
}

func (m *NotificationManager) dispatch(ev *Event) error {
	m.mu.Lock()
	channels := append([]Channel(nil), m.channels...)
	m.mu.Unlock()

	var failed []string
	for _, ch := range channels {
		ctx, cancel := context.WithTimeout(context.Background(), SendTimeout)
		err := ch.Send(ctx, ev)
		cancel()
		if err != nil {
			ev.ChannelErrors[ch.Name()] = err.Error()
			failed = append(failed, ch.Name())
			m.logger.Warn("channel delivery failed",
				zap.String("channel", ch.Name()),
				zap.String("event", string(ev.Type)),
				zap.Error(err),
			)
			continue
		}
		m.logger.Info("notification delivered",
			zap.String("channel", ch.Name()),
			zap.String("event", string(ev.Type)),
			zap.String("subject", ev.Subject),
		)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: %v", ErrSendFailed, failed)
	}
	return nil
}

func priorityFor(t EventType) Priority {
	switch t {
	case EventFailure, EventAlert:
		return PriorityHigh
	}
	return PriorityNormal
}
