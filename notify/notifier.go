// Package notify is the alerting collaborator boundary. Delivery transports
// live outside the core; the default implementation just logs.
package notify

import (
	"context"

	"github.com/solreap/solreap/telemetry"
)

// Severity of a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one notification.
type Event struct {
	Severity Severity
	Title    string
	Body     string
}

// Notifier delivers events to operators.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *telemetry.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *telemetry.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the event at a level matching its severity.
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	logger := n.logger.WithContext(ctx)
	evt := logger.Info()
	if event.Severity == SeverityWarning {
		evt = logger.Warn()
	}
	if event.Severity == SeverityCritical {
		evt = logger.Error()
	}
	evt.Str("title", event.Title).Str("severity", string(event.Severity)).Msg(event.Body)
	return nil
}
