package notifier

import (
	"time"

	"go.uber.org/multierr"
)

// Source names the component that raised an alert.
type Source string

const (
	SourceLedger    Source = "ledger"
	SourcePositions Source = "positions"
	SourceExecutor  Source = "executor"
	SourceHealth    Source = "health"
)

// Level orders alerts for display.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Field is one labelled value rendered under the alert message.
type Field struct {
	Name  string
	Value string
}

// Alert contains everything a channel needs to render a notification.
type Alert struct {
	Source  Source
	Kind    string // rule name, e.g. "high_volume" or "impermanent_loss"
	Level   Level
	Title   string
	Message string
	Wallet  string

	Fields    []Field
	Timestamp time.Time
}

// Notifier is implemented by every alert channel.
type Notifier interface {
	// SendAlert delivers the alert. Implementations must not block the
	// caller on network I/O failures.
	SendAlert(alert Alert)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	// Filter out nil notifiers
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendAlert(alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	for _, n := range m.notifiers {
		n.SendAlert(alert)
	}
}

// Close closes all registered notifiers and returns every close error.
func (m *MultiNotifier) Close() error {
	var err error
	for _, n := range m.notifiers {
		err = multierr.Append(err, n.Close())
	}
	return err
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}

// Nop discards alerts.
type Nop struct{}

func (Nop) SendAlert(Alert) {}
func (Nop) Close() error    { return nil }
