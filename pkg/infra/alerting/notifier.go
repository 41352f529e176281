package alerting

import (
	"context"
	"errors"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

//go:generate mockery --name=Notifier --dir=. --output=../../../mocks --filename=notifier_mock.go --case=underscore --with-expecter
type Notifier interface {
	Name() string
	Notify(ctx context.Context, inc *incident.SecurityIncident, priority Priority) error
	Close()
}

// Alert is the wire form of a notification.
type Alert struct {
	IncidentID  string            `json:"incident_id"`
	Priority    Priority          `json:"priority"`
	Severity    incident.Severity `json:"severity"`
	Category    string            `json:"category"`
	Actor       incident.Actor    `json:"actor"`
	ThreatScore int               `json:"threat_score"`
	Playbook    string            `json:"playbook,omitempty"`
	DetectedAt  time.Time         `json:"detected_at"`
	SentAt      time.Time         `json:"sent_at"`
}

func NewAlert(inc *incident.SecurityIncident, priority Priority) Alert {
	return Alert{
		IncidentID:  inc.ID,
		Priority:    priority,
		Severity:    inc.Severity,
		Category:    inc.Category,
		Actor:       inc.Actor,
		ThreatScore: inc.ThreatScore,
		Playbook:    inc.PlaybookExecuted,
		DetectedAt:  inc.Timestamp,
		SentAt:      time.Now().UTC(),
	}
}

type multiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier fans a notification out to every channel. All channels are tried even when
// one fails; the joined error is returned.
func NewMultiNotifier(notifiers ...Notifier) Notifier {
	return &multiNotifier{notifiers: notifiers}
}

func (m *multiNotifier) Name() string {
	return "multi"
}

func (m *multiNotifier) Notify(ctx context.Context, inc *incident.SecurityIncident, priority Priority) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, inc, priority); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *multiNotifier) Close() {
	for _, n := range m.notifiers {
		n.Close()
	}
}
