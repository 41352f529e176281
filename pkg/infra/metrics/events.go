package metrics

import (
	"time"
)

type EventType string

const (
	EventBreakerStateChanged EventType = "breaker_state_changed"
	EventBlocked             EventType = "blocked"
	EventUnblocked           EventType = "unblocked"
	EventScoreNotable        EventType = "score_notable"
	EventDecision            EventType = "decision"
	EventIncidentCreated     EventType = "incident_created"
	EventAuditFlushed        EventType = "audit_flushed"
)

// Label keys shared by emitters and sinks.
const (
	LabelState    = "state"
	LabelDecision = "decision"
	LabelCategory = "category"
	LabelSeverity = "severity"
	LabelPlaybook = "playbook"
	LabelReason   = "reason"
	LabelKind     = "kind"
	LabelResult   = "result"
)

// Event is an observable signal. Subject names the breaker, client IP, fingerprint or
// incident the event is about.
type Event struct {
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Subject   string            `json:"subject"`
	Value     float64           `json:"value,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

func NewEvent(t EventType, subject string) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		Subject:   subject,
		Labels:    map[string]string{},
	}
}

func (e Event) WithLabel(key, value string) Event {
	labels := make(map[string]string, len(e.Labels)+1)
	for k, v := range e.Labels {
		labels[k] = v
	}
	labels[key] = value
	e.Labels = labels
	return e
}

func (e Event) WithValue(v float64) Event {
	e.Value = v
	return e
}

func (e Event) Label(key string) string {
	return e.Labels[key]
}
