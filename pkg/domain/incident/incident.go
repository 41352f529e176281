package incident

import (
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityForScore maps a threat score onto an incident severity.
func SeverityForScore(score int) Severity {
	switch {
	case score >= 90:
		return SeverityCritical
	case score >= 70:
		return SeverityHigh
	case score >= 55:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Status tracks an incident through the response state machine.
type Status string

const (
	StatusDetected         Status = "detected"
	StatusPlaybookSelected Status = "playbook_selected"
	StatusActionsExecuted  Status = "actions_executed"
	StatusPersisted        Status = "persisted"
)

type ActionType string

const (
	ActionLog         ActionType = "log"
	ActionAlert       ActionType = "alert"
	ActionBlock       ActionType = "block"
	ActionQuarantine  ActionType = "quarantine"
	ActionInvestigate ActionType = "investigate"
	ActionEscalate    ActionType = "escalate"
)

type Actor struct {
	IP          string `json:"ip"`
	Fingerprint string `json:"fingerprint,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

// ResponseAction is the outcome of one playbook step.
type ResponseAction struct {
	Type        ActionType `json:"type"`
	Description string     `json:"description"`
	Executed    bool       `json:"executed"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type SecurityIncident struct {
	ID               string                 `json:"id"`
	Timestamp        time.Time              `json:"timestamp"`
	Severity         Severity               `json:"severity"`
	Category         string                 `json:"category"`
	Actor            Actor                  `json:"actor"`
	Evidence         map[string]interface{} `json:"evidence"`
	ThreatScore      int                    `json:"threat_score"`
	AutoBlocked      bool                   `json:"auto_blocked"`
	PlaybookExecuted string                 `json:"playbook_executed,omitempty"`
	Actions          []ResponseAction       `json:"actions"`
	Status           Status                 `json:"status"`
}

// ExecutedActions returns the actions of the given type that ran successfully.
func (i *SecurityIncident) ExecutedActions(t ActionType) []ResponseAction {
	var out []ResponseAction
	for _, a := range i.Actions {
		if a.Type == t && a.Executed {
			out = append(out, a)
		}
	}
	return out
}
