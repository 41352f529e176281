package audit

import (
	"context"
	"time"
)

type Level string

const (
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

type Category string

const (
	CategoryAuth     Category = "auth"
	CategoryAccess   Category = "access"
	CategorySecurity Category = "security"
	CategoryData     Category = "data"
	CategorySystem   Category = "system"
)

type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultBlocked Result = "blocked"
)

type Actor struct {
	IP          string `json:"ip,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

// Event is one security-relevant record. ID is assigned by the writer and lets storage
// discard duplicates produced by retried flushes.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Level       Level                  `json:"level"`
	Category    Category               `json:"category"`
	Action      string                 `json:"action"`
	Actor       *Actor                 `json:"actor,omitempty"`
	Resource    string                 `json:"resource,omitempty"`
	Result      Result                 `json:"result"`
	Details     map[string]interface{} `json:"details,omitempty"`
	ThreatScore *int                   `json:"threat_score,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
}

// Filter narrows an audit query. Zero values match everything.
type Filter struct {
	Level    Level
	Category Category
	Action   string
	ActorIP  string
	Result   Result
	Since    time.Time
	Until    time.Time
}

func (f Filter) Match(e Event) bool {
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if f.ActorIP != "" && (e.Actor == nil || e.Actor.IP != f.ActorIP) {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

//go:generate mockery --name=Repository --dir=. --output=../../../mocks --filename=audit_repository_mock.go --case=underscore --with-expecter
type Repository interface {
	AppendBatch(ctx context.Context, events []Event) error
	Query(ctx context.Context, filter Filter, limit int) ([]Event, error)
}
