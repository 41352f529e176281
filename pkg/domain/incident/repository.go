package incident

import (
	"context"
	"time"
)

//go:generate mockery --name=Repository --dir=. --output=../../../mocks --filename=incident_repository_mock.go --case=underscore --with-expecter
type Repository interface {
	SaveIncident(ctx context.Context, incident *SecurityIncident) error
	SaveBlockRecord(ctx context.Context, record BlockRecord) error
	LoadActiveBlocks(ctx context.Context, now time.Time) ([]BlockRecord, error)
}

// Finder reads stored incidents back for the admin surface.
type Finder interface {
	FindIncident(ctx context.Context, id string) (*SecurityIncident, error)
	ListIncidents(ctx context.Context, filter Filter, limit int) ([]*SecurityIncident, error)
}

// Filter narrows an incident listing. Zero values match everything.
type Filter struct {
	Severity Severity
	Category string
	ActorIP  string
	Since    time.Time
}

func (f Filter) Match(i *SecurityIncident) bool {
	if f.Severity != "" && i.Severity != f.Severity {
		return false
	}
	if f.Category != "" && i.Category != f.Category {
		return false
	}
	if f.ActorIP != "" && i.Actor.IP != f.ActorIP {
		return false
	}
	if !f.Since.IsZero() && i.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
