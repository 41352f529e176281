package request

import (
	"fmt"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/domain/audit"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

type AuditQuery struct {
	Level    string `query:"level"`
	Category string `query:"category"`
	Action   string `query:"action"`
	IP       string `query:"ip"`
	Result   string `query:"result"`
	Since    string `query:"since"`
	Until    string `query:"until"`
	Limit    int    `query:"limit"`
}

func (q *AuditQuery) Validate() error {
	if q.Level != "" && !oneOf(q.Level, audit.LevelInfo, audit.LevelWarn, audit.LevelError, audit.LevelCritical) {
		return fmt.Errorf("unknown level %q", q.Level)
	}
	if q.Category != "" && !oneOf(q.Category, audit.CategoryAuth, audit.CategoryAccess, audit.CategorySecurity, audit.CategoryData, audit.CategorySystem) {
		return fmt.Errorf("unknown category %q", q.Category)
	}
	if q.Result != "" && !oneOf(q.Result, audit.ResultSuccess, audit.ResultFailure, audit.ResultBlocked) {
		return fmt.Errorf("unknown result %q", q.Result)
	}
	var err error
	if q.Limit, err = normalizeLimit(q.Limit); err != nil {
		return err
	}
	if _, err := parseTime("since", q.Since); err != nil {
		return err
	}
	if _, err := parseTime("until", q.Until); err != nil {
		return err
	}
	return nil
}

// Filter converts the query. Call Validate first.
func (q *AuditQuery) Filter() audit.Filter {
	since, _ := parseTime("since", q.Since)
	until, _ := parseTime("until", q.Until)
	return audit.Filter{
		Level:    audit.Level(q.Level),
		Category: audit.Category(q.Category),
		Action:   q.Action,
		ActorIP:  q.IP,
		Result:   audit.Result(q.Result),
		Since:    since,
		Until:    until,
	}
}

type IncidentQuery struct {
	Severity string `query:"severity"`
	Category string `query:"category"`
	IP       string `query:"ip"`
	Since    string `query:"since"`
	Limit    int    `query:"limit"`
}

func (q *IncidentQuery) Validate() error {
	if q.Severity != "" && !oneOf(q.Severity, incident.SeverityLow, incident.SeverityMedium, incident.SeverityHigh, incident.SeverityCritical) {
		return fmt.Errorf("unknown severity %q", q.Severity)
	}
	var err error
	if q.Limit, err = normalizeLimit(q.Limit); err != nil {
		return err
	}
	_, err = parseTime("since", q.Since)
	return err
}

func (q *IncidentQuery) Filter() incident.Filter {
	since, _ := parseTime("since", q.Since)
	return incident.Filter{
		Severity: incident.Severity(q.Severity),
		Category: q.Category,
		ActorIP:  q.IP,
		Since:    since,
	}
}

func normalizeLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, fmt.Errorf("limit must not be negative")
	case limit == 0:
		return DefaultListLimit, nil
	case limit > MaxListLimit:
		return MaxListLimit, nil
	}
	return limit, nil
}

func parseTime(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC3339 timestamp", field)
	}
	return t, nil
}

func oneOf[T ~string](value string, allowed ...T) bool {
	for _, a := range allowed {
		if value == string(a) {
			return true
		}
	}
	return false
}
