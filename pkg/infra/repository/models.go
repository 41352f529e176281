package repository

import (
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/domain/audit"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
)

type incidentModel struct {
	ID               string                    `gorm:"primaryKey;type:text"`
	Timestamp        time.Time                 `gorm:"not null;index"`
	Severity         string                    `gorm:"not null"`
	Category         string                    `gorm:"not null"`
	ActorIP          string                    `gorm:"column:actor_ip;index"`
	ActorFingerprint string                    `gorm:"column:actor_fingerprint"`
	ActorUserID      string                    `gorm:"column:actor_user_id"`
	Evidence         map[string]interface{}    `gorm:"serializer:json;type:jsonb"`
	ThreatScore      int                       `gorm:"not null"`
	AutoBlocked      bool                      `gorm:"not null"`
	PlaybookExecuted string                    `gorm:"column:playbook_executed"`
	Actions          []incident.ResponseAction `gorm:"serializer:json;type:jsonb"`
	Status           string                    `gorm:"not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (incidentModel) TableName() string { return "security_incidents" }

type blockRecordModel struct {
	Subject   string    `gorm:"primaryKey;type:text"`
	Kind      string    `gorm:"primaryKey;type:text"`
	Reason    string    `gorm:"not null"`
	BlockedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	Temporary bool      `gorm:"not null"`
	UpdatedAt time.Time
}

func (blockRecordModel) TableName() string { return "block_records" }

type auditEventModel struct {
	ID               string                 `gorm:"primaryKey;type:text"`
	Timestamp        time.Time              `gorm:"not null;index"`
	Level            string                 `gorm:"not null"`
	Category         string                 `gorm:"not null"`
	Action           string                 `gorm:"not null;index"`
	ActorIP          string                 `gorm:"column:actor_ip;index"`
	ActorFingerprint string                 `gorm:"column:actor_fingerprint"`
	ActorUserID      string                 `gorm:"column:actor_user_id"`
	Resource         string                 `gorm:"type:text"`
	Result           string                 `gorm:"not null"`
	Details          map[string]interface{} `gorm:"serializer:json;type:jsonb"`
	ThreatScore      *int                   `gorm:"column:threat_score"`
	Tags             []string               `gorm:"serializer:json;type:jsonb"`
}

func (auditEventModel) TableName() string { return "audit_events" }

func incidentToModel(i *incident.SecurityIncident) incidentModel {
	return incidentModel{
		ID:               i.ID,
		Timestamp:        i.Timestamp.UTC(),
		Severity:         string(i.Severity),
		Category:         i.Category,
		ActorIP:          i.Actor.IP,
		ActorFingerprint: i.Actor.Fingerprint,
		ActorUserID:      i.Actor.UserID,
		Evidence:         i.Evidence,
		ThreatScore:      i.ThreatScore,
		AutoBlocked:      i.AutoBlocked,
		PlaybookExecuted: i.PlaybookExecuted,
		Actions:          i.Actions,
		Status:           string(i.Status),
	}
}

func (m incidentModel) toDomain() *incident.SecurityIncident {
	return &incident.SecurityIncident{
		ID:        m.ID,
		Timestamp: m.Timestamp,
		Severity:  incident.Severity(m.Severity),
		Category:  m.Category,
		Actor: incident.Actor{
			IP:          m.ActorIP,
			Fingerprint: m.ActorFingerprint,
			UserID:      m.ActorUserID,
		},
		Evidence:         m.Evidence,
		ThreatScore:      m.ThreatScore,
		AutoBlocked:      m.AutoBlocked,
		PlaybookExecuted: m.PlaybookExecuted,
		Actions:          m.Actions,
		Status:           incident.Status(m.Status),
	}
}

func blockToModel(r incident.BlockRecord) blockRecordModel {
	return blockRecordModel{
		Subject:   r.Subject,
		Kind:      string(r.Kind),
		Reason:    r.Reason,
		BlockedAt: r.BlockedAt.UTC(),
		ExpiresAt: r.ExpiresAt.UTC(),
		Temporary: r.Temporary,
	}
}

func (m blockRecordModel) toDomain() incident.BlockRecord {
	return incident.BlockRecord{
		Subject:   m.Subject,
		Kind:      incident.BlockKind(m.Kind),
		Reason:    m.Reason,
		BlockedAt: m.BlockedAt,
		ExpiresAt: m.ExpiresAt,
		Temporary: m.Temporary,
	}
}

func auditToModel(e audit.Event) auditEventModel {
	m := auditEventModel{
		ID:          e.ID,
		Timestamp:   e.Timestamp.UTC(),
		Level:       string(e.Level),
		Category:    string(e.Category),
		Action:      e.Action,
		Resource:    e.Resource,
		Result:      string(e.Result),
		Details:     e.Details,
		ThreatScore: e.ThreatScore,
		Tags:        e.Tags,
	}
	if e.Actor != nil {
		m.ActorIP = e.Actor.IP
		m.ActorFingerprint = e.Actor.Fingerprint
		m.ActorUserID = e.Actor.UserID
	}
	return m
}

func (m auditEventModel) toDomain() audit.Event {
	e := audit.Event{
		ID:          m.ID,
		Timestamp:   m.Timestamp,
		Level:       audit.Level(m.Level),
		Category:    audit.Category(m.Category),
		Action:      m.Action,
		Resource:    m.Resource,
		Result:      audit.Result(m.Result),
		Details:     m.Details,
		ThreatScore: m.ThreatScore,
		Tags:        m.Tags,
	}
	if m.ActorIP != "" || m.ActorFingerprint != "" || m.ActorUserID != "" {
		e.Actor = &audit.Actor{IP: m.ActorIP, Fingerprint: m.ActorFingerprint, UserID: m.ActorUserID}
	}
	return e
}
