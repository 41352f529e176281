package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/domain"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IncidentStore is the Postgres-backed incident and block-record store.
type IncidentStore interface {
	incident.Repository
	incident.Finder
}

type incidentRepository struct {
	db *gorm.DB
}

func NewIncidentRepository(db *gorm.DB) IncidentStore {
	return &incidentRepository{
		db: db,
	}
}

// SaveIncident upserts on id so a retried write after a partial failure replaces the row.
func (r *incidentRepository) SaveIncident(ctx context.Context, i *incident.SecurityIncident) error {
	m := incidentToModel(i)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("save incident %s: %w", i.ID, err)
	}
	return nil
}

func (r *incidentRepository) SaveBlockRecord(ctx context.Context, record incident.BlockRecord) error {
	m := blockToModel(record)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject"}, {Name: "kind"}},
		UpdateAll: true,
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("save block record %s/%s: %w", record.Kind, record.Subject, err)
	}
	return nil
}

func (r *incidentRepository) LoadActiveBlocks(ctx context.Context, now time.Time) ([]incident.BlockRecord, error) {
	var rows []blockRecordModel
	if err := r.db.WithContext(ctx).
		Where("expires_at > ?", now.UTC()).
		Order("expires_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]incident.BlockRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *incidentRepository) FindIncident(ctx context.Context, id string) (*incident.SecurityIncident, error) {
	var row incidentModel
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("incident", id)
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *incidentRepository) ListIncidents(
	ctx context.Context,
	filter incident.Filter,
	limit int,
) ([]*incident.SecurityIncident, error) {
	q := r.db.WithContext(ctx).Model(&incidentModel{})
	if filter.Severity != "" {
		q = q.Where("severity = ?", string(filter.Severity))
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.ActorIP != "" {
		q = q.Where("actor_ip = ?", filter.ActorIP)
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since.UTC())
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []incidentModel
	if err := q.Order("timestamp DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*incident.SecurityIncident, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}
