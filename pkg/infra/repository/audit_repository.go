package repository

import (
	"context"
	"fmt"

	"github.com/NeuralTrust/TrustGuard/pkg/domain/audit"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const auditInsertBatch = 200

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) audit.Repository {
	return &auditRepository{
		db: db,
	}
}

// AppendBatch ignores rows whose id already exists, which makes a retried flush a no-op
// for the events that made it the first time.
func (r *auditRepository) AppendBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]auditEventModel, 0, len(events))
	for _, e := range events {
		rows = append(rows, auditToModel(e))
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).CreateInBatches(&rows, auditInsertBatch).Error
	if err != nil {
		return fmt.Errorf("append %d audit events: %w", len(events), err)
	}
	return nil
}

// Query returns matching events newest first.
func (r *auditRepository) Query(ctx context.Context, filter audit.Filter, limit int) ([]audit.Event, error) {
	q := r.db.WithContext(ctx).Model(&auditEventModel{})
	if filter.Level != "" {
		q = q.Where("level = ?", string(filter.Level))
	}
	if filter.Category != "" {
		q = q.Where("category = ?", string(filter.Category))
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.ActorIP != "" {
		q = q.Where("actor_ip = ?", filter.ActorIP)
	}
	if filter.Result != "" {
		q = q.Where("result = ?", string(filter.Result))
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		q = q.Where("timestamp <= ?", filter.Until.UTC())
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []auditEventModel
	if err := q.Order("timestamp DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]audit.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}
