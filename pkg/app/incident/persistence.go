package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/domain/audit"
	domain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/auditlogs"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/cache"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/metrics"
	"github.com/sirupsen/logrus"
)

var ErrInvalidBlock = errors.New("invalid block request")

// applyBlock installs the record in memory and persists it. Playbook blocks extend an
// existing block, admin blocks overwrite it. It returns the record in force and whether the
// durable write was deferred to the outbox.
func (e *Engine) applyBlock(ctx context.Context, record domain.BlockRecord, actor domain.Actor, score int, overwrite bool) (domain.BlockRecord, bool) {
	var created bool
	if overwrite {
		created = e.blocks.Add(record)
	} else {
		record, created = e.blocks.Extend(record)
	}
	if created {
		e.sink.Emit(metrics.NewEvent(metrics.EventBlocked, record.Subject).
			WithLabel(metrics.LabelKind, string(record.Kind)).
			WithLabel(metrics.LabelReason, record.Reason))
	}

	action, resource := auditlogs.ActionIPBlocked, auditlogs.ResourceIP
	if record.Kind == domain.BlockKindFingerprint {
		action, resource = auditlogs.ActionFingerprintQuarantined, auditlogs.ResourceFingerprint
	}
	evt := auditlogs.SecurityEvent(audit.LevelWarn, action, audit.ResultBlocked, auditActor(actor), score)
	evt.Resource = resource + ":" + record.Subject
	evt.Details["reason"] = record.Reason
	evt.Details["expires_at"] = record.ExpiresAt
	evt.Details["temporary"] = record.Temporary
	evt.Tags = []string{auditlogs.TagIncident}
	e.audit.Log(evt)

	e.publish(ctx, cache.BlocklistEventBlock, record)
	return record, !e.persistBlock(ctx, record)
}

func (e *Engine) onExpire(record domain.BlockRecord) {
	e.sink.Emit(metrics.NewEvent(metrics.EventUnblocked, record.Subject).
		WithLabel(metrics.LabelKind, string(record.Kind)).
		WithLabel(metrics.LabelReason, "expired"))
	e.logger.WithFields(logrus.Fields{
		"subject": record.Subject,
		"kind":    record.Kind,
	}).Info("block expired")
}

// BlockIP blocks an IP outside of a playbook, e.g. from the admin API.
func (e *Engine) BlockIP(ctx context.Context, ip, reason string, duration time.Duration, temporary bool) (domain.BlockRecord, error) {
	if ip == "" || duration <= 0 {
		return domain.BlockRecord{}, ErrInvalidBlock
	}
	now := e.now()
	record := domain.BlockRecord{
		Subject:   ip,
		Kind:      domain.BlockKindIP,
		Reason:    reason,
		BlockedAt: now,
		ExpiresAt: now.Add(duration),
		Temporary: temporary,
	}
	record, _ = e.applyBlock(ctx, record, domain.Actor{IP: ip}, 0, true)
	return record, nil
}

// Unblock lifts an IP block or a fingerprint quarantine. The durable record is closed by
// persisting it with an expiry of now so rehydration does not restore it.
func (e *Engine) Unblock(ctx context.Context, kind domain.BlockKind, subject string) (bool, error) {
	record, active := e.blocks.Remove(kind, subject)
	if !active {
		return false, nil
	}
	record.ExpiresAt = e.now()
	e.sink.Emit(metrics.NewEvent(metrics.EventUnblocked, subject).
		WithLabel(metrics.LabelKind, string(kind)).
		WithLabel(metrics.LabelReason, "manual"))

	evt := auditlogs.NewEvent(audit.LevelInfo, audit.CategorySecurity, auditlogs.ActionIPUnblocked, audit.ResultSuccess)
	evt.Resource = string(kind) + ":" + subject
	evt.Details["original_reason"] = record.Reason
	evt.Tags = []string{auditlogs.TagAdmin}
	e.audit.Log(evt)

	e.publish(ctx, cache.BlocklistEventUnblock, record)
	if kind == domain.BlockKindFingerprint {
		e.releaseQuarantine(ctx, subject)
	}
	e.persistBlock(ctx, record)
	return true, nil
}

// Rehydrate restores the in-memory block and quarantine sets from storage, skipping records
// that already expired.
func (e *Engine) Rehydrate(ctx context.Context) (int, error) {
	now := e.now()
	var records []domain.BlockRecord
	err := e.breakers.Execute(ctx, breaker.Storage, func(ctx context.Context) error {
		var err error
		records, err = e.repo.LoadActiveBlocks(ctx, now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("load active blocks: %w", err)
	}
	restored := 0
	for _, r := range records {
		if !r.Active(now) {
			continue
		}
		if e.blocks.Add(r) {
			e.sink.Emit(metrics.NewEvent(metrics.EventBlocked, r.Subject).
				WithLabel(metrics.LabelKind, string(r.Kind)).
				WithLabel(metrics.LabelReason, r.Reason))
		}
		restored++
	}
	e.logger.WithField("restored", restored).Info("blocklist rehydrated")
	return restored, nil
}

// ApplyPeerEvent mirrors a block change made by another instance. Peers persist their own
// records, so nothing is written here.
func (e *Engine) ApplyPeerEvent(_ context.Context, eventType string, ev cache.BlocklistEvent) error {
	kind := domain.BlockKind(ev.Kind)
	if kind != domain.BlockKindIP && kind != domain.BlockKindFingerprint {
		return fmt.Errorf("unknown block kind %q", ev.Kind)
	}
	switch eventType {
	case cache.BlocklistEventBlock:
		now := e.now()
		if !now.Before(ev.ExpiresAt) {
			return nil
		}
		record := domain.BlockRecord{
			Subject:   ev.Subject,
			Kind:      kind,
			Reason:    ev.Reason,
			BlockedAt: now,
			ExpiresAt: ev.ExpiresAt,
			Temporary: ev.Temporary,
		}
		if e.blocks.Add(record) {
			e.sink.Emit(metrics.NewEvent(metrics.EventBlocked, ev.Subject).
				WithLabel(metrics.LabelKind, ev.Kind).
				WithLabel(metrics.LabelReason, ev.Reason))
		}
	case cache.BlocklistEventUnblock:
		if _, active := e.blocks.Remove(kind, ev.Subject); active {
			e.sink.Emit(metrics.NewEvent(metrics.EventUnblocked, ev.Subject).
				WithLabel(metrics.LabelKind, ev.Kind).
				WithLabel(metrics.LabelReason, "peer"))
		}
	default:
		return fmt.Errorf("unknown blocklist event %q", eventType)
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, eventType string, record domain.BlockRecord) {
	if e.publisher == nil {
		return
	}
	err := e.publisher.Publish(ctx, eventType, cache.BlocklistEvent{
		Subject:   record.Subject,
		Kind:      string(record.Kind),
		Reason:    record.Reason,
		ExpiresAt: record.ExpiresAt,
		Temporary: record.Temporary,
	})
	if err != nil {
		e.logger.WithError(err).WithField("subject", record.Subject).Warn("failed to publish blocklist change")
	}
}

func (e *Engine) saveIncident(ctx context.Context, inc *domain.SecurityIncident) error {
	return e.breakers.Execute(ctx, breaker.Storage, func(ctx context.Context) error {
		return e.repo.SaveIncident(ctx, inc)
	})
}

func (e *Engine) saveBlock(ctx context.Context, record domain.BlockRecord) error {
	return e.breakers.Execute(ctx, breaker.Storage, func(ctx context.Context) error {
		return e.repo.SaveBlockRecord(ctx, record)
	})
}

func incidentKey(id string) string {
	return string(outboxIncident) + ":" + id
}

func blockRecordKey(kind domain.BlockKind, subject string) string {
	return string(kind) + ":" + subject
}

// persistIncident writes a persisted-status copy of the incident, queueing it for retry on
// failure. It reports whether the write succeeded.
func (e *Engine) persistIncident(ctx context.Context, inc *domain.SecurityIncident) bool {
	stored := cloneIncident(inc)
	stored.Status = domain.StatusPersisted
	key := incidentKey(inc.ID)
	version := e.outbox.stamp(key)
	if err := e.saveIncident(ctx, stored); err != nil {
		e.deferWrite(&outboxItem{kind: outboxIncident, key: key, version: version, incident: stored}, inc.ID, err)
		return false
	}
	e.outbox.settle(key, version)
	return true
}

// persistBlock mirrors the in-memory state of the record's subject to storage. Block writes
// are serialized so a slower write never lands after a newer one.
func (e *Engine) persistBlock(ctx context.Context, record domain.BlockRecord) bool {
	e.blockWrites.Lock()
	defer e.blockWrites.Unlock()

	if current, ok := e.blocks.Get(record.Kind, record.Subject); ok {
		record = current
	}
	key := blockRecordKey(record.Kind, record.Subject)
	version := e.outbox.stamp(key)
	if err := e.saveBlock(ctx, record); err != nil {
		e.deferWrite(&outboxItem{kind: outboxBlock, key: key, version: version, record: record}, record.Subject, err)
		return false
	}
	e.outbox.settle(key, version)
	return true
}

func (e *Engine) retryBlock(ctx context.Context, item *outboxItem) error {
	e.blockWrites.Lock()
	defer e.blockWrites.Unlock()
	if !e.outbox.current(item) {
		return errSuperseded
	}
	return e.saveBlock(ctx, item.record)
}

func (e *Engine) deferWrite(item *outboxItem, subject string, err error) {
	e.outbox.add(item)
	e.logger.WithError(err).WithFields(logrus.Fields{
		"kind":    item.kind,
		"subject": subject,
	}).Warn("persistence failed, queued for retry")

	evt := auditlogs.SystemEvent(audit.LevelWarn, auditlogs.ActionIncidentPersistRetry, audit.ResultFailure)
	evt.Resource = string(item.kind) + ":" + subject
	evt.Details["error"] = err.Error()
	evt.Tags = []string{auditlogs.TagIncident}
	e.audit.Log(evt)
}

// RetryPending retries the outbox writes that are due and returns how many succeeded.
func (e *Engine) RetryPending(ctx context.Context) int {
	return e.outbox.process(ctx, func(ctx context.Context, item *outboxItem) error {
		switch item.kind {
		case outboxIncident:
			if !e.outbox.current(item) {
				return errSuperseded
			}
			return e.saveIncident(ctx, item.incident)
		case outboxBlock:
			return e.retryBlock(ctx, item)
		default:
			return nil
		}
	})
}

func cloneIncident(inc *domain.SecurityIncident) *domain.SecurityIncident {
	out := *inc
	out.Actions = append([]domain.ResponseAction(nil), inc.Actions...)
	out.Evidence = make(map[string]interface{}, len(inc.Evidence))
	for k, v := range inc.Evidence {
		out.Evidence[k] = v
	}
	return &out
}
