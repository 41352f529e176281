package repository

import (
	"container/ring"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/domain"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/audit"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultMemoryAuditEvents = 10000
	DefaultMemoryDedupe      = 50000
)

type blockID struct {
	kind    incident.BlockKind
	subject string
}

// Memory keeps incidents, block records and audit events in process. It backs the
// service when no database is configured and sits behind the same interfaces as the
// Postgres repositories. Audit events live in a ring, oldest overwritten first, and
// an LRU of seen ids drops replays of a retried batch.
type Memory struct {
	mu        sync.RWMutex
	incidents map[string]*incident.SecurityIncident
	blocks    map[blockID]incident.BlockRecord
	events    *ring.Ring
	dedupe    *lru.Cache[string, bool]
}

func NewMemory(maxEvents, dedupeCap int) *Memory {
	if maxEvents <= 0 {
		maxEvents = DefaultMemoryAuditEvents
	}
	if dedupeCap <= 0 {
		dedupeCap = DefaultMemoryDedupe
	}
	dedupe, _ := lru.New[string, bool](dedupeCap)
	return &Memory{
		incidents: make(map[string]*incident.SecurityIncident),
		blocks:    make(map[blockID]incident.BlockRecord),
		events:    ring.New(maxEvents),
		dedupe:    dedupe,
	}
}

func (m *Memory) SaveIncident(_ context.Context, i *incident.SecurityIncident) error {
	cp := *i
	cp.Actions = append([]incident.ResponseAction(nil), i.Actions...)
	m.mu.Lock()
	m.incidents[i.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) SaveBlockRecord(_ context.Context, record incident.BlockRecord) error {
	m.mu.Lock()
	m.blocks[blockID{kind: record.Kind, subject: record.Subject}] = record
	m.mu.Unlock()
	return nil
}

func (m *Memory) LoadActiveBlocks(_ context.Context, now time.Time) ([]incident.BlockRecord, error) {
	m.mu.RLock()
	out := make([]incident.BlockRecord, 0, len(m.blocks))
	for _, r := range m.blocks {
		if r.Active(now) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (m *Memory) FindIncident(_ context.Context, id string) (*incident.SecurityIncident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.incidents[id]
	if !ok {
		return nil, domain.NewNotFoundError("incident", id)
	}
	cp := *i
	return &cp, nil
}

func (m *Memory) ListIncidents(_ context.Context, filter incident.Filter, limit int) ([]*incident.SecurityIncident, error) {
	m.mu.RLock()
	out := make([]*incident.SecurityIncident, 0, len(m.incidents))
	for _, i := range m.incidents {
		if filter.Match(i) {
			cp := *i
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool {
		if out[a].Timestamp.Equal(out[b].Timestamp) {
			return out[a].ID > out[b].ID
		}
		return out[a].Timestamp.After(out[b].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AppendBatch(_ context.Context, events []audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		if e.ID != "" {
			if _, seen := m.dedupe.Get(e.ID); seen {
				continue
			}
			m.dedupe.Add(e.ID, true)
		}
		m.events.Value = e
		m.events = m.events.Next()
	}
	return nil
}

// Query returns matching events newest first.
func (m *Memory) Query(_ context.Context, filter audit.Filter, limit int) ([]audit.Event, error) {
	m.mu.RLock()
	var out []audit.Event
	m.events.Do(func(v interface{}) {
		if e, ok := v.(audit.Event); ok && filter.Match(e) {
			out = append(out, e)
		}
	})
	m.mu.RUnlock()

	// Do walks oldest to newest starting at the write cursor.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
