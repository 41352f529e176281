package incident

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/domain/audit"
	domain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/threat"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/alerting"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/fingerprint"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/metrics"
	"github.com/sirupsen/logrus"
)

var errStorageDown = errors.New("storage unavailable")

type passthrough struct{}

func (passthrough) Execute(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memRepo struct {
	mu        sync.Mutex
	failing   bool
	incidents map[string]*domain.SecurityIncident
	records   map[string]domain.BlockRecord
}

func newMemRepo() *memRepo {
	return &memRepo{
		incidents: make(map[string]*domain.SecurityIncident),
		records:   make(map[string]domain.BlockRecord),
	}
}

func (r *memRepo) setFailing(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = v
}

func (r *memRepo) SaveIncident(_ context.Context, inc *domain.SecurityIncident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errStorageDown
	}
	r.incidents[inc.ID] = inc
	return nil
}

func (r *memRepo) SaveBlockRecord(_ context.Context, record domain.BlockRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errStorageDown
	}
	r.records[string(record.Kind)+":"+record.Subject] = record
	return nil
}

func (r *memRepo) LoadActiveBlocks(_ context.Context, _ time.Time) ([]domain.BlockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return nil, errStorageDown
	}
	out := make([]domain.BlockRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

func (r *memRepo) incident(id string) (*domain.SecurityIncident, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inc, ok := r.incidents[id]
	return inc, ok
}

func (r *memRepo) record(kind domain.BlockKind, subject string) (domain.BlockRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[string(kind)+":"+subject]
	return rec, ok
}

type fakeAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *fakeAudit) Log(evt audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, evt)
}

func (a *fakeAudit) Flush(context.Context) error { return nil }
func (a *fakeAudit) Query(context.Context, audit.Filter, int) ([]audit.Event, error) {
	return nil, nil
}
func (a *fakeAudit) Run(context.Context) error   { return nil }
func (a *fakeAudit) Close(context.Context) error { return nil }

func (a *fakeAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Action)
	}
	return out
}

type stubNotifier struct {
	mu   sync.Mutex
	err  error
	sent []alerting.Priority
}

func (n *stubNotifier) Name() string { return "stub" }
func (n *stubNotifier) Notify(_ context.Context, _ *domain.SecurityIncident, p alerting.Priority) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, p)
	return nil
}
func (n *stubNotifier) Close() {}

type fakeHistory struct {
	snapshots map[string][]threat.RequestDescriptor
	clients   map[string]threat.RequestDescriptor
}

func (h *fakeHistory) Snapshot(ip string) []threat.RequestDescriptor {
	return h.snapshots[ip]
}

func (h *fakeHistory) Clients() map[string]threat.RequestDescriptor {
	return h.clients
}

type fakeTracker struct {
	mu          sync.Mutex
	sightings   []fingerprint.Sighting
	similar     []fingerprint.Sighting
	quarantined map[string]time.Duration
	malicious   map[string]int64
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{quarantined: map[string]time.Duration{}, malicious: map[string]int64{}}
}

func (t *fakeTracker) Store(_ context.Context, s fingerprint.Sighting, _ time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sightings = append(t.sightings, s)
	return nil
}

func (t *fakeTracker) FindSimilar(context.Context, fingerprint.Sighting) ([]fingerprint.Sighting, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.similar, nil
}

func (t *fakeTracker) Quarantine(_ context.Context, id string, d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.quarantined[id] = d
	return nil
}

func (t *fakeTracker) Release(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.quarantined, id)
	return nil
}

func (t *fakeTracker) IsQuarantined(_ context.Context, id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.quarantined[id]
	return ok, nil
}

func (t *fakeTracker) IncrementMaliciousCount(_ context.Context, id string, _ time.Duration) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.malicious[id]++
	return t.malicious[id], nil
}

type fixture struct {
	engine   *Engine
	repo     *memRepo
	audit    *fakeAudit
	notifier *stubNotifier
	sink     *metrics.RecordingSink
	now      time.Time
}

func newFixture(t *testing.T, cfg Config, hist *fakeHistory) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	f := &fixture{
		repo:     newMemRepo(),
		audit:    &fakeAudit{},
		notifier: &stubNotifier{},
		sink:     metrics.NewRecordingSink(256),
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	deps := Deps{
		Logger:     logger,
		Repository: f.repo,
		Breakers:   passthrough{},
		Notifier:   f.notifier,
		Audit:      f.audit,
		Sink:       f.sink,
	}
	if hist != nil {
		deps.History = hist
	}
	f.engine = NewEngine(cfg, deps)
	f.engine.now = func() time.Time { return f.now }
	t.Cleanup(f.engine.blocks.Stop)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

const attackerUA = "sqlmap/1.5"

func sqlDetection(ip string) Detection {
	return Detection{
		Category: threat.CategorySQLInjection,
		Score:    75,
		Descriptor: threat.RequestDescriptor{
			ClientIP:  ip,
			UserAgent: attackerUA,
			Endpoint:  "/api/users?id=1 UNION SELECT password FROM users",
			Method:    "GET",
			Headers:   map[string]string{"user-agent": attackerUA},
		},
		Signals: []threat.Signal{
			{Rule: "user_agent", Points: 40, Category: threat.CategoryBot},
			{Rule: "endpoint_pattern", Points: 35, Category: threat.CategorySQLInjection},
		},
		Factors: []string{"offensive tool user agent", "sql injection pattern"},
		Source:  "guard",
	}
}
