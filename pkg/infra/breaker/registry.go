package breaker

import (
	"context"
	"sort"
	"sync"

	"github.com/NeuralTrust/TrustGuard/pkg/infra/metrics"
	"github.com/sirupsen/logrus"
)

// Well-known breaker names.
const (
	Storage      = "storage"
	AuditStorage = "audit-storage"
	Alerting     = "alerting"
	RateLimit    = "rate-limit"
	Upstream     = "upstream"
	Fingerprints = "fingerprints"
)

//go:generate mockery --name=Executor --dir=. --output=../../../mocks --filename=breaker_executor_mock.go --case=underscore --with-expecter
type Executor interface {
	Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// StateListener is told about every breaker transition.
type StateListener func(name string, from, to State)

type Registry struct {
	logger   *logrus.Logger
	sink     metrics.Sink
	defaults Config

	mu        sync.RWMutex
	breakers  map[string]*Breaker
	listeners []StateListener
}

func NewRegistry(logger *logrus.Logger, sink metrics.Sink, defaults Config) *Registry {
	if sink == nil {
		sink = metrics.NewNopSink()
	}
	return &Registry{
		logger:   logger,
		sink:     sink,
		defaults: defaults.withDefaults(DefaultConfig()),
		breakers: make(map[string]*Breaker),
	}
}

// GetOrCreate returns the breaker registered under name, creating it with cfg on first use.
// cfg is ignored when the breaker already exists.
func (r *Registry) GetOrCreate(name string, cfg *Config) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}
	effective := r.defaults
	if cfg != nil {
		effective = cfg.withDefaults(r.defaults)
	}
	b = newBreaker(name, effective, r.logger, r.sink, r.notify)
	r.breakers[name] = b
	r.logger.WithField("breaker", name).Debug("circuit breaker created")
	return b
}

// OnStateChange registers a listener for the transitions of every breaker, including the
// ones created before the call.
func (r *Registry) OnStateChange(l StateListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) notify(name string, from, to State) {
	r.mu.RLock()
	listeners := append([]StateListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, l := range listeners {
		l(name, from, to)
	}
}

func (r *Registry) Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return r.GetOrCreate(name, nil).Execute(ctx, fn)
}

// Snapshot lists every breaker sorted by name.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
