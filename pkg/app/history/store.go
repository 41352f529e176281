package history

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/domain/threat"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxEntries    = 1000
	DefaultRetention     = time.Hour
	DefaultPruneInterval = 5 * time.Minute

	shardCount = 64
)

type Config struct {
	MaxEntries    int           `mapstructure:"max_entries"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

//go:generate mockery --name=Reader --dir=. --output=../../../mocks --filename=history_reader_mock.go --case=underscore --with-expecter
type Reader interface {
	Snapshot(ip string) []threat.RequestDescriptor
	Clients() map[string]threat.RequestDescriptor
}

// Store keeps a bounded, time-windowed history of requests per client IP.
type Store struct {
	logger *logrus.Logger
	cfg    Config
	shards [shardCount]*shard
	now    func() time.Time
}

type shard struct {
	mu      sync.RWMutex
	clients map[string]*ring
}

func NewStore(logger *logrus.Logger, cfg Config) *Store {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	s := &Store{
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{clients: make(map[string]*ring)}
	}
	return s
}

func (s *Store) shardFor(ip string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ip))
	return s.shards[h.Sum32()%shardCount]
}

// Record appends a descriptor to the IP's history, evicting the oldest entry when full.
func (s *Store) Record(ip string, d threat.RequestDescriptor) {
	sh := s.shardFor(ip)
	sh.mu.Lock()
	r, ok := sh.clients[ip]
	if !ok {
		r = newRing(s.cfg.MaxEntries)
		sh.clients[ip] = r
	}
	r.push(d)
	sh.mu.Unlock()
}

// Snapshot returns a copy of the IP's history, oldest first.
func (s *Store) Snapshot(ip string) []threat.RequestDescriptor {
	sh := s.shardFor(ip)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	r, ok := sh.clients[ip]
	if !ok {
		return nil
	}
	return r.items()
}

func (s *Store) Len(ip string) int {
	sh := s.shardFor(ip)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if r, ok := sh.clients[ip]; ok {
		return r.n
	}
	return 0
}

// Clients returns every tracked IP with its most recent descriptor.
func (s *Store) Clients() map[string]threat.RequestDescriptor {
	out := make(map[string]threat.RequestDescriptor)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for ip, r := range sh.clients {
			if last, ok := r.last(); ok {
				out[ip] = last
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Prune drops entries older than the retention window and forgets empty clients.
// It returns the number of removed entries.
func (s *Store) Prune(now time.Time) int {
	cutoff := now.Add(-s.cfg.Retention)
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for ip, r := range sh.clients {
			removed += r.dropBefore(cutoff)
			if r.n == 0 {
				delete(sh.clients, ip)
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Run prunes on a fixed interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := s.Prune(s.now()); removed > 0 {
				s.logger.WithField("removed", removed).Debug("pruned behavior history")
			}
		}
	}
}
