package auditlogs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/domain/audit"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBufferSize    = 100
	DefaultFlushInterval = 10 * time.Second
	DefaultMaxBuffer     = 10000
)

var ErrClosed = errors.New("audit log is closed")

type Config struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	MaxBuffer     int           `mapstructure:"max_buffer"`
}

//go:generate mockery --name=Service --dir=. --output=../../../mocks --filename=audit_service_mock.go --case=underscore --with-expecter
type Service interface {
	Log(event audit.Event)
	Flush(ctx context.Context) error
	Query(ctx context.Context, filter audit.Filter, limit int) ([]audit.Event, error)
	Run(ctx context.Context) error
	Close(ctx context.Context) error
}

type service struct {
	logger   *logrus.Logger
	repo     audit.Repository
	breakers breaker.Executor
	sink     metrics.Sink
	cfg      Config
	now      func() time.Time

	mu      sync.Mutex
	buffer  []audit.Event
	flushMu sync.Mutex
	flushCh chan struct{}
	closed  atomic.Bool
	dropped atomic.Int64
}

func NewService(
	logger *logrus.Logger,
	repo audit.Repository,
	breakers breaker.Executor,
	sink metrics.Sink,
	cfg Config,
) Service {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxBuffer < cfg.BufferSize {
		cfg.MaxBuffer = DefaultMaxBuffer
	}
	if sink == nil {
		sink = metrics.NewNopSink()
	}
	return &service{
		logger:   logger,
		repo:     repo,
		breakers: breakers,
		sink:     sink,
		cfg:      cfg,
		now:      time.Now,
		buffer:   make([]audit.Event, 0, cfg.BufferSize),
		flushCh:  make(chan struct{}, 1),
	}
}

func (s *service) Log(event audit.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	s.mirror(event)

	s.mu.Lock()
	s.buffer = append(s.buffer, event)
	dropped := s.trimLocked()
	full := len(s.buffer) >= s.cfg.BufferSize
	s.mu.Unlock()

	if dropped > 0 {
		s.dropped.Add(int64(dropped))
		s.logger.WithField("dropped", dropped).Error("audit buffer overflow, oldest events dropped")
	}
	if full {
		select {
		case s.flushCh <- struct{}{}:
		default:
		}
	}
}

// trimLocked enforces the hard buffer limit by dropping the oldest events.
func (s *service) trimLocked() int {
	over := len(s.buffer) - s.cfg.MaxBuffer
	if over <= 0 {
		return 0
	}
	s.buffer = append([]audit.Event(nil), s.buffer[over:]...)
	return over
}

func (s *service) mirror(event audit.Event) {
	fields := logrus.Fields{
		"audit_id": event.ID,
		"category": event.Category,
		"action":   event.Action,
		"result":   event.Result,
	}
	if event.Actor != nil && event.Actor.IP != "" {
		fields["ip"] = event.Actor.IP
	}
	if event.Resource != "" {
		fields["resource"] = event.Resource
	}
	if event.ThreatScore != nil {
		fields["threat_score"] = *event.ThreatScore
	}
	entry := s.logger.WithFields(fields)
	switch event.Level {
	case audit.LevelCritical:
		entry.WithField("critical", true).Error("audit")
	case audit.LevelError:
		entry.Error("audit")
	case audit.LevelWarn:
		entry.Warn("audit")
	default:
		entry.Info("audit")
	}
}

// Flush writes the pending events as one batch. On failure the batch is put back in front
// of the buffer so the next flush retries it in the same order.
func (s *service) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	batch := s.buffer
	s.buffer = make([]audit.Event, 0, s.cfg.BufferSize)
	s.mu.Unlock()

	if n := s.dropped.Swap(0); n > 0 {
		batch = append([]audit.Event{s.overflowEvent(n)}, batch...)
	}
	if len(batch) == 0 {
		return nil
	}

	err := s.breakers.Execute(ctx, breaker.AuditStorage, func(ctx context.Context) error {
		return s.repo.AppendBatch(ctx, batch)
	})
	if err != nil {
		s.mu.Lock()
		s.buffer = append(batch, s.buffer...)
		dropped := s.trimLocked()
		s.mu.Unlock()
		s.dropped.Add(int64(dropped))

		s.logger.WithError(err).WithFields(logrus.Fields{
			"events":  len(batch),
			"dropped": dropped,
		}).Warn("audit flush failed, events kept for retry")
		s.sink.Emit(metrics.NewEvent(metrics.EventAuditFlushed, "audit").
			WithLabel(metrics.LabelResult, "failure").
			WithValue(float64(len(batch))))
		return fmt.Errorf("flush audit events: %w", err)
	}

	s.logger.WithField("events", len(batch)).Debug("audit events flushed")
	s.sink.Emit(metrics.NewEvent(metrics.EventAuditFlushed, "audit").
		WithLabel(metrics.LabelResult, "success").
		WithValue(float64(len(batch))))
	return nil
}

// overflowEvent records how many events the hard limit discarded since the last flush. It
// leads the next batch.
func (s *service) overflowEvent(dropped int64) audit.Event {
	evt := SystemEvent(audit.LevelError, ActionAuditBufferOverflow, audit.ResultFailure)
	evt.ID = uuid.New().String()
	evt.Timestamp = s.now().UTC()
	evt.Details["dropped"] = dropped
	evt.Details["max_buffer"] = s.cfg.MaxBuffer
	s.mirror(evt)
	return evt
}

// Query flushes pending events first so the result includes them.
func (s *service) Query(ctx context.Context, filter audit.Filter, limit int) ([]audit.Event, error) {
	if err := s.Flush(ctx); err != nil {
		s.logger.WithError(err).Warn("audit query runs without pending events")
	}
	var out []audit.Event
	err := s.breakers.Execute(ctx, breaker.AuditStorage, func(ctx context.Context) error {
		events, err := s.repo.Query(ctx, filter, limit)
		out = events
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	return out, nil
}

func (s *service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Run flushes on the interval and whenever the buffer fills, until ctx is cancelled.
func (s *service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = s.Flush(ctx) //nolint:errcheck
		case <-s.flushCh:
			_ = s.Flush(ctx) //nolint:errcheck
		}
	}
}

// Close performs the final flush. Events still pending afterwards are reported and lost.
func (s *service) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return ErrClosed
	}
	if err := s.Flush(ctx); err != nil {
		s.logger.WithError(err).WithField("pending", s.Pending()).Error("final audit flush failed")
		return err
	}
	return nil
}
