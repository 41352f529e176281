package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/infra/metrics"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var (
	// ErrOpen is returned without invoking the operation while the breaker is open or
	// while the half-open trial slots are taken.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTimeout is returned when the operation exceeds the breaker timeout.
	ErrTimeout = errors.New("operation timed out")
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

type Config struct {
	Timeout                  time.Duration `mapstructure:"timeout"`
	ErrorThresholdPercentage uint32        `mapstructure:"error_threshold_percentage"`
	RollingCountTimeout      time.Duration `mapstructure:"rolling_count_timeout"`
	ResetTimeout             time.Duration `mapstructure:"reset_timeout"`
	VolumeThreshold          uint32        `mapstructure:"volume_threshold"`
	HalfOpenMaxRequests      uint32        `mapstructure:"half_open_max_requests"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:                  3 * time.Second,
		ErrorThresholdPercentage: 50,
		RollingCountTimeout:      10 * time.Second,
		ResetTimeout:             30 * time.Second,
		VolumeThreshold:          1,
		HalfOpenMaxRequests:      1,
	}
}

func (c Config) withDefaults(d Config) Config {
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.ErrorThresholdPercentage == 0 {
		c.ErrorThresholdPercentage = d.ErrorThresholdPercentage
	}
	if c.RollingCountTimeout <= 0 {
		c.RollingCountTimeout = d.RollingCountTimeout
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.VolumeThreshold == 0 {
		c.VolumeThreshold = d.VolumeThreshold
	}
	if c.HalfOpenMaxRequests == 0 {
		c.HalfOpenMaxRequests = d.HalfOpenMaxRequests
	}
	return c
}

// Breaker guards one named dependency.
type Breaker struct {
	name     string
	cfg      Config
	cb       *gobreaker.CircuitBreaker
	timeouts atomic.Uint64

	mu       sync.RWMutex
	openedAt time.Time
}

type Snapshot struct {
	Name                string     `json:"name"`
	State               State      `json:"state"`
	Requests            uint32     `json:"requests"`
	Successes           uint32     `json:"successes"`
	Failures            uint32     `json:"failures"`
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
	Timeouts            uint64     `json:"timeouts"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	ResetTimeout        string     `json:"reset_timeout"`
}

func newBreaker(name string, cfg Config, logger *logrus.Logger, sink metrics.Sink, notify StateListener) *Breaker {
	b := &Breaker{name: name, cfg: cfg}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxRequests,
		Interval:    cfg.RollingCountTimeout,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.VolumeThreshold {
				return false
			}
			return uint64(counts.TotalFailures)*100 > uint64(cfg.ErrorThresholdPercentage)*uint64(counts.Requests)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.onStateChange(fromGobreaker(from), fromGobreaker(to), logger, sink)
			if notify != nil {
				notify(name, fromGobreaker(from), fromGobreaker(to))
			}
		},
	}
	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

func (b *Breaker) onStateChange(from, to State, logger *logrus.Logger, sink metrics.Sink) {
	b.mu.Lock()
	switch to {
	case StateOpen:
		b.openedAt = time.Now()
	case StateClosed:
		b.openedAt = time.Time{}
		b.timeouts.Store(0)
	}
	b.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"breaker": b.name,
		"from":    from,
		"to":      to,
	}).Warn("circuit breaker state changed")
	sink.Emit(metrics.NewEvent(metrics.EventBreakerStateChanged, b.name).
		WithLabel(metrics.LabelState, string(to)).
		WithLabel("from", string(from)))
}

func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// Execute runs fn under the breaker. fn receives a context bounded by the breaker timeout.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.call(ctx, fn)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("breaker (%s): %w", b.name, ErrOpen)
	}
	return fmt.Errorf("breaker (%s): %w", b.name, err)
}

func (b *Breaker) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			b.timeouts.Add(1)
			return ErrTimeout
		}
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.timeouts.Add(1)
		return ErrTimeout
	}
}

func (b *Breaker) Snapshot() Snapshot {
	state := b.State()
	counts := b.cb.Counts()
	s := Snapshot{
		Name:                b.name,
		State:               state,
		Requests:            counts.Requests,
		Successes:           counts.TotalSuccesses,
		Failures:            counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		Timeouts:            b.timeouts.Load(),
		ResetTimeout:        b.cfg.ResetTimeout.String(),
	}
	b.mu.RLock()
	if !b.openedAt.IsZero() {
		opened := b.openedAt
		s.OpenedAt = &opened
	}
	b.mu.RUnlock()
	return s
}
