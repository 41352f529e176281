package metrics

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

const defaultQueueSize = 1000

// Worker moves event delivery off the caller's goroutine. Emit never blocks: when the
// queue is full the event is dropped with a warning.
type Worker interface {
	Sink
	StartWorkers(n int)
	Shutdown()
}

type worker struct {
	logger   *logrus.Logger
	next     Sink
	taskChan chan Event
	ctx      context.Context
	cancel   context.CancelFunc
	closed   atomic.Bool
	wg       sync.WaitGroup
}

func NewWorker(logger *logrus.Logger, next Sink, queueSize int) Worker {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		logger:   logger,
		next:     next,
		taskChan: make(chan Event, queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (m *worker) Emit(evt Event) {
	if m.closed.Load() {
		return
	}
	select {
	case m.taskChan <- evt:
	default:
		m.logger.WithFields(logrus.Fields{
			"event":   evt.Type,
			"subject": evt.Subject,
		}).Warn("signal queue is full, dropping event")
	}
}

func (m *worker) StartWorkers(n int) {
	if n <= 0 {
		n = 1
	}
	m.logger.WithField("workers", n).Debug("starting signal workers")
	for i := 0; i < n; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for {
				select {
				case evt := <-m.taskChan:
					m.deliver(evt)
				case <-m.ctx.Done():
					m.drain()
					return
				}
			}
		}()
	}
}

func (m *worker) deliver(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithField("panic", r).Error("signal sink panicked")
		}
	}()
	m.next.Emit(evt)
}

func (m *worker) drain() {
	for {
		select {
		case evt := <-m.taskChan:
			m.deliver(evt)
		default:
			return
		}
	}
}

// Shutdown stops accepting events, delivers what is queued and waits for the workers.
func (m *worker) Shutdown() {
	if m.closed.Swap(true) {
		return
	}
	m.logger.Info("shutting down signal workers")
	m.cancel()
	m.wg.Wait()
	m.logger.Info("signal workers stopped")
}
