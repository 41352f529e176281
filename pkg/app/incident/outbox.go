package incident

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRetryBase     = time.Second
	DefaultRetryMax      = 5 * time.Minute
	DefaultOutboxSize    = 10000
	defaultRetryInterval = time.Second
)

type outboxKind string

const (
	outboxIncident outboxKind = "incident"
	outboxBlock    outboxKind = "block_record"
)

var errSuperseded = errors.New("superseded by a newer write")

type outboxItem struct {
	kind        outboxKind
	key         string
	version     uint64
	incident    *domain.SecurityIncident
	record      domain.BlockRecord
	attempts    int
	nextAttempt time.Time
}

// outbox holds persistence writes that failed and retries them with exponential backoff.
// Items are keyed by the durable row they write; only the latest version of a key is ever
// written.
type outbox struct {
	logger  *logrus.Logger
	base    time.Duration
	ceiling time.Duration
	maxSize int
	now     func() time.Time

	mu       sync.Mutex
	items    []*outboxItem
	versions map[string]uint64
}

func newOutbox(logger *logrus.Logger, base, ceiling time.Duration, maxSize int) *outbox {
	if base <= 0 {
		base = DefaultRetryBase
	}
	if ceiling <= 0 {
		ceiling = DefaultRetryMax
	}
	if maxSize <= 0 {
		maxSize = DefaultOutboxSize
	}
	return &outbox{
		logger:   logger,
		base:     base,
		ceiling:  ceiling,
		maxSize:  maxSize,
		now:      time.Now,
		versions: make(map[string]uint64),
	}
}

// backoff returns the delay before the given retry attempt, starting at 1.
func (o *outbox) backoff(attempt int) time.Duration {
	d := o.base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= o.ceiling {
			return o.ceiling
		}
	}
	return d
}

// stamp records a new write for the key and returns its version. Older versions of the key
// are never written afterwards.
func (o *outbox) stamp(key string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.versions[key]++
	return o.versions[key]
}

// current reports whether the item is still the latest write for its key.
func (o *outbox) current(item *outboxItem) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.versions[item.key]
	return ok && v == item.version
}

// settle marks the version as durable and drops any pending item for the key.
func (o *outbox) settle(key string, version uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.versions[key] == version {
		delete(o.versions, key)
	}
	kept := o.items[:0]
	for _, it := range o.items {
		if it.key != key {
			kept = append(kept, it)
		}
	}
	o.items = kept
}

// add queues a failed write, replacing any pending write for the same key.
func (o *outbox) add(item *outboxItem) {
	item.attempts = 1
	item.nextAttempt = o.now().Add(o.backoff(1))

	o.mu.Lock()
	defer o.mu.Unlock()
	for i, it := range o.items {
		if it.key == item.key {
			o.items[i] = item
			return
		}
	}
	o.items = append(o.items, item)
	if over := len(o.items) - o.maxSize; over > 0 {
		for _, it := range o.items[:over] {
			if o.versions[it.key] == it.version {
				delete(o.versions, it.key)
			}
		}
		o.items = o.items[over:]
		o.logger.WithField("dropped", over).Error("incident outbox full, dropped oldest writes")
	}
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// due removes and returns the items whose retry time has come.
func (o *outbox) due() []*outboxItem {
	now := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()
	var ready, waiting []*outboxItem
	for _, it := range o.items {
		if !now.Before(it.nextAttempt) {
			ready = append(ready, it)
		} else {
			waiting = append(waiting, it)
		}
	}
	o.items = waiting
	return ready
}

// reschedule puts a failed retry back unless a newer write for the key arrived meanwhile.
func (o *outbox) reschedule(item *outboxItem) {
	item.attempts++
	item.nextAttempt = o.now().Add(o.backoff(item.attempts))
	o.mu.Lock()
	defer o.mu.Unlock()
	if v, ok := o.versions[item.key]; !ok || v != item.version {
		return
	}
	for _, it := range o.items {
		if it.key == item.key {
			return
		}
	}
	o.items = append(o.items, item)
}

func (o *outbox) process(ctx context.Context, write func(context.Context, *outboxItem) error) int {
	written := 0
	for _, item := range o.due() {
		err := write(ctx, item)
		switch {
		case errors.Is(err, errSuperseded):
			continue
		case err != nil:
			o.logger.WithError(err).WithFields(logrus.Fields{
				"kind":     item.kind,
				"key":      item.key,
				"attempts": item.attempts,
			}).Warn("persistence retry failed")
			o.reschedule(item)
			continue
		}
		o.settle(item.key, item.version)
		written++
	}
	return written
}
