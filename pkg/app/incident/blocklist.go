package incident

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	domain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
)

const blockShards = 32

type blockKey struct {
	kind    domain.BlockKind
	subject string
}

type blockEntry struct {
	record domain.BlockRecord
	gen    uint64
	timer  *time.Timer
}

type blockShard struct {
	mu      sync.Mutex
	entries map[blockKey]*blockEntry
}

// Blocklist is the in-memory mirror of active block records. Temporary records expire by
// timer; long-lived ones expire lazily on lookup.
type Blocklist struct {
	shards   [blockShards]*blockShard
	now      func() time.Time
	onExpire func(domain.BlockRecord)
}

func NewBlocklist(onExpire func(domain.BlockRecord)) *Blocklist {
	b := &Blocklist{now: time.Now, onExpire: onExpire}
	for i := range b.shards {
		b.shards[i] = &blockShard{entries: make(map[blockKey]*blockEntry)}
	}
	return b
}

func (b *Blocklist) shardFor(k blockKey) *blockShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.kind))
	_, _ = h.Write([]byte(k.subject))
	return b.shards[h.Sum32()%blockShards]
}

// Add inserts or overwrites the record for its subject. It reports whether the subject was
// not blocked before.
func (b *Blocklist) Add(record domain.BlockRecord) bool {
	_, created := b.put(record, false)
	return created
}

// Extend installs the record without weakening an active block for the same subject: the
// expiry only moves forward and a non-temporary block stays non-temporary. It returns the
// record in force and whether the subject was not blocked before.
func (b *Blocklist) Extend(record domain.BlockRecord) (domain.BlockRecord, bool) {
	return b.put(record, true)
}

func (b *Blocklist) put(record domain.BlockRecord, extend bool) (domain.BlockRecord, bool) {
	k := blockKey{kind: record.Kind, subject: record.Subject}
	sh := b.shardFor(k)
	now := b.now()

	sh.mu.Lock()
	e, ok := sh.entries[k]
	var stale *domain.BlockRecord
	if ok && !e.record.Active(now) {
		old := e.record
		stale = &old
	}
	if extend && ok && stale == nil {
		record = strongest(e.record, record)
	}
	if !ok {
		e = &blockEntry{}
		sh.entries[k] = e
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	e.record = record

	if record.Temporary {
		gen := e.gen
		e.timer = time.AfterFunc(record.ExpiresAt.Sub(now), func() {
			b.expire(k, gen)
		})
	}
	sh.mu.Unlock()

	if stale != nil && b.onExpire != nil {
		b.onExpire(*stale)
	}
	return record, !ok || stale != nil
}

// strongest merges an incoming record into an active one. The incoming reason wins only when
// it extends the block.
func strongest(active, incoming domain.BlockRecord) domain.BlockRecord {
	merged := active
	if incoming.ExpiresAt.After(active.ExpiresAt) {
		merged.ExpiresAt = incoming.ExpiresAt
		merged.Reason = incoming.Reason
	}
	merged.Temporary = active.Temporary && incoming.Temporary
	return merged
}

func (b *Blocklist) expire(k blockKey, gen uint64) {
	sh := b.shardFor(k)
	sh.mu.Lock()
	e, ok := sh.entries[k]
	if !ok || e.gen != gen {
		sh.mu.Unlock()
		return
	}
	delete(sh.entries, k)
	record := e.record
	sh.mu.Unlock()

	if b.onExpire != nil {
		b.onExpire(record)
	}
}

// Remove drops the subject and reports whether it was actively blocked.
func (b *Blocklist) Remove(kind domain.BlockKind, subject string) (domain.BlockRecord, bool) {
	k := blockKey{kind: kind, subject: subject}
	sh := b.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[k]
	if !ok {
		return domain.BlockRecord{}, false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(sh.entries, k)
	return e.record, e.record.Active(b.now())
}

func (b *Blocklist) Contains(kind domain.BlockKind, subject string) bool {
	_, ok := b.Get(kind, subject)
	return ok
}

// Get returns the active record for the subject, dropping it when it has expired.
func (b *Blocklist) Get(kind domain.BlockKind, subject string) (domain.BlockRecord, bool) {
	if subject == "" {
		return domain.BlockRecord{}, false
	}
	k := blockKey{kind: kind, subject: subject}
	sh := b.shardFor(k)
	now := b.now()

	sh.mu.Lock()
	e, ok := sh.entries[k]
	if !ok {
		sh.mu.Unlock()
		return domain.BlockRecord{}, false
	}
	if e.record.Active(now) {
		record := e.record
		sh.mu.Unlock()
		return record, true
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(sh.entries, k)
	record := e.record
	sh.mu.Unlock()

	if b.onExpire != nil {
		b.onExpire(record)
	}
	return domain.BlockRecord{}, false
}

// Active lists the active records of the given kind, or of every kind when kind is empty,
// ordered by expiry.
func (b *Blocklist) Active(kind domain.BlockKind) []domain.BlockRecord {
	now := b.now()
	var out []domain.BlockRecord
	for _, sh := range b.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			if kind != "" && k.kind != kind {
				continue
			}
			if e.record.Active(now) {
				out = append(out, e.record)
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].Subject < out[j].Subject
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out
}

func (b *Blocklist) Len() int {
	n := 0
	for _, sh := range b.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Stop cancels pending expiry timers.
func (b *Blocklist) Stop() {
	for _, sh := range b.shards {
		sh.mu.Lock()
		for _, e := range sh.entries {
			if e.timer != nil {
				e.timer.Stop()
			}
		}
		sh.mu.Unlock()
	}
}
