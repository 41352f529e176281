package history

import (
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/domain/threat"
)

// ring is a fixed-capacity FIFO. The buffer grows lazily up to capacity.
type ring struct {
	buf  []threat.RequestDescriptor
	head int
	n    int
	cap  int
}

func newRing(capacity int) *ring {
	return &ring{cap: capacity}
}

func (r *ring) push(d threat.RequestDescriptor) {
	if len(r.buf) < r.cap {
		r.buf = append(r.buf, d)
		r.n++
		return
	}
	r.buf[(r.head+r.n)%r.cap] = d
	if r.n == r.cap {
		r.head = (r.head + 1) % r.cap
		return
	}
	r.n++
}

func (r *ring) at(i int) threat.RequestDescriptor {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *ring) items() []threat.RequestDescriptor {
	out := make([]threat.RequestDescriptor, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.at(i)
	}
	return out
}

func (r *ring) last() (threat.RequestDescriptor, bool) {
	if r.n == 0 {
		return threat.RequestDescriptor{}, false
	}
	return r.at(r.n - 1), true
}

// dropBefore removes leading entries older than cutoff and compacts the buffer.
func (r *ring) dropBefore(cutoff time.Time) int {
	drop := 0
	for drop < r.n && r.at(drop).Timestamp.Before(cutoff) {
		drop++
	}
	if drop == 0 {
		return 0
	}
	kept := make([]threat.RequestDescriptor, 0, r.n-drop)
	for i := drop; i < r.n; i++ {
		kept = append(kept, r.at(i))
	}
	r.buf, r.head, r.n = kept, 0, len(kept)
	return drop
}
