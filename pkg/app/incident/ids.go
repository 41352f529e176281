package incident

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const idTimeLayout = "20060102T150405"

// IDGenerator issues INC-<yyyymmddThhmmss>-<seq>-<8 hex> identifiers. The sequence keeps IDs
// ordered within one process and the random suffix keeps them unique across instances.
type IDGenerator struct {
	seq atomic.Uint64
	now func() time.Time
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

func (g *IDGenerator) Next() string {
	n := g.seq.Add(1)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("INC-%s-%d-%s", g.now().UTC().Format(idTimeLayout), n, suffix)
}
