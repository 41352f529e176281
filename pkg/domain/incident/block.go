package incident

import "time"

type BlockKind string

const (
	BlockKindIP          BlockKind = "ip"
	BlockKindFingerprint BlockKind = "fingerprint"
)

// BlockRecord is the durable form of an IP block or a fingerprint quarantine.
// Subject holds the IP or the fingerprint depending on Kind.
type BlockRecord struct {
	Subject   string    `json:"subject"`
	Kind      BlockKind `json:"kind"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blocked_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Temporary bool      `json:"temporary"`
}

func (r BlockRecord) Active(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}
