package request

import (
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	DefaultBlockDuration = time.Hour
	MaxBlockDuration     = 30 * 24 * time.Hour
	defaultBlockReason   = "manual block"
)

type CreateBlockRequest struct {
	IP        string `json:"ip"`
	Reason    string `json:"reason,omitempty"`
	Duration  string `json:"duration,omitempty"`
	Temporary *bool  `json:"temporary,omitempty"`

	duration time.Duration
}

func (r *CreateBlockRequest) Validate() error {
	r.IP = strings.TrimSpace(r.IP)
	if r.IP == "" {
		return fmt.Errorf("ip is required")
	}
	if net.ParseIP(r.IP) == nil {
		return fmt.Errorf("ip %q is not a valid address", r.IP)
	}

	r.duration = DefaultBlockDuration
	if strings.TrimSpace(r.Duration) != "" {
		d, err := time.ParseDuration(r.Duration)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		if d <= 0 || d > MaxBlockDuration {
			return fmt.Errorf("duration must be between 0 and %s", MaxBlockDuration)
		}
		r.duration = d
	}

	if strings.TrimSpace(r.Reason) == "" {
		r.Reason = defaultBlockReason
	}
	return nil
}

// BlockDuration is the parsed duration, valid after Validate.
func (r *CreateBlockRequest) BlockDuration() time.Duration {
	return r.duration
}

// IsTemporary defaults to true when the field is omitted.
func (r *CreateBlockRequest) IsTemporary() bool {
	return r.Temporary == nil || *r.Temporary
}
