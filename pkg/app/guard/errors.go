package guard

import "fmt"

// Rejection is the designed outcome of a block decision. It is not an internal failure.
type Rejection struct {
	Reason        string `json:"reason"`
	Score         int    `json:"score"`
	CorrelationID string `json:"correlationId"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("request rejected: %s (score %d)", r.Reason, r.Score)
}

// InternalError wraps any failure inside the detector. The guard maps it to allow.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("guard %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}
