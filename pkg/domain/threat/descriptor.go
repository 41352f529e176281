package threat

import (
	"strings"
	"time"
)

// RequestDescriptor is the normalized, security-relevant view of one inbound request.
// Values are never mutated after construction; WithOutcome returns a copy.
type RequestDescriptor struct {
	ClientIP         string            `json:"client_ip"`
	UserAgent        string            `json:"user_agent"`
	Endpoint         string            `json:"endpoint"`
	Method           string            `json:"method"`
	Timestamp        time.Time         `json:"timestamp"`
	ResponseTimeMs   int64             `json:"response_time_ms,omitempty"`
	StatusCode       int               `json:"status_code,omitempty"`
	PayloadSizeBytes int64             `json:"payload_size_bytes"`
	Headers          map[string]string `json:"headers,omitempty"`
	Fingerprint      string            `json:"fingerprint,omitempty"`
	UserID           string            `json:"user_id,omitempty"`
}

// WithOutcome returns a copy of the descriptor completed with the response data.
func (d RequestDescriptor) WithOutcome(responseTimeMs int64, statusCode int) RequestDescriptor {
	out := d
	out.Headers = make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		out.Headers[k] = v
	}
	out.ResponseTimeMs = responseTimeMs
	out.StatusCode = statusCode
	return out
}

// Path returns the endpoint without its query string.
func (d RequestDescriptor) Path() string {
	if i := strings.IndexByte(d.Endpoint, '?'); i >= 0 {
		return d.Endpoint[:i]
	}
	return d.Endpoint
}

// Header returns a whitelisted header value by its lower-case name.
func (d RequestDescriptor) Header(name string) (string, bool) {
	v, ok := d.Headers[strings.ToLower(name)]
	return v, ok
}
