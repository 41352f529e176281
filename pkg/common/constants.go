package common

import "time"

const (
	ThreatScoreHeader    = "X-Threat-Score"
	ThreatDecisionHeader = "X-Threat-Decision"
	CorrelationIDHeader  = "X-Correlation-Id"

	RateLimitLimitHeader     = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"
	RetryAfterHeader         = "Retry-After"

	MonitoringWatchTTL = time.Hour
	HeaderValueMaxLen  = 256
)
