package auditlogs

const (
	ActionRequestBlocked         = "request.blocked"
	ActionRequestChallenged      = "request.challenged"
	ActionRequestScored          = "request.scored"
	ActionRequestRateLimited     = "request.rate_limited"
	ActionRequestQuarantined     = "request.quarantined"
	ActionGuardInternalError     = "guard.internal_error"
	ActionIncidentCreated        = "incident.created"
	ActionIncidentActionFailed   = "incident.action_failed"
	ActionIncidentPersistRetry   = "incident.persist_retry"
	ActionIPBlocked              = "ip.blocked"
	ActionIPUnblocked            = "ip.unblocked"
	ActionFingerprintQuarantined = "fingerprint.quarantined"
	ActionBreakerStateChanged    = "breaker.state_changed"
	ActionAuditBufferOverflow    = "audit.buffer_overflow"
)

const (
	TagGuard     = "guard"
	TagIncident  = "incident"
	TagAdmin     = "admin"
	TagRateLimit = "rate_limit"
	TagBreaker   = "breaker"
)

const (
	ResourceIP          = "ip"
	ResourceFingerprint = "fingerprint"
	ResourceIncident    = "incident"
)
