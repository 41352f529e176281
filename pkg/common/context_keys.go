package common

type contextKey string

const (
	DescriptorContextKey    contextKey = "descriptor"
	DecisionContextKey      contextKey = "decision"
	ClientIPContextKey      contextKey = "client_ip"
	FingerprintContextKey   contextKey = "fingerprint_id"
	UserIDContextKey        contextKey = "user_id"
	CorrelationIDContextKey contextKey = "correlation_id"
	OperatorContextKey      contextKey = "operator"
	StartTimeContextKey     contextKey = "__start_time"
)
