package auditlogs

import (
	"github.com/NeuralTrust/TrustGuard/pkg/domain/audit"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
)

const ResourceBreaker = "breaker"

// BreakerStateListener records circuit breaker transitions as system audit events.
func BreakerStateListener(svc Service) breaker.StateListener {
	return func(name string, from, to breaker.State) {
		level, result := audit.LevelInfo, audit.ResultSuccess
		if to == breaker.StateOpen {
			level, result = audit.LevelError, audit.ResultFailure
		}
		evt := SystemEvent(level, ActionBreakerStateChanged, result)
		evt.Resource = ResourceBreaker + ":" + name
		evt.Details["from"] = string(from)
		evt.Details["to"] = string(to)
		evt.Tags = []string{TagBreaker}
		svc.Log(evt)
	}
}
