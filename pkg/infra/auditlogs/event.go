package auditlogs

import (
	"github.com/NeuralTrust/TrustGuard/pkg/common"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/audit"
	"github.com/gofiber/fiber/v2"
)

// NewEvent builds an event with the mandatory fields set. ID and timestamp are assigned on Log.
func NewEvent(level audit.Level, category audit.Category, action string, result audit.Result) audit.Event {
	return audit.Event{
		Level:    level,
		Category: category,
		Action:   action,
		Result:   result,
		Details:  map[string]interface{}{},
	}
}

func SecurityEvent(level audit.Level, action string, result audit.Result, actor *audit.Actor, score int) audit.Event {
	evt := NewEvent(level, audit.CategorySecurity, action, result)
	evt.Actor = actor
	evt.ThreatScore = &score
	return evt
}

func SystemEvent(level audit.Level, action string, result audit.Result) audit.Event {
	return NewEvent(level, audit.CategorySystem, action, result)
}

// ActorFromCtx reads the attribution the guard middleware left in the request locals.
// It falls back to the socket address when the guard did not run, and to the admin
// operator when no end user is known.
func ActorFromCtx(c *fiber.Ctx) *audit.Actor {
	ip, ok := c.Locals(string(common.ClientIPContextKey)).(string)
	if !ok || ip == "" {
		ip = c.IP()
	}
	fp, _ := c.Locals(string(common.FingerprintContextKey)).(string)
	userID, _ := c.Locals(string(common.UserIDContextKey)).(string)
	if userID == "" {
		userID, _ = c.Locals(string(common.OperatorContextKey)).(string)
	}
	return &audit.Actor{
		IP:          ip,
		Fingerprint: fp,
		UserID:      userID,
	}
}
