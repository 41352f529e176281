package alerting

import (
	"context"

	"github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/sirupsen/logrus"
)

const LogNotifierName = "log"

type logNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) Notifier {
	return &logNotifier{logger: logger}
}

func (n *logNotifier) Name() string {
	return LogNotifierName
}

func (n *logNotifier) Notify(_ context.Context, inc *incident.SecurityIncident, priority Priority) error {
	entry := n.logger.WithFields(logrus.Fields{
		"incident_id":  inc.ID,
		"priority":     priority,
		"severity":     inc.Severity,
		"category":     inc.Category,
		"actor_ip":     inc.Actor.IP,
		"threat_score": inc.ThreatScore,
	})
	switch priority {
	case PriorityCritical, PriorityHigh:
		entry.Error("security alert")
	case PriorityMedium:
		entry.Warn("security alert")
	default:
		entry.Info("security alert")
	}
	return nil
}

func (n *logNotifier) Close() {}
