package incident

import (
	"errors"

	domain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/threat"
)

var ErrInvalidDetection = errors.New("invalid detection")

// Detection is a finding handed over by the guard or the edge rate limiter.
type Detection struct {
	Category      threat.Category
	Severity      domain.Severity
	Score         int
	Descriptor    threat.RequestDescriptor
	Signals       []threat.Signal
	Factors       []string
	CorrelationID string
	Source        string
}

func (d Detection) severity() domain.Severity {
	if d.Severity != "" {
		return d.Severity
	}
	return domain.SeverityForScore(d.Score)
}

func (d Detection) actor() domain.Actor {
	return domain.Actor{
		IP:          d.Descriptor.ClientIP,
		Fingerprint: d.Descriptor.Fingerprint,
		UserID:      d.Descriptor.UserID,
	}
}

func (d Detection) validate() error {
	if d.Descriptor.ClientIP == "" {
		return errors.Join(ErrInvalidDetection, errors.New("missing client ip"))
	}
	return nil
}
