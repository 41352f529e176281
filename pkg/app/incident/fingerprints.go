package incident

import (
	"context"

	domain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/fingerprint"
	"github.com/sirupsen/logrus"
)

type relatedFingerprint struct {
	Fingerprint string `json:"fingerprint"`
	IP          string `json:"ip"`
	Quarantined bool   `json:"quarantined"`
}

func sightingOf(det Detection) fingerprint.Sighting {
	d := det.Descriptor
	return fingerprint.Sighting{
		ID:        d.Fingerprint,
		IP:        d.ClientIP,
		UserID:    d.UserID,
		UserAgent: d.UserAgent,
	}
}

func (e *Engine) withTracker(ctx context.Context, op string, fn func(ctx context.Context) error) bool {
	err := e.breakers.Execute(ctx, breaker.Fingerprints, fn)
	if err != nil {
		e.logger.WithError(err).WithField("op", op).Warn("fingerprint tracker unavailable")
		return false
	}
	return true
}

// trackFingerprint records the detection against the shared fingerprint store.
func (e *Engine) trackFingerprint(ctx context.Context, det Detection, inc *domain.SecurityIncident) {
	if e.tracker == nil || det.Descriptor.Fingerprint == "" {
		return
	}
	s := sightingOf(det)
	var count int64
	ok := e.withTracker(ctx, "track", func(ctx context.Context) error {
		if err := e.tracker.Store(ctx, s, e.cfg.ProfileTTL); err != nil {
			return err
		}
		var err error
		count, err = e.tracker.IncrementMaliciousCount(ctx, s.ID, e.cfg.ProfileTTL)
		return err
	})
	if ok {
		inc.Evidence["fingerprint_detections"] = count
	}
}

func (e *Engine) shareQuarantine(ctx context.Context, record domain.BlockRecord) {
	if e.tracker == nil {
		return
	}
	ttl := record.ExpiresAt.Sub(e.now())
	e.withTracker(ctx, "quarantine", func(ctx context.Context) error {
		return e.tracker.Quarantine(ctx, record.Subject, ttl)
	})
}

func (e *Engine) releaseQuarantine(ctx context.Context, id string) {
	if e.tracker == nil {
		return
	}
	e.withTracker(ctx, "release", func(ctx context.Context) error {
		return e.tracker.Release(ctx, id)
	})
}

// relatedFingerprints looks up the fingerprints similar to the detection's and whether any
// instance quarantined them.
func (e *Engine) relatedFingerprints(ctx context.Context, det Detection) ([]relatedFingerprint, bool) {
	if e.tracker == nil || det.Descriptor.Fingerprint == "" {
		return nil, false
	}
	var related []relatedFingerprint
	ok := e.withTracker(ctx, "find_similar", func(ctx context.Context) error {
		similar, err := e.tracker.FindSimilar(ctx, sightingOf(det))
		if err != nil {
			return err
		}
		related = make([]relatedFingerprint, 0, len(similar))
		for _, s := range similar {
			if len(related) == e.cfg.MaxRelated {
				break
			}
			quarantined := e.blocks.Contains(domain.BlockKindFingerprint, s.ID)
			if !quarantined {
				if quarantined, err = e.tracker.IsQuarantined(ctx, s.ID); err != nil {
					return err
				}
			}
			related = append(related, relatedFingerprint{Fingerprint: s.ID, IP: s.IP, Quarantined: quarantined})
		}
		return nil
	})
	if ok {
		e.logger.WithFields(logrus.Fields{
			"fingerprint": det.Descriptor.Fingerprint,
			"related":     len(related),
		}).Debug("related fingerprints resolved")
	}
	return related, ok
}

