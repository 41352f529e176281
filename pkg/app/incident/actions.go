package incident

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	domain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/threat"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
	"github.com/NeuralTrust/TrustGuard/pkg/utils"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

const relatedUADistance = 2

var errNoFingerprint = errors.New("detection carries no fingerprint")

// ActorProfile aggregates what the engine has seen from one IP across incidents.
type ActorProfile struct {
	IP         string              `json:"ip"`
	FirstSeen  time.Time           `json:"first_seen"`
	LastSeen   time.Time           `json:"last_seen"`
	Incidents  int                 `json:"incidents"`
	Categories map[string]int      `json:"categories"`
	Agent      utils.UserAgentInfo `json:"agent"`
}

type relatedActor struct {
	IP     string `json:"ip"`
	Reason string `json:"reason"`
}

// execute runs one step and converts panics and errors into the action record.
func (e *Engine) execute(ctx context.Context, step Step, det Detection, inc *domain.SecurityIncident) (action domain.ResponseAction) {
	action = domain.ResponseAction{
		Type:        step.Action(),
		Description: describe(step),
	}
	defer func() {
		if r := recover(); r != nil {
			action.Executed = false
			action.Error = fmt.Sprintf("panic: %v", r)
		}
		if action.Error != "" {
			e.logger.WithFields(logrus.Fields{
				"incident_id": inc.ID,
				"step":        step.Kind,
				"error":       action.Error,
			}).Warn("playbook action failed")
		}
	}()

	result, err := e.runStep(ctx, step, det, inc)
	if err != nil {
		action.Error = err.Error()
		return action
	}
	action.Executed = true
	action.Result = result
	return action
}

func describe(step Step) string {
	switch step.Kind {
	case StepBlockIP:
		if step.Temporary {
			return fmt.Sprintf("temporarily block ip for %s", step.Duration)
		}
		return fmt.Sprintf("block ip for %s", step.Duration)
	case StepQuarantine:
		return fmt.Sprintf("quarantine fingerprint for %s", step.Duration)
	case StepAlert:
		return fmt.Sprintf("send %s priority alert", step.Priority)
	case StepEvidence:
		return "create evidence package"
	case StepForensics:
		return "capture forensics"
	case StepReport:
		return "capture honeypot report"
	case StepInvestigate:
		return "investigate related ips and fingerprints"
	case StepEscalate:
		return "flag for escalation monitoring"
	case StepMonitor:
		return "enable enhanced monitoring"
	case StepProfile:
		return "update actor profile"
	default:
		return "log detection signals"
	}
}

func (e *Engine) runStep(ctx context.Context, step Step, det Detection, inc *domain.SecurityIncident) (string, error) {
	switch step.Kind {
	case StepBlockIP:
		return e.blockStep(ctx, step, det, inc)
	case StepQuarantine:
		return e.quarantineStep(ctx, step, det)
	case StepAlert:
		return e.alertStep(ctx, step, inc)
	case StepEvidence:
		return e.evidenceStep(det, inc)
	case StepForensics:
		return e.forensicsStep("forensics", det, inc), nil
	case StepReport:
		return e.forensicsStep("honeypot_report", det, inc), nil
	case StepInvestigate:
		return e.investigateStep(ctx, det, inc), nil
	case StepEscalate:
		until := e.watch(det.Descriptor.ClientIP)
		inc.Evidence["escalation_until"] = until
		return fmt.Sprintf("flagged for escalation monitoring until %s", until.Format(time.RFC3339)), nil
	case StepMonitor:
		until := e.watch(det.Descriptor.ClientIP)
		inc.Evidence["monitoring_until"] = until
		return fmt.Sprintf("enhanced monitoring until %s", until.Format(time.RFC3339)), nil
	case StepProfile:
		p := e.updateProfile(det)
		return fmt.Sprintf("profile updated, %d incidents", p.Incidents), nil
	case StepLog:
		e.logger.WithFields(logrus.Fields{
			"incident_id": inc.ID,
			"client_ip":   det.Descriptor.ClientIP,
			"category":    det.Category,
			"score":       det.Score,
			"factors":     det.Factors,
		}).Warn("security detection")
		return "signals logged", nil
	default:
		return "", fmt.Errorf("unknown step %q", step.Kind)
	}
}

func (e *Engine) blockStep(ctx context.Context, step Step, det Detection, inc *domain.SecurityIncident) (string, error) {
	now := e.now()
	record := domain.BlockRecord{
		Subject:   det.Descriptor.ClientIP,
		Kind:      domain.BlockKindIP,
		Reason:    string(det.Category),
		BlockedAt: now,
		ExpiresAt: now.Add(step.Duration),
		Temporary: step.Temporary,
	}
	record, deferred := e.applyBlock(ctx, record, det.actor(), det.Score, false)
	inc.AutoBlocked = true
	result := fmt.Sprintf("blocked until %s", record.ExpiresAt.Format(time.RFC3339))
	if deferred {
		result += ", persistence deferred"
	}
	return result, nil
}

func (e *Engine) quarantineStep(ctx context.Context, step Step, det Detection) (string, error) {
	fp := det.Descriptor.Fingerprint
	if fp == "" {
		return "", errNoFingerprint
	}
	now := e.now()
	record := domain.BlockRecord{
		Subject:   fp,
		Kind:      domain.BlockKindFingerprint,
		Reason:    string(det.Category),
		BlockedAt: now,
		ExpiresAt: now.Add(step.Duration),
		Temporary: step.Temporary,
	}
	record, deferred := e.applyBlock(ctx, record, det.actor(), det.Score, false)
	e.shareQuarantine(ctx, record)
	result := fmt.Sprintf("fingerprint %s quarantined until %s", fp, record.ExpiresAt.Format(time.RFC3339))
	if deferred {
		result += ", persistence deferred"
	}
	return result, nil
}

func (e *Engine) alertStep(ctx context.Context, step Step, inc *domain.SecurityIncident) (string, error) {
	snapshot := *inc
	snapshot.Evidence = nil
	snapshot.Actions = nil
	err := e.breakers.Execute(ctx, breaker.Alerting, func(ctx context.Context) error {
		return e.notifier.Notify(ctx, &snapshot, step.Priority)
	})
	if err != nil {
		return "", fmt.Errorf("alert via %s: %w", e.notifier.Name(), err)
	}
	return fmt.Sprintf("%s alert sent via %s", step.Priority, e.notifier.Name()), nil
}

type evidencePackage struct {
	IncidentID string                     `json:"incident_id"`
	CapturedAt time.Time                  `json:"captured_at"`
	Category   threat.Category            `json:"category"`
	Score      int                        `json:"score"`
	Signals    []threat.Signal            `json:"signals"`
	Request    threat.RequestDescriptor   `json:"request"`
	History    []threat.RequestDescriptor `json:"history"`
}

func (e *Engine) evidenceStep(det Detection, inc *domain.SecurityIncident) (string, error) {
	pack := evidencePackage{
		IncidentID: inc.ID,
		CapturedAt: e.now().UTC(),
		Category:   det.Category,
		Score:      det.Score,
		Signals:    det.Signals,
		Request:    det.Descriptor,
		History:    e.recentHistory(det.Descriptor.ClientIP),
	}
	raw, err := json.Marshal(pack)
	if err != nil {
		return "", fmt.Errorf("marshal evidence: %w", err)
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("compress evidence: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress evidence: %w", err)
	}

	sum := sha256.Sum256(raw)
	digest := hex.EncodeToString(sum[:])
	inc.Evidence["evidence_package"] = map[string]interface{}{
		"sha256":          digest,
		"encoding":        "gzip+base64",
		"size":            len(raw),
		"compressed_size": buf.Len(),
		"history_entries": len(pack.History),
		"data":            base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
	return "sha256:" + digest, nil
}

func (e *Engine) recentHistory(ip string) []threat.RequestDescriptor {
	if e.history == nil {
		return nil
	}
	h := e.history.Snapshot(ip)
	if n := e.cfg.EvidenceHistory; len(h) > n {
		h = h[len(h)-n:]
	}
	return h
}

func (e *Engine) forensicsStep(key string, det Detection, inc *domain.SecurityIncident) string {
	h := e.recentHistory(det.Descriptor.ClientIP)
	endpoints := make(map[string]struct{}, len(h))
	methods := make(map[string]struct{})
	for _, r := range h {
		endpoints[r.Path()] = struct{}{}
		methods[r.Method] = struct{}{}
	}
	capture := map[string]interface{}{
		"endpoint":           det.Descriptor.Endpoint,
		"method":             det.Descriptor.Method,
		"user_agent":         det.Descriptor.UserAgent,
		"headers":            det.Descriptor.Headers,
		"payload_size_bytes": det.Descriptor.PayloadSizeBytes,
		"history_entries":    len(h),
		"distinct_endpoints": len(endpoints),
		"distinct_methods":   len(methods),
		"signals":            det.Signals,
	}
	if len(h) > 0 {
		capture["first_seen"] = h[0].Timestamp
	}
	inc.Evidence[key] = capture
	return fmt.Sprintf("captured %d history entries", len(h))
}

func (e *Engine) investigateStep(ctx context.Context, det Detection, inc *domain.SecurityIncident) string {
	result := ""
	if fps, ok := e.relatedFingerprints(ctx, det); ok {
		inc.Evidence["related_fingerprints"] = fps
		result = fmt.Sprintf(", %d related fingerprints", len(fps))
	}
	if e.history == nil {
		return "no history available" + result
	}
	d := det.Descriptor
	var related []relatedActor
	for ip, other := range e.history.Clients() {
		if ip == d.ClientIP {
			continue
		}
		switch {
		case d.Fingerprint != "" && other.Fingerprint == d.Fingerprint:
			related = append(related, relatedActor{IP: ip, Reason: "same fingerprint"})
		case d.UserID != "" && other.UserID == d.UserID:
			related = append(related, relatedActor{IP: ip, Reason: "same user"})
		case utils.Similar(d.UserAgent, other.UserAgent, relatedUADistance):
			related = append(related, relatedActor{IP: ip, Reason: "similar user agent"})
		}
	}
	sort.Slice(related, func(i, j int) bool { return related[i].IP < related[j].IP })
	if len(related) > e.cfg.MaxRelated {
		related = related[:e.cfg.MaxRelated]
	}
	inc.Evidence["related_actors"] = related
	return fmt.Sprintf("found %d related actors", len(related)) + result
}

func (e *Engine) watch(ip string) time.Time {
	until := e.now().Add(e.cfg.MonitorTTL)
	e.monitored.SetWithTTL(ip, until, e.cfg.MonitorTTL)
	return until
}

func (e *Engine) updateProfile(det Detection) ActorProfile {
	now := e.now()
	d := det.Descriptor
	return e.profiles.Update(d.ClientIP, func(p ActorProfile, ok bool) ActorProfile {
		categories := make(map[string]int, len(p.Categories)+1)
		for k, v := range p.Categories {
			categories[k] = v
		}
		if !ok {
			p = ActorProfile{IP: d.ClientIP, FirstSeen: now}
		}
		categories[string(det.Category)]++
		p.Categories = categories
		p.LastSeen = now
		p.Incidents++
		p.Agent = utils.ParseUserAgent(d.UserAgent, d.Headers["accept-language"])
		return p
	})
}
