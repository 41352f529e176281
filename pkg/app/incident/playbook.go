package incident

import (
	"time"

	domain "github.com/NeuralTrust/TrustGuard/pkg/domain/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/threat"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/alerting"
)

const (
	PlaybookCriticalThreat     = "critical_threat"
	PlaybookActiveAttack       = "active_attack"
	PlaybookRateLimitViolation = "rate_limit_violation"
	PlaybookAutomation         = "automation_detected"
	PlaybookHoneypot           = "honeypot_triggered"
	PlaybookBehavioralAnomaly  = "behavioral_anomaly"
	PlaybookHighThreat         = "high_threat"
	PlaybookStandardMonitoring = "standard_monitoring"
)

type StepKind string

const (
	StepBlockIP     StepKind = "block_ip"
	StepQuarantine  StepKind = "quarantine_fingerprint"
	StepAlert       StepKind = "alert"
	StepEvidence    StepKind = "evidence_package"
	StepForensics   StepKind = "capture_forensics"
	StepReport      StepKind = "capture_report"
	StepInvestigate StepKind = "investigate_related"
	StepEscalate    StepKind = "flag_escalation"
	StepMonitor     StepKind = "enhanced_monitoring"
	StepLog         StepKind = "log"
	StepProfile     StepKind = "update_actor_profile"
)

var stepActions = map[StepKind]domain.ActionType{
	StepBlockIP:     domain.ActionBlock,
	StepQuarantine:  domain.ActionQuarantine,
	StepAlert:       domain.ActionAlert,
	StepEvidence:    domain.ActionLog,
	StepForensics:   domain.ActionInvestigate,
	StepReport:      domain.ActionLog,
	StepInvestigate: domain.ActionInvestigate,
	StepEscalate:    domain.ActionEscalate,
	StepMonitor:     domain.ActionEscalate,
	StepLog:         domain.ActionLog,
	StepProfile:     domain.ActionInvestigate,
}

// Step is one playbook entry. When is nil for unconditional steps.
type Step struct {
	Kind      StepKind
	Duration  time.Duration
	Temporary bool
	Priority  alerting.Priority
	When      func(Detection) bool
}

func (s Step) Action() domain.ActionType {
	return stepActions[s.Kind]
}

func (s Step) applies(d Detection) bool {
	return s.When == nil || s.When(d)
}

type Playbook struct {
	Name  string
	Steps []Step
}

func scoreAtLeast(threshold int) func(Detection) bool {
	return func(d Detection) bool { return d.Score >= threshold }
}

func scoreBelow(threshold int) func(Detection) bool {
	return func(d Detection) bool { return d.Score < threshold }
}

func hasFingerprint(d Detection) bool {
	return d.Descriptor.Fingerprint != ""
}

var playbooks = map[string]Playbook{
	PlaybookCriticalThreat: {Name: PlaybookCriticalThreat, Steps: []Step{
		{Kind: StepBlockIP, Duration: 24 * time.Hour},
		{Kind: StepQuarantine, Duration: 24 * time.Hour, When: hasFingerprint},
		{Kind: StepAlert, Priority: alerting.PriorityCritical},
		{Kind: StepEvidence},
	}},
	PlaybookActiveAttack: {Name: PlaybookActiveAttack, Steps: []Step{
		{Kind: StepBlockIP, Duration: 24 * time.Hour},
		{Kind: StepForensics},
		{Kind: StepAlert, Priority: alerting.PriorityHigh},
		{Kind: StepInvestigate},
	}},
	PlaybookRateLimitViolation: {Name: PlaybookRateLimitViolation, Steps: []Step{
		{Kind: StepBlockIP, Duration: time.Hour, Temporary: true},
		{Kind: StepLog},
		{Kind: StepEscalate},
	}},
	PlaybookAutomation: {Name: PlaybookAutomation, Steps: []Step{
		{Kind: StepQuarantine, Duration: 6 * time.Hour},
		{Kind: StepLog},
		{Kind: StepBlockIP, Duration: 6 * time.Hour, When: scoreAtLeast(70)},
	}},
	PlaybookHoneypot: {Name: PlaybookHoneypot, Steps: []Step{
		{Kind: StepReport},
		{Kind: StepBlockIP, Duration: 24 * time.Hour, When: scoreAtLeast(60)},
		{Kind: StepMonitor, When: scoreBelow(60)},
		{Kind: StepProfile},
	}},
	PlaybookBehavioralAnomaly: {Name: PlaybookBehavioralAnomaly, Steps: []Step{
		{Kind: StepMonitor},
		{Kind: StepLog},
		{Kind: StepBlockIP, Duration: 6 * time.Hour, When: scoreAtLeast(80)},
	}},
	PlaybookHighThreat: {Name: PlaybookHighThreat, Steps: []Step{
		{Kind: StepBlockIP, Duration: 2 * time.Hour, Temporary: true},
		{Kind: StepAlert, Priority: alerting.PriorityMedium},
		{Kind: StepInvestigate},
	}},
	PlaybookStandardMonitoring: {Name: PlaybookStandardMonitoring, Steps: []Step{
		{Kind: StepLog},
	}},
}

var categoryPlaybooks = map[threat.Category]string{
	threat.CategorySQLInjection:     PlaybookActiveAttack,
	threat.CategoryXSS:              PlaybookActiveAttack,
	threat.CategoryCommandInjection: PlaybookActiveAttack,
	threat.CategoryRateLimit:        PlaybookRateLimitViolation,
	threat.CategoryBot:              PlaybookAutomation,
	threat.CategoryHoneypot:         PlaybookHoneypot,
	threat.CategoryAnomaly:          PlaybookBehavioralAnomaly,
}

var severityPlaybooks = map[domain.Severity]string{
	domain.SeverityCritical: PlaybookCriticalThreat,
	domain.SeverityHigh:     PlaybookHighThreat,
}

// SelectPlaybook picks the category playbook when one exists and falls back on severity.
func SelectPlaybook(category threat.Category, severity domain.Severity) Playbook {
	if name, ok := categoryPlaybooks[category]; ok {
		return playbooks[name]
	}
	if name, ok := severityPlaybooks[severity]; ok {
		return playbooks[name]
	}
	return playbooks[PlaybookStandardMonitoring]
}

// PlaybookByName returns a canonical playbook.
func PlaybookByName(name string) (Playbook, bool) {
	p, ok := playbooks[name]
	return p, ok
}
