package scorer

import (
	"github.com/NeuralTrust/TrustGuard/pkg/domain/threat"
)

// Rule is one pure scoring heuristic. History holds prior requests only, oldest first.
type Rule struct {
	Name string
	Eval func(d threat.RequestDescriptor, history []threat.RequestDescriptor) []threat.Signal
}

//go:generate mockery --name=Scorer --dir=. --output=../../../mocks --filename=scorer_mock.go --case=underscore --with-expecter
type Scorer interface {
	Score(d threat.RequestDescriptor, history []threat.RequestDescriptor) threat.Score
}

type scorer struct {
	rules []Rule
}

// New returns a scorer running the default rule set in order.
func New() Scorer {
	return NewWithRules(DefaultRules()...)
}

func NewWithRules(rules ...Rule) Scorer {
	return &scorer{rules: rules}
}

// DefaultRules returns the ordered rule list: frequency, user agent, endpoint, headers,
// timing, payload size and behavioral drift.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "frequency", Eval: frequencyRule},
		{Name: "user_agent", Eval: userAgentRule},
		{Name: "endpoint", Eval: endpointRule},
		{Name: "headers", Eval: headersRule},
		{Name: "timing", Eval: timingRule},
		{Name: "payload", Eval: payloadRule},
		{Name: "drift", Eval: driftRule},
	}
}

func (s *scorer) Score(d threat.RequestDescriptor, history []threat.RequestDescriptor) threat.Score {
	result := threat.Score{Factors: []string{}}
	total := 0
	for _, rule := range s.rules {
		for _, sig := range rule.Eval(d, history) {
			if sig.Points <= 0 {
				continue
			}
			if sig.Rule == "" {
				sig.Rule = rule.Name
			}
			total += sig.Points
			result.Signals = append(result.Signals, sig)
			result.Factors = append(result.Factors, sig.Reason)
		}
	}
	result.Score = threat.Clamp(total)
	result.Recommendation = threat.RecommendationFor(result.Score)
	result.Confidence = confidence(len(history))
	return result
}

func confidence(historyLen int) float64 {
	c := float64(historyLen) / 10
	if c > 1 {
		return 1
	}
	return c
}
