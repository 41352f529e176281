package threat

type Recommendation string

const (
	Allow     Recommendation = "allow"
	Challenge Recommendation = "challenge"
	Block     Recommendation = "block"
)

const (
	MaxScore       = 100
	BlockScore     = 70
	ChallengeScore = 40
)

// Category is the threat class a signal points at. It drives incident playbook selection.
type Category string

const (
	CategorySQLInjection     Category = "sql_injection"
	CategoryXSS              Category = "xss_attempt"
	CategoryCommandInjection Category = "command_injection"
	CategoryPathTraversal    Category = "path_traversal"
	CategorySensitiveFile    Category = "sensitive_file_access"
	CategoryAdminScan       Category = "admin_scan"
	CategoryRateLimit        Category = "rate_limit_exceeded"
	CategoryBot              Category = "bot_detected"
	CategoryHoneypot         Category = "honeypot_triggered"
	CategoryAnomaly          Category = "anomaly_detected"
)

// Signal is the contribution of a single scoring rule.
type Signal struct {
	Rule     string   `json:"rule"`
	Points   int      `json:"points"`
	Reason   string   `json:"reason"`
	Category Category `json:"category"`
}

// Score is the ephemeral result of scoring one request.
type Score struct {
	Score          int            `json:"score"`
	Factors        []string       `json:"factors"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	Signals        []Signal       `json:"signals,omitempty"`
}

// RecommendationFor maps a clamped score onto the decision table.
func RecommendationFor(score int) Recommendation {
	switch {
	case score >= BlockScore:
		return Block
	case score >= ChallengeScore:
		return Challenge
	default:
		return Allow
	}
}

// Clamp bounds a raw score to [0, MaxScore].
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// categoryRank orders categories by how strongly they should drive the response.
// Injection attempts dominate volume and automation signals.
var categoryRank = map[Category]int{
	CategorySQLInjection:     100,
	CategoryCommandInjection: 95,
	CategoryXSS:              90,
	CategoryHoneypot:         85,
	CategoryPathTraversal:    70,
	CategorySensitiveFile:    65,
	CategoryAdminScan:       60,
	CategoryRateLimit:        50,
	CategoryBot:              40,
	CategoryAnomaly:          10,
}

// DominantCategory returns the category of the strongest signal, ranking categories first and
// points second. It returns CategoryAnomaly when no signal fired.
func (s Score) DominantCategory() Category {
	best := CategoryAnomaly
	bestRank, bestPoints := -1, -1
	for _, sig := range s.Signals {
		rank := categoryRank[sig.Category]
		if rank > bestRank || (rank == bestRank && sig.Points > bestPoints) {
			best, bestRank, bestPoints = sig.Category, rank, sig.Points
		}
	}
	return best
}
