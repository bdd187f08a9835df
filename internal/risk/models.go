// Package risk implements the explainable rule-based risk scorer. It does
// not replace rate limiting; it augments it with an itemized 0-100 score
// used for enforcement escalation and admin analytics.
package risk

import "time"

// Level buckets a score for display and enforcement.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Action is the enforcement recommendation derived from the score.
type Action string

const (
	ActionAllow    Action = "Allow"
	ActionThrottle Action = "Throttle"
	ActionBlock    Action = "Block"
)

// Score thresholds: <=30 LOW, 31-60 MEDIUM, >60 HIGH.
const (
	lowCeiling    = 30
	mediumCeiling = 60
	maxScore      = 100
)

// LevelFor derives the risk level from a score. Pure function of the score.
func LevelFor(score int) Level {
	switch {
	case score > mediumCeiling:
		return LevelHigh
	case score > lowCeiling:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ActionFor derives the recommended action from a score.
func ActionFor(score int) Action {
	switch LevelFor(score) {
	case LevelHigh:
		return ActionBlock
	case LevelMedium:
		return ActionThrottle
	default:
		return ActionAllow
	}
}

// Factor is one rule-triggered contributor to the aggregate score, with its
// weight and a human-readable explanation carrying the literal count.
type Factor struct {
	Name         string `json:"name"`
	Contribution int    `json:"contribution"`
	Detail       string `json:"detail"`
}

// Assessment is the scorer output. Level and RecommendedAction are pure
// functions of Score; Factors lists every triggered rule in evaluation order.
type Assessment struct {
	Score             int      `json:"score"`
	Level             Level    `json:"level"`
	RecommendedAction Action   `json:"recommended_action"`
	Factors           []Factor `json:"factors"`
}

// Event is the slice of a decision record the scorer consumes. Callers map
// their history records onto events; rules are aggregate counts, so the
// scorer is insensitive to ordering, but stores supply newest-first.
type Event struct {
	Timestamp  time.Time
	Endpoint   string
	StatusCode int
	Blocked    bool
}
