package util

// Read query bounds
const (
	DefaultQueryLimit   = 100
	MaxQueryLimit       = 2000
	DefaultModifiedDays = 7
	MinScore            = 0.0
	MaxScore            = 10.0
)

// ClampLimit maps a requested result limit into [1, MaxQueryLimit]; zero or less means the default.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultQueryLimit
	case limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return limit
	}
}

// ClampDays keeps a day count at one or more
func ClampDays(days int) int {
	if days < 1 {
		return 1
	}
	return days
}

// ScoreRange clamps both bounds to [0, 10] and orders them
func ScoreRange(minScore, maxScore float64) (float64, float64) {
	clamp := func(v float64) float64 {
		if v < MinScore {
			return MinScore
		}
		if v > MaxScore {
			return MaxScore
		}
		return v
	}

	minScore, maxScore = clamp(minScore), clamp(maxScore)
	if minScore > maxScore {
		minScore, maxScore = maxScore, minScore
	}
	return minScore, maxScore
}
