// Package util provides utility functions for the backend.
package util

import (
	"encoding/json"
	"strings"

	gocvss20 "github.com/pandatix/go-cvss/20"
	gocvss30 "github.com/pandatix/go-cvss/30"
	gocvss31 "github.com/pandatix/go-cvss/31"
	gocvss40 "github.com/pandatix/go-cvss/40"

	"github.com/ortelius/cve-mirror/model"
)

type cvssData struct {
	Version      string   `json:"version"`
	VectorString string   `json:"vectorString"`
	BaseScore    *float64 `json:"baseScore"`
}

type cvssMetric struct {
	Source   string   `json:"source"`
	Type     string   `json:"type"`
	CVSSData cvssData `json:"cvssData"`
}

type cveMetrics struct {
	Metrics struct {
		V2  []cvssMetric `json:"cvssMetricV2"`
		V30 []cvssMetric `json:"cvssMetricV30"`
		V31 []cvssMetric `json:"cvssMetricV31"`
		V40 []cvssMetric `json:"cvssMetricV40"`
	} `json:"metrics"`
}

// CalculateCVSSScore calculates the CVSS base score from a vector string
func CalculateCVSSScore(vectorStr string) float64 {
	if vectorStr == "" {
		return 0
	}
	switch {
	case strings.HasPrefix(vectorStr, "CVSS:3.1"):
		if cvss31, err := gocvss31.ParseVector(vectorStr); err == nil {
			return cvss31.BaseScore()
		}
	case strings.HasPrefix(vectorStr, "CVSS:3.0"):
		if cvss30, err := gocvss30.ParseVector(vectorStr); err == nil {
			return cvss30.BaseScore()
		}
	case strings.HasPrefix(vectorStr, "CVSS:4.0"):
		if cvss40, err := gocvss40.ParseVector(vectorStr); err == nil {
			return cvss40.Score()
		}
	case !strings.HasPrefix(vectorStr, "CVSS:"):
		// v2 vectors carry no prefix
		if cvss20, err := gocvss20.ParseVector(vectorStr); err == nil {
			return cvss20.BaseScore()
		}
	}
	return 0
}

// ExtractCVSS pulls the v2, v3 and v4 base scores out of a raw NVD cve object.
// A stated baseScore wins; otherwise the score is computed from the vector.
func ExtractCVSS(body json.RawMessage) model.CVSSSummary {
	var summary model.CVSSSummary

	var m cveMetrics
	if len(body) == 0 || json.Unmarshal(body, &m) != nil {
		summary.SeverityRating = "UNKNOWN"
		return summary
	}

	summary.V2BaseScore = metricScore(m.Metrics.V2)
	summary.V3BaseScore = metricScore(m.Metrics.V31)
	if summary.V3BaseScore == nil {
		summary.V3BaseScore = metricScore(m.Metrics.V30)
	}
	summary.V4BaseScore = metricScore(m.Metrics.V40)

	found := false
	for _, score := range []*float64{summary.V2BaseScore, summary.V3BaseScore, summary.V4BaseScore} {
		if score == nil {
			continue
		}
		found = true
		if *score > summary.BaseScore {
			summary.BaseScore = *score
		}
	}

	if !found {
		summary.SeverityRating = "UNKNOWN"
		return summary
	}
	summary.SeverityRating = GetSeverityRating(summary.BaseScore)
	return summary
}

// metricScore returns the score of the Primary metric, falling back to the first one.
func metricScore(metrics []cvssMetric) *float64 {
	if len(metrics) == 0 {
		return nil
	}

	chosen := metrics[0]
	for _, metric := range metrics {
		if metric.Type == "Primary" {
			chosen = metric
			break
		}
	}

	if chosen.CVSSData.BaseScore != nil {
		score := *chosen.CVSSData.BaseScore
		return &score
	}

	score := CalculateCVSSScore(chosen.CVSSData.VectorString)
	if score == 0 && chosen.CVSSData.VectorString == "" {
		return nil
	}
	return &score
}

// GetSeverityRating returns the severity rating for a given CVSS score
func GetSeverityRating(score float64) string {
	switch {
	case score == 0:
		return "NONE"
	case score < 4.0:
		return "LOW"
	case score < 7.0:
		return "MEDIUM"
	case score < 9.0:
		return "HIGH"
	default:
		return "CRITICAL"
	}
}
