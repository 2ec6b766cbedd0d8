// Package score parses the harness's line-oriented score report. The report
// format is an external boundary and the most brittle part of the system;
// keep all knowledge of it behind this package.
package score

import (
	"math"
	"strconv"
	"strings"

	"optibench/internal/model"
	appErr "optibench/pkg/errors"
)

const totalScorePrefix = "TOTAL SCORE:"

// Report is the parsed outcome of one harness run.
type Report struct {
	// TotalScore is the aggregate score, rounded to 3 decimal places.
	TotalScore float64

	// LatencyReductionPct is (sum starter - sum optimized) / sum starter * 100,
	// or 0 when the total starter time is 0.
	LatencyReductionPct float64

	// PerProblem preserves report order for later rendering.
	PerProblem []model.PerProblem
}

// Parse extracts the total score, the aggregate latency reduction and the
// per-problem detail from harness stdout.
//
// A missing TOTAL SCORE line is an error even when the harness exited 0: a
// clean exit with an unreadable report must not count as success. Malformed
// per-problem lines are skipped individually; partial detail is better than
// failing the whole job.
func Parse(stdout string) (*Report, error) {
	var (
		totalScore     *float64
		totalStarter   float64
		totalOptimized float64
		perProblem     []model.PerProblem
	)

	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, totalScorePrefix) {
			raw := strings.TrimSpace(strings.TrimPrefix(line, totalScorePrefix))
			val, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			totalScore = &val
			continue
		}
		if strings.Contains(line, "starter_time=") && strings.Contains(line, "optimized_time=") {
			entry, ok := parseProblemLine(line)
			if !ok {
				continue
			}
			totalStarter += entry.StarterTimeMS
			totalOptimized += entry.OptimizedTimeMS
			perProblem = append(perProblem, entry)
		}
	}

	if totalScore == nil {
		return nil, appErr.New(appErr.ScoreParseFailed).
			WithMessage("failed to parse TOTAL SCORE from harness output")
	}

	latencyPct := 0.0
	if totalStarter > 0 {
		latencyPct = (totalStarter - totalOptimized) / totalStarter * 100.0
	}

	return &Report{
		TotalScore:          round3(*totalScore),
		LatencyReductionPct: latencyPct,
		PerProblem:          perProblem,
	}, nil
}

// parseProblemLine handles lines like:
//
//	problem-1: starter_time=78.52ms, optimized_time=69.93ms, improvement=8.59ms, correct=True
func parseProblemLine(line string) (model.PerProblem, bool) {
	name, rest, found := strings.Cut(line, ":")
	if !found {
		return model.PerProblem{}, false
	}

	starter, ok := parseMillis(rest, "starter_time=")
	if !ok {
		return model.PerProblem{}, false
	}
	optimized, ok := parseMillis(rest, "optimized_time=")
	if !ok {
		return model.PerProblem{}, false
	}
	improvement, ok := parseMillis(rest, "improvement=")
	if !ok {
		improvement = starter - optimized
	}

	entry := model.PerProblem{
		Problem:         strings.TrimSpace(name),
		StarterTimeMS:   starter,
		OptimizedTimeMS: optimized,
		ImprovementMS:   improvement,
	}

	if _, after, found := strings.Cut(rest, "correct="); found {
		verdict, _, _ := strings.Cut(after, ",")
		switch strings.ToLower(strings.TrimSpace(verdict)) {
		case "true":
			v := true
			entry.Correct = &v
		case "false":
			v := false
			entry.Correct = &v
		}
	}

	// Correctness gates the per-problem score; an unreadable verdict leaves
	// the score withheld while the timing detail is still recorded.
	if entry.Correct != nil {
		var sc float64
		if *entry.Correct {
			sc = 1.0 + entry.ImprovementMS/1000.0
		}
		entry.Score = &sc
	}

	return entry, true
}

// parseMillis extracts the float before "ms" following the given marker.
func parseMillis(s, marker string) (float64, bool) {
	_, after, found := strings.Cut(s, marker)
	if !found {
		return 0, false
	}
	raw, _, found := strings.Cut(after, "ms")
	if !found {
		return 0, false
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return val, true
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
