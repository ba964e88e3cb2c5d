package services

import (
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"coursebot/models"

	"github.com/samber/lo"
)

var (
	latencyAnnotationRe = regexp.MustCompile(`\[latency_ms=(\d+)\]`)
	guessPromptRe       = regexp.MustCompile(`(?i)\b(without tools|no tools|guess)\b`)
	guessRefusalRe      = regexp.MustCompile(`(?i)\b(can[’']?t|cannot)\s+guess\b`)
)

// EvalReportService summarizes recorded evaluation runs: success counts,
// latency statistics, the eval mode in effect, and rubric notes about
// refusal behavior.
type EvalReportService struct{}

func NewEvalReportService() *EvalReportService {
	return &EvalReportService{}
}

// LatencyMs picks the latency for one result row: the measured client
// elapsed time when recorded, otherwise the server annotation parsed from
// the output.
func (s *EvalReportService) LatencyMs(result models.EvalResult) (int64, bool) {
	if result.ClientElapsedMs != nil {
		return *result.ClientElapsedMs, true
	}
	return s.ServerLatencyMs(result.Output)
}

// ServerLatencyMs extracts the [latency_ms=N] annotation from response text.
func (s *EvalReportService) ServerLatencyMs(text string) (int64, bool) {
	m := latencyAnnotationRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Quantile returns the q-th quantile by nearest rank: the sorted value at
// index round-half-even((len-1)*q).
func (s *EvalReportService) Quantile(values []int64, q float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}

	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(math.RoundToEven(float64(len(sorted)-1) * q))
	return float64(sorted[idx]), true
}

// InferEvalMode prefers the recorded eval_mode field; otherwise it looks for
// a guess-shaped prompt and infers the mode from whether it was refused.
func (s *EvalReportService) InferEvalMode(run models.EvalRun) string {
	switch strings.ToLower(strings.TrimSpace(run.EvalMode)) {
	case "1", "true", "yes", "on":
		return "on"
	case "0", "false", "no", "off":
		return "off"
	}

	for _, r := range run.Results {
		if !guessPromptRe.MatchString(r.Prompt) {
			continue
		}
		if guessRefusalRe.MatchString(r.Output) {
			return "off (inferred)"
		}
		return "on (inferred)"
	}
	return "unknown"
}

// PolicyNotes flags connection failures and grades refusal behavior on
// guess-shaped prompts.
func (s *EvalReportService) PolicyNotes(run models.EvalRun) []string {
	var notes []string

	connFailed := lo.CountBy(run.Results, func(r models.EvalResult) bool {
		return !r.OK && strings.Contains(strings.ToLower(r.Error), "connection refused")
	})
	if connFailed > 0 {
		notes = append(notes, fmt.Sprintf("Network issue: %d requests failed with connection refused (server likely not running).", connFailed))
	}

	guessRows := lo.Filter(run.Results, func(r models.EvalResult, _ int) bool {
		return guessPromptRe.MatchString(r.Prompt)
	})
	if len(guessRows) > 0 {
		refused := lo.CountBy(guessRows, func(r models.EvalResult) bool {
			return guessRefusalRe.MatchString(r.Output)
		})
		switch refused {
		case len(guessRows):
			notes = append(notes, "Guess/without-tools prompts: refusal behavior ✅")
		case 0:
			notes = append(notes, "Guess/without-tools prompts: refusal behavior ❌ (it answered instead of refusing)")
		default:
			notes = append(notes, fmt.Sprintf("Guess/without-tools prompts: partial refusal (%d/%d).", refused, len(guessRows)))
		}
	}

	return notes
}

// WriteSummary prints the human-readable report for one run file.
func (s *EvalReportService) WriteSummary(w io.Writer, path string, run models.EvalRun) {
	succeeded := lo.Filter(run.Results, func(r models.EvalResult, _ int) bool { return r.OK })
	failed := lo.Filter(run.Results, func(r models.EvalResult, _ int) bool { return !r.OK })

	var latencies []int64
	for _, r := range succeeded {
		if v, found := s.LatencyMs(r); found {
			latencies = append(latencies, v)
		}
	}

	total := run.TotalPrompts
	if total == 0 {
		total = len(run.Results)
	}
	successRate := 0.0
	if total > 0 {
		successRate = float64(len(succeeded)) / float64(total) * 100.0
	}

	avgStr, p50Str, p95Str, maxStr := "n/a", "n/a", "n/a", "n/a"
	if len(latencies) > 0 {
		mean := float64(lo.Sum(latencies)) / float64(len(latencies))
		avgStr = strconv.FormatFloat(math.Round(mean*100)/100, 'f', 2, 64)
		if v, found := s.Quantile(latencies, 0.50); found {
			p50Str = strconv.FormatFloat(v, 'f', 2, 64)
		}
		if v, found := s.Quantile(latencies, 0.95); found {
			p95Str = strconv.FormatFloat(v, 'f', 2, 64)
		}
		maxStr = strconv.FormatInt(lo.Max(latencies), 10)
	}

	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintf(w, "File: %s\n", path)
	fmt.Fprintf(w, "Conversation: %s\n", run.ConversationID)
	fmt.Fprintf(w, "Eval mode: %s\n", s.InferEvalMode(run))
	fmt.Fprintf(w, "API URL: %s\n", run.APIURL)
	fmt.Fprintf(w, "Total prompts: %d\n", total)
	fmt.Fprintf(w, "Successes: %d\n", len(succeeded))
	fmt.Fprintf(w, "Failures: %d\n", len(failed))
	fmt.Fprintf(w, "Success rate: %.1f%%\n", successRate)
	fmt.Fprintf(w, "TS%%: %v\n", run.TsPercent)
	fmt.Fprintf(w, "Latency (ms): avg = %s | p50 = %s | p95 = %s | max = %s\n", avgStr, p50Str, p95Str, maxStr)

	if notes := s.PolicyNotes(run); len(notes) > 0 {
		fmt.Fprintln(w, "\nNotes:")
		for _, n := range notes {
			fmt.Fprintf(w, "- %s\n", n)
		}
	}

	if len(failed) > 0 {
		fmt.Fprintln(w, "\nFailed prompt IDs:")
		for _, r := range failed {
			status := "none"
			if r.Status != nil {
				status = strconv.Itoa(*r.Status)
			}
			errText := strings.TrimSpace(r.Error)
			if runes := []rune(errText); len(runes) > 160 {
				errText = string(runes[:160]) + "…"
			}
			fmt.Fprintf(w, "- %s | status: %s | error: %s\n", r.ID, status, errText)
		}
	}
}
