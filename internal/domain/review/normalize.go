// Package review normalizes the semi-structured output of the external
// review engine into the ReviewResult shape.
//
// The engine's JSON is treated as untrusted: unknown severity and
// category values coerce to "other", out-of-range scores clamp into the
// valid range, and absent optional sections become empty slices. Only a
// payload with no usable score at all is rejected as malformed.
package review

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/reviewd-dev/reviewd/internal/domain/model"
)

// Outcome is the tagged result of parsing engine output: either a
// normalized result or a malformed payload with a reason. Malformed
// output is data, not control flow; callers decide whether to fail the
// submission.
type Outcome struct {
	OK     bool
	Result *model.ReviewResult
	Reason string
	Raw    json.RawMessage
}

// rawPayload mirrors the engine's loosely specified response schema.
// Score is a pointer so a missing field is distinguishable from zero.
type rawPayload struct {
	Score       *float64   `json:"score"`
	Issues      []rawIssue `json:"issues"`
	Security    []rawIssue `json:"security"`
	Performance []rawIssue `json:"performance"`
	Suggestions []string   `json:"suggestions"`
}

type rawIssue struct {
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Severity string `json:"severity"`
	Category string `json:"category"`
}

// Normalize parses raw engine output into an Outcome.
func Normalize(raw []byte) Outcome {
	var p rawPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return malformed(raw, "engine returned invalid JSON: "+err.Error())
	}
	if p.Score == nil {
		return malformed(raw, "engine output missing required score field")
	}
	if math.IsNaN(*p.Score) || math.IsInf(*p.Score, 0) {
		return malformed(raw, "engine output score is not a finite number")
	}

	res := &model.ReviewResult{
		Score:       model.ClampScore(int(math.Round(*p.Score))),
		Issues:      normalizeIssues(p.Issues, model.CategoryOther),
		Security:    normalizeIssues(p.Security, model.CategorySecurity),
		Performance: normalizeIssues(p.Performance, model.CategoryPerformance),
		Suggestions: normalizeSuggestions(p.Suggestions),
	}
	return Outcome{OK: true, Result: res, Raw: raw}
}

func malformed(raw []byte, reason string) Outcome {
	return Outcome{OK: false, Reason: reason, Raw: raw}
}

// normalizeIssues coerces each issue into the known enums. Issues with
// an empty title are dropped; an empty category falls back to the
// section default so "security" findings stay categorized even when the
// engine omits the field.
func normalizeIssues(in []rawIssue, fallback model.Category) []model.Issue {
	out := make([]model.Issue, 0, len(in))
	for _, ri := range in {
		title := strings.TrimSpace(ri.Title)
		if title == "" {
			continue
		}
		cat := model.CoerceCategory(ri.Category)
		if strings.TrimSpace(ri.Category) == "" {
			cat = fallback
		}
		out = append(out, model.Issue{
			Title:    title,
			Detail:   strings.TrimSpace(ri.Detail),
			Severity: model.CoerceSeverity(strings.TrimSpace(ri.Severity)),
			Category: cat,
		})
	}
	return out
}

func normalizeSuggestions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
