// Package review defines the Critic's review report, issue taxonomy, and
// the auto-fix strategy derived from a rejected report.
package review

import "time"

// Severity grades a single code issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Category classifies what kind of problem an issue describes.
type Category string

const (
	CategorySecurity    Category = "security"
	CategoryTypeSafety  Category = "type_safety"
	CategoryCorrectness Category = "correctness"
	CategoryPerformance Category = "performance"
	CategoryStyle       Category = "style"
)

// CodeIssue is one finding from the Critic.
type CodeIssue struct {
	File         string   `json:"file"`
	Line         int      `json:"line,omitempty"`
	Severity     Severity `json:"severity"`
	Category     Category `json:"category"`
	Message      string   `json:"message"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// Report is the Critic's verdict for a wave's output.
type Report struct {
	OverallScore float64            `json:"overall_score"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	MustFix      []CodeIssue        `json:"must_fix"`
	ShouldFix    []CodeIssue        `json:"should_fix"`
	Optional     []CodeIssue        `json:"optional"`
	Approved     bool               `json:"approved"`
}

// AllIssues returns every issue in the report, must-fix first.
func (r *Report) AllIssues() []CodeIssue {
	out := make([]CodeIssue, 0, len(r.MustFix)+len(r.ShouldFix)+len(r.Optional))
	out = append(out, r.MustFix...)
	out = append(out, r.ShouldFix...)
	out = append(out, r.Optional...)
	return out
}

// Buckets groups issues by auto-fix urgency.
type Buckets struct {
	Critical []CodeIssue // severity = critical
	Breaking []CodeIssue // severity = high AND category in {security, type_safety}
	Medium   []CodeIssue // everything else
}

// Categorize splits issues into the three auto-fix buckets.
func Categorize(issues []CodeIssue) Buckets {
	var b Buckets
	for _, is := range issues {
		switch {
		case is.Severity == SeverityCritical:
			b.Critical = append(b.Critical, is)
		case is.Severity == SeverityHigh &&
			(is.Category == CategorySecurity || is.Category == CategoryTypeSafety):
			b.Breaking = append(b.Breaking, is)
		default:
			b.Medium = append(b.Medium, is)
		}
	}
	return b
}

// FixStrategy is the retry plan derived from a rejected report.
type FixStrategy struct {
	MaxAttempts       int
	EscalateOnFailure bool
	Issues            []CodeIssue
}

// StrategyFor derives the auto-fix strategy from a rejected report.
// Critical or breaking issues get 5 attempts and escalate on exhaustion;
// medium-only reports get 3 attempts and downgrade to a warning.
func StrategyFor(r *Report) FixStrategy {
	b := Categorize(r.AllIssues())
	if len(b.Critical)+len(b.Breaking) > 0 {
		issues := make([]CodeIssue, 0, len(b.Critical)+len(b.Breaking))
		issues = append(issues, b.Critical...)
		issues = append(issues, b.Breaking...)
		return FixStrategy{MaxAttempts: 5, EscalateOnFailure: true, Issues: issues}
	}
	return FixStrategy{MaxAttempts: 3, EscalateOnFailure: false, Issues: b.Medium}
}

const (
	backoffBase = 5000 * time.Millisecond
	backoffCap  = 30000 * time.Millisecond
)

// BackoffDelay returns the sleep before retrying after the given attempt:
// 5000 * 2^(attempt-1) ms, capped at 30000 ms.
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase << (attempt - 1)
	if d > backoffCap || d < 0 {
		return backoffCap
	}
	return d
}
