// Package comment defines the value types shared between the validation
// engine and its callers: the comment under review, the request context it
// arrived with, per-validator scores and the final disposition.
package comment

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Comment is a user-submitted comment to validate. The engine reads all
// fields and mutates IsPublic only; everything else is owned by the caller.
type Comment struct {
	Body        string `json:"body"`         // comment text
	AuthorName  string `json:"author_name"`  // display name, may be empty
	AuthorEmail string `json:"author_email"` // email, may be empty
	AuthorURL   string `json:"author_url"`   // site url, may be empty
	IPAddress   string `json:"ip_address"`   // submitter ip
	IsPublic    bool   `json:"is_public"`    // visible to public, engine may flip to false
	IsRemoved   bool   `json:"is_removed"`   // soft-removed by moderators, engine never touches it
}

func (c *Comment) String() string {
	body := strings.ReplaceAll(c.Body, "\n", " ")
	if len(body) > 80 {
		body = body[:80] + "..."
	}
	return fmt.Sprintf("comment from %q (%s): %q", c.AuthorName, c.IPAddress, body)
}

// Request is the request context a comment arrived with, read-only.
// Used by reputation validators only.
type Request struct {
	UserAgent string `json:"user_agent"`
	Referer   string `json:"referer"`
}

// Score is a single validator's verdict: either a numeric spam likelihood or
// an explicit "no opinion". The zero value is an abstention.
type Score struct {
	value   float64
	opinion bool
}

// Abstain makes a Score with no opinion. Abstentions contribute nothing to
// the total, which is not the same as a confirmed-clean score of 0.
func Abstain() Score { return Score{} }

// ScoreOf makes a Score carrying the given value.
func ScoreOf(v float64) Score { return Score{value: v, opinion: true} }

// Opinion reports whether the validator had an opinion.
func (s Score) Opinion() bool { return s.opinion }

// Value returns the numeric score, 0 for abstentions.
func (s Score) Value() float64 { return s.value }

func (s Score) String() string {
	if !s.opinion {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", s.value)
}

// MarshalJSON encodes an abstention as null and an opinion as a plain number.
func (s Score) MarshalJSON() ([]byte, error) {
	if !s.opinion {
		return []byte("null"), nil
	}
	return json.Marshal(s.value)
}

// UnmarshalJSON decodes null as an abstention and a number as an opinion.
func (s *Score) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Score{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("failed to unmarshal score: %w", err)
	}
	*s = Score{value: v, opinion: true}
	return nil
}

// CheckResult is a named outcome of one validator run.
type CheckResult struct {
	Name  string `json:"name"`
	Score Score  `json:"score"`
}

func (r *CheckResult) String() string {
	return fmt.Sprintf("%s: %s", r.Name, r.Score)
}

// ChecksToString converts a slice of check results to a single log-friendly string.
func ChecksToString(checks []CheckResult) string {
	elems := []string{}
	for i := range checks {
		elems = append(elems, "{"+checks[i].String()+"}")
	}
	return fmt.Sprintf("[%s]", strings.Join(elems, ", "))
}

// Result is the final disposition for one comment, the only output of the engine.
type Result struct {
	Accepted bool    `json:"accepted"`  // false means reject outright
	IsPublic bool    `json:"is_public"` // accepted but hidden when false
	Total    float64 `json:"total"`     // combined score from all validators
}

func (r Result) String() string {
	switch {
	case !r.Accepted:
		return fmt.Sprintf("rejected (%.2f)", r.Total)
	case !r.IsPublic:
		return fmt.Sprintf("accepted, hidden (%.2f)", r.Total)
	default:
		return fmt.Sprintf("accepted (%.2f)", r.Total)
	}
}
