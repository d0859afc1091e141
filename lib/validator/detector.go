// Package validator implements the comment spam scoring engine: a chain of
// independent validator checks, each returning a score or an explicit
// abstention, combined by a two-threshold decision policy into an
// allow / allow-but-hide / reject disposition.
package validator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/commentguard/comment-guard/lib/comment"
)

// default decision thresholds, applied when config leaves them at zero
const (
	DefaultPublicThreshold = 0.1
	DefaultRejectThreshold = 0.9
)

// DefaultValidators is the built-in ordered set of checks.
var DefaultValidators = []string{"email", "ip", "link-limit", "name", "text", "url"}

// Check is a single validator: scores a comment or abstains. A returned error
// aborts validation of the comment (fail-loud), it is never folded into a score.
type Check func(ctx context.Context, cmt comment.Comment, req comment.Request) (comment.Score, error)

// Blacklist is a named, weighted set of spam-indicative phrases.
// Weight multiplies the similarity score: 0 disables the list, >1 amplifies it.
type Blacklist struct {
	Name    string   `json:"name"`
	Weight  float64  `json:"weight"`
	Phrases []string `json:"phrases"`
}

// BlacklistStore provides the ordered collection of blacklists, read-only.
type BlacklistStore interface {
	All(ctx context.Context) ([]Blacklist, error)
}

// BannedIPStore answers whether an IP is banned, read-only.
type BannedIPStore interface {
	Contains(ctx context.Context, ip string) (bool, error)
}

// CommentHistoryStore counts prior non-public comments per IP, read-only.
type CommentHistoryStore interface {
	CountNonPublicByIP(ctx context.Context, ip string) (int, error)
}

// Config is a set of parameters for Detector.
type Config struct {
	Validators      []string      // ordered list of validator names, DefaultValidators if empty
	PublicThreshold float64       // scores above it hide the comment, default 0.1
	RejectThreshold float64       // scores above it reject the comment, default 0.9
	StoreTimeout    time.Duration // timeout for store lookups, if not set - no timeout
}

// Detector runs the configured validator chain over comments, thread-safe for
// concurrent Validate calls as all checks are pure reads.
// RejectThreshold is expected to be >= PublicThreshold; this is not enforced,
// but an inverted pair makes every hidden comment also rejected.
type Detector struct {
	Config
	registry   map[string]Check
	custom     map[string]bool // names registered via options, exempt from builtin store checks
	chain      []namedCheck
	blacklists BlacklistStore
	bannedIPs  BannedIPStore
	history    CommentHistoryStore
}

type namedCheck struct {
	name  string
	check Check
}

// Option extends a Detector with extra named checks before chain resolution.
type Option func(*Detector)

// WithCheck registers a custom named check. Registering an already known name
// replaces it, which allows overriding builtins in tests or plugins.
func WithCheck(name string, check Check) Option {
	return func(d *Detector) {
		d.registry[name] = check
		d.custom[name] = true
	}
}

// New makes a Detector for the given config and stores. Unresolvable
// validator names in config are a configuration error, reported here before
// any comment is processed.
func New(cfg Config, blacklists BlacklistStore, bannedIPs BannedIPStore, history CommentHistoryStore, opts ...Option) (*Detector, error) {
	if cfg.PublicThreshold == 0 {
		cfg.PublicThreshold = DefaultPublicThreshold
	}
	if cfg.RejectThreshold == 0 {
		cfg.RejectThreshold = DefaultRejectThreshold
	}
	if len(cfg.Validators) == 0 {
		cfg.Validators = DefaultValidators
	}
	if cfg.RejectThreshold < cfg.PublicThreshold {
		log.Printf("[WARN] reject threshold %.2f below public threshold %.2f, every hidden comment will be rejected",
			cfg.RejectThreshold, cfg.PublicThreshold)
	}

	d := &Detector{
		Config:     cfg,
		blacklists: blacklists,
		bannedIPs:  bannedIPs,
		history:    history,
	}
	d.custom = map[string]bool{}
	d.registry = map[string]Check{
		"email":      d.checkEmail,
		"ip":         d.checkIP,
		"link-limit": d.checkLinkLimit,
		"name":       d.checkName,
		"text":       d.checkText,
		"url":        d.checkURL,
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, name := range d.Validators {
		check, ok := d.registry[name]
		if !ok || check == nil {
			return nil, fmt.Errorf("unknown comment validator %q", name)
		}
		if err := d.checkStores(name); err != nil {
			return nil, err
		}
		d.chain = append(d.chain, namedCheck{name: name, check: check})
	}
	return d, nil
}

// checkStores verifies the builtin check's collaborator stores are wired.
// Custom checks registered via options manage their own collaborators.
func (d *Detector) checkStores(name string) error {
	if d.custom[name] {
		return nil
	}
	switch name {
	case "email", "name", "text", "url":
		if d.blacklists == nil {
			return fmt.Errorf("validator %q requires a blacklist store", name)
		}
	case "ip":
		if d.bannedIPs == nil || d.history == nil {
			return fmt.Errorf("validator %q requires banned-ip and comment history stores", name)
		}
	}
	return nil
}

// Validate runs the chain over a comment and applies the decision policy.
// The only mutation is flipping cmt.IsPublic to false for scores above the
// public threshold. Comparisons are strict: a total exactly equal to a
// threshold does not cross it.
func (d *Detector) Validate(ctx context.Context, cmt *comment.Comment, req comment.Request) (comment.Result, []comment.CheckResult, error) {
	total := 0.0
	checks := make([]comment.CheckResult, 0, len(d.chain))
	for _, nc := range d.chain {
		score, err := nc.check(ctx, *cmt, req)
		if err != nil {
			return comment.Result{}, checks, fmt.Errorf("validator %q failed: %w", nc.name, err)
		}
		checks = append(checks, comment.CheckResult{Name: nc.name, Score: score})
		if score.Opinion() {
			total += score.Value()
		}
	}

	res := comment.Result{Accepted: true, IsPublic: cmt.IsPublic, Total: total}
	switch {
	case total > d.RejectThreshold:
		res.Accepted, res.IsPublic = false, false
		log.Printf("[INFO] rejected %s, score %.2f, checks: %s", cmt, total, comment.ChecksToString(checks))
	case total > d.PublicThreshold:
		cmt.IsPublic = false
		res.IsPublic = false
		log.Printf("[INFO] hidden %s, score %.2f, checks: %s", cmt, total, comment.ChecksToString(checks))
	default:
		log.Printf("[DEBUG] accepted %s, score %.2f", cmt, total)
	}
	return res, checks, nil
}

// Names returns the resolved chain order, for logging and introspection.
func (d *Detector) Names() []string {
	res := make([]string, 0, len(d.chain))
	for _, nc := range d.chain {
		res = append(res, nc.name)
	}
	return res
}

func (d *Detector) ctxWithStoreTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.StoreTimeout == 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.StoreTimeout)
}
