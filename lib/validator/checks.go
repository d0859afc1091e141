package validator

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/commentguard/comment-guard/lib/comment"
)

// linkRe matches things that smell like links: protocols, href attributes and
// mailto targets.
var linkRe = regexp.MustCompile(`(?i)(https?://|href|mailto)`)

// checkEmail scores the author email by blacklist containment, abstains when
// the field is absent.
func (d *Detector) checkEmail(ctx context.Context, cmt comment.Comment, _ comment.Request) (comment.Score, error) {
	if cmt.AuthorEmail == "" {
		return comment.Abstain(), nil
	}
	score, err := d.checkString(ctx, cmt.AuthorEmail)
	if err != nil {
		return comment.Abstain(), err
	}
	return comment.ScoreOf(score), nil
}

// checkName scores the author display name by blacklist containment, abstains
// when the field is absent.
func (d *Detector) checkName(ctx context.Context, cmt comment.Comment, _ comment.Request) (comment.Score, error) {
	if cmt.AuthorName == "" {
		return comment.Abstain(), nil
	}
	score, err := d.checkString(ctx, cmt.AuthorName)
	if err != nil {
		return comment.Abstain(), err
	}
	return comment.ScoreOf(score), nil
}

// checkURL scores the author url by blacklist containment plus a flat 0.1
// bonus, as the mere presence of a url is mildly suspicious. Abstains when
// the field is absent.
func (d *Detector) checkURL(ctx context.Context, cmt comment.Comment, _ comment.Request) (comment.Score, error) {
	if cmt.AuthorURL == "" {
		return comment.Abstain(), nil
	}
	score, err := d.checkString(ctx, cmt.AuthorURL)
	if err != nil {
		return comment.Abstain(), err
	}
	return comment.ScoreOf(score + 0.1), nil
}

// checkString tests lowercase substring containment of every blacklist phrase
// in s, each hit adds a flat 0.1. The accumulated score is intentionally not
// clamped to [0,1], matching the legacy scoring of the author fields.
func (d *Detector) checkString(ctx context.Context, s string) (float64, error) {
	ctx, cancel := d.ctxWithStoreTimeout(ctx)
	defer cancel()

	blacklists, err := d.blacklists.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read blacklists: %w", err)
	}

	ls := strings.ToLower(s)
	score := 0.0
	for _, bl := range blacklists {
		for _, phrase := range bl.Phrases {
			if strings.Contains(ls, strings.ToLower(phrase)) {
				score += 0.1
			}
		}
	}
	return score, nil
}

// checkLinkLimit scores by the number of links in the comment body,
// saturating at 10 links. Never abstains.
func (d *Detector) checkLinkLimit(_ context.Context, cmt comment.Comment, _ comment.Request) (comment.Score, error) {
	count := len(linkRe.FindAllStringIndex(cmt.Body, -1))
	if count > 10 {
		count = 10
	}
	return comment.ScoreOf(float64(count) / 10), nil
}

// checkText scores the comment body by its Tanimoto similarity to each
// blacklist's phrase set. Per-list contributions are clamped to [0,1] after
// weighting, and so is the combined score. Never abstains.
func (d *Detector) checkText(ctx context.Context, cmt comment.Comment, _ comment.Request) (comment.Score, error) {
	ctx, cancel := d.ctxWithStoreTimeout(ctx)
	defer cancel()

	blacklists, err := d.blacklists.All(ctx)
	if err != nil {
		return comment.Abstain(), fmt.Errorf("failed to read blacklists: %w", err)
	}

	words := tokenize(cmt.Body)
	score := 0.0
	for _, bl := range blacklists {
		phrases := make(map[string]struct{}, len(bl.Phrases))
		for _, p := range bl.Phrases {
			phrases[strings.ToLower(p)] = struct{}{}
		}
		tc := tanimoto(words, phrases)
		score += clamp01(tc * bl.Weight)
		log.Printf("[DEBUG] blacklist %q: tc=%.3f, weight=%.2f", bl.Name, tc, bl.Weight)
	}
	return comment.ScoreOf(clamp01(score)), nil
}

// tanimoto is |A∩B| / (|A|+|B|-|A∩B|). Two empty sets have zero similarity,
// the zero denominator is not an error.
func tanimoto(a, b map[string]struct{}) float64 {
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	denom := len(a) + len(b) - intersection
	if denom == 0 {
		return 0
	}
	return float64(intersection) / float64(denom)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// checkIP scores by IP reputation: a banned IP is maximal suspicion,
// otherwise each prior non-public comment from the same IP counts against
// this one, saturating at 10.
func (d *Detector) checkIP(ctx context.Context, cmt comment.Comment, _ comment.Request) (comment.Score, error) {
	ctx, cancel := d.ctxWithStoreTimeout(ctx)
	defer cancel()

	banned, err := d.bannedIPs.Contains(ctx, cmt.IPAddress)
	if err != nil {
		return comment.Abstain(), fmt.Errorf("failed to check banned ip %s: %w", cmt.IPAddress, err)
	}
	if banned {
		log.Printf("[INFO] comment from banned ip %s scores 1.0", cmt.IPAddress)
		return comment.ScoreOf(1.0), nil
	}

	suspects, err := d.history.CountNonPublicByIP(ctx, cmt.IPAddress)
	if err != nil {
		return comment.Abstain(), fmt.Errorf("failed to count non-public comments for ip %s: %w", cmt.IPAddress, err)
	}
	score := float64(suspects) / 10
	if score > 1 {
		score = 1
	}
	if score > 0 {
		log.Printf("[DEBUG] guilty by association with %d non-public comments from ip %s, score %.2f",
			suspects, cmt.IPAddress, score)
	}
	return comment.ScoreOf(score), nil
}
