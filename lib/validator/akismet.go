package validator

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-pkgz/repeater"

	"github.com/commentguard/comment-guard/lib/comment"
)

// HTTPClient is an interface for http client, satisfied by http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// AkismetConfig contains parameters for the optional external reputation check.
type AkismetConfig struct {
	APIKey  string        // api key, the check is disabled if empty
	Blog    string        // front page url of the site the comments belong to
	Host    string        // api host, default rest.akismet.com
	Retries int           // number of attempts for the api call, default 3
	Delay   time.Duration // delay between attempts, default 100ms
}

// akismetChecker asks an akismet-compatible service for an opinion on a
// comment. This is the one designed exception to fail-loud: any failure here
// degrades to abstention, because the integration is explicitly optional.
type akismetChecker struct {
	client HTTPClient
	params AkismetConfig
}

// WithAkismet registers the "akismet" validator backed by an
// akismet-compatible reputation service.
func WithAkismet(client HTTPClient, cfg AkismetConfig) Option {
	return func(d *Detector) {
		d.registry["akismet"] = newAkismetChecker(client, cfg).check
	}
}

func newAkismetChecker(client HTTPClient, params AkismetConfig) *akismetChecker {
	if params.Host == "" {
		params.Host = "rest.akismet.com"
	}
	if params.Retries == 0 {
		params.Retries = 3
	}
	if params.Delay == 0 {
		params.Delay = 100 * time.Millisecond
	}
	return &akismetChecker{client: client, params: params}
}

// check flags a comment with a fixed 0.5 when the service considers it spam
// and abstains otherwise. Unconfigured or unreachable service also abstains.
func (a *akismetChecker) check(ctx context.Context, cmt comment.Comment, req comment.Request) (comment.Score, error) {
	if a.client == nil || a.params.APIKey == "" {
		return comment.Abstain(), nil
	}

	form := url.Values{
		"blog":                 {a.params.Blog},
		"user_ip":              {cmt.IPAddress},
		"user_agent":           {req.UserAgent},
		"referrer":             {req.Referer},
		"comment_type":         {"comment"},
		"comment_author":       {cmt.AuthorName},
		"comment_author_email": {cmt.AuthorEmail},
		"comment_author_url":   {cmt.AuthorURL},
		"comment_content":      {cmt.Body},
	}

	var verdict string
	call := func() error {
		reqURL := fmt.Sprintf("https://%s.%s/1.1/comment-check", a.params.APIKey, a.params.Host)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("failed to make request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := a.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %s", resp.Status)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		verdict = strings.TrimSpace(string(body))
		return nil
	}

	if err := repeater.NewDefault(a.params.Retries, a.params.Delay).Do(ctx, call); err != nil {
		log.Printf("[WARN] reputation service failed, no opinion: %v", err)
		return comment.Abstain(), nil
	}

	if verdict == "true" {
		log.Printf("[DEBUG] reputation service thinks %s is spam", &cmt)
		return comment.ScoreOf(0.5), nil
	}
	return comment.Abstain(), nil
}
