package scraper

import (
	"fmt"
	"net/http"
	"strings"
)

// Reason names why a hit produced no article.
type Reason string

const (
	ReasonRequest    Reason = "request_failed"
	ReasonStatus     Reason = "bad_status"
	ReasonChallenge  Reason = "bot_challenge"
	ReasonBinary     Reason = "binary_content"
	ReasonShortHTML  Reason = "short_html"
	ReasonShortText  Reason = "short_text"
	ReasonRobots     Reason = "robots_disallowed"
	ReasonInvalidURL Reason = "invalid_url"
)

// Rejection is the error returned when a hit cannot become an article. It is a
// quality or delivery outcome, not a pipeline failure.
type Rejection struct {
	URL    string
	Reason Reason
	Status int
	// Vendor is the bot-protection vendor detected on a challenge page.
	Vendor string
	Detail string
	Err    error
}

func (r *Rejection) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", r.Reason, r.URL)
	if r.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", r.Status)
	}
	if r.Vendor != "" {
		fmt.Fprintf(&b, " [%s]", r.Vendor)
	}
	if r.Detail != "" {
		b.WriteString(": " + r.Detail)
	}
	if r.Err != nil {
		b.WriteString(": " + r.Err.Error())
	}
	return b.String()
}

func (r *Rejection) Unwrap() error { return r.Err }

// transient reports whether another attempt could succeed.
func (r *Rejection) transient() bool {
	switch r.Reason {
	case ReasonRequest:
		return true
	case ReasonStatus, ReasonChallenge:
		return r.Status == http.StatusForbidden || r.Status == http.StatusTooManyRequests || r.Status >= 500
	}
	return false
}
