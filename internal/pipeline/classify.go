package pipeline

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
)

// captchaMarkers are body substrings that mean the site served a challenge
// page instead of content; treated as a block signal regardless of status.
var captchaMarkers = [][]byte{
	[]byte("g-recaptcha"),
	[]byte("cf-challenge"),
	[]byte("hcaptcha"),
	[]byte("are you a robot"),
}

// Classify maps a fetch result onto the pipeline's error taxonomy:
// transient results are retried with backoff, blocked results rotate the
// identity and slow the governor, permanent results are dropped.
func Classify(resp FetchResponse, err error) Outcome {
	if err != nil {
		return classifyError(err)
	}
	return classifyResponse(resp)
}

func classifyError(err error) Outcome {
	if errors.Is(err, ErrRobotsDisallowed) {
		return OutcomePermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	// Connection resets, DNS hiccups and the rest of the network zoo.
	return OutcomeTransient
}

func classifyResponse(resp FetchResponse) Outcome {
	switch {
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTooManyRequests:
		return OutcomeBlocked
	case resp.StatusCode >= 500:
		return OutcomeTransient
	case resp.StatusCode >= 400:
		return OutcomePermanent
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		if looksLikeChallenge(resp.Body) {
			return OutcomeBlocked
		}
		return OutcomeSuccess
	default:
		return OutcomeTransient
	}
}

func looksLikeChallenge(body []byte) bool {
	if len(body) == 0 || len(body) > 64*1024 {
		// Challenge interstitials are small; don't scan real pages.
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range captchaMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
