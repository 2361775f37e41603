package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Class groups provider errors by how the caller should react.
type Class int

const (
	// ClassNone means no error.
	ClassNone Class = iota
	// ClassRateLimited asks for a credential switch and an immediate retry.
	ClassRateLimited
	// ClassTransient is retried with backoff.
	ClassTransient
	// ClassPermanent is not retried.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "ok"
	case ClassRateLimited:
		return "rate_limited"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify inspects a provider error. Unknown errors are treated as transient.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, ErrRateLimited) {
		return ClassRateLimited
	}
	if errors.Is(err, ErrModelNotAllowed) || errors.Is(err, ErrNoCredentials) || errors.Is(err, ErrUnknownProvider) {
		return ClassPermanent
	}
	if errors.Is(err, context.Canceled) {
		return ClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "resource_exhausted"),
		strings.Contains(msg, "quota"):
		return ClassRateLimited
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "permission_denied"):
		return ClassPermanent
	}
	return ClassTransient
}

func classifyStatus(code int) Class {
	switch {
	case code == http.StatusTooManyRequests:
		return ClassRateLimited
	case code == http.StatusRequestTimeout, code >= 500, code == 0:
		return ClassTransient
	case code >= 400:
		return ClassPermanent
	default:
		return ClassTransient
	}
}
