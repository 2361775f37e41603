package pipeline

import (
	"errors"
	"fmt"

	"github.com/FranksOps/enricher/internal/llm"
)

// ErrNoSearchResults aborts a run whose queries returned no hits at all.
var ErrNoSearchResults = errors.New("no search results found")

// ErrAborted is returned when Abort stopped the run between units of work.
var ErrAborted = errors.New("run aborted")

// ConfigError reports a setup problem that makes a run impossible: no active
// prompt, a disallowed model or missing credentials.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError wraps err as a ConfigError.
func NewConfigError(reason string, err error) *ConfigError {
	return &ConfigError{Reason: reason, Err: err}
}

// IsFatal reports whether err ends a run rather than a single unit of work.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConfigError
	return errors.As(err, &ce) ||
		errors.Is(err, ErrNoSearchResults) ||
		errors.Is(err, llm.ErrModelNotAllowed) ||
		errors.Is(err, llm.ErrNoCredentials) ||
		errors.Is(err, llm.ErrUnknownProvider)
}
