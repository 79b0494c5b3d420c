package sync

import (
	"errors"
	"fmt"

	"github.com/seatable-community/syncer/internal/base"
)

// ConfigError marks a failure caused by the job's configuration: bad
// credentials, missing tables or columns, malformed mode or date. The
// scheduler must not blindly retry these; the job should be disabled or
// flagged instead. Everything else is transient and safe to retry on the
// next tick, because the message-id dedup makes reruns idempotent.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid job configuration: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid job configuration: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// invalidConfig wraps err as a ConfigError.
func invalidConfig(reason string, err error) error {
	return &ConfigError{Reason: reason, Err: err}
}

// IsConfigError reports whether the job should be treated as permanently
// invalid. Destination auth failures count even when they surface
// mid-run.
func IsConfigError(err error) bool {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return true
	}

	var apiErr *base.APIError
	if errors.As(err, &apiErr) && apiErr.IsAuthError() {
		return true
	}

	return false
}
