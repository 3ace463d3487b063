package query

import "fmt"

// NotFoundError reports a missing cluster, bundle, job, or file (spec §7
// NotFound kind).
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("query: %s %q not found", e.Resource, e.Key)
}

// AuthHintError reports an SSH authentication failure against a CVM, with
// remediation text the caller can surface directly (spec §7 AuthHint kind,
// §4.6 get_cvms leader resolution).
type AuthHintError struct {
	Host string
	Hint string
	Err  error
}

func (e *AuthHintError) Error() string {
	return fmt.Sprintf("query: ssh to %s failed: %s", e.Host, e.Hint)
}

func (e *AuthHintError) Unwrap() error { return e.Err }

// ValidationError reports a missing or empty required field (spec §7
// Validation kind).
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("query: missing required field %q", e.Field)
}
