package sshexec

import "fmt"

// AuthError is returned when SSH authentication to a CVM fails; it carries a
// human-actionable hint so the Query/Job layers can surface it (spec §4.1,
// §7 AuthHint kind).
type AuthError struct {
	Host  string
	Cause error
	Hint  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("ssh auth failed for %s: %v (%s)", e.Host, e.Cause, e.Hint)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// TimeoutError is returned when a connect, fetch, or exec operation exceeds
// its configured deadline.
type TimeoutError struct {
	Op    string
	Host  string
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ssh %s timed out for %s: %v", e.Op, e.Host, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// KeyError is returned when the configured private key cannot be loaded.
type KeyError struct {
	Path  string
	Cause error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("ssh key error loading %s: %v", e.Path, e.Cause)
}

func (e *KeyError) Unwrap() error { return e.Cause }
