package sshexec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsurePort(t *testing.T) {
	require.Equal(t, "10.0.0.5:22", ensurePort("10.0.0.5"))
	require.Equal(t, "10.0.0.5:2222", ensurePort("10.0.0.5:2222"))
}

func TestShellQuote(t *testing.T) {
	require.Equal(t, "'/var/log/x.log'", shellQuote("/var/log/x.log"))
	require.Equal(t, `'it'\''s.log'`, shellQuote("it's.log"))
}

func TestAuthErrorUnwraps(t *testing.T) {
	cause := errCause("boom")
	e := &AuthError{Host: "10.0.0.5", Cause: cause, Hint: "register the public key"}
	require.ErrorIs(t, e, cause)
	require.Contains(t, e.Error(), "register the public key")
}

type errCause string

func (e errCause) Error() string { return string(e) }
