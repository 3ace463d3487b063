package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejectsMismatchedOwnership(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HostUID = 1000
	cfg.HostGID = -1
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveTunables(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLinesPerSecond = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.IdleTimeoutSeconds = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.AddSSHMaxAttempts = 0
	require.Error(t, cfg.Validate())
}

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("HOST_UID", "1000")
	t.Setenv("HOST_GID", "1000")

	cfg := FromEnv()
	require.Equal(t, ":9090", cfg.ListenAddr)
	require.True(t, cfg.HasOwnershipNormalization())
}
