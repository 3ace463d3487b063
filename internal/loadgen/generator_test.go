package loadgen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeneratorProducesTargetsFromConfiguredPool(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CVMs = 5
	cfg.ErrorRate = 0
	gen := NewGenerator(cfg)

	for i := 0; i < 50; i++ {
		tgt := gen.Next()
		require.NotEmpty(t, tgt.cvmIP)
		require.NotEmpty(t, tgt.logPath)
		require.NotEmpty(t, tgt.logName)
		require.True(t, tgt.reachable)
	}
}

func TestGeneratorHonorsErrorRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CVMs = 10
	cfg.ErrorRate = 100
	gen := NewGenerator(cfg)

	tgt := gen.Next()
	require.False(t, tgt.reachable)
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sessions = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ErrorRate = 200
	require.Error(t, cfg.Validate())

	require.NoError(t, DefaultConfig().Validate())
}
