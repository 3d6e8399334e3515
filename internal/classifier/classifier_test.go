package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hwsentinel/internal/fusion"
	"hwsentinel/internal/monitor"
)

func quiet() Input {
	return Input{Fused: fusion.Output{Ready: true}}
}

// scored returns an input whose weighted score is exactly s, using the
// correlated-attack weight as the sole contribution.
func scoredConfig(s uint32) Config {
	cfg := DefaultConfig()
	cfg.Weights = Weights{Correlated: s}
	return cfg
}

func scoredInput() Input {
	return Input{Fused: fusion.Output{Ready: true, Correlated: true}}
}

func TestScoreSequenceCrossingCritical(t *testing.T) {
	c := New(scoredConfig(205))

	// [0, 0, 0, 205]: idle for three ticks, then straight to CRITICAL
	// with Upgraded firing exactly on the fourth tick.
	for n := 0; n < 3; n++ {
		out := c.Tick(quiet())
		require.Equal(t, LevelNone, out.Level, "tick %d", n+1)
		require.False(t, out.Upgraded, "tick %d", n+1)
	}
	out := c.Tick(scoredInput())
	assert.Equal(t, LevelCritical, out.Level)
	assert.Equal(t, uint32(205), out.Score)
	assert.True(t, out.Upgraded)
	assert.True(t, out.Valid)
}

func TestEscalationMovesDirectlyToMatchingLevel(t *testing.T) {
	cases := []struct {
		score uint32
		want  Level
	}{
		{0, LevelNone},
		{19, LevelNone},
		{20, LevelLow},
		{60, LevelMedium},
		{120, LevelHigh},
		{200, LevelCritical},
	}
	for _, tc := range cases {
		c := New(scoredConfig(tc.score))
		out := c.Tick(scoredInput())
		assert.Equal(t, tc.want, out.Level, "score %d", tc.score)
	}
}

func TestDeEscalationGoesThroughHysteresis(t *testing.T) {
	cfg := scoredConfig(130) // HIGH
	cfg.HysteresisTicks = 5
	c := New(cfg)

	out := c.Tick(scoredInput())
	require.Equal(t, LevelHigh, out.Level)

	// Score collapses: the exposed level must hold HIGH through the
	// hysteresis window with Valid low, then clear to NONE.
	// The entering tick plus the counted window present the held level.
	for n := uint32(0); n < cfg.HysteresisTicks; n++ {
		out = c.Tick(quiet())
		require.Equal(t, LevelHigh, out.Level, "hysteresis tick %d", n)
		require.False(t, out.Valid, "hysteresis tick %d", n)
		require.False(t, out.Cleared, "hysteresis tick %d", n)
	}
	out = c.Tick(quiet())
	assert.Equal(t, LevelNone, out.Level)
	assert.True(t, out.Cleared, "Cleared must fire on the idle transition")

	// Cleared is a single-tick pulse.
	out = c.Tick(quiet())
	assert.False(t, out.Cleared)
}

func TestHysteresisReEscalatesImmediately(t *testing.T) {
	cfg := scoredConfig(130)
	cfg.HysteresisTicks = 50
	c := New(cfg)

	c.Tick(scoredInput())
	out := c.Tick(quiet()) // drops into hysteresis
	require.Equal(t, LevelHigh, out.Level)
	require.False(t, out.Valid)

	out = c.Tick(scoredInput())
	assert.Equal(t, LevelHigh, out.Level)
	assert.True(t, out.Valid, "re-qualifying score must leave hysteresis at once")
}

func TestPrivForcesCriticalOnlyFromIdle(t *testing.T) {
	// From idle, a privilege anomaly forces CRITICAL regardless of score.
	cfg := DefaultConfig()
	cfg.Weights = Weights{} // zero weights: score stays 0
	c := New(cfg)
	out := c.Tick(Input{Flags: monitor.FlagPrivEscalation, Fused: fusion.Output{Ready: true}})
	require.Equal(t, LevelCritical, out.Level)

	// From LOW, the same flag does not force anything: with the flag's
	// weight zeroed the score stays below MEDIUM and the machine drops
	// into hysteresis still presenting LOW.
	cfg = scoredConfig(25) // LOW via correlated weight
	c = New(cfg)
	c.Tick(scoredInput())
	out = c.Tick(Input{Flags: monitor.FlagPrivEscalation, Fused: fusion.Output{Ready: true}})
	assert.NotEqual(t, LevelCritical, out.Level, "forcing rule must not apply outside idle")
}

func TestAttackTreeOrdering(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want AttackType
	}{
		{"combined wins over everything", Input{
			Flags: monitor.FlagPrivEscalation | monitor.FlagPowerGlitch,
			Fused: fusion.Output{MultiDomain: true},
		}, AttackCombined},
		{"priv is fault injection", Input{Flags: monitor.FlagPrivEscalation}, AttackFaultInjection},
		{"pc jump is fault injection", Input{Flags: monitor.FlagPCJump}, AttackFaultInjection},
		{"fault injection outranks power", Input{
			Flags: monitor.FlagPCJump | monitor.FlagPowerGlitch,
		}, AttackFaultInjection},
		{"power glitch", Input{Flags: monitor.FlagPowerGlitch}, AttackPowerGlitch},
		{"both rails without glitch", Input{
			Flags: monitor.FlagVoltageAnomaly | monitor.FlagCurrentAnomaly,
		}, AttackPowerGlitch},
		{"one rail is not a power attack", Input{Flags: monitor.FlagVoltageAnomaly}, AttackNone},
		{"clock glitch", Input{Flags: monitor.FlagClockGlitch}, AttackClock},
		{"freq drift", Input{Flags: monitor.FlagFreqDrift}, AttackClock},
		{"thermal", Input{Flags: monitor.FlagTempSpike}, AttackThermal},
		{"ipc alone is side channel", Input{Flags: monitor.FlagIPCDeviation}, AttackSideChannel},
		{"nothing", Input{}, AttackNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := classifyAttack(tc.in)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCombinedSetsCategories(t *testing.T) {
	in := Input{
		Flags: monitor.FlagPowerGlitch | monitor.FlagClockGlitch,
		Fused: fusion.Output{Correlated: true},
	}
	got, cats := classifyAttack(in)
	require.Equal(t, AttackCombined, got)
	assert.Equal(t, CatPower|CatClock, cats)
}

func TestWeightedScoreAddsFusedScore(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg)
	out := c.Tick(Input{
		Flags: monitor.FlagClockGlitch | monitor.FlagFreqDrift,
		Fused: fusion.Output{Ready: true, Score: 3},
	})
	// 25 (clock glitch) + 8 (drift) + 3 (fused) = 36 -> LOW.
	assert.Equal(t, uint32(36), out.Score)
	assert.Equal(t, LevelLow, out.Level)
}
