package swpll

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestPLL(t *testing.T, path string) *SoftPLL {
	var fc, err = LoadConfig(path)
	require.NoError(t, err)

	var pll, buildErr = fc.Build()
	require.NoError(t, buildErr)

	return pll
}

func Test_ConfigDefaults(t *testing.T) {
	var c = Config{}.WithDefaults()
	assert.Equal(t, DEFAULT_PPM_RANGE, c.PPMRange)
	assert.Equal(t, DEFAULT_LOCK_COUNT, c.LockCount)
	assert.Equal(t, DEFAULT_SDM_TICKS_PER_CONTROL, c.SDMTicksPerControl)

	c = Config{LockCount: -1, PPMRange: 50}.WithDefaults()
	assert.Equal(t, 0, c.LockCount)
	assert.Equal(t, 50, c.PPMRange)
}

func Test_SoftPLLLUTStart(t *testing.T) {
	var pll = buildTestPLL(t, "testdata/lut.yaml")

	assert.InDelta(t, 12288000.0, pll.Last().Frequency, 1e-6)
	assert.Equal(t, UnlockedLow, pll.Last().Lock)
	assert.InDelta(t, 131072.0, pll.PFD().ExpectedIncrement(), 1e-9)

	// Nothing counted yet is far out, so resynchronise and hold.
	var res = pll.DoControl(0, 1.0)
	assert.True(t, res.FirstLoop)
	assert.Equal(t, HoldControl, res.Control)
	assert.Equal(t, int32(-131072), res.Error)
	assert.InDelta(t, 12288000.0, res.Frequency, 1e-6)

	res = pll.DoControl(131072, 1.0)
	assert.False(t, res.FirstLoop)
	assert.Equal(t, controlOf(206), res.Control)
	assert.Zero(t, res.Error)
	assert.Equal(t, res, pll.Last())
}

func Test_SoftPLLLUTNominalIndex(t *testing.T) {
	var table = loadTestLUT(t)
	var base = lutBasePLL(t)

	var want, err = table.Frequency(base.Clone(), 20)
	require.NoError(t, err)

	var cfg = Config{NominalOutputHz: want, ControlRateHz: 93.75, Ki: 1.0}

	var pll, pllErr = NewLUTPLL(cfg, table, base, 20)
	require.NoError(t, pllErr)

	assert.InDelta(t, want, pll.Last().Frequency, 1e-6)

	// The first period resynchronises and holds the starting entry.
	var res = pll.DoControl(0, 1.0)
	assert.True(t, res.FirstLoop)
	assert.InDelta(t, want, res.Frequency, 1e-6)
}

func Test_SoftPLLLUTConverges(t *testing.T) {
	var pll = buildTestPLL(t, "testdata/lut.yaml")

	var changes []LockStatus
	pll.OnLockChange(func(s LockStatus) {
		changes = append(changes, s)
	})

	var trace, err = Simulate(context.Background(), SimParams{
		PLL:        pll,
		Periods:    100,
		Steps:      []PPMStep{},
		InitialPPM: -200,
	})
	require.NoError(t, err)

	var last = trace[len(trace)-1]
	assert.Equal(t, Locked, last.Lock)
	assert.Less(t, math.Abs(PPM(last.Frequency, last.Target)), 20.0)

	require.NotEmpty(t, changes)
	assert.Equal(t, Locked, changes[len(changes)-1])

	for _, tp := range trace {
		assert.False(t, tp.FirstLoop, "period %d", tp.Period)
	}
}

func Test_SoftPLLLUTTracksSteps(t *testing.T) {
	var pll = buildTestPLL(t, "testdata/lut.yaml")

	var trace, err = Simulate(context.Background(), SimParams{PLL: pll, Periods: 250})
	require.NoError(t, err)

	var last = trace[len(trace)-1]
	assert.Equal(t, Locked, last.Lock)
	assert.Less(t, math.Abs(PPM(last.Frequency, last.Target)), 20.0)

	// Tracking +300 ppm just before the step down to +150.
	var before = trace[50]
	assert.InDelta(t, 12288000*(1+300e-6), before.Target, 1e-6)
	assert.Less(t, math.Abs(PPM(before.Frequency, before.Target)), 20.0)
}

func Test_SoftPLLSDMLocks(t *testing.T) {
	var pll = buildTestPLL(t, "testdata/sdm.yaml")

	assert.InDelta(t, 24576000.0, pll.Config().NominalOutputHz, 1e-6)
	assert.Equal(t, 64, pll.Config().SDMTicksPerControl)

	var trace, err = Simulate(context.Background(), SimParams{
		PLL:     pll,
		Periods: 100,
		Steps:   []PPMStep{},
	})
	require.NoError(t, err)

	assert.Equal(t, Locked, trace[len(trace)-1].Lock)

	var sum float64
	for _, tp := range trace[50:] {
		sum += tp.Frequency
	}

	assert.Less(t, math.Abs(PPM(sum/50, 24576000)), 20.0)
}

func Test_SoftPLLBadConfig(t *testing.T) {
	var ctrl, err = NewSDMController(0, GainFromFloat(32), 0, 478151)
	require.NoError(t, err)

	var profile, _ = SDMProfileByName("24.576_1M")
	var dco, dcoErr = NewSigmaDeltaDCO(profile, 0, 16)
	require.NoError(t, dcoErr)

	var _, newErr = New(Config{ControlRateHz: 100}, ctrl, dco)

	var ce *ConfigurationError
	assert.ErrorAs(t, newErr, &ce)
}
