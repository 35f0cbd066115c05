package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	Phase/frequency detectors.
 *
 * Description:	Both detectors turn the running count of output clock
 *		edges, sampled once per control period, into a frequency
 *		error in clock edges per period.
 *
 *		PortTimerPFD is the model form: the count can be of any
 *		width and sampling jitter on the reference side is
 *		compensated by dividing by the period fraction.
 *
 *		PortTimerPFD16 is the firmware form: 16 bit port timers,
 *		wrap aware signed differences, and an optional reference
 *		clock port timer which scales the expected increment.
 *
 *------------------------------------------------------------------*/

import (
	"math"
)

type PortTimerPFD struct {
	expectedInc float64
	maxError    float64
	mask        uint64 // Zero for no wrap
	lastCount   uint64
}

// NewPortTimerPFD is set up for an output of nominalOutputHz sampled at
// controlRateHz.  counterBits is the width of the edge counter, 0 for no wrap.
func NewPortTimerPFD(nominalOutputHz, controlRateHz float64, ppmRange int, counterBits int) (*PortTimerPFD, error) {
	if nominalOutputHz <= 0 {
		return nil, configErr("nominal output frequency", nominalOutputHz, "must be positive")
	}

	if controlRateHz <= 0 {
		return nil, configErr("control rate", controlRateHz, "must be positive")
	}

	if ppmRange <= 0 {
		return nil, configErr("ppm range", float64(ppmRange), "must be positive")
	}

	if counterBits < 0 || counterBits > 64 {
		return nil, configErr("counter bits", float64(counterBits), "must be in [0,64]")
	}

	var p = &PortTimerPFD{
		expectedInc: nominalOutputHz / controlRateHz,
	}

	p.maxError = float64(ppmRange) / 1e6 * p.expectedInc

	if counterBits > 0 && counterBits < 64 {
		p.mask = 1<<counterBits - 1

		if p.expectedInc+p.maxError > float64(p.mask) {
			return nil, configErr("counter bits", float64(counterBits), "too narrow for %.0f counts per period", p.expectedInc)
		}
	}

	return p, nil
}

// ExpectedIncrement is the nominal count increment per control period.
func (p *PortTimerPFD) ExpectedIncrement() float64 {
	return p.expectedInc
}

/*------------------------------------------------------------------
 *
 * Name:	Error
 *
 * Inputs:	count		- Latest absolute output clock count.
 *
 *		periodFraction	- Actual over nominal sampling interval.
 *				  Use 1.0 when sampling is exact.
 *
 * Returns:	Error in clock counts, truncated toward zero, and
 *		firstLoop set when it was outside the allowed ppm window.
 *
 * Description:	The last count is always updated, even when out of range,
 *		so the following period measures from here.
 *
 *------------------------------------------------------------------*/

func (p *PortTimerPFD) Error(count uint64, periodFraction float64) (int32, bool) {
	var delta = count - p.lastCount
	if p.mask != 0 {
		delta &= p.mask
	}

	p.lastCount = count

	if periodFraction <= 0 {
		periodFraction = 1.0
	}

	var inc = float64(delta) / periodFraction
	var err = inc - math.Trunc(p.expectedInc)

	var firstLoop = math.Abs(err) > p.maxError

	return int32(max(min(math.Trunc(err), math.MaxInt32), math.MinInt32)), firstLoop
}

// Last observed count.
func (p *PortTimerPFD) LastCount() uint64 {
	return p.lastCount
}

type PortTimerPFD16 struct {
	mclkPtLast        uint16
	mclkExpectedPtInc uint32
	mclkMaxDiff       uint64

	refClkPtLast      uint16
	refClkExpectedInc uint32

	mclkDiff int16
}

/*------------------------------------------------------------------
 *
 * Name:	NewPortTimerPFD16
 *
 * Inputs:	loopRateCount	- Calls to the loop per control period.
 *
 *		pllRatio	- Integer ratio of output clock to reference
 *				  clock.
 *
 *		refClkExpectedInc - Expected reference port timer increment
 *				  per call, or 0 when the sampling is exact
 *				  and needs no compensation.
 *
 *		ppmRange	- Allowed deviation.  Twice this is tolerated
 *				  before the loop resets itself.
 *
 *------------------------------------------------------------------*/

func NewPortTimerPFD16(loopRateCount, pllRatio int, refClkExpectedInc uint32, ppmRange int) (*PortTimerPFD16, error) {
	if loopRateCount <= 0 {
		return nil, configErr("loop rate count", float64(loopRateCount), "must be positive")
	}

	if pllRatio <= 0 {
		return nil, configErr("pll ratio", float64(pllRatio), "must be positive")
	}

	if ppmRange <= 0 {
		return nil, configErr("ppm range", float64(ppmRange), "must be positive")
	}

	var refInc = uint64(refClkExpectedInc) * uint64(loopRateCount)

	// The scaled increment is computed in 32 bits on the target.
	if uint64(loopRateCount)*uint64(pllRatio)*2*refInc > math.MaxUint32 {
		return nil, configErr("reference increment", float64(refClkExpectedInc), "too large for loop rate count %d and pll ratio %d", loopRateCount, pllRatio)
	}

	return &PortTimerPFD16{
		mclkExpectedPtInc: uint32(loopRateCount * pllRatio),
		mclkMaxDiff:       uint64(ppmRange) * 2 * uint64(pllRatio) * uint64(loopRateCount) / 1000000,
		refClkExpectedInc: uint32(refInc),
	}, nil
}

// timeDiff16 is now - expected allowing for wrap at 65536.
func timeDiff16(now, expected uint16) int16 {
	return int16(now - expected)
}

// Load sets the last count without measuring, as on a first loop.
func (p *PortTimerPFD16) Load(mclkPt uint16) {
	p.mclkPtLast = mclkPt
}

// Calc measures the error since the last count and reports whether it
// was far enough out that the loop should resynchronise.
func (p *PortTimerPFD16) Calc(mclkPt, refClkPt uint16) (int16, bool) {
	var expected uint16

	if p.refClkExpectedInc != 0 {
		var refExpectedPt = p.refClkPtLast + uint16(p.refClkExpectedInc)
		var refDiff = timeDiff16(refClkPt, refExpectedPt)
		p.refClkPtLast = refClkPt

		// Exact integer divide, truncating.  Builds which multiply by a
		// pre-divided reciprocal instead can come out a count higher.
		var inc = uint64(p.mclkExpectedPtInc) * uint64(int64(p.refClkExpectedInc)+int64(refDiff)) / uint64(p.refClkExpectedInc)
		expected = p.mclkPtLast + uint16(inc)
	} else {
		expected = p.mclkPtLast + uint16(p.mclkExpectedPtInc)
	}

	p.mclkDiff = timeDiff16(mclkPt, expected)
	p.mclkPtLast = mclkPt

	var magnitude = int64(p.mclkDiff)
	if magnitude < 0 {
		magnitude = -magnitude
	}

	return p.mclkDiff, uint64(magnitude) > p.mclkMaxDiff
}

// Diff is the last measured error.
func (p *PortTimerPFD16) Diff() int16 {
	return p.mclkDiff
}

func (p *PortTimerPFD16) MaxDiff() uint64 {
	return p.mclkMaxDiff
}
