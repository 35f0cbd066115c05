package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	Check the model against the firmware, step by step.
 *
 * Description:	The same pseudo random inputs go to the model and to the
 *		firmware test app.  Outputs have to match exactly; the
 *		first difference is reported as a Mismatch.
 *
 *		An integrator whose gain is zero plays no part in the
 *		output, and the firmware pins it at zero where we let it
 *		run, so it is only compared when its gain is not zero.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Mismatch is the first step at which model and firmware disagree.
type Mismatch struct {
	Step     int
	Input    string
	Model    string
	Firmware string
}

func (m *Mismatch) Error() string {
	return fmt.Sprintf("step %d input %q: model %q firmware %q", m.Step, m.Input, m.Model, m.Firmware)
}

// EquivResult summarises a matching run.
type EquivResult struct {
	Steps    int
	MaxTicks uint32 // Longest firmware call, in its timer ticks
}

func (r *EquivResult) ticks(t uint32) {
	r.Steps++
	r.MaxTicks = max(r.MaxTicks, t)
}

/*------------------------------------------------------------------
 *
 * Name:	EquivLUT
 *
 * Purpose:	Run the LUT loop against the firmware LUT test app.
 *
 * Inputs:	fw	- Started with LUTFirmwareArgs(p, ...).
 *
 *		p	- Loop parameters.
 *
 *		steps	- Port timer events to send.
 *
 * Description:	The output clock port timer advances by the PLL ratio per
 *		event, plus a random error of up to half the allowed range
 *		so the loop has something to do without resetting all the
 *		time.  One event in twenty is way out, to exercise the
 *		resynchronisation.
 *
 *------------------------------------------------------------------*/

func EquivLUT(fw *Firmware, p PortTimerLoopParams, steps int, seed int64) (EquivResult, error) {
	var res EquivResult

	var model, err = NewPortTimerLoop(p)
	if err != nil {
		return res, err
	}

	var rng = rand.New(rand.NewSource(seed)) //nolint:gosec

	var spread = max(1, p.PLLRatio*p.PPMRange/1000000)
	var compareI = GainFromFloat(p.Ki) != 0
	var compareII = GainFromFloat(p.Kii) != 0

	var mclkPt, refPt uint16

	for step := range steps {
		var jump = rng.Intn(2*spread+1) - spread
		if rng.Intn(20) == 0 {
			jump *= 10
		}

		mclkPt += uint16(p.PLLRatio + jump)
		refPt += uint16(p.RefClkExpectedInc) + uint16(rng.Intn(3)-1)

		model.DoControl(mclkPt, refPt)
		var want = model.State()

		var got, ticks, fwErr = fw.LUTControl(mclkPt, refPt)
		if fwErr != nil {
			return res, errors.Wrapf(fwErr, "step %d", step)
		}

		if !compareI {
			got.ErrorAccum = want.ErrorAccum
		}

		if !compareII {
			got.ErrorAccumAccum = want.ErrorAccumAccum
		}

		if got != want {
			return res, &Mismatch{
				Step:     step,
				Input:    fmt.Sprintf("%d %d", mclkPt, refPt),
				Model:    want.String(),
				Firmware: got.String(),
			}
		}

		res.ticks(ticks)
	}

	return res, nil
}

// EquivSDMModulator runs the bare modulator against the SDM DCO test app
// with inputs spread over the whole legal range.
func EquivSDMModulator(fw *Firmware, steps int, seed int64) (EquivResult, error) {
	var res EquivResult
	var model SigmaDeltaModulator
	var rng = rand.New(rand.NewSource(seed)) //nolint:gosec

	for step := range steps {
		var in = SDM_IN_MIN + rng.Int31n(SDM_IN_MAX-SDM_IN_MIN+1)

		var wantStep = model.Step(in)
		var wantFrac = SDMStepToFracReg(wantStep)

		var gotStep, gotFrac, ticks, err = fw.SDMModulate(in)
		if err != nil {
			return res, errors.Wrapf(err, "step %d", step)
		}

		if gotStep != wantStep || gotFrac != wantFrac {
			return res, &Mismatch{
				Step:     step,
				Input:    fmt.Sprint(in),
				Model:    fmt.Sprintf("%d %d", wantStep, wantFrac),
				Firmware: fmt.Sprintf("%d %d", gotStep, gotFrac),
			}
		}

		res.ticks(ticks)
	}

	return res, nil
}

// DEFAULT_EQUIV_DIFF_RANGE keeps the errors near lock.  Larger ranges
// with large gains drive the modulator input into both clamps.
const DEFAULT_EQUIV_DIFF_RANGE = 10

// EquivSDMControl runs the sigma delta control path against the SDM
// control test app with random errors in [-diffRange,diffRange).
func EquivSDMControl(fw *Firmware, kp, ki, kii float64, profile SDMProfile, lockCount int, steps int, diffRange int, seed int64) (EquivResult, error) {
	var res EquivResult

	if diffRange <= 0 {
		diffRange = DEFAULT_EQUIV_DIFF_RANGE
	}

	if diffRange > math.MaxInt16 {
		return res, configErr("diff range", float64(diffRange), "must be at most %d", math.MaxInt16)
	}

	var model, err = NewSDMControlStage(kp, ki, kii, profile, lockCount)
	if err != nil {
		return res, err
	}

	var rng = rand.New(rand.NewSource(seed)) //nolint:gosec

	for step := range steps {
		var diff = int16(rng.Intn(2*diffRange) - diffRange)

		var total, in, lock = model.Step(diff)

		var gotTotal, gotIn, gotLock, ticks, fwErr = fw.SDMControl(diff)
		if fwErr != nil {
			return res, errors.Wrapf(fwErr, "step %d", step)
		}

		if gotTotal != total || gotIn != in || gotLock != lock {
			return res, &Mismatch{
				Step:     step,
				Input:    fmt.Sprint(diff),
				Model:    fmt.Sprintf("%d %d %d", total, in, lock),
				Firmware: fmt.Sprintf("%d %d %d", gotTotal, gotIn, gotLock),
			}
		}

		res.ticks(ticks)
	}

	return res, nil
}
