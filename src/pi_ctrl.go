package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	PI controller with optional double integral term.
 *
 * Description:	All arithmetic is integer so the result is bit for bit
 *		the same as the firmware.  Gains are signed 15Q16 fixed
 *		point; the products are summed in 64 bits and shifted
 *		back down.
 *
 *		Each integral accumulator is clamped to a windup limit of
 *		span/gain, where span is the LUT size for the LUT DCO or the
 *		modulator input span for the SDM DCO.  A zero gain has no
 *		limit.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"
	"math"
)

const GAIN_FRAC_BITS = 16

// Gain is a signed 15Q16 fixed point number.
type Gain int32

// GainFromFloat converts with single precision then truncates, like the firmware.
func GainFromFloat(v float64) Gain {
	return Gain(int32(float32(v) * (1 << GAIN_FRAC_BITS)))
}

func (g Gain) Float() float64 {
	return float64(g) / (1 << GAIN_FRAC_BITS)
}

func (g Gain) String() string {
	return fmt.Sprintf("%g", g.Float())
}

// SDM_WINDUP_SPAN is the windup span used with the sigma delta DCO.
const SDM_WINDUP_SPAN = 65535

// windupLimit is (span << 16) / gain.  false when gain is zero.
func windupLimit(span int, gain Gain) (int32, bool) {
	if gain == 0 {
		return 0, false
	}

	var limit = (int64(span) << GAIN_FRAC_BITS) / int64(gain)

	return int32(min(limit, math.MaxInt32)), true
}

type PIController struct {
	kp  Gain
	ki  Gain
	kii Gain

	iWindupLimit  int32
	iiWindupLimit int32
	iClamp        bool
	iiClamp       bool

	errorAccum      int32
	errorAccumAccum int32
	totalError      int32
}

// NewPIController sets up the gains and the windup limits from span.
func NewPIController(kp, ki, kii Gain, span int) (*PIController, error) {
	if kp < 0 {
		return nil, configErr("Kp", kp.Float(), "must not be negative")
	}

	if ki < 0 {
		return nil, configErr("Ki", ki.Float(), "must not be negative")
	}

	if kii < 0 {
		return nil, configErr("Kii", kii.Float(), "must not be negative")
	}

	if span <= 0 {
		return nil, configErr("windup span", float64(span), "must be positive")
	}

	var c = &PIController{kp: kp, ki: ki, kii: kii}

	c.iWindupLimit, c.iClamp = windupLimit(span, ki)
	c.iiWindupLimit, c.iiClamp = windupLimit(span, kii)

	return c, nil
}

// Reset clears the accumulators and the last output.
func (c *PIController) Reset() {
	c.errorAccum = 0
	c.errorAccumAccum = 0
	c.totalError = 0
}

/*------------------------------------------------------------------
 *
 * Name:	DoControlFromError
 *
 * Inputs:	err		- Frequency error in clock counts.
 *
 *		firstLoop	- Resynchronise: clear the accumulators and
 *				  treat the error as zero.
 *
 * Returns:	Total correction, integer part of
 *		Kp*err + Ki*accum + Kii*accum_accum.
 *
 *------------------------------------------------------------------*/

func (c *PIController) DoControlFromError(err int32, firstLoop bool) int32 {
	if firstLoop {
		c.errorAccum = 0
		c.errorAccumAccum = 0
		err = 0
	}

	c.errorAccum = clampWindup(int64(c.errorAccum)+int64(err), c.iWindupLimit, c.iClamp)
	c.errorAccumAccum = clampWindup(int64(c.errorAccumAccum)+int64(c.errorAccum), c.iiWindupLimit, c.iiClamp)

	var errorP = int64(c.kp) * int64(err)
	var errorI = int64(c.ki) * int64(c.errorAccum)
	var errorII = int64(c.kii) * int64(c.errorAccumAccum)

	c.totalError = int32((errorP + errorI + errorII) >> GAIN_FRAC_BITS)

	return c.totalError
}

func (c *PIController) ErrorAccum() int32 {
	return c.errorAccum
}

func (c *PIController) ErrorAccumAccum() int32 {
	return c.errorAccumAccum
}

func (c *PIController) TotalError() int32 {
	return c.totalError
}

// WindupLimits returns the single and double integral limits; ok false means unclamped.
func (c *PIController) WindupLimits() (i int32, iOK bool, ii int32, iiOK bool) {
	return c.iWindupLimit, c.iClamp, c.iiWindupLimit, c.iiClamp
}

// DCOControl is the controller output handed to a DCO.
// Valid false means hold the current setting.
type DCOControl struct {
	Value int32
	Valid bool
}

var HoldControl = DCOControl{}

func controlOf(v int32) DCOControl {
	return DCOControl{Value: v, Valid: true}
}

func (c DCOControl) String() string {
	if !c.Valid {
		return "hold"
	}

	return fmt.Sprintf("%d", c.Value)
}

// LUTController steers a LUT index around a nominal entry.
type LUTController struct {
	*PIController
	baseIndex int32
}

func NewLUTController(kp, ki, kii Gain, lutSize, baseIndex int) (*LUTController, error) {
	var pi, err = NewPIController(kp, ki, kii, lutSize)
	if err != nil {
		return nil, err
	}

	if baseIndex < 0 || baseIndex >= lutSize {
		return nil, configErr("nominal LUT index", float64(baseIndex), "must be in [0,%d)", lutSize)
	}

	return &LUTController{PIController: pi, baseIndex: int32(baseIndex)}, nil
}

// ControlFromError returns the LUT index to use.  Negative feedback:
// running fast moves down the table.
func (c *LUTController) ControlFromError(err int32, firstLoop bool) DCOControl {
	var total = c.DoControlFromError(err, firstLoop)
	if firstLoop {
		return HoldControl
	}

	return controlOf(c.baseIndex - total)
}

// SDM_IIR_SHIFT sets the filter coefficient to 1/8.
const SDM_IIR_SHIFT = 3

// SDMController produces the modulator input around a profile mid point.
type SDMController struct {
	*PIController
	midPoint int32
	iirY     int32
}

func NewSDMController(kp, ki, kii Gain, midPoint int32) (*SDMController, error) {
	var pi, err = NewPIController(kp, ki, kii, SDM_WINDUP_SPAN)
	if err != nil {
		return nil, err
	}

	return &SDMController{PIController: pi, midPoint: midPoint}, nil
}

/*------------------------------------------------------------------
 *
 * Name:	ControlFromError
 *
 * Description:	The error is negated to suit the feedback polarity of the
 *		hardware.  The PI output then goes through a first order
 *		IIR filter, y += (x - y) >> 3, to take out the quantisation
 *		noise from the integer path before being added to the
 *		modulator mid point.
 *
 *		The result is not clamped here; the DCO clamps it to the
 *		modulator input range and tracks lock.
 *
 *------------------------------------------------------------------*/

func (c *SDMController) ControlFromError(err int32, firstLoop bool) DCOControl {
	if firstLoop {
		c.Reset()
		c.iirY = 0

		return HoldControl
	}

	var total = c.DoControlFromError(-err, false)

	return controlOf(c.PostControl(total))
}

// PostControl is the filter stage on its own, for driving with a
// controller output directly.
func (c *SDMController) PostControl(total int32) int32 {
	c.iirY += (total - c.iirY) >> SDM_IIR_SHIFT

	return c.midPoint + c.iirY
}

func (c *SDMController) Filtered() int32 {
	return c.iirY
}

func (c *SDMController) MidPoint() int32 {
	return c.midPoint
}
