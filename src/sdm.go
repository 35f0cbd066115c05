package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	Sigma delta modulator DCO.
 *
 * Description:	A third order, nine level modulator takes a 20 bit
 *		unsigned input and produces a step of 0..8 every tick.
 *		The step selects F + step/8 as the feedback multiplier:
 *		step 0 turns the fractional block off, steps 1..8 use
 *		f = step-1, p = 7.
 *
 *		The modulator must tick much faster than the control loop.
 *		The control loop only publishes a new set point; the
 *		modulator picks it up on its next tick.
 *
 *------------------------------------------------------------------*/

import (
	"context"
	"math"
	"sort"
	"sync/atomic"
	"time"
)

// Valid modulator input range.
const (
	SDM_IN_MIN = 60000
	SDM_IN_MAX = 980000
)

const SDM_STEP_MAX = 8

type SigmaDeltaModulator struct {
	x1 int32
	x2 int32
	x3 int32
}

// Step runs one tick.  Shifts only, to match the firmware exactly.
func (m *SigmaDeltaModulator) Step(in int32) int32 {
	var out = ((m.x3 << 4) + (m.x3 << 1)) >> 13
	if out > SDM_STEP_MAX {
		out = SDM_STEP_MAX
	}
	if out < 0 {
		out = 0
	}

	m.x3 += (m.x2 >> 5) - (out << 9) - (out << 8)
	m.x2 += (m.x1 >> 5) - (out << 14)
	m.x1 += in - (out << 17)

	return out
}

func (m *SigmaDeltaModulator) Reset() {
	*m = SigmaDeltaModulator{}
}

// State returns x1, x2, x3.
func (m *SigmaDeltaModulator) State() (int32, int32, int32) {
	return m.x1, m.x2, m.x3
}

// SDMStepToFracReg maps a modulator step to the fractional register.
func SDMStepToFracReg(step int32) uint32 {
	if step == 0 {
		return 0x00000007
	}

	return uint32(step-1)<<8 | FRAC_ENABLE_MASK | 0x00000007
}

// SDMProfile is a hardware tuned setting for one output frequency and
// modulation rate.
type SDMProfile struct {
	Name            string
	OutputFrequency float64
	ModulationRate  float64 // Modulator ticks per second
	InputFrequency  float64

	F, R, FracNum, FracDen, OD, ACD int

	MidPoint int32 // Modulator input giving OutputFrequency
}

var sdmProfiles = map[string]SDMProfile{
	"24.576_1M": {
		Name: "24.576_1M", OutputFrequency: 24576000, ModulationRate: 1e6, InputFrequency: 24e6,
		F: 146, R: 0, FracNum: 4, FracDen: 10, OD: 5, ACD: 5, MidPoint: 478151,
	},
	"22.5792_1M": {
		Name: "22.5792_1M", OutputFrequency: 22579200, ModulationRate: 1e6, InputFrequency: 24e6,
		F: 134, R: 0, FracNum: 8, FracDen: 18, OD: 5, ACD: 5, MidPoint: 498283,
	},
	"24.576_500k": {
		Name: "24.576_500k", OutputFrequency: 24576000, ModulationRate: 500e3, InputFrequency: 24e6,
		F: 277, R: 1, FracNum: 8, FracDen: 16, OD: 1, ACD: 16, MidPoint: 553648,
	},
	"22.5792_500k": {
		Name: "22.5792_500k", OutputFrequency: 22579200, ModulationRate: 500e3, InputFrequency: 24e6,
		F: 292, R: 1, FracNum: 8, FracDen: 16, OD: 2, ACD: 12, MidPoint: 555326,
	},
}

func SDMProfileByName(name string) (SDMProfile, error) {
	var p, ok = sdmProfiles[name]
	if !ok {
		return SDMProfile{}, configErr("sdm profile "+name, 0, "supported: %v", SDMProfileNames())
	}

	return p, nil
}

func SDMProfileNames() []string {
	var names = make([]string, 0, len(sdmProfiles))
	for k := range sdmProfiles {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}

// PLL builds the nominal setting for the profile.
func (p SDMProfile) PLL() (*AppPLL, error) {
	return NewAppPLL(p.InputFrequency, p.F, p.R, p.FracNum, p.FracDen, p.OD, p.ACD)
}

// SDMSample is what one modulator tick produced.
type SDMSample struct {
	In        int32
	Step      int32
	FracReg   uint32
	Frequency float64
}

type SigmaDeltaDCO struct {
	profile SDMProfile
	pll     *AppPLL
	mod     SigmaDeltaModulator
	lock    lockDetector

	setPoint        atomic.Int32
	tickFrequency   atomic.Uint64 // math.Float64bits of the last tick
	ticksPerControl int
	lastFrequency   float64
}

/*------------------------------------------------------------------
 *
 * Name:	NewSigmaDeltaDCO
 *
 * Inputs:	profile		- Register setting and mid point.
 *
 *		lockCount	- In-range periods needed before lock.
 *
 *		ticksPerControl	- Modulator ticks per control period when
 *				  driven synchronously by FrequencyFromControl.
 *
 *------------------------------------------------------------------*/

func NewSigmaDeltaDCO(profile SDMProfile, lockCount int, ticksPerControl int) (*SigmaDeltaDCO, error) {
	if lockCount < 0 || lockCount > 255 {
		return nil, configErr("lock count", float64(lockCount), "must be in [0,255]")
	}

	if ticksPerControl <= 0 {
		return nil, configErr("sdm ticks per control", float64(ticksPerControl), "must be positive")
	}

	if profile.MidPoint < SDM_IN_MIN || profile.MidPoint > SDM_IN_MAX {
		return nil, configErr("sdm mid point", float64(profile.MidPoint), "must be in [%d,%d]", SDM_IN_MIN, SDM_IN_MAX)
	}

	var pll, err = profile.PLL()
	if err != nil {
		return nil, err
	}

	// Both ends of the step range must be legal too.
	for _, step := range []int32{0, SDM_STEP_MAX} {
		if _, err := pll.Clone().UpdateFracReg(SDMStepToFracReg(step)); err != nil {
			return nil, err
		}
	}

	var d = &SigmaDeltaDCO{
		profile:         profile,
		pll:             pll,
		lock:            newLockDetector(lockCount),
		ticksPerControl: ticksPerControl,
		lastFrequency:   pll.OutputFrequency(),
	}

	d.setPoint.Store(profile.MidPoint)
	d.tickFrequency.Store(math.Float64bits(d.lastFrequency))

	return d, nil
}

// SetControl clamps the controller output to the modulator input range,
// updates lock and publishes the new set point.  Hold leaves all as is.
func (d *SigmaDeltaDCO) SetControl(ctrl DCOControl) (int32, LockStatus) {
	if !ctrl.Valid {
		return d.setPoint.Load(), d.lock.status
	}

	var in = ctrl.Value

	switch {
	case in > SDM_IN_MAX:
		in = SDM_IN_MAX
		d.lock.saturatedHigh()
	case in < SDM_IN_MIN:
		in = SDM_IN_MIN
		d.lock.saturatedLow()
	default:
		d.lock.inRange()
	}

	d.setPoint.Store(in)

	return in, d.lock.status
}

// Modulate runs a single modulator tick at the current set point.
func (d *SigmaDeltaDCO) Modulate() SDMSample {
	var s = SDMSample{In: d.setPoint.Load()}

	s.Step = d.mod.Step(s.In)
	s.FracReg = SDMStepToFracReg(s.Step)

	var freq, err = d.pll.UpdateFracReg(s.FracReg)
	Assert(err == nil) // Step range was checked at construction
	s.Frequency = freq
	d.tickFrequency.Store(math.Float64bits(freq))

	return s
}

/*------------------------------------------------------------------
 *
 * Name:	FrequencyFromControl
 *
 * Purpose:	Synchronous form: apply the control value then run one
 *		control period worth of modulator ticks.
 *
 * Returns:	Mean output frequency over the period, and lock status.
 *
 *------------------------------------------------------------------*/

func (d *SigmaDeltaDCO) FrequencyFromControl(ctrl DCOControl) (float64, LockStatus) {
	if !ctrl.Valid {
		return d.lastFrequency, d.lock.status
	}

	var in, status = d.SetControl(ctrl)

	var sum float64
	for range d.ticksPerControl {
		sum += d.Modulate().Frequency
	}

	d.lastFrequency = sum / float64(d.ticksPerControl)

	logger.Debug("sdm control", "in", in, "freq", d.lastFrequency, "lock", status)

	return d.lastFrequency, status
}

/*------------------------------------------------------------------
 *
 * Name:	Run
 *
 * Purpose:	Run the modulator on its own goroutine at the tick rate.
 *
 * Inputs:	ticks	- One modulator tick per receive, for example
 *			  from a time.Ticker.
 *
 *		sink	- Given every sample.  May be nil.
 *
 * Description:	Only the set point is shared with the control loop.
 *		FrequencyFromControl must not be used while Run is going.
 *
 *------------------------------------------------------------------*/

func (d *SigmaDeltaDCO) Run(ctx context.Context, ticks <-chan time.Time, sink func(SDMSample)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ticks:
			if !ok {
				return nil
			}

			var s = d.Modulate()
			if sink != nil {
				sink(s)
			}
		}
	}
}

// Reset drops lock as on a resynchronisation.  The modulator keeps its state.
func (d *SigmaDeltaDCO) Reset() {
	d.lock.reset()
}

func (d *SigmaDeltaDCO) SetPoint() int32 {
	return d.setPoint.Load()
}

func (d *SigmaDeltaDCO) LockStatus() LockStatus {
	return d.lock.status
}

func (d *SigmaDeltaDCO) Profile() SDMProfile {
	return d.profile
}

func (d *SigmaDeltaDCO) PLL() *AppPLL {
	return d.pll
}

func (d *SigmaDeltaDCO) Modulator() *SigmaDeltaModulator {
	return &d.mod
}

// FrequencyRange is the output for step 0 and step 8.
func (d *SigmaDeltaDCO) FrequencyRange() (float64, float64) {
	var scratch = d.pll.Clone()
	var lo, _ = scratch.UpdateFracReg(SDMStepToFracReg(0))
	var hi, _ = scratch.UpdateFracReg(SDMStepToFracReg(SDM_STEP_MAX))

	return lo, hi
}

// Publisher returns a DCO for the control loop to use while Run drives the
// modulator.  It only publishes set points; the frequency it reports is
// that of the most recent modulator tick.
func (d *SigmaDeltaDCO) Publisher() DCO {
	return sdmPublisher{d}
}

type sdmPublisher struct {
	d *SigmaDeltaDCO
}

func (p sdmPublisher) FrequencyFromControl(ctrl DCOControl) (float64, LockStatus) {
	var _, status = p.d.SetControl(ctrl)

	return math.Float64frombits(p.d.tickFrequency.Load()), status
}

func (p sdmPublisher) LockStatus() LockStatus {
	return p.d.lock.status
}

func (p sdmPublisher) Reset() {
	p.d.Reset()
}
