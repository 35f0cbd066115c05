package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	The control loop in the form the firmware runs it.
 *
 * Description:	The firmware calls its control function every time the
 *		reference clock port timer fires, with the 16 bit output
 *		clock and reference port timer values.  Only every
 *		loopRateCount'th call does any work.
 *
 *		A first loop period just loads the last count, clears the
 *		controller and reports unlocked low.  Otherwise the error is
 *		measured, run through the controller and the resulting LUT
 *		index applied.  An out of range error is still applied but
 *		makes the next period a first loop.
 *
 *		State is exposed so the model can be compared against the
 *		firmware one period at a time.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"

	"github.com/pkg/errors"
)

type PortTimerLoopParams struct {
	Kp, Ki, Kii float64

	LoopRateCount     int    // Port timer events per control period
	PLLRatio          int    // Output clock over reference clock
	RefClkExpectedInc uint32 // 0 unless the reference sampling needs compensation
	PPMRange          int
	LockCount         int

	InputFrequency float64
	Registers      Registers // CTL and DIV are used; FRAC comes from the table
	Table          *FrequencyLookupTable
	NominalIndex   int
}

// LoopState is one period of the loop as the firmware test app reports it.
type LoopState struct {
	Lock            LockStatus
	Reg             uint32
	Diff            int16
	ErrorAccum      int32
	ErrorAccumAccum int32
	FirstLoop       bool
}

func (s LoopState) String() string {
	return fmt.Sprintf("%d %x %d %d %d %d", s.Lock, s.Reg, s.Diff, s.ErrorAccum, s.ErrorAccumAccum, IfThenElse(s.FirstLoop, 1, 0))
}

type PortTimerLoop struct {
	pfd  *PortTimerPFD16
	ctrl *LUTController
	dco  *LUTDCO

	loopRateCount int
	loopCounter   int
	firstLoop     bool

	divReg   uint32
	lookedUp bool
}

func NewPortTimerLoop(p PortTimerLoopParams) (*PortTimerLoop, error) {
	if p.Table == nil {
		return nil, errors.New("port timer loop: no lookup table")
	}

	if p.LockCount == 0 {
		p.LockCount = DEFAULT_LOCK_COUNT
	}

	var pfd, err = NewPortTimerPFD16(p.LoopRateCount, p.PLLRatio, p.RefClkExpectedInc, p.PPMRange)
	if err != nil {
		return nil, err
	}

	var ctrl, ctrlErr = NewLUTController(GainFromFloat(p.Kp), GainFromFloat(p.Ki), GainFromFloat(p.Kii), p.Table.Len(), p.NominalIndex)
	if ctrlErr != nil {
		return nil, ctrlErr
	}

	var regs = p.Registers
	regs.Frac = FRAC_ENABLE_MASK | uint32(p.Table.Entry(p.NominalIndex))

	var pll, pllErr = DecodeRegisters(p.InputFrequency, regs)
	if pllErr != nil {
		return nil, errors.Wrap(pllErr, "port timer loop registers")
	}

	var dco, dcoErr = NewLUTDCO(p.Table, pll, p.NominalIndex, p.LockCount)
	if dcoErr != nil {
		return nil, dcoErr
	}

	return &PortTimerLoop{
		pfd:           pfd,
		ctrl:          ctrl,
		dco:           dco,
		loopRateCount: p.LoopRateCount,
		firstLoop:     true,
		divReg:        p.Registers.Div,
	}, nil
}

// DoControl is called on every reference port timer event.
func (l *PortTimerLoop) DoControl(mclkPt, refClkPt uint16) LockStatus {
	l.loopCounter++
	if l.loopCounter != l.loopRateCount {
		return l.dco.LockStatus()
	}

	l.loopCounter = 0

	if l.firstLoop {
		l.pfd.Load(mclkPt)
		l.ctrl.Reset()
		l.dco.Reset()
		l.firstLoop = false

		return l.dco.LockStatus()
	}

	var diff, outOfRange = l.pfd.Calc(mclkPt, refClkPt)
	if outOfRange {
		l.firstLoop = true
		logger.Info("port timer error out of range", "diff", diff, "max", l.pfd.MaxDiff())
	}

	var total = l.ctrl.DoControlFromError(int32(diff), false)
	l.dco.FrequencyFromControl(controlOf(l.ctrl.baseIndex - total))
	l.lookedUp = true

	return l.dco.LockStatus()
}

// State reports what the firmware would.  Before the first lookup the
// register value is the divider register, as in the firmware.
func (l *PortTimerLoop) State() LoopState {
	return LoopState{
		Lock:            l.dco.LockStatus(),
		Reg:             IfThenElse(l.lookedUp, uint32(l.dco.RegisterValue()), l.divReg),
		Diff:            l.pfd.Diff(),
		ErrorAccum:      l.ctrl.ErrorAccum(),
		ErrorAccumAccum: l.ctrl.ErrorAccumAccum(),
		FirstLoop:       l.firstLoop,
	}
}

func (l *PortTimerLoop) Frequency() float64 {
	return l.dco.PLL().OutputFrequency()
}

/*------------------------------------------------------------------
 *
 * Name:	SDMControlStage
 *
 * Purpose:	Sigma delta control path as the firmware runs it, from a
 *		measured error to the modulator input and lock status.
 *
 *------------------------------------------------------------------*/

type SDMControlStage struct {
	ctrl *SDMController
	dco  *SigmaDeltaDCO
}

func NewSDMControlStage(kp, ki, kii float64, profile SDMProfile, lockCount int) (*SDMControlStage, error) {
	if lockCount == 0 {
		lockCount = DEFAULT_LOCK_COUNT
	}

	var ctrl, err = NewSDMController(GainFromFloat(kp), GainFromFloat(ki), GainFromFloat(kii), profile.MidPoint)
	if err != nil {
		return nil, err
	}

	var dco, dcoErr = NewSigmaDeltaDCO(profile, lockCount, 1)
	if dcoErr != nil {
		return nil, dcoErr
	}

	return &SDMControlStage{ctrl: ctrl, dco: dco}, nil
}

// Step returns the PI output, the clamped modulator input and lock status.
func (s *SDMControlStage) Step(diff int16) (int32, int32, LockStatus) {
	var total = s.ctrl.DoControlFromError(-int32(diff), false)
	var in, lock = s.dco.SetControl(controlOf(s.ctrl.PostControl(total)))

	return total, in, lock
}
