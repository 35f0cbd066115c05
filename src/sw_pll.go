package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	Closed loop: PFD, then controller, then DCO.
 *
 * Description:	Call DoControl once per control period with the latest
 *		output clock count.  The loop itself holds no control
 *		state; it sequences the three parts and passes the PFD's
 *		resynchronise flag to the controller in the same period.
 *
 *		One call at a time.  Nothing here blocks.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"

	"github.com/pkg/errors"
)

// Controller turns a frequency error into a DCO control value.
type Controller interface {
	ControlFromError(err int32, firstLoop bool) DCOControl
}

// DCO turns a control value into an output frequency and lock status.
type DCO interface {
	FrequencyFromControl(ctrl DCOControl) (float64, LockStatus)
	LockStatus() LockStatus
}

// Config holds everything about the loop which does not change once running.
type Config struct {
	NominalOutputHz float64 // Target output frequency
	ControlRateHz   float64 // Control periods per second
	PPMRange        int     // PFD resynchronises beyond this
	CounterBits     int     // Width of the edge counter, 0 for no wrap

	Kp  float64
	Ki  float64
	Kii float64

	LockCount          int // In-range periods before lock
	SDMTicksPerControl int // Modulator ticks per period, synchronous SDM only
}

// Defaults for fields left zero.
const (
	DEFAULT_PPM_RANGE             = 1000
	DEFAULT_SDM_TICKS_PER_CONTROL = 16
)

// WithDefaults fills zero fields.  LockCount can't be zero afterwards;
// use a negative number to ask for no hysteresis.
func (c Config) WithDefaults() Config {
	if c.PPMRange == 0 {
		c.PPMRange = DEFAULT_PPM_RANGE
	}

	if c.LockCount == 0 {
		c.LockCount = DEFAULT_LOCK_COUNT
	} else if c.LockCount < 0 {
		c.LockCount = 0
	}

	if c.SDMTicksPerControl == 0 {
		c.SDMTicksPerControl = DEFAULT_SDM_TICKS_PER_CONTROL
	}

	return c
}

func (c Config) gains() (Gain, Gain, Gain) {
	return GainFromFloat(c.Kp), GainFromFloat(c.Ki), GainFromFloat(c.Kii)
}

// Result of one control period.
type Result struct {
	Frequency float64
	Lock      LockStatus
	Error     int32 // PFD error in clock counts
	FirstLoop bool  // PFD asked for a resynchronisation
	Control   DCOControl
}

func (r Result) String() string {
	return fmt.Sprintf("freq: %.3fHz lock: %s error: %d first: %t ctrl: %s",
		r.Frequency, r.Lock, r.Error, r.FirstLoop, r.Control)
}

type SoftPLL struct {
	cfg  Config
	pfd  *PortTimerPFD
	ctrl Controller
	dco  DCO

	last         Result
	onLockChange func(LockStatus)
}

// New wires a controller and DCO behind a PFD built from cfg.
func New(cfg Config, ctrl Controller, dco DCO) (*SoftPLL, error) {
	cfg = cfg.WithDefaults()

	var pfd, err = NewPortTimerPFD(cfg.NominalOutputHz, cfg.ControlRateHz, cfg.PPMRange, cfg.CounterBits)
	if err != nil {
		return nil, err
	}

	var s = &SoftPLL{
		cfg:  cfg,
		pfd:  pfd,
		ctrl: ctrl,
		dco:  dco,
	}

	s.last.Frequency, s.last.Lock = dco.FrequencyFromControl(HoldControl)

	return s, nil
}

/*------------------------------------------------------------------
 *
 * Name:	NewLUTPLL
 *
 * Inputs:	table		- Fractional register lookup table.
 *
 *		pll		- Base setting the table entries are applied to.
 *
 *		nominalIndex	- Table entry closest to the nominal output.
 *				  Negative means the middle of the table.
 *
 *------------------------------------------------------------------*/

func NewLUTPLL(cfg Config, table *FrequencyLookupTable, pll *AppPLL, nominalIndex int) (*SoftPLL, error) {
	cfg = cfg.WithDefaults()

	if nominalIndex < 0 {
		nominalIndex = table.Len() / 2
	}

	var kp, ki, kii = cfg.gains()

	var ctrl, err = NewLUTController(kp, ki, kii, table.Len(), nominalIndex)
	if err != nil {
		return nil, errors.Wrap(err, "lut controller")
	}

	var dco, dcoErr = NewLUTDCO(table, pll, nominalIndex, cfg.LockCount)
	if dcoErr != nil {
		return nil, errors.Wrap(dcoErr, "lut dco")
	}

	return New(cfg, ctrl, dco)
}

// NewSDMPLL builds the sigma delta variant for a profile.  A zero
// NominalOutputHz in cfg is taken from the profile.
func NewSDMPLL(cfg Config, profile SDMProfile) (*SoftPLL, error) {
	cfg = cfg.WithDefaults()

	if cfg.NominalOutputHz == 0 {
		cfg.NominalOutputHz = profile.OutputFrequency
	}

	var kp, ki, kii = cfg.gains()

	var ctrl, err = NewSDMController(kp, ki, kii, profile.MidPoint)
	if err != nil {
		return nil, errors.Wrap(err, "sdm controller")
	}

	var dco, dcoErr = NewSigmaDeltaDCO(profile, cfg.LockCount, cfg.SDMTicksPerControl)
	if dcoErr != nil {
		return nil, errors.Wrap(dcoErr, "sdm dco")
	}

	return New(cfg, ctrl, dco)
}

// NewAsyncSDMPLL is NewSDMPLL for a modulator driven by SigmaDeltaDCO.Run.
// The loop only publishes set points to the returned DCO.
func NewAsyncSDMPLL(cfg Config, profile SDMProfile) (*SoftPLL, *SigmaDeltaDCO, error) {
	cfg = cfg.WithDefaults()

	if cfg.NominalOutputHz == 0 {
		cfg.NominalOutputHz = profile.OutputFrequency
	}

	var kp, ki, kii = cfg.gains()

	var ctrl, err = NewSDMController(kp, ki, kii, profile.MidPoint)
	if err != nil {
		return nil, nil, errors.Wrap(err, "sdm controller")
	}

	var dco, dcoErr = NewSigmaDeltaDCO(profile, cfg.LockCount, cfg.SDMTicksPerControl)
	if dcoErr != nil {
		return nil, nil, errors.Wrap(dcoErr, "sdm dco")
	}

	var s, sErr = New(cfg, ctrl, dco.Publisher())
	if sErr != nil {
		return nil, nil, sErr
	}

	return s, dco, nil
}

/*------------------------------------------------------------------
 *
 * Name:	DoControl
 *
 * Inputs:	count		- Output clock edges counted so far.
 *
 *		periodFraction	- Actual over nominal sampling interval,
 *				  1.0 when the period was exact.
 *
 *------------------------------------------------------------------*/

func (s *SoftPLL) DoControl(count uint64, periodFraction float64) Result {
	var err, firstLoop = s.pfd.Error(count, periodFraction)

	var ctrl = s.ctrl.ControlFromError(err, firstLoop)

	var freq, lock = s.dco.FrequencyFromControl(ctrl)

	if firstLoop {
		logger.Info("resynchronise", "error", err, "count", count)
	}

	if lock != s.last.Lock {
		logger.Info("lock status", "from", s.last.Lock, "to", lock, "freq", freq)

		if s.onLockChange != nil {
			s.onLockChange(lock)
		}
	}

	s.last = Result{
		Frequency: freq,
		Lock:      lock,
		Error:     err,
		FirstLoop: firstLoop,
		Control:   ctrl,
	}

	return s.last
}

// OnLockChange registers fn to be called from DoControl on every lock
// status change.
func (s *SoftPLL) OnLockChange(fn func(LockStatus)) {
	s.onLockChange = fn
}

func (s *SoftPLL) Last() Result {
	return s.last
}

func (s *SoftPLL) Config() Config {
	return s.cfg
}

func (s *SoftPLL) PFD() *PortTimerPFD {
	return s.pfd
}

func (s *SoftPLL) Controller() Controller {
	return s.ctrl
}

func (s *SoftPLL) DCO() DCO {
	return s.dco
}
