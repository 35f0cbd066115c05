package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	Model of the application ("secondary") PLL.
 *
 * Description:	Turns the six hardware register fields into an output
 *		frequency using the datasheet formula:
 *
 *		out = in * (F + 1 + (f + 1)/(p + 1)) / 2 / (R + 1) / (OD + 1) / (2 * (ACD + 1))
 *
 *		The fractional term is only present when the fractional-n
 *		block is enabled.
 *
 *		To keep the inherent jitter of the PLL output down, R should
 *		be kept small, ideally 0, at the cost of lock range.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"
)

// Datasheet limits.
const (
	PLL_F_MIN    = 1
	PLL_F_MAX    = 8191
	PLL_R_MAX    = 63
	PLL_OD_MAX   = 7
	PLL_FRAC_MAX = 255

	VCO_MIN_HZ = 360e6
	VCO_MAX_HZ = 1800e6
)

// FRAC_ENABLE_MASK is the fractional-n enable bit of the fractional register.
const FRAC_ENABLE_MASK uint32 = 0x80000000

// ConfigurationError reports a register setting, table or profile which
// cannot be used. There is no degraded mode; the loop must not be started.
type ConfigurationError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s (%g): %s", e.Field, e.Value, e.Reason)
}

func configErr(field string, value float64, format string, a ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Value: value, Reason: fmt.Sprintf(format, a...)}
}

// AppPLL holds the live register fields of the application PLL.
// It is built once and then mutated in place by the DCOs.
type AppPLL struct {
	InputFrequency float64

	F   int // Feedback integer multiplier (+1)
	R   int // Reference divider (+1)
	OD  int // Output divider (+1)
	ACD int // Application clock divider, (ACD+1)*2

	FracNum    int // f, fractional multiplier (+1)
	FracDen    int // p, fractional divider (+1)
	FracEnable bool

	outputFrequency float64
}

// NewAppPLL validates the setting and computes the initial frequency.
// The fractional block starts enabled.
func NewAppPLL(inputFrequency float64, F, R, f, p, OD, ACD int) (*AppPLL, error) {
	var a = &AppPLL{
		InputFrequency: inputFrequency,
		F:              F,
		R:              R,
		OD:             OD,
		ACD:            ACD,
		FracNum:        f,
		FracDen:        p,
		FracEnable:     true,
	}

	if _, err := a.CalcFrequency(); err != nil {
		return nil, err
	}

	return a, nil
}

// Clone returns an independent copy, handy for trying settings without
// disturbing a PLL which a DCO is driving.
func (a *AppPLL) Clone() *AppPLL {
	var c = *a
	return &c
}

func (a *AppPLL) validate() error {
	if a.F < PLL_F_MIN || a.F > PLL_F_MAX {
		return configErr("F", float64(a.F), "must be in [%d,%d]", PLL_F_MIN, PLL_F_MAX)
	}

	if a.R < 0 || a.R > PLL_R_MAX {
		return configErr("R", float64(a.R), "must be in [0,%d]", PLL_R_MAX)
	}

	if a.OD < 0 || a.OD > PLL_OD_MAX {
		return configErr("OD", float64(a.OD), "must be in [0,%d]", PLL_OD_MAX)
	}

	if a.ACD < 0 {
		return configErr("ACD", float64(a.ACD), "must not be negative")
	}

	if a.FracNum < 0 || a.FracNum > PLL_FRAC_MAX {
		return configErr("f", float64(a.FracNum), "must fit in 8 bits")
	}

	if a.FracDen < 0 || a.FracDen > PLL_FRAC_MAX {
		return configErr("p", float64(a.FracDen), "must fit in 8 bits")
	}

	var vco = a.VCOFrequency()
	if vco < VCO_MIN_HZ || vco > VCO_MAX_HZ {
		return configErr("VCO frequency", vco, "must be in [%g,%g]", VCO_MIN_HZ, VCO_MAX_HZ)
	}

	return nil
}

// VCOFrequency is the intermediate frequency in Hz.
func (a *AppPLL) VCOFrequency() float64 {
	return a.InputFrequency * (float64(a.F) + 1.0) / 2.0 / (float64(a.R) + 1.0)
}

// CalcFrequency validates the current fields and recomputes the output frequency.
func (a *AppPLL) CalcFrequency() (float64, error) {
	if err := a.validate(); err != nil {
		return 0, err
	}

	var mult = float64(a.F) + 1.0
	if a.FracEnable {
		mult += float64(a.FracNum+1) / float64(a.FracDen+1)
	}

	var ratio = mult / 2.0 / (float64(a.R) + 1.0) / (float64(a.OD) + 1.0) / (2.0 * float64(a.ACD+1))

	a.outputFrequency = a.InputFrequency * ratio

	return a.outputFrequency, nil
}

// OutputFrequency returns the last calculated frequency.
func (a *AppPLL) OutputFrequency() float64 {
	return a.outputFrequency
}

// UpdateAll replaces every field except the fractional enable.
func (a *AppPLL) UpdateAll(F, R, OD, ACD, f, p int) (float64, error) {
	a.F = F
	a.R = R
	a.OD = OD
	a.ACD = ACD
	a.FracNum = f
	a.FracDen = p

	return a.CalcFrequency()
}

// UpdateFrac replaces only the fractional pair. This is the per-period hot path.
func (a *AppPLL) UpdateFrac(f, p int, enable bool) (float64, error) {
	a.FracNum = f
	a.FracDen = p
	a.FracEnable = enable

	return a.CalcFrequency()
}

// UpdateFracReg unpacks a fractional register word: bits 15..8 are f,
// bits 7..0 are p and bit 31 enables the fractional-n block.
func (a *AppPLL) UpdateFracReg(reg uint32) (float64, error) {
	var f = int((reg >> 8) & 0xff)
	var p = int(reg & 0xff)

	return a.UpdateFrac(f, p, reg&FRAC_ENABLE_MASK != 0)
}

// FracReg packs the current fractional setting into a register word.
func (a *AppPLL) FracReg() uint32 {
	var reg = uint32(a.FracDen) | uint32(a.FracNum)<<8
	if a.FracEnable {
		reg |= FRAC_ENABLE_MASK
	}

	return reg
}

func (a *AppPLL) String() string {
	return fmt.Sprintf("F: %d R: %d OD: %d ACD: %d f: %d p: %d frac: %t out: %.3fHz",
		a.F, a.R, a.OD, a.ACD, a.FracNum, a.FracDen, a.FracEnable, a.outputFrequency)
}
