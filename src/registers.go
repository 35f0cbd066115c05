package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	Hardware register words for the application PLL.
 *
 * Description:	Three 32 bit registers program the PLL:
 *
 *		CTL	bit 27 enable, bits 25..23 OD, bits 20..8 F, bits 5..0 R
 *		DIV	bit 31 enable, bits 30..0 ACD
 *		FRAC	bit 31 enable, bits 15..8 f, bits 7..0 p
 *
 *------------------------------------------------------------------*/

import (
	"fmt"
	"slices"
)

const (
	CTL_ENABLE_MASK uint32 = 1 << 27
	DIV_ENABLE_MASK uint32 = 1 << 31
)

// Registers are the words written to the hardware.
type Registers struct {
	Ctl  uint32
	Div  uint32
	Frac uint32
}

func (r Registers) String() string {
	return fmt.Sprintf("CTL: 0x%08X DIV: 0x%08X FRAC: 0x%08X", r.Ctl, r.Div, r.Frac)
}

// EncodeRegisters packs the live fields of a PLL.
func EncodeRegisters(pll *AppPLL) Registers {
	return Registers{
		Ctl:  CTL_ENABLE_MASK | uint32(pll.OD)<<23 | uint32(pll.F)<<8 | uint32(pll.R),
		Div:  DIV_ENABLE_MASK | uint32(pll.ACD),
		Frac: pll.FracReg(),
	}
}

// DecodeRegisters builds a PLL from register words, validating the result.
func DecodeRegisters(inputFrequency float64, regs Registers) (*AppPLL, error) {
	var F = int((regs.Ctl >> 8) & 0x1fff)
	var R = int(regs.Ctl & 0x3f)
	var OD = int((regs.Ctl >> 23) & 0x7)
	var ACD = int(regs.Div &^ DIV_ENABLE_MASK)
	var f = int((regs.Frac >> 8) & 0xff)
	var p = int(regs.Frac & 0xff)

	var pll, err = NewAppPLL(inputFrequency, F, R, f, p, OD, ACD)
	if err != nil {
		return nil, err
	}

	if _, err := pll.UpdateFracReg(regs.Frac); err != nil {
		return nil, err
	}

	return pll, nil
}

// RegisterID names one of the three hardware registers.
type RegisterID int

const (
	RegCtl RegisterID = iota
	RegDiv
	RegFrac
)

func (id RegisterID) String() string {
	switch id {
	case RegCtl:
		return "CTL"
	case RegDiv:
		return "DIV"
	case RegFrac:
		return "FRAC"
	default:
		return "?"
	}
}

// RegisterWrite is one step of a programming sequence.
type RegisterWrite struct {
	Reg   RegisterID
	Value uint32
}

/*------------------------------------------------------------------
 *
 * Name:	InitSequence
 *
 * Purpose:	Ordered register writes which start the PLL safely.
 *
 * Description:	Disable, enable.  CTL is written twice so F and R are
 *		captured with a running clock.  Then disable and enable
 *		again to get the full reset time with the right F and R.
 *		After the PLL settles the fractional block is enabled at
 *		its nominal value and finally the divider turns the output on.
 *
 *------------------------------------------------------------------*/

func InitSequence(regs Registers) []RegisterWrite {
	var off = regs.Ctl &^ CTL_ENABLE_MASK

	return []RegisterWrite{
		{RegCtl, off},
		{RegCtl, regs.Ctl},
		{RegCtl, regs.Ctl},
		{RegCtl, off},
		{RegCtl, regs.Ctl},
		{RegFrac, FRAC_ENABLE_MASK | regs.Frac},
		{RegDiv, regs.Div},
	}
}

// Register words for clocks which are not phase locked, 24MHz input.
var fixedClocks = map[int]Registers{
	44100 * 256:  {0x09009100, 0x80000019, 0x80000C10},
	48000 * 256:  {0x0A006500, 0x80000009, 0x80000104},
	44100 * 512:  {0x09009100, 0x8000000C, 0x80000C10},
	48000 * 512:  {0x0A006500, 0x80000004, 0x80000104},
	44100 * 1024: {0x0A006F00, 0x80000002, 0x80001012},
	48000 * 1024: {0x0B808200, 0x80000001, 0x8000000D},
}

// FixedClockRegisters returns register words for a free running clock.
// Zero means the clock is off.
func FixedClockRegisters(hz int) (Registers, error) {
	if hz == 0 {
		return Registers{}, nil
	}

	var regs, ok = fixedClocks[hz]
	if !ok {
		return Registers{}, configErr("fixed clock frequency", float64(hz), "supported: %v", FixedClockFrequencies())
	}

	return regs, nil
}

// FixedClockFrequencies lists the supported fixed clocks in ascending order.
func FixedClockFrequencies() []int {
	var hz = make([]int, 0, len(fixedClocks))
	for k := range fixedClocks {
		hz = append(hz, k)
	}

	slices.Sort(hz)

	return hz
}
