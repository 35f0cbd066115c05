package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	Read and write the register setup header included by
 *		the firmware.
 *
 * Description:	The header looks like this:
 *
 *		/* Input freq: 24000000
 *		   F: 146
 *		   ...
 *		*\/
 *
 *		#define APP_PLL_CTL_REG 0x0A809200
 *		#define APP_PLL_DIV_REG 0x80000005
 *		#define APP_PLL_FRAC_REG 0x8000040A
 *		#define SW_PLL_SDM_CTRL_MID 478151
 *
 *		The last line is only present for sigma delta profiles.
 *
 *------------------------------------------------------------------*/

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RegisterFile is the parsed content of a register setup header.
type RegisterFile struct {
	Registers      Registers
	InputFrequency float64 // Zero if the comment block was missing
	MidPoint       int32   // Zero unless a sigma delta profile
	Profile        string
}

// WriteRegisterFile emits the header for the live settings of pll.
// A non-zero midPoint adds the sigma delta modulator nominal input.
func WriteRegisterFile(w io.Writer, pll *AppPLL, profile string, midPoint int32) error {
	var regs = EncodeRegisters(pll)
	var b strings.Builder

	if profile != "" {
		fmt.Fprintf(&b, "/* Autogenerated SDM App PLL setup using %s profile */\n", profile)
	} else {
		fmt.Fprintf(&b, "/* Autogenerated App PLL setup */\n")
	}

	fmt.Fprintf(&b, "/* Input freq: %d\n", int64(pll.InputFrequency))
	fmt.Fprintf(&b, "   F: %d\n", pll.F)
	fmt.Fprintf(&b, "   R: %d\n", pll.R)
	fmt.Fprintf(&b, "   f: %d\n", pll.FracNum)
	fmt.Fprintf(&b, "   p: %d\n", pll.FracDen)
	fmt.Fprintf(&b, "   OD: %d\n", pll.OD)
	fmt.Fprintf(&b, "   ACD: %d\n", pll.ACD)
	fmt.Fprintf(&b, "*/\n\n")

	fmt.Fprintf(&b, "#define APP_PLL_CTL_REG 0x%08X\n", regs.Ctl)
	fmt.Fprintf(&b, "#define APP_PLL_DIV_REG 0x%08X\n", regs.Div)
	fmt.Fprintf(&b, "#define APP_PLL_FRAC_REG 0x%08X\n", regs.Frac)

	if midPoint != 0 {
		fmt.Fprintf(&b, "#define SW_PLL_SDM_CTRL_MID %d\n", midPoint)
	}

	var _, err = io.WriteString(w, b.String())

	return errors.Wrap(err, "write register file")
}

var (
	defineRegexp  = regexp.MustCompile(`^#define\s+(\w+)\s+(0[xX][0-9A-Fa-f]+|-?\d+)`)
	inputRegexp   = regexp.MustCompile(`Input freq:\s*(\d+)`)
	profileRegexp = regexp.MustCompile(`using\s+(\S+)\s+profile`)
)

// ReadRegisterFile parses a header written by WriteRegisterFile or by the
// register search tool.  All three register defines are required.
func ReadRegisterFile(r io.Reader) (*RegisterFile, error) {
	var rf RegisterFile
	var seen = map[string]bool{}

	var scanner = bufio.NewScanner(r)
	for scanner.Scan() {
		var line = strings.TrimSpace(scanner.Text())

		if m := inputRegexp.FindStringSubmatch(line); m != nil {
			var hz, err = strconv.ParseFloat(m[1], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "input frequency %q", m[1])
			}

			rf.InputFrequency = hz

			continue
		}

		if m := profileRegexp.FindStringSubmatch(line); m != nil {
			rf.Profile = m[1]
			continue
		}

		var m = defineRegexp.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		var v, err = strconv.ParseInt(m[2], 0, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s value %q", m[1], m[2])
		}

		switch m[1] {
		case "APP_PLL_CTL_REG":
			rf.Registers.Ctl = uint32(v)
		case "APP_PLL_DIV_REG":
			rf.Registers.Div = uint32(v)
		case "APP_PLL_FRAC_REG":
			rf.Registers.Frac = uint32(v)
		case "SW_PLL_SDM_CTRL_MID":
			rf.MidPoint = int32(v)
		default:
			continue
		}

		seen[m[1]] = true
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read register file")
	}

	for _, name := range []string{"APP_PLL_CTL_REG", "APP_PLL_DIV_REG", "APP_PLL_FRAC_REG"} {
		if !seen[name] {
			return nil, errors.Errorf("register file: missing %s", name)
		}
	}

	return &rf, nil
}

// PLL decodes the register words using the recorded input frequency, or
// inputFrequency if the header did not carry one.
func (rf *RegisterFile) PLL(inputFrequency float64) (*AppPLL, error) {
	if rf.InputFrequency != 0 {
		inputFrequency = rf.InputFrequency
	}

	return DecodeRegisters(inputFrequency, rf.Registers)
}
