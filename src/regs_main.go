package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	Register word utility.
 *
 * Usage:	swpll-regs --ctl 0x0A809200 --div 0x80000005 --frac 0x8000040A
 *
 *			Decode register words to fields and frequency.
 *
 *		swpll-regs --profile 24.576_1M
 *		swpll-regs --fields 146,0,4,10,5,5
 *
 *			Write a register setup header.
 *
 *		swpll-regs --lut fractions.h --registers register_setup.h --target 12288000
 *
 *			Lookup table statistics.
 *
 *		swpll-regs --fixed
 *
 *			List the fixed clock settings.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

func RegsMain() {
	var input = pflag.Float64P("input", "i", DEFAULT_INPUT_FREQUENCY, "PLL input (crystal) frequency in Hz.")
	var ctl = pflag.String("ctl", "", "CTL register word.")
	var div = pflag.String("div", "", "DIV register word.")
	var frac = pflag.String("frac", "", "FRAC register word.  Default fractional-n off.")
	var initSeq = pflag.Bool("init", false, "Also show the register write sequence which starts the PLL.")
	var profile = pflag.StringP("profile", "p", "", "Write the register setup header for a sigma delta profile.")
	var fields = pflag.StringP("fields", "f", "", "Write the register setup header for F,R,f,p,OD,ACD.")
	var lut = pflag.StringP("lut", "L", "", "Show statistics for a fractions.h lookup table.")
	var registers = pflag.StringP("registers", "r", "", "Register setup header for the lookup table base setting.")
	var target = pflag.Float64P("target", "t", 0, "Target output frequency for lookup table statistics.  Default mid table.")
	var fixed = pflag.Bool("fixed", false, "List the register words for fixed clocks.")
	var output = pflag.StringP("output", "o", "", "Write the register setup header to this file rather than stdout.")
	var showVersion = pflag.Bool("version", false, "Print version and exit.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Application PLL register utility.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Decode register words, write register setup headers and check lookup tables.\n")
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		writeVersion(os.Stdout, "swpll-regs")

		return
	}

	var err error

	switch {
	case *fixed:
		err = WriteFixedClocks(os.Stdout)

	case *profile != "" || *fields != "":
		var w io.Writer = os.Stdout

		if *output != "" {
			var f, createErr = os.Create(*output)
			if createErr != nil {
				logger.Error("output", "err", createErr)
				os.Exit(1)
			}
			defer f.Close()

			w = f
		}

		if *profile != "" {
			err = writeProfileHeader(w, *profile)
		} else {
			err = writeFieldsHeader(w, *input, *fields)
		}

	case *lut != "":
		err = writeLUTStats(os.Stdout, *lut, *registers, *input, *ctl, *div, *target)

	case *ctl != "":
		var regs, regsErr = ParseRegisterWords(*ctl, *div, *frac)
		if regsErr != nil {
			err = regsErr
			break
		}

		err = WriteDecoded(os.Stdout, *input, regs, *initSeq)

	default:
		pflag.Usage()
		os.Exit(1)
	}

	if err != nil {
		logger.Error("swpll-regs", "err", err)
		os.Exit(1) //nolint:gocritic
	}
}

// ParseRegisterWords takes register words in any base strconv accepts,
// e.g. 0x0A809200.  An empty frac means fractional-n off.
func ParseRegisterWords(ctl, div, frac string) (Registers, error) {
	var regs Registers
	var words = []struct {
		name string
		s    string
		dst  *uint32
	}{
		{"ctl", ctl, &regs.Ctl},
		{"div", div, &regs.Div},
		{"frac", frac, &regs.Frac},
	}

	for _, w := range words {
		if w.s == "" {
			if w.name == "frac" {
				continue
			}

			return regs, errors.Errorf("%s register word missing", w.name)
		}

		var v, err = strconv.ParseUint(w.s, 0, 32)
		if err != nil {
			return regs, errors.Wrapf(err, "%s register word", w.name)
		}

		*w.dst = uint32(v)
	}

	return regs, nil
}

// WriteDecoded prints the fields and frequencies the words give, and
// optionally the start up write sequence.
func WriteDecoded(w io.Writer, inputFrequency float64, regs Registers, withInit bool) error {
	var pll, err = DecodeRegisters(inputFrequency, regs)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s\n", regs)
	fmt.Fprintf(w, "%s\n", pll)
	fmt.Fprintf(w, "VCO: %.3fHz\n", pll.VCOFrequency())

	if withInit {
		for i, rw := range InitSequence(regs) {
			fmt.Fprintf(w, "%d: %-4s 0x%08X\n", i, rw.Reg, rw.Value)
		}
	}

	return nil
}

// WriteFixedClocks lists the free running clock settings.
func WriteFixedClocks(w io.Writer) error {
	for _, hz := range FixedClockFrequencies() {
		var regs, _ = FixedClockRegisters(hz)

		if _, err := fmt.Fprintf(w, "%8d %s\n", hz, regs); err != nil {
			return errors.Wrap(err, "write")
		}
	}

	return nil
}

func writeProfileHeader(w io.Writer, name string) error {
	var profile, err = SDMProfileByName(name)
	if err != nil {
		return err
	}

	var pll, pllErr = profile.PLL()
	if pllErr != nil {
		return pllErr
	}

	return WriteRegisterFile(w, pll, profile.Name, profile.MidPoint)
}

// ParseFields takes "F,R,f,p,OD,ACD".
func ParseFields(inputFrequency float64, s string) (*AppPLL, error) {
	var parts = strings.Split(s, ",")
	if len(parts) != 6 {
		return nil, errors.Errorf("fields %q: want F,R,f,p,OD,ACD", s)
	}

	var v [6]int
	for i, part := range parts {
		var n, err = strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.Wrapf(err, "fields %q", s)
		}

		v[i] = n
	}

	return NewAppPLL(inputFrequency, v[0], v[1], v[2], v[3], v[4], v[5])
}

func writeFieldsHeader(w io.Writer, inputFrequency float64, fields string) error {
	var pll, err = ParseFields(inputFrequency, fields)
	if err != nil {
		return err
	}

	return WriteRegisterFile(w, pll, "", 0)
}

func writeLUTStats(w io.Writer, lutPath, registers string, inputFrequency float64, ctl, div string, target float64) error {
	var table, err = LoadFractionsHeader(lutPath)
	if err != nil {
		return err
	}

	var fc = FileConfig{LUT: &LUTFileConfig{Registers: registers, InputFrequency: inputFrequency}}

	if registers == "" {
		var regs, regsErr = ParseRegisterWords(ctl, div, "")
		if regsErr != nil {
			return errors.Wrap(regsErr, "lookup table needs --registers or --ctl and --div")
		}

		fc.LUT.Ctl, fc.LUT.Div = regs.Ctl, regs.Div
	}

	var pll, pllErr = fc.lutPLL()
	if pllErr != nil {
		return pllErr
	}

	if err := table.Validate(pll); err != nil {
		return err
	}

	if target == 0 {
		target, err = table.Frequency(pll.Clone(), table.Len()/2)
		if err != nil {
			return err
		}
	}

	var stats, statsErr = table.Stats(pll, target)
	if statsErr != nil {
		return statsErr
	}

	_, err = io.WriteString(w, stats.String())

	return errors.Wrap(err, "write")
}
