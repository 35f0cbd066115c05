package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	Frequency lookup table for the LUT DCO.
 *
 * Description:	Each entry is the low 16 bits of the fractional register,
 *		f in the top byte, p in the bottom byte.  The table is
 *		produced offline by the register search tool as a C header
 *		("fractions.h") and must be monotonic in output frequency.
 *
 *------------------------------------------------------------------*/

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// A 16 bit register can't select more distinct settings than this.
const MAX_LUT_ENTRIES = 65536

// FrequencyLookupTable is immutable once loaded.
type FrequencyLookupTable struct {
	entries []uint16

	// Informational, from the header comments.
	DenMax  int
	MinFrac float64
	MaxFrac float64
}

// NewFrequencyLookupTable copies entries into a new table.
func NewFrequencyLookupTable(entries []uint16) (*FrequencyLookupTable, error) {
	if len(entries) == 0 {
		return nil, configErr("lookup table length", 0, "must have at least one entry")
	}

	if len(entries) > MAX_LUT_ENTRIES {
		return nil, configErr("lookup table length", float64(len(entries)), "must be at most %d", MAX_LUT_ENTRIES)
	}

	var t = &FrequencyLookupTable{
		entries: append([]uint16(nil), entries...),
		MinFrac: 1.0,
		MaxFrac: 0.0,
	}

	for _, e := range entries {
		var frac = fracValue(e)
		t.MinFrac = min(t.MinFrac, frac)
		t.MaxFrac = max(t.MaxFrac, frac)
	}

	return t, nil
}

func fracValue(e uint16) float64 {
	return float64(e>>8+1) / float64(e&0xff+1)
}

func (t *FrequencyLookupTable) Len() int {
	return len(t.entries)
}

func (t *FrequencyLookupTable) Entry(i int) uint16 {
	return t.entries[i]
}

// Entries returns a copy.
func (t *FrequencyLookupTable) Entries() []uint16 {
	return append([]uint16(nil), t.entries...)
}

// Frequency of entry i with the fractional block enabled.
// pll is used as scratch and left set to that entry.
func (t *FrequencyLookupTable) Frequency(pll *AppPLL, i int) (float64, error) {
	if i < 0 || i >= len(t.entries) {
		return 0, configErr("LUT index", float64(i), "must be in [0,%d)", len(t.entries))
	}

	return pll.UpdateFracReg(FRAC_ENABLE_MASK | uint32(t.entries[i]))
}

/*------------------------------------------------------------------
 *
 * Name:	Validate
 *
 * Purpose:	Make sure every entry gives a legal PLL setting and the
 *		frequencies never decrease with index.
 *
 * Inputs:	pll	- Base setting.  Not modified.
 *
 * Returns:	*ConfigurationError naming the first offending index.
 *
 *------------------------------------------------------------------*/

func (t *FrequencyLookupTable) Validate(pll *AppPLL) error {
	var scratch = pll.Clone()
	var last float64

	for i := range t.entries {
		var freq, err = t.Frequency(scratch, i)
		if err != nil {
			return errors.Wrapf(err, "lookup table index %d", i)
		}

		if i > 0 && freq < last {
			return configErr("lookup table index", float64(i), "not monotonic: %.3fHz follows %.3fHz", freq, last)
		}

		last = freq
	}

	return nil
}

// LUTStats summarises the range of a table around a target frequency.
type LUTStats struct {
	MinFrequency float64
	MidFrequency float64
	MaxFrequency float64
	Entries      int

	AverageStepHz  float64
	AverageStepPPM float64
	PPMBelow       float64 // Range below target, positive number
	PPMAbove       float64
}

func (s LUTStats) String() string {
	return fmt.Sprintf("LUT min_freq: %.0fHz\n"+
		"LUT mid_freq: %.0fHz\n"+
		"LUT max_freq: %.0fHz\n"+
		"LUT entries: %d (%d bytes)\n"+
		"LUT average step size: %.6gHz, PPM: %.6g\n"+
		"PPM range: -%.6g\n"+
		"PPM range: +%.6g\n",
		s.MinFrequency, s.MidFrequency, s.MaxFrequency,
		s.Entries, s.Entries*2,
		s.AverageStepHz, s.AverageStepPPM,
		s.PPMBelow, s.PPMAbove)
}

func (t *FrequencyLookupTable) Stats(pll *AppPLL, target float64) (LUTStats, error) {
	var scratch = pll.Clone()
	var s = LUTStats{Entries: t.Len()}
	var err error

	if s.MinFrequency, err = t.Frequency(scratch, 0); err != nil {
		return s, err
	}

	if s.MidFrequency, err = t.Frequency(scratch, t.Len()/2); err != nil {
		return s, err
	}

	if s.MaxFrequency, err = t.Frequency(scratch, t.Len()-1); err != nil {
		return s, err
	}

	s.AverageStepHz = (s.MaxFrequency - s.MinFrequency) / float64(s.Entries)
	s.AverageStepPPM = 1e6 * s.AverageStepHz / s.MidFrequency
	s.PPMBelow = 1e6 * (target/s.MinFrequency - 1)
	s.PPMAbove = 1e6 * (s.MaxFrequency/target - 1)

	return s, nil
}

var (
	fracSizeRegexp  = regexp.MustCompile(`frac_values_?(\d*)\[(\d+)]`)
	fracEntryRegexp = regexp.MustCompile(`0x([0-9A-Fa-f]+).+Index:\s+(\d+).+=\s(\d\.\d+)`)
)

/*------------------------------------------------------------------
 *
 * Name:	ReadFractionsHeader
 *
 * Purpose:	Parse a "fractions.h" lookup table header.
 *
 * Description:	The array declaration gives the entry count, e.g.
 *
 *			short frac_values_80[413] = {
 *
 *		and each entry line carries its own index:
 *
 *			0x0F16, // Index:   0 Fraction: 16/23 = 0.6957
 *
 *		Every index must be present exactly once.
 *
 *------------------------------------------------------------------*/

func ReadFractionsHeader(r io.Reader) (*FrequencyLookupTable, error) {
	var entries []uint16
	var seen []bool
	var denMax int

	var scanner = bufio.NewScanner(r)
	var lineno = 0

	for scanner.Scan() {
		lineno++
		var line = scanner.Text()

		if m := fracSizeRegexp.FindStringSubmatch(line); m != nil {
			if entries != nil {
				return nil, errors.Errorf("fractions header line %d: second array declaration", lineno)
			}

			var n, nErr = strconv.Atoi(m[2])
			if nErr != nil {
				return nil, errors.Wrapf(nErr, "fractions header line %d: array size", lineno)
			}

			if n <= 0 || n > MAX_LUT_ENTRIES {
				return nil, errors.Errorf("fractions header line %d: array size %d not in [1,%d]", lineno, n, MAX_LUT_ENTRIES)
			}

			entries = make([]uint16, n)
			seen = make([]bool, n)

			if m[1] != "" {
				var d, dErr = strconv.Atoi(m[1])
				if dErr != nil {
					return nil, errors.Wrapf(dErr, "fractions header line %d: denominator", lineno)
				}

				denMax = d
			}

			continue
		}

		var m = fracEntryRegexp.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		if entries == nil {
			return nil, errors.Errorf("fractions header line %d: entry before array declaration", lineno)
		}

		var reg, regErr = strconv.ParseUint(m[1], 16, 16)
		if regErr != nil {
			return nil, errors.Wrapf(regErr, "fractions header line %d", lineno)
		}

		var idx, idxErr = strconv.Atoi(m[2])
		if idxErr != nil {
			return nil, errors.Wrapf(idxErr, "fractions header line %d: index", lineno)
		}

		if idx >= len(entries) {
			return nil, errors.Errorf("fractions header line %d: index %d beyond array size %d", lineno, idx, len(entries))
		}

		if seen[idx] {
			return nil, errors.Errorf("fractions header line %d: duplicate index %d", lineno, idx)
		}

		entries[idx] = uint16(reg)
		seen[idx] = true
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read fractions header")
	}

	if entries == nil {
		return nil, errors.New("fractions header: no frac_values array found")
	}

	for i, ok := range seen {
		if !ok {
			return nil, errors.Errorf("fractions header: index %d missing", i)
		}
	}

	var t, err = NewFrequencyLookupTable(entries)
	if err != nil {
		return nil, err
	}

	t.DenMax = denMax

	return t, nil
}

func LoadFractionsHeader(path string) (*FrequencyLookupTable, error) {
	var f, err = os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open fractions header")
	}
	defer f.Close()

	var t, readErr = ReadFractionsHeader(f)
	if readErr != nil {
		return nil, errors.Wrap(readErr, path)
	}

	return t, nil
}

// WriteFractionsHeader emits the table in the same format ReadFractionsHeader accepts.
func WriteFractionsHeader(w io.Writer, t *FrequencyLookupTable) error {
	var bw = bufio.NewWriter(w)

	fmt.Fprintf(bw, "// Header file listing fraction options searched\n")
	fmt.Fprintf(bw, "// These values to go in the bottom 16 bits of the secondary PLL fractional-n divider register.\n")
	fmt.Fprintf(bw, "short frac_values_%d[%d] = {\n", t.DenMax, t.Len())

	for i, e := range t.entries {
		var frac = fmt.Sprintf("%d/%d", e>>8+1, e&0xff+1)
		fmt.Fprintf(bw, "0x%04X, // Index: %3d Fraction: %5s = %.4f\n", e, i, frac, fracValue(e))
	}

	fmt.Fprintf(bw, "};\n")

	return errors.Wrap(bw.Flush(), "write fractions header")
}
