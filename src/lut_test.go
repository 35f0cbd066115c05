package swpll

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func lutBasePLL(t *testing.T) *AppPLL {
	t.Helper()

	var pll, err = NewAppPLL(24e6, 203, 1, 3, 4, 4, 9)
	require.NoError(t, err)

	return pll
}

func loadTestLUT(t *testing.T) *FrequencyLookupTable {
	t.Helper()

	var table, err = LoadFractionsHeader("testdata/fractions_80.h")
	require.NoError(t, err)

	return table
}

func Test_LoadFractionsHeader(t *testing.T) {
	var table = loadTestLUT(t)

	assert.Equal(t, 413, table.Len())
	assert.Equal(t, 80, table.DenMax)
	assert.Equal(t, uint16(0x0F16), table.Entry(0))
	assert.Equal(t, uint16(0x0304), table.Entry(206))
	assert.Equal(t, uint16(0x1214), table.Entry(412))
	assert.InDelta(t, 16.0/23.0, table.MinFrac, 1e-12)
	assert.InDelta(t, 19.0/21.0, table.MaxFrac, 1e-12)
}

func Test_LUTValidateAndFrequency(t *testing.T) {
	var table = loadTestLUT(t)
	var pll = lutBasePLL(t)

	require.NoError(t, table.Validate(pll))

	var lo, err = table.Frequency(pll.Clone(), 0)
	require.NoError(t, err)
	assert.InDelta(t, 12281739.130434781, lo, 1e-6)

	var mid, _ = table.Frequency(pll.Clone(), 206)
	assert.InDelta(t, 12288000.0, mid, 1e-6)

	var hi, _ = table.Frequency(pll.Clone(), 412)
	assert.InDelta(t, 12294285.714285715, hi, 1e-6)
}

func Test_LUTValidateNotMonotonic(t *testing.T) {
	var table, err = NewFrequencyLookupTable([]uint16{0x0304, 0x0F16})
	require.NoError(t, err)

	var verr = table.Validate(lutBasePLL(t))

	var ce *ConfigurationError
	require.ErrorAs(t, verr, &ce)
	assert.InDelta(t, 1.0, ce.Value, 0)
}

func Test_LUTStats(t *testing.T) {
	var table = loadTestLUT(t)

	var s, err = table.Stats(lutBasePLL(t), 12288000)
	require.NoError(t, err)

	assert.Equal(t, 413, s.Entries)
	assert.InDelta(t, 12288000.0, s.MidFrequency, 1e-6)
	assert.InDelta(t, 30.37913765359138, s.AverageStepHz, 1e-6)
	assert.InDelta(t, 2.4722605512362774, s.AverageStepPPM, 1e-6)
	assert.InDelta(t, 509.7706032286542, s.PPMBelow, 1e-6)
	assert.InDelta(t, 511.5327380953438, s.PPMAbove, 1e-6)

	assert.Contains(t, s.String(), "LUT min_freq: 12281739Hz")
	assert.Contains(t, s.String(), "LUT entries: 413 (826 bytes)")
}

func Test_FractionsHeaderRoundTrip(t *testing.T) {
	var table = loadTestLUT(t)

	var b strings.Builder
	require.NoError(t, WriteFractionsHeader(&b, table))
	assert.Contains(t, b.String(), "0x0F16, // Index:   0 Fraction: 16/23 = 0.6957\n")

	var back, err = ReadFractionsHeader(strings.NewReader(b.String()))
	require.NoError(t, err)

	assert.Equal(t, table.Entries(), back.Entries())
	assert.Equal(t, table.DenMax, back.DenMax)
}

func Test_ReadFractionsHeaderErrors(t *testing.T) {
	var tests = []struct {
		name string
		text string
		want string
	}{
		{"no array", "nothing here\n", "no frac_values array"},
		{"entry first", "0x0F16, // Index:   0 Fraction: 16/23 = 0.6957\n", "before array declaration"},
		{"missing index", "short frac_values_80[2] = {\n0x0F16, // Index:   0 Fraction: 16/23 = 0.6957\n};\n", "index 1 missing"},
		{"duplicate index", "short frac_values_80[2] = {\n0x0F16, // Index:   0 Fraction: 16/23 = 0.6957\n0x0F16, // Index:   0 Fraction: 16/23 = 0.6957\n};\n", "duplicate index 0"},
		{"index too big", "short frac_values_80[1] = {\n0x0F16, // Index:   1 Fraction: 16/23 = 0.6957\n};\n", "beyond array size"},
		{"size overflows", "short frac_values_80[99999999999999999999] = {\n", "array size"},
		{"size too big", "short frac_values_80[2000000000] = {\n", "array size 2000000000 not in [1,65536]"},
		{"size zero", "short frac_values_80[0] = {\n};\n", "array size 0 not in [1,65536]"},
		{"denominator overflows", "short frac_values_99999999999999999999[1] = {\n", "denominator"},
		{"index overflows", "short frac_values_80[1] = {\n0x0F16, // Index: 99999999999999999999 Fraction: 16/23 = 0.6957\n", "index"},
		{"entry too wide", "short frac_values_80[1] = {\n0x10F16, // Index:   0 Fraction: 16/23 = 0.6957\n", "line 2"},
		{"two arrays", "short frac_values_80[1] = {\nshort frac_values_80[1] = {\n", "second array declaration"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var _, err = ReadFractionsHeader(strings.NewReader(tc.text))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

// Arbitrary declarations and entry lines either parse or fail cleanly.
func Test_ReadFractionsHeaderNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var size = rapid.StringMatching(`[0-9]{1,22}`).Draw(t, "size")
		var index = rapid.StringMatching(`[0-9]{1,22}`).Draw(t, "index")
		var reg = rapid.StringMatching(`[0-9A-F]{1,6}`).Draw(t, "reg")

		var text = "short frac_values_80[" + size + "] = {\n" +
			"0x" + reg + ", // Index: " + index + " Fraction: 16/23 = 0.6957\n};\n"

		var table, err = ReadFractionsHeader(strings.NewReader(text))
		if err == nil {
			assert.Equal(t, 1, table.Len())
		}
	})
}

func Test_NewFrequencyLookupTableEmpty(t *testing.T) {
	var _, err = NewFrequencyLookupTable(nil)

	var ce *ConfigurationError
	assert.ErrorAs(t, err, &ce)
}
