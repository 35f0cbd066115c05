package swpll

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_WriteRegisterFileProfile(t *testing.T) {
	var profile, err = SDMProfileByName("24.576_1M")
	require.NoError(t, err)

	var pll, pllErr = profile.PLL()
	require.NoError(t, pllErr)

	var b strings.Builder
	require.NoError(t, WriteRegisterFile(&b, pll, profile.Name, profile.MidPoint))

	assert.Equal(t, `/* Autogenerated SDM App PLL setup using 24.576_1M profile */
/* Input freq: 24000000
   F: 146
   R: 0
   f: 4
   p: 10
   OD: 5
   ACD: 5
*/

#define APP_PLL_CTL_REG 0x0A809200
#define APP_PLL_DIV_REG 0x80000005
#define APP_PLL_FRAC_REG 0x8000040A
#define SW_PLL_SDM_CTRL_MID 478151
`, b.String())

	var rf, readErr = ReadRegisterFile(strings.NewReader(b.String()))
	require.NoError(t, readErr)

	assert.Equal(t, Registers{Ctl: 0x0A809200, Div: 0x80000005, Frac: 0x8000040A}, rf.Registers)
	assert.InDelta(t, 24e6, rf.InputFrequency, 0)
	assert.Equal(t, int32(478151), rf.MidPoint)
	assert.Equal(t, "24.576_1M", rf.Profile)
}

func Test_ReadRegisterFileTestdata(t *testing.T) {
	var f, err = os.Open("testdata/register_setup_sdm.h")
	require.NoError(t, err)
	defer f.Close()

	var rf, readErr = ReadRegisterFile(f)
	require.NoError(t, readErr)

	assert.Equal(t, "24.576_1M", rf.Profile)
	assert.Equal(t, int32(0), rf.MidPoint)

	var pll, pllErr = rf.PLL(12e6) // The header's own input frequency wins
	require.NoError(t, pllErr)
	assert.InDelta(t, 24575757.575757574, pll.OutputFrequency(), 1e-6)
}

func Test_ReadRegisterFileLUT(t *testing.T) {
	var f, err = os.Open("testdata/register_setup_lut.h")
	require.NoError(t, err)
	defer f.Close()

	var rf, readErr = ReadRegisterFile(f)
	require.NoError(t, readErr)

	assert.Empty(t, rf.Profile)

	var pll, pllErr = rf.PLL(0)
	require.NoError(t, pllErr)
	assert.InDelta(t, 12288000.0, pll.OutputFrequency(), 1e-6)
}

func Test_ReadRegisterFileMissing(t *testing.T) {
	var _, err = ReadRegisterFile(strings.NewReader("#define APP_PLL_CTL_REG 0x0A809200\n#define APP_PLL_DIV_REG 0x80000005\n"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_PLL_FRAC_REG")
}
