package swpll

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFirmware answers requests on one end of a pipe with reply, until the
// other end is closed.
func fakeFirmware(t *testing.T, reply func(step int, fields []string) string) *Firmware {
	var client, server = net.Pipe()

	go func() {
		defer server.Close()

		var sc = bufio.NewScanner(server)
		for step := 0; sc.Scan(); step++ {
			if _, err := fmt.Fprintln(server, reply(step, strings.Fields(sc.Text()))); err != nil {
				return
			}
		}
	}()

	var fw = NewFirmware(client)
	t.Cleanup(func() { fw.Close() })

	return fw
}

func atoi(s string) int {
	var v, _ = strconv.Atoi(s)
	return v
}

func testLUTParams(t *testing.T) PortTimerLoopParams {
	var fc, err = LoadConfig("testdata/lut.yaml")
	require.NoError(t, err)

	var p, _, pErr = fc.PortTimerLoopParams(1, 2048, 0)
	require.NoError(t, pErr)

	return p
}

// refLUTApp is the LUT test app's arithmetic written out longhand, for one
// port timer event per control period.
type refLUTApp struct {
	kp, ki, kii int64
	iLim, iiLim int64 // Zero for no clamp

	expectedInc int64
	refInc      int64 // Zero for no reference compensation
	maxDiff     int

	table     []uint16
	nominal   int64
	lockCount int

	first   bool
	last    uint16
	refLast uint16
	diff    int16
	accum   int32
	accum2  int32
	lock    int
	counter int
	reg     uint32
}

func newRefLUTApp(p PortTimerLoopParams) *refLUTApp {
	var r = &refLUTApp{
		kp:          int64(int32(float32(p.Kp) * 65536)),
		ki:          int64(int32(float32(p.Ki) * 65536)),
		kii:         int64(int32(float32(p.Kii) * 65536)),
		expectedInc: int64(p.PLLRatio),
		refInc:      int64(p.RefClkExpectedInc),
		maxDiff:     p.PPMRange * 2 * p.PLLRatio / 1000000,
		table:       p.Table.Entries(),
		nominal:     int64(p.NominalIndex),
		lockCount:   IfThenElse(p.LockCount == 0, DEFAULT_LOCK_COUNT, p.LockCount),
		first:       true,
		lock:        -1,
		reg:         p.Registers.Div,
	}

	if r.ki != 0 {
		r.iLim = int64(len(r.table)) << 16 / r.ki
	}

	if r.kii != 0 {
		r.iiLim = int64(len(r.table)) << 16 / r.kii
	}

	return r
}

func refClamp(v, limit int64) int32 {
	if limit == 0 {
		limit = 1<<31 - 1
	}

	return int32(max(-limit, min(limit, v)))
}

func (r *refLUTApp) control(mclk, ref uint16) {
	if r.first {
		r.last = mclk
		r.accum, r.accum2 = 0, 0
		r.lock, r.counter = -1, r.lockCount
		r.first = false

		return
	}

	var inc = r.expectedInc

	if r.refInc != 0 {
		var refDiff = int64(int16(ref - r.refLast - uint16(r.refInc)))
		r.refLast = ref

		inc = r.expectedInc * (r.refInc + refDiff) / r.refInc
	}

	r.diff = int16(mclk - r.last - uint16(inc))
	r.last = mclk

	if int(r.diff) > r.maxDiff || -int(r.diff) > r.maxDiff {
		r.first = true
	}

	r.accum = refClamp(int64(r.accum)+int64(r.diff), r.iLim)
	r.accum2 = refClamp(int64(r.accum2)+int64(r.accum), r.iiLim)

	var total = int32((r.kp*int64(r.diff) + r.ki*int64(r.accum) + r.kii*int64(r.accum2)) >> 16)
	var idx = r.nominal - int64(total)

	switch {
	case idx < 0:
		idx = 0
		r.lock, r.counter = -1, r.lockCount
	case idx >= int64(len(r.table)):
		idx = int64(len(r.table)) - 1
		r.lock, r.counter = 1, r.lockCount
	case r.counter > 0:
		r.counter--
	default:
		r.lock = 0
	}

	r.reg = uint32(r.table[idx])
}

// fakeLUTApp answers from refLUTApp; corrupt, if set, changes the reported
// diff at that step.
func fakeLUTApp(t *testing.T, p PortTimerLoopParams, corrupt int) *Firmware {
	var r = newRefLUTApp(p)

	return fakeFirmware(t, func(step int, f []string) string {
		r.control(uint16(atoi(f[0])), uint16(atoi(f[1])))

		var diff = r.diff
		if step == corrupt {
			diff++
		}

		return fmt.Sprintf("%d %x %d %d %d %d %d", r.lock, r.reg, diff, r.accum, r.accum2, IfThenElse(r.first, 1, 0), 100+step)
	})
}

func Test_EquivLUT(t *testing.T) {
	var p = testLUTParams(t)

	var res, err = EquivLUT(fakeLUTApp(t, p, -1), p, 200, 3)
	require.NoError(t, err)
	assert.Equal(t, EquivResult{Steps: 200, MaxTicks: 299}, res)
}

func Test_EquivLUTRefCompensation(t *testing.T) {
	var fc, err = LoadConfig("testdata/lut.yaml")
	require.NoError(t, err)

	var p, _, pErr = fc.PortTimerLoopParams(1, 2048, 512)
	require.NoError(t, pErr)

	var res, equivErr = EquivLUT(fakeLUTApp(t, p, -1), p, 300, 5)
	require.NoError(t, equivErr)
	assert.Equal(t, 300, res.Steps)
}

func Test_EquivLUTMismatch(t *testing.T) {
	var p = testLUTParams(t)

	var _, err = EquivLUT(fakeLUTApp(t, p, 5), p, 200, 3)

	var m *Mismatch
	require.ErrorAs(t, err, &m)
	assert.Equal(t, 5, m.Step)
	assert.NotEqual(t, m.Model, m.Firmware)
}

func Test_EquivSDMModulator(t *testing.T) {
	var x1, x2, x3 int32

	var fw = fakeFirmware(t, func(_ int, f []string) string {
		var in = int32(atoi(f[0]))

		var out = min(max((x3*18)>>13, 0), 8)
		x3 += (x2 >> 5) - out*768
		x2 += (x1 >> 5) - out*16384
		x1 += in - out*131072

		var frac = uint32(7)
		if out > 0 {
			frac = 0x80000000 | uint32(out-1)<<8 | 7
		}

		return fmt.Sprintf("%d %d 42", out, frac)
	})

	var res, err = EquivSDMModulator(fw, 100, 1)
	require.NoError(t, err)
	assert.Equal(t, EquivResult{Steps: 100, MaxTicks: 42}, res)
}

// refSDMCtrlApp is the SDM control test app's arithmetic written out
// longhand: negate, PI with the modulator span as windup span, filter,
// offset by the mid point, then clamp to the modulator input range.
type refSDMCtrlApp struct {
	kp, ki, kii int64
	iLim, iiLim int64 // Zero for no clamp
	mid         int32
	lockCount   int

	accum   int32
	accum2  int32
	iir     int32
	lock    int
	counter int

	sawLow, sawHigh bool
}

func newRefSDMCtrlApp(kp, ki, kii float64, mid int32, lockCount int) *refSDMCtrlApp {
	var r = &refSDMCtrlApp{
		kp:        int64(int32(float32(kp) * 65536)),
		ki:        int64(int32(float32(ki) * 65536)),
		kii:       int64(int32(float32(kii) * 65536)),
		mid:       mid,
		lockCount: IfThenElse(lockCount == 0, DEFAULT_LOCK_COUNT, lockCount),
		lock:      -1,
	}

	r.counter = r.lockCount

	if r.ki != 0 {
		r.iLim = 65535 << 16 / r.ki
	}

	if r.kii != 0 {
		r.iiLim = 65535 << 16 / r.kii
	}

	return r
}

func (r *refSDMCtrlApp) control(diff int16) (int32, int32, int) {
	var e = -int64(diff)

	r.accum = refClamp(int64(r.accum)+e, r.iLim)
	r.accum2 = refClamp(int64(r.accum2)+int64(r.accum), r.iiLim)

	var total = int32((r.kp*e + r.ki*int64(r.accum) + r.kii*int64(r.accum2)) >> 16)

	// Arithmetic shift, so the step rounds toward minus infinity.
	var step = total - r.iir
	if step >= 0 {
		r.iir += step / 8
	} else {
		r.iir += -((-step + 7) / 8)
	}

	var in = r.mid + r.iir

	switch {
	case in > 980000:
		in = 980000
		r.lock, r.counter = 1, r.lockCount
		r.sawHigh = true
	case in < 60000:
		in = 60000
		r.lock, r.counter = -1, r.lockCount
		r.sawLow = true
	case r.counter > 0:
		r.counter--
	default:
		r.lock = 0
	}

	return total, in, r.lock
}

// fakeSDMCtrlApp answers from r; corrupt, if set, changes the reported
// modulator input at that step.
func fakeSDMCtrlApp(t *testing.T, r *refSDMCtrlApp, corrupt int) *Firmware {
	return fakeFirmware(t, func(step int, f []string) string {
		var total, in, lock = r.control(int16(atoi(f[0])))
		if step == corrupt {
			in++
		}

		return fmt.Sprintf("%d %d %d 10", total, in, lock)
	})
}

func Test_EquivSDMControl(t *testing.T) {
	var profile, err = SDMProfileByName("24.576_1M")
	require.NoError(t, err)

	var r = newRefSDMCtrlApp(0, 32, 0, profile.MidPoint, 0)

	var res, equivErr = EquivSDMControl(fakeSDMCtrlApp(t, r, -1), 0, 32, 0, profile, 0, 300, 0, 1)
	require.NoError(t, equivErr)
	assert.Equal(t, EquivResult{Steps: 300, MaxTicks: 10}, res)
}

// Large errors and gains drive the modulator input into both clamps and
// through the lock hysteresis.
func Test_EquivSDMControlSaturates(t *testing.T) {
	var profile, err = SDMProfileByName("24.576_1M")
	require.NoError(t, err)

	for _, seed := range []int64{1, 2, 3} {
		var r = newRefSDMCtrlApp(3000, 8, 0.5, profile.MidPoint, 3)

		var res, equivErr = EquivSDMControl(fakeSDMCtrlApp(t, r, -1), 3000, 8, 0.5, profile, 3, 400, 2000, seed)
		require.NoError(t, equivErr, "seed %d", seed)
		assert.Equal(t, 400, res.Steps)

		assert.True(t, r.sawLow, "seed %d", seed)
		assert.True(t, r.sawHigh, "seed %d", seed)
	}
}

// A long run of one sign winds the integrators up to their limits and
// back, then settles long enough to lock.
func Test_SDMControlStageRuns(t *testing.T) {
	var profile, err = SDMProfileByName("24.576_1M")
	require.NoError(t, err)

	var stage, stageErr = NewSDMControlStage(20, 16, 0.25, profile, 5)
	require.NoError(t, stageErr)

	var r = newRefSDMCtrlApp(20, 16, 0.25, profile.MidPoint, 5)

	var diffs []int16
	for _, run := range []struct {
		diff int16
		n    int
	}{{-30000, 40}, {30000, 80}, {0, 60}, {-1, 30}, {1, 30}} {
		for range run.n {
			diffs = append(diffs, run.diff)
		}
	}

	var locked bool

	for i, diff := range diffs {
		var wantTotal, wantIn, wantLock = r.control(diff)
		var total, in, lock = stage.Step(diff)

		require.Equal(t, []int{int(wantTotal), int(wantIn), wantLock}, []int{int(total), int(in), int(lock)}, "step %d diff %d", i, diff)

		locked = locked || lock == Locked
	}

	assert.True(t, r.sawLow)
	assert.True(t, r.sawHigh)
	assert.True(t, locked)
}

func Test_EquivSDMControlMismatch(t *testing.T) {
	var profile, err = SDMProfileByName("24.576_1M")
	require.NoError(t, err)

	var r = newRefSDMCtrlApp(0, 32, 0, profile.MidPoint, 0)

	var _, equivErr = EquivSDMControl(fakeSDMCtrlApp(t, r, 7), 0, 32, 0, profile, 0, 100, 0, 1)

	var m *Mismatch
	require.ErrorAs(t, equivErr, &m)
	assert.Equal(t, 7, m.Step)
}

func Test_EquivSDMControlBadRange(t *testing.T) {
	var profile, err = SDMProfileByName("24.576_1M")
	require.NoError(t, err)

	var _, equivErr = EquivSDMControl(nil, 0, 32, 0, profile, 0, 10, 40000, 1)

	var ce *ConfigurationError
	assert.ErrorAs(t, equivErr, &ce)
}

func Test_FirmwareBadReply(t *testing.T) {
	var fw = fakeFirmware(t, func(_ int, _ []string) string {
		return "1 2"
	})

	var _, _, _, err = fw.SDMModulate(100000)
	assert.ErrorContains(t, err, "want 3 fields")

	fw = fakeFirmware(t, func(_ int, _ []string) string {
		return "x 2 3"
	})

	_, _, _, err = fw.SDMModulate(100000)
	assert.ErrorContains(t, err, "field 0")
}

func Test_LUTFirmwareArgs(t *testing.T) {
	var p = testLUTParams(t)

	var args = LUTFirmwareArgs(p, 12288000)
	require.Len(t, args, 12+p.Table.Len())

	assert.Equal(t, []string{"0.1", "2", "0", "1", "2048", "0", "413",
		strconv.Itoa(0x0A00CB01), strconv.Itoa(0x80000009), "206", "1000", "12288000"}, args[:12])
	assert.Equal(t, strconv.Itoa(0x0F16), args[12])
	assert.Equal(t, strconv.Itoa(0x1214), args[len(args)-1])
}

func Test_SDMControlFirmwareArgs(t *testing.T) {
	var profile, err = SDMProfileByName("24.576_1M")
	require.NoError(t, err)

	var args, argsErr = SDMControlFirmwareArgs(0, 32, 0, 1, 512, 1000, profile)
	require.NoError(t, argsErr)

	assert.Equal(t, []string{"0", "32", "0", "1", "512", "0",
		strconv.Itoa(0x0A809200), strconv.Itoa(0x80000005), strconv.Itoa(0x8000040A),
		"478151", "1000", "24576000"}, args)
}

// A real test app can be tried with SWPLL_FIRMWARE_SIM set to the simulator
// command line, e.g. "xsim --args sdm_dco_test.xe".
func Test_FirmwareSimSDMModulator(t *testing.T) {
	var sim = os.Getenv("SWPLL_FIRMWARE_SIM")
	if sim == "" {
		t.Skip("SWPLL_FIRMWARE_SIM not set")
	}

	var argv = strings.Fields(sim)

	var fw, err = StartFirmwareSim(t.Context(), argv[0], argv[1:]...)
	require.NoError(t, err)

	var _, equivErr = EquivSDMModulator(fw, 1000, 1)
	assert.NoError(t, equivErr)
	assert.NoError(t, fw.Close())
}
