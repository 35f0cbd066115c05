package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	Talk to the firmware test apps, for checking the model
 *		against the real thing.
 *
 * Description:	Each test app is set up from its command line, then reads
 *		one request per line on stdin and answers with one line
 *		on stdout:
 *
 *		lut		"mclk_pt ref_pt" ->
 *				"lock reg(hex) diff accum accum_accum first_loop ticks"
 *
 *		sdm dco		"ds_in" -> "ds_out frac_reg ticks"
 *
 *		sdm ctrl	"mclk_diff" -> "error dco_ctl lock ticks"
 *
 *		The apps run under a simulator, or on a board behind a
 *		serial port.  Anything which reads and writes lines will do.
 *
 *------------------------------------------------------------------*/

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type Firmware struct {
	rw  io.ReadWriteCloser
	r   *bufio.Reader
	cmd *exec.Cmd
}

// NewFirmware wraps an established connection.
func NewFirmware(rw io.ReadWriteCloser) *Firmware {
	return &Firmware{rw: rw, r: bufio.NewReader(rw)}
}

type cmdPipes struct {
	io.WriteCloser
	io.ReadCloser
}

// Close only closes stdin; the app exits on end of file and Wait closes stdout.
func (p cmdPipes) Close() error {
	return p.WriteCloser.Close()
}

var _ io.ReadWriteCloser = cmdPipes{}

/*------------------------------------------------------------------
 *
 * Name:	StartFirmwareSim
 *
 * Purpose:	Run a test app, usually under a simulator, as a subprocess.
 *
 * Inputs:	ctx	- Kills the process when done.
 *
 *		path	- Program to run, e.g. a simulator.
 *
 *		args	- Its arguments, ending with the app's own
 *			  arguments, e.g. from LUTFirmwareArgs.
 *
 *		stderr of the app is passed through to ours.
 *
 *------------------------------------------------------------------*/

func StartFirmwareSim(ctx context.Context, path string, args ...string) (*Firmware, error) {
	var cmd = exec.CommandContext(ctx, path, args...)
	cmd.Stderr = os.Stderr

	var stdin, inErr = cmd.StdinPipe()
	if inErr != nil {
		return nil, errors.Wrap(inErr, "firmware stdin")
	}

	var stdout, outErr = cmd.StdoutPipe()
	if outErr != nil {
		return nil, errors.Wrap(outErr, "firmware stdout")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start %s", path)
	}

	logger.Info("firmware started", "path", path, "pid", cmd.Process.Pid)

	var f = NewFirmware(cmdPipes{stdin, stdout})
	f.cmd = cmd

	return f, nil
}

// OpenFirmwareSerial talks to a test app on a board.
func OpenFirmwareSerial(device string, baud int) (*Firmware, error) {
	var fd, err = openSerialPort(device, baud)
	if err != nil {
		return nil, err
	}

	return NewFirmware(fd), nil
}

// request sends one line and returns the fields of the reply, which must
// number want.
func (f *Firmware) request(want int, format string, a ...any) ([]string, error) {
	var line = fmt.Sprintf(format, a...)

	if _, err := io.WriteString(f.rw, line+"\n"); err != nil {
		return nil, errors.Wrap(err, "firmware write")
	}

	var reply, err = f.r.ReadString('\n')
	if err != nil {
		return nil, errors.Wrapf(err, "firmware reply to %q", line)
	}

	var fields = strings.Fields(reply)
	if len(fields) != want {
		return nil, errors.Errorf("firmware reply to %q: want %d fields, got %q", line, want, strings.TrimSpace(reply))
	}

	return fields, nil
}

// fieldParser collects the first error so a reply can be parsed in one go.
type fieldParser struct {
	fields []string
	err    error
}

func (p *fieldParser) signed(i int, bits int) int64 {
	var v, err = strconv.ParseInt(p.fields[i], 10, bits)
	if err != nil && p.err == nil {
		p.err = errors.Wrapf(err, "field %d", i)
	}

	return v
}

func (p *fieldParser) unsigned(i int, base int, bits int) uint64 {
	var v, err = strconv.ParseUint(p.fields[i], base, bits)
	if err != nil && p.err == nil {
		p.err = errors.Wrapf(err, "field %d", i)
	}

	return v
}

// LUTControl runs one call of the LUT control loop.
func (f *Firmware) LUTControl(mclkPt, refClkPt uint16) (LoopState, uint32, error) {
	var fields, err = f.request(7, "%d %d", mclkPt, refClkPt)
	if err != nil {
		return LoopState{}, 0, err
	}

	var p = fieldParser{fields: fields}
	var s = LoopState{
		Lock:            LockStatus(p.signed(0, 8)),
		Reg:             uint32(p.unsigned(1, 16, 32)),
		Diff:            int16(p.signed(2, 16)),
		ErrorAccum:      int32(p.signed(3, 32)),
		ErrorAccumAccum: int32(p.signed(4, 32)),
		FirstLoop:       p.unsigned(5, 10, 8) != 0,
	}
	var ticks = uint32(p.unsigned(6, 10, 32))

	return s, ticks, p.err
}

// SDMModulate runs one modulator tick.
func (f *Firmware) SDMModulate(in int32) (int32, uint32, uint32, error) {
	var fields, err = f.request(3, "%d", in)
	if err != nil {
		return 0, 0, 0, err
	}

	var p = fieldParser{fields: fields}
	var step = int32(p.signed(0, 32))
	var frac = uint32(p.unsigned(1, 10, 32))
	var ticks = uint32(p.unsigned(2, 10, 32))

	return step, frac, ticks, p.err
}

// SDMControl runs the sigma delta control path for one measured error.
func (f *Firmware) SDMControl(diff int16) (int32, int32, LockStatus, uint32, error) {
	var fields, err = f.request(4, "%d", diff)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	var p = fieldParser{fields: fields}
	var total = int32(p.signed(0, 32))
	var dcoCtl = int32(p.signed(1, 32))
	var lock = LockStatus(p.signed(2, 8))
	var ticks = uint32(p.unsigned(3, 10, 32))

	return total, dcoCtl, lock, ticks, p.err
}

// Close ends the session and, for a subprocess, waits for it.
func (f *Firmware) Close() error {
	var err = f.rw.Close()

	if f.cmd != nil {
		if werr := f.cmd.Wait(); err == nil && werr != nil {
			err = errors.Wrap(werr, "firmware exit")
		}
	}

	return err
}

func gainArg(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// LUTFirmwareArgs is the command line for the LUT test app.  The table
// entries go last, as signed 16 bit numbers.
func LUTFirmwareArgs(p PortTimerLoopParams, targetHz float64) []string {
	var args = []string{
		gainArg(p.Kp), gainArg(p.Ki), gainArg(p.Kii),
		strconv.Itoa(p.LoopRateCount),
		strconv.Itoa(p.PLLRatio),
		strconv.FormatUint(uint64(p.RefClkExpectedInc), 10),
		strconv.Itoa(p.Table.Len()),
		strconv.FormatUint(uint64(p.Registers.Ctl), 10),
		strconv.FormatUint(uint64(p.Registers.Div), 10),
		strconv.Itoa(p.NominalIndex),
		strconv.Itoa(p.PPMRange),
		strconv.Itoa(int(targetHz)),
	}

	for i := range p.Table.Len() {
		args = append(args, strconv.Itoa(int(int16(p.Table.Entry(i)))))
	}

	return args
}

// SDMControlFirmwareArgs is the command line for the sigma delta control test app.
func SDMControlFirmwareArgs(kp, ki, kii float64, loopRateCount, pllRatio, ppmRange int, profile SDMProfile) ([]string, error) {
	var pll, err = profile.PLL()
	if err != nil {
		return nil, err
	}

	var regs = EncodeRegisters(pll)

	return []string{
		gainArg(kp), gainArg(ki), gainArg(kii),
		strconv.Itoa(loopRateCount),
		strconv.Itoa(pllRatio),
		"0",
		strconv.FormatUint(uint64(regs.Ctl), 10),
		strconv.FormatUint(uint64(regs.Div), 10),
		strconv.FormatUint(uint64(regs.Frac), 10),
		strconv.Itoa(int(profile.MidPoint)),
		strconv.Itoa(ppmRange),
		strconv.Itoa(int(profile.OutputFrequency)),
	}, nil
}
