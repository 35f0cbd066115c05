package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	Command line front end for checking the model against
 *		the firmware test apps.
 *
 * Usage:	swpll-equiv -m lut -c loop.yaml --sim xsim --sim-arg test_app.xe
 *
 *		swpll-equiv -m sdm-dco --serial /dev/ttyACM0 -b 115200
 *
 *		With --sim the app's own arguments are added after the
 *		--sim-arg ones.  With --serial the board must already be
 *		running the app, set up the same way.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

const (
	EQUIV_LUT      = "lut"
	EQUIV_SDM_DCO  = "sdm-dco"
	EQUIV_SDM_CTRL = "sdm-ctrl"
)

type EquivOptions struct {
	Mode   string
	Config *FileConfig // Not needed for EQUIV_SDM_DCO

	LoopRateCount     int
	PLLRatio          int
	RefClkExpectedInc uint32

	SimPath string
	SimArgs []string
	Serial  string
	Baud    int

	Steps     int
	Seed      int64
	DiffRange int // sdm-ctrl errors are drawn from [-DiffRange,DiffRange)
}

func EquivMain() {
	var mode = pflag.StringP("mode", "m", EQUIV_LUT, "What to compare: lut, sdm-dco or sdm-ctrl.")
	var configFile = pflag.StringP("config", "c", "", "Loop description file (YAML).  Not needed for sdm-dco.")
	var loopRateCount = pflag.Int("loop-rate-count", 1, "Port timer events per control period.")
	var pllRatio = pflag.Int("pll-ratio", 256, "Output clock over reference clock.")
	var refInc = pflag.Uint32("ref-inc", 0, "Reference port timer increment per event, 0 for no compensation.")
	var sim = pflag.String("sim", "", "Simulator, or the test app itself, to run.")
	var simArgs = pflag.StringArray("sim-arg", nil, "Argument for the simulator.  Repeat as needed.")
	var serial = pflag.String("serial", "", "Serial port of a board running the test app.")
	var baud = pflag.IntP("baud", "b", 115200, "Serial port speed.")
	var steps = pflag.IntP("steps", "n", 200, "Number of inputs to send.")
	var seed = pflag.Int64P("seed", "s", 1, "Seed for the inputs.")
	var diffRange = pflag.Int("diff-range", DEFAULT_EQUIV_DIFF_RANGE, "Largest error magnitude sent in sdm-ctrl mode.")
	var logLevel = pflag.StringP("log-level", "l", "warn", "Log level: debug, info, warn or error.")
	var showVersion = pflag.Bool("version", false, "Print version and exit.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Compare the software PLL model with the firmware.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Either --sim or --serial is required.\n")
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		writeVersion(os.Stdout, "swpll-equiv")

		return
	}

	if err := SetLogLevel(*logLevel); err != nil {
		logger.Error("bad option", "err", err)
		os.Exit(1)
	}

	var opts = EquivOptions{
		Mode:              *mode,
		LoopRateCount:     *loopRateCount,
		PLLRatio:          *pllRatio,
		RefClkExpectedInc: *refInc,
		SimPath:           *sim,
		SimArgs:           *simArgs,
		Serial:            *serial,
		Baud:              *baud,
		Steps:             *steps,
		Seed:              *seed,
		DiffRange:         *diffRange,
	}

	if *configFile != "" {
		var fc, err = LoadConfig(*configFile)
		if err != nil {
			logger.Error("configuration", "err", err)
			os.Exit(1)
		}

		opts.Config = fc
	}

	var ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var res, err = RunEquiv(ctx, opts)
	if err != nil {
		var m *Mismatch
		if errors.As(err, &m) {
			fmt.Printf("MISMATCH at step %d\n", m.Step)
			fmt.Printf("  input:    %s\n", m.Input)
			fmt.Printf("  model:    %s\n", m.Model)
			fmt.Printf("  firmware: %s\n", m.Firmware)
		} else {
			logger.Error("swpll-equiv", "err", err)
		}

		stop()
		os.Exit(1) //nolint:gocritic
	}

	fmt.Printf("%s: %d steps match, longest call %d ticks\n", opts.Mode, res.Steps, res.MaxTicks)
}

// appArgs is the test app command line for the mode.
func (o EquivOptions) appArgs() ([]string, error) {
	switch o.Mode {
	case EQUIV_LUT:
		var p, target, err = o.lutParams()
		if err != nil {
			return nil, err
		}

		return LUTFirmwareArgs(p, target), nil
	case EQUIV_SDM_DCO:
		return nil, nil
	case EQUIV_SDM_CTRL:
		var profile, err = o.sdmProfile()
		if err != nil {
			return nil, err
		}

		var cfg = o.Config.Config()

		return SDMControlFirmwareArgs(cfg.Kp, cfg.Ki, cfg.Kii, o.LoopRateCount, o.PLLRatio, cfg.PPMRange, profile)
	default:
		return nil, errors.Errorf("mode must be %s, %s or %s, not %q", EQUIV_LUT, EQUIV_SDM_DCO, EQUIV_SDM_CTRL, o.Mode)
	}
}

func (o EquivOptions) lutParams() (PortTimerLoopParams, float64, error) {
	if o.Config == nil {
		return PortTimerLoopParams{}, 0, errors.New("lut mode needs a loop description")
	}

	return o.Config.PortTimerLoopParams(o.LoopRateCount, o.PLLRatio, o.RefClkExpectedInc)
}

func (o EquivOptions) sdmProfile() (SDMProfile, error) {
	if o.Config == nil || o.Config.Variant != VARIANT_SDM {
		return SDMProfile{}, errors.New("sdm-ctrl mode needs a sdm loop description")
	}

	return SDMProfileByName(o.Config.SDM.Profile)
}

/*------------------------------------------------------------------
 *
 * Name:	RunEquiv
 *
 * Purpose:	Connect to the firmware and compare.
 *
 * Returns:	A *Mismatch error at the first difference.
 *
 *------------------------------------------------------------------*/

func RunEquiv(ctx context.Context, o EquivOptions) (EquivResult, error) {
	var args, err = o.appArgs()
	if err != nil {
		return EquivResult{}, err
	}

	var fw *Firmware

	switch {
	case o.SimPath != "":
		fw, err = StartFirmwareSim(ctx, o.SimPath, append(o.SimArgs, args...)...)
	case o.Serial != "":
		logger.Info("board must be running the test app with", "args", args)
		fw, err = OpenFirmwareSerial(o.Serial, o.Baud)
	default:
		err = errors.New("need --sim or --serial")
	}

	if err != nil {
		return EquivResult{}, err
	}

	var res, runErr = CompareWithFirmware(fw, o)

	if closeErr := fw.Close(); runErr == nil && closeErr != nil {
		runErr = closeErr
	}

	return res, runErr
}

// CompareWithFirmware runs the comparison for the mode over an open
// connection.
func CompareWithFirmware(fw *Firmware, o EquivOptions) (EquivResult, error) {
	switch o.Mode {
	case EQUIV_LUT:
		var p, _, err = o.lutParams()
		if err != nil {
			return EquivResult{}, err
		}

		return EquivLUT(fw, p, o.Steps, o.Seed)
	case EQUIV_SDM_DCO:
		return EquivSDMModulator(fw, o.Steps, o.Seed)
	case EQUIV_SDM_CTRL:
		var profile, err = o.sdmProfile()
		if err != nil {
			return EquivResult{}, err
		}

		var cfg = o.Config.Config()

		return EquivSDMControl(fw, cfg.Kp, cfg.Ki, cfg.Kii, profile, cfg.LockCount, o.Steps, o.DiffRange, o.Seed)
	default:
		return EquivResult{}, errors.Errorf("unknown mode %q", o.Mode)
	}
}
