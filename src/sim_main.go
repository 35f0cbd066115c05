package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	Command line front end for the closed loop simulation.
 *
 * Usage:	swpll-sim -c loop.yaml [ options ]
 *
 *		Prints one line per control period.  The same can go to a
 *		CSV trace file, and lock status to an LED.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

type SimOptions struct {
	Periods    int
	Seed       int64
	Jitter     float64
	InitialPPM float64
	Async      bool

	TracePattern string // strftime pattern, empty for none
	LockGPIO     string // chip:line, empty for none
	InvertGPIO   bool

	Quiet bool // Only the summary
}

func SimMain() {
	var configFile = pflag.StringP("config", "c", "", "Loop description file (YAML).")
	var periods = pflag.IntP("periods", "n", DEFAULT_SIM_PERIODS, "Number of control periods to simulate.")
	var seed = pflag.Int64P("seed", "s", 1, "Seed for the sampling jitter.")
	var jitter = pflag.Float64P("jitter", "j", 0, "Peak to peak sampling jitter, in output clock counts.")
	var initialPPM = pflag.Float64P("initial-ppm", "i", -200, "Output frequency offset before the first period.")
	var async = pflag.BoolP("async", "a", false, "Run the sigma delta modulator on its own goroutine.")
	var logLevel = pflag.StringP("log-level", "l", "warn", "Log level: debug, info, warn or error.")
	var trace = pflag.StringP("trace", "T", "", "Write a CSV trace to this file.  'strftime' patterns are expanded.")
	var lockGPIO = pflag.StringP("lock-gpio", "g", "", "Drive this GPIO line, chip:line, high while locked.")
	var invertGPIO = pflag.Bool("invert-gpio", false, "Lock GPIO is active low.")
	var quiet = pflag.BoolP("quiet", "q", false, "Only print the summary.")
	var showVersion = pflag.Bool("version", false, "Print version and exit.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Software PLL closed loop simulation.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "The reference steps +300, +150, -300 and 0 ppm while the loop tracks it.\n")
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		writeVersion(os.Stdout, "swpll-sim")

		return
	}

	if err := SetLogLevel(*logLevel); err != nil {
		logger.Error("bad option", "err", err)
		os.Exit(1)
	}

	if *configFile == "" {
		fmt.Fprintf(os.Stderr, "A loop description file is required.\n\n")
		pflag.Usage()
		os.Exit(1)
	}

	var fc, err = LoadConfig(*configFile)
	if err != nil {
		logger.Error("configuration", "err", err)
		os.Exit(1)
	}

	var ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var opts = SimOptions{
		Periods:      *periods,
		Seed:         *seed,
		Jitter:       *jitter,
		InitialPPM:   *initialPPM,
		Async:        *async,
		TracePattern: *trace,
		LockGPIO:     *lockGPIO,
		InvertGPIO:   *invertGPIO,
		Quiet:        *quiet,
	}

	if _, err := RunSim(ctx, fc, opts, os.Stdout); err != nil {
		logger.Error("simulation", "err", err)
		stop()
		os.Exit(1) //nolint:gocritic
	}
}

/*------------------------------------------------------------------
 *
 * Name:	RunSim
 *
 * Purpose:	Build the loop from a description and simulate it.
 *
 * Inputs:	fc	- Loop description.
 *
 *		opts	- How to run it.
 *
 *		w	- Progress and summary go here.
 *
 *------------------------------------------------------------------*/

func RunSim(ctx context.Context, fc *FileConfig, opts SimOptions, w io.Writer) ([]TracePoint, error) {
	var params = SimParams{
		Periods:    opts.Periods,
		Seed:       opts.Seed,
		Jitter:     opts.Jitter,
		InitialPPM: opts.InitialPPM,
	}

	if opts.Async {
		if fc.Variant != VARIANT_SDM {
			return nil, errors.New("async needs the sdm variant")
		}

		var profile, err = SDMProfileByName(fc.SDM.Profile)
		if err != nil {
			return nil, err
		}

		params.PLL, params.Async, err = NewAsyncSDMPLL(fc.Config(), profile)
		if err != nil {
			return nil, err
		}
	} else {
		var pll, err = fc.Build()
		if err != nil {
			return nil, err
		}

		params.PLL = pll
	}

	if opts.LockGPIO != "" {
		var chip, offset, err = ParseGPIOLine(opts.LockGPIO)
		if err != nil {
			return nil, err
		}

		var li, liErr = OpenLockIndicator(chip, offset, opts.InvertGPIO)
		if liErr != nil {
			return nil, liErr
		}
		defer li.Close()

		li.Attach(params.PLL)
	}

	var tl *TraceLog
	if opts.TracePattern != "" {
		var err error

		tl, err = NewTraceLog(opts.TracePattern)
		if err != nil {
			return nil, err
		}
		defer tl.Close()
	}

	params.Sink = func(tp TracePoint) error {
		if !opts.Quiet {
			fmt.Fprintf(w, "%3d %9.6fs target %.3fHz out %.3fHz %+9.3fppm %s\n",
				tp.Period, tp.Time, tp.Target, tp.Frequency, PPM(tp.Frequency, tp.Target), tp.Lock)
		}

		if tl != nil {
			return tl.Write(time.Now(), tp)
		}

		return nil
	}

	var trace, err = Simulate(ctx, params)
	if err != nil {
		return trace, err
	}

	writeSimSummary(w, trace)

	return trace, nil
}

func writeSimSummary(w io.Writer, trace []TracePoint) {
	if len(trace) == 0 {
		return
	}

	var locked, resyncs int
	for _, tp := range trace {
		if tp.Lock == Locked {
			locked++
		}

		if tp.FirstLoop {
			resyncs++
		}
	}

	var last = trace[len(trace)-1]

	fmt.Fprintf(w, "periods: %d locked: %d resyncs: %d\n", len(trace), locked, resyncs)
	fmt.Fprintf(w, "final: %.3fHz %+.3fppm %s\n", last.Frequency, PPM(last.Frequency, last.Target), last.Lock)
}
