package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	Closed loop simulation of a reference which wanders about.
 *
 * Description:	Each control period the output clock runs at whatever the
 *		DCO last produced for one period of the reference.  The
 *		reference steps by a few ppm now and then, so the loop has
 *		something to track.
 *
 *		Sampling jitter moves the count by a random amount; the
 *		period fraction passed to the loop says by how much, as the
 *		reference side timer would.
 *
 *------------------------------------------------------------------*/

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

// PPMStep moves the reference to PPM away from nominal from control
// period Period onwards.
type PPMStep struct {
	Period int
	PPM    float64
}

// DefaultPPMSteps is up 300, back to 150, down to -300 then nominal.
func DefaultPPMSteps() []PPMStep {
	return []PPMStep{
		{Period: 26, PPM: 300},
		{Period: 51, PPM: 150},
		{Period: 81, PPM: -300},
		{Period: 131, PPM: 0},
	}
}

const DEFAULT_SIM_PERIODS = 150

// TracePoint is one control period of a simulation.
type TracePoint struct {
	Period    int
	Time      float64 // Seconds since start, at the end of the period
	Target    float64 // Nominal output scaled by the reference offset
	Frequency float64 // Output during the period
	Lock      LockStatus
	Error     int32
	FirstLoop bool
	Control   DCOControl
}

type SimParams struct {
	PLL *SoftPLL

	// Optional.  When set, PLL must have been made by NewAsyncSDMPLL with
	// this DCO.  The modulator then runs on its own goroutine.
	Async *SigmaDeltaDCO

	Periods    int       // Default DEFAULT_SIM_PERIODS
	Steps      []PPMStep // Nil for DefaultPPMSteps, empty for none
	InitialPPM float64   // Output offset before the first period

	Jitter float64 // Peak to peak sampling jitter in output clock counts
	Seed   int64

	Sink func(TracePoint) error // Called every period.  May be nil.
}

/*------------------------------------------------------------------
 *
 * Name:	Simulate
 *
 * Purpose:	Run the loop against a stepping reference.
 *
 * Returns:	Trace of every period.
 *
 *		Stops early with ctx's error if cancelled, or with the
 *		Sink's error.
 *
 *------------------------------------------------------------------*/

func Simulate(ctx context.Context, p SimParams) ([]TracePoint, error) {
	if p.PLL == nil {
		return nil, errors.New("simulate: no loop")
	}

	if p.Periods <= 0 {
		p.Periods = DEFAULT_SIM_PERIODS
	}

	if p.Steps == nil {
		p.Steps = DefaultPPMSteps()
	}

	var cfg = p.PLL.Config()
	var rng = rand.New(rand.NewSource(p.Seed)) //nolint:gosec

	var mask = ^uint64(0)
	if cfg.CounterBits > 0 && cfg.CounterBits < 64 {
		mask = 1<<cfg.CounterBits - 1
	}

	var runner *asyncRunner
	if p.Async != nil {
		runner = startAsync(ctx, p.Async)
		defer runner.stop()
	}

	var freq = p.PLL.Last().Frequency
	if p.InitialPPM != 0 {
		freq = cfg.NominalOutputHz * (1 + p.InitialPPM/1e6)
	}

	var ppm float64
	var now float64
	var count float64
	var trace = make([]TracePoint, 0, p.Periods)

	for period := range p.Periods {
		if err := ctx.Err(); err != nil {
			return trace, err
		}

		for _, s := range p.Steps {
			if s.Period == period {
				logger.Debug("reference step", "period", period, "ppm", s.PPM)
				ppm = s.PPM
			}
		}

		var refRate = cfg.ControlRateHz * (1 + ppm/1e6)
		var inc = freq / refRate

		var jitter float64
		if p.Jitter != 0 {
			jitter = p.Jitter * (rng.Float64() - 0.5)
		}

		count += inc + jitter
		now += 1 / refRate

		var res = p.PLL.DoControl(uint64(count)&mask, (inc+jitter)/inc)

		freq = res.Frequency
		if runner != nil {
			var mean, err = runner.period(cfg.SDMTicksPerControl)
			if err != nil {
				return trace, err
			}

			freq = mean
		}

		var tp = TracePoint{
			Period:    period,
			Time:      now,
			Target:    cfg.NominalOutputHz * (1 + ppm/1e6),
			Frequency: freq,
			Lock:      res.Lock,
			Error:     res.Error,
			FirstLoop: res.FirstLoop,
			Control:   res.Control,
		}

		trace = append(trace, tp)

		if p.Sink != nil {
			if err := p.Sink(tp); err != nil {
				return trace, err
			}
		}
	}

	return trace, nil
}

// asyncRunner drives SigmaDeltaDCO.Run in step with the simulated control
// periods: the loop publishes a set point, then a period's worth of ticks
// are sent and their samples collected.
type asyncRunner struct {
	ticks   chan time.Time
	samples chan SDMSample
	done    chan error
	exited  bool
	cancel  context.CancelFunc
}

func startAsync(ctx context.Context, dco *SigmaDeltaDCO) *asyncRunner {
	var runCtx, cancel = context.WithCancel(ctx)

	var r = &asyncRunner{
		ticks:   make(chan time.Time),
		samples: make(chan SDMSample, 1),
		done:    make(chan error, 1),
		cancel:  cancel,
	}

	go func() {
		r.done <- dco.Run(runCtx, r.ticks, func(s SDMSample) {
			r.samples <- s
		})
	}()

	return r
}

// period sends n ticks and returns the mean output frequency.
func (r *asyncRunner) period(n int) (float64, error) {
	var sum float64

	for range n {
		select {
		case r.ticks <- time.Now():
		case err := <-r.done:
			return 0, r.exit(err)
		}

		select {
		case s := <-r.samples:
			sum += s.Frequency
		case err := <-r.done:
			return 0, r.exit(err)
		}
	}

	return sum / float64(n), nil
}

func (r *asyncRunner) exit(err error) error {
	r.exited = true

	if err == nil {
		return errors.New("sdm runner stopped")
	}

	return errors.Wrap(err, "sdm runner stopped")
}

func (r *asyncRunner) stop() {
	close(r.ticks)
	r.cancel()

	if !r.exited {
		<-r.done
	}
}
