package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	Diagnostic logging, and saving the loop trace to a file.
 *
 * Description:	Diagnostics go through one package logger.  The control
 *		step only logs at debug level; resynchronisation and lock
 *		changes are info.
 *
 *		The trace is written as CSV for easy reading and later
 *		processing.  The file name is a strftime pattern so
 *
 *			-T swpll-%Y%m%d.csv
 *
 *		gives daily files.  A new file gets a header line.
 *
 *------------------------------------------------------------------*/

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
	"github.com/pkg/errors"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{
	Prefix:          "swpll",
	ReportTimestamp: true,
	TimeFormat:      time.StampMilli,
})

// SetLogger replaces the package logger.
func SetLogger(l *log.Logger) {
	logger = l
}

func Logger() *log.Logger {
	return logger
}

// SetLogLevel takes "debug", "info", "warn", "error" or "fatal".
func SetLogLevel(name string) error {
	var level, err = log.ParseLevel(name)
	if err != nil {
		return errors.Wrapf(err, "log level %q", name)
	}

	logger.SetLevel(level)

	return nil
}

var traceHeader = []string{"period", "time", "target_hz", "output_hz", "ppm", "lock", "error", "first_loop", "control"}

type TraceLog struct {
	pattern  string
	fp       *os.File
	openName string
}

// NewTraceLog does not open anything until the first Write.
func NewTraceLog(pattern string) (*TraceLog, error) {
	if _, err := strftime.New(pattern); err != nil {
		return nil, errors.Wrapf(err, "trace file pattern %q", pattern)
	}

	return &TraceLog{pattern: pattern}, nil
}

/*------------------------------------------------------------------
 *
 * Name:	Write
 *
 * Purpose:	Save one control period to the trace file.
 *
 * Inputs:	now	- Used to expand the file name pattern.
 *
 *		p	- The period.
 *
 *------------------------------------------------------------------*/

func (t *TraceLog) Write(now time.Time, p TracePoint) error {
	var fname, fmtErr = strftime.Format(t.pattern, now)
	if fmtErr != nil {
		return errors.Wrap(fmtErr, "trace file name")
	}

	// Close current file if name has changed

	if t.fp != nil && fname != t.openName {
		if err := t.Close(); err != nil {
			return err
		}
	}

	if t.fp == nil {
		// See if file already exists and not empty.
		// This is used later to write a header if it did not exist already.

		var stat, statErr = os.Stat(fname)
		var alreadyThere = statErr == nil && stat.Size() > 0

		logger.Info("opening trace file", "name", fname)

		var f, openErr = os.OpenFile(fname, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0644)
		if openErr != nil {
			return errors.Wrapf(openErr, "can't open trace file %q for write", fname)
		}

		t.fp = f
		t.openName = fname

		if !alreadyThere {
			var w = csv.NewWriter(t.fp)
			w.Write(traceHeader) //nolint:errcheck
			w.Flush()

			if err := w.Error(); err != nil {
				return errors.Wrap(err, "trace header")
			}
		}
	}

	var w = csv.NewWriter(t.fp)
	w.Write([]string{ //nolint:errcheck
		strconv.Itoa(p.Period),
		strconv.FormatFloat(p.Time, 'f', 6, 64),
		strconv.FormatFloat(p.Target, 'f', 3, 64),
		strconv.FormatFloat(p.Frequency, 'f', 3, 64),
		strconv.FormatFloat(PPM(p.Frequency, p.Target), 'f', 3, 64),
		strconv.Itoa(int(p.Lock)),
		strconv.Itoa(int(p.Error)),
		strconv.FormatBool(p.FirstLoop),
		p.Control.String(),
	})
	w.Flush()

	return errors.Wrap(w.Error(), "trace write")
}

// FileName is the currently open file, if any.
func (t *TraceLog) FileName() string {
	return t.openName
}

func (t *TraceLog) Close() error {
	if t.fp == nil {
		return nil
	}

	var err = t.fp.Close()
	t.fp = nil
	t.openName = ""

	return errors.Wrap(err, "close trace file")
}
