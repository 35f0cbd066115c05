package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	Show lock status on a GPIO line, typically an LED.
 *
 * Description:	The line is high while locked and low otherwise, and is
 *		only written when the status changes.
 *
 *		Uses the Linux GPIO character device, e.g. chip "gpiochip0"
 *		line 17.
 *
 *------------------------------------------------------------------*/

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// outputLine is the part of a requested GPIO line we use.
type outputLine interface {
	SetValue(v int) error
	Close() error
}

type LockIndicator struct {
	line   outputLine
	invert bool
	value  int
}

// OpenLockIndicator requests line offset on chip as an output, initially off.
func OpenLockIndicator(chip string, offset int, invert bool) (*LockIndicator, error) {
	var initial = IfThenElse(invert, 1, 0)

	var line, err = gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(initial),
		gpiocdev.WithConsumer("swpll-lock"))
	if err != nil {
		return nil, errors.Wrapf(err, "request %s line %d", chip, offset)
	}

	return newLockIndicator(line, invert), nil
}

func newLockIndicator(line outputLine, invert bool) *LockIndicator {
	return &LockIndicator{line: line, invert: invert, value: IfThenElse(invert, 1, 0)}
}

// ParseGPIOLine splits "chip:line", e.g. "gpiochip0:17".
func ParseGPIOLine(s string) (string, int, error) {
	var chip, line, found = strings.Cut(s, ":")
	if !found || chip == "" {
		return "", 0, errors.Errorf("gpio line %q: want chip:line", s)
	}

	var offset, err = strconv.Atoi(line)
	if err != nil || offset < 0 {
		return "", 0, errors.Errorf("gpio line %q: bad line number", s)
	}

	return chip, offset, nil
}

// Update drives the line for the given status.
func (li *LockIndicator) Update(status LockStatus) error {
	var on = status == Locked
	var v = IfThenElse(on != li.invert, 1, 0)

	if v == li.value {
		return nil
	}

	if err := li.line.SetValue(v); err != nil {
		return errors.Wrap(err, "lock indicator")
	}

	li.value = v

	return nil
}

// Attach makes pll drive the indicator on every lock change.
func (li *LockIndicator) Attach(pll *SoftPLL) {
	pll.OnLockChange(func(status LockStatus) {
		if err := li.Update(status); err != nil {
			logger.Warn("lock indicator", "err", err)
		}
	})
}

func (li *LockIndicator) Close() error {
	return li.line.Close()
}
