package swpll

// LockStatus is the tri-state lock indicator reported every control period.
type LockStatus int8

const (
	UnlockedLow  LockStatus = -1
	Locked       LockStatus = 0
	UnlockedHigh LockStatus = 1
)

// DEFAULT_LOCK_COUNT is the number of consecutive in-range control periods
// needed before lock is declared.
const DEFAULT_LOCK_COUNT = 10

func (s LockStatus) String() string {
	switch s {
	case UnlockedLow:
		return "unlocked low"
	case Locked:
		return "locked"
	case UnlockedHigh:
		return "unlocked high"
	default:
		return "unknown"
	}
}

/*------------------------------------------------------------------
 *
 * Name:	lockDetector
 *
 * Purpose:	Hysteresis on the lock status shared by both DCOs.
 *
 * Description:	Any saturated sample drops lock immediately and reloads
 *		the counter.  In-range samples count the counter down and
 *		keep the previous status; the first in-range sample which
 *		finds the counter already at zero declares lock.
 *
 *------------------------------------------------------------------*/

type lockDetector struct {
	threshold uint8
	counter   uint8
	status    LockStatus
}

func newLockDetector(threshold int) lockDetector {
	Assert(threshold >= 0 && threshold <= 255)

	return lockDetector{
		threshold: uint8(threshold),
		counter:   uint8(threshold),
		status:    UnlockedLow,
	}
}

// reset is the state after a resynchronisation.
func (d *lockDetector) reset() {
	d.counter = d.threshold
	d.status = UnlockedLow
}

func (d *lockDetector) saturatedLow() {
	d.counter = d.threshold
	d.status = UnlockedLow
}

func (d *lockDetector) saturatedHigh() {
	d.counter = d.threshold
	d.status = UnlockedHigh
}

func (d *lockDetector) inRange() {
	if d.counter > 0 {
		d.counter--
	} else {
		d.status = Locked
	}
}
