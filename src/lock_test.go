package swpll

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func Test_LockDetector(t *testing.T) {
	var d = newLockDetector(2)
	assert.Equal(t, UnlockedLow, d.status)

	d.inRange()
	d.inRange()
	assert.Equal(t, UnlockedLow, d.status)

	d.inRange()
	assert.Equal(t, Locked, d.status)

	d.saturatedHigh()
	assert.Equal(t, UnlockedHigh, d.status)

	d.inRange()
	d.inRange()
	assert.Equal(t, UnlockedHigh, d.status, "in range but counting down")

	d.inRange()
	assert.Equal(t, Locked, d.status)

	d.reset()
	assert.Equal(t, UnlockedLow, d.status)
}

func Test_LockDetectorNoHysteresis(t *testing.T) {
	var d = newLockDetector(0)

	d.inRange()
	assert.Equal(t, Locked, d.status)

	d.saturatedLow()
	assert.Equal(t, UnlockedLow, d.status)

	d.inRange()
	assert.Equal(t, Locked, d.status)
}

// Locked exactly when the last threshold+1 samples were all in range.
func Test_LockDetectorHysteresis(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var threshold = rapid.IntRange(0, 20).Draw(t, "threshold")
		var events = rapid.SliceOf(rapid.IntRange(-1, 1)).Draw(t, "events")

		var d = newLockDetector(threshold)
		var run = 0
		var lastSaturated = UnlockedLow

		for _, e := range events {
			switch e {
			case -1:
				d.saturatedLow()
				run = 0
				lastSaturated = UnlockedLow
			case 1:
				d.saturatedHigh()
				run = 0
				lastSaturated = UnlockedHigh
			default:
				d.inRange()
				run++
			}

			if run > threshold {
				assert.Equal(t, Locked, d.status)
			} else {
				assert.Equal(t, lastSaturated, d.status)
			}
		}
	})
}

func Test_LockStatusString(t *testing.T) {
	assert.Equal(t, "unlocked low", UnlockedLow.String())
	assert.Equal(t, "locked", Locked.String())
	assert.Equal(t, "unlocked high", UnlockedHigh.String())
	assert.Equal(t, "unknown", LockStatus(5).String())
}
