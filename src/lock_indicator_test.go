package swpll

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLine is a test double for outputLine that records every write.
type mockLine struct {
	writes []int
	closed bool
}

func (m *mockLine) SetValue(v int) error {
	m.writes = append(m.writes, v)
	return nil
}

func (m *mockLine) Close() error {
	m.closed = true
	return nil
}

func Test_LockIndicator(t *testing.T) {
	var mock = new(mockLine)
	var li = newLockIndicator(mock, false)

	require.NoError(t, li.Update(UnlockedLow))
	assert.Empty(t, mock.writes, "already off")

	require.NoError(t, li.Update(Locked))
	require.NoError(t, li.Update(Locked))
	require.NoError(t, li.Update(UnlockedHigh))
	require.NoError(t, li.Update(UnlockedLow))

	assert.Equal(t, []int{1, 0}, mock.writes)

	require.NoError(t, li.Close())
	assert.True(t, mock.closed)
}

func Test_LockIndicatorInvert(t *testing.T) {
	var mock = new(mockLine)
	var li = newLockIndicator(mock, true)

	require.NoError(t, li.Update(UnlockedHigh))
	require.NoError(t, li.Update(Locked))

	assert.Equal(t, []int{0}, mock.writes, "inverted line should be low when locked")
}

func Test_LockIndicatorAttach(t *testing.T) {
	var mock = new(mockLine)
	var li = newLockIndicator(mock, false)

	var pll = buildTestPLL(t, "testdata/lut.yaml")
	li.Attach(pll)

	var _, err = Simulate(context.Background(), SimParams{PLL: pll, Periods: 100, Steps: []PPMStep{}})
	require.NoError(t, err)

	require.NotEmpty(t, mock.writes)
	assert.Equal(t, 1, mock.writes[len(mock.writes)-1])
}

func Test_ParseGPIOLine(t *testing.T) {
	var chip, offset, err = ParseGPIOLine("gpiochip0:17")
	require.NoError(t, err)
	assert.Equal(t, "gpiochip0", chip)
	assert.Equal(t, 17, offset)

	for _, bad := range []string{"", "gpiochip0", ":3", "gpiochip0:x", "gpiochip0:-1"} {
		_, _, err = ParseGPIOLine(bad)
		assert.Error(t, err, bad)
	}
}
