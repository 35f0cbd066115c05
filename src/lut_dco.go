package swpll

// LUTDCO turns a lookup table index into an output frequency.
type LUTDCO struct {
	table *FrequencyLookupTable
	pll   *AppPLL
	lock  lockDetector

	index         int
	lastFrequency float64
}

/*------------------------------------------------------------------
 *
 * Name:	NewLUTDCO
 *
 * Inputs:	table		- Validated here; must be monotonic.
 *
 *		pll		- Base setting.  Driven in place from now on.
 *
 *		initialIndex	- Entry applied before the first control,
 *				  normally the one nearest the nominal output.
 *
 *		lockCount	- In-range periods needed before lock.
 *
 * Description:	Starts at initialIndex, unlocked low.
 *
 *------------------------------------------------------------------*/

func NewLUTDCO(table *FrequencyLookupTable, pll *AppPLL, initialIndex int, lockCount int) (*LUTDCO, error) {
	if initialIndex < 0 || initialIndex >= table.Len() {
		return nil, configErr("initial index", float64(initialIndex), "must be in [0,%d)", table.Len())
	}

	if lockCount < 0 || lockCount > 255 {
		return nil, configErr("lock count", float64(lockCount), "must be in [0,255]")
	}

	if err := table.Validate(pll); err != nil {
		return nil, err
	}

	var d = &LUTDCO{
		table: table,
		pll:   pll,
		lock:  newLockDetector(lockCount),
		index: initialIndex,
	}

	var freq, err = table.Frequency(pll, d.index)
	Assert(err == nil)
	d.lastFrequency = freq

	return d, nil
}

/*------------------------------------------------------------------
 *
 * Name:	FrequencyFromControl
 *
 * Inputs:	ctrl	- Table index from the controller.  Hold keeps the
 *			  last setting and status.
 *
 * Description:	The index is clamped to the table.  Clamping either way
 *		drops lock at once; being inside counts towards lock.
 *
 *------------------------------------------------------------------*/

func (d *LUTDCO) FrequencyFromControl(ctrl DCOControl) (float64, LockStatus) {
	if !ctrl.Valid {
		return d.lastFrequency, d.lock.status
	}

	var n = int32(d.table.Len())
	var set = ctrl.Value

	switch {
	case set < 0:
		set = 0
		d.lock.saturatedLow()
	case set >= n:
		set = n - 1
		d.lock.saturatedHigh()
	default:
		d.lock.inRange()
	}

	d.index = int(set)

	var freq, err = d.table.Frequency(d.pll, d.index)
	Assert(err == nil) // Every entry was checked by Validate
	d.lastFrequency = freq

	logger.Debug("lut lookup", "index", d.index, "reg", d.RegisterValue(), "lock", d.lock.status)

	return freq, d.lock.status
}

// Reset drops lock as on a resynchronisation.  The setting is held.
func (d *LUTDCO) Reset() {
	d.lock.reset()
}

func (d *LUTDCO) Index() int {
	return d.index
}

// RegisterValue is the 16 bit table entry currently in use.
func (d *LUTDCO) RegisterValue() uint16 {
	return d.table.Entry(d.index)
}

func (d *LUTDCO) LockStatus() LockStatus {
	return d.lock.status
}

func (d *LUTDCO) PLL() *AppPLL {
	return d.pll
}

func (d *LUTDCO) Table() *FrequencyLookupTable {
	return d.table
}

// FrequencyRange is the lowest and highest frequency the table can produce.
func (d *LUTDCO) FrequencyRange() (float64, float64) {
	var scratch = d.pll.Clone()
	var lo, _ = d.table.Frequency(scratch, 0)
	var hi, _ = d.table.Frequency(scratch, d.table.Len()-1)

	return lo, hi
}
