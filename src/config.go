package swpll

/*------------------------------------------------------------------
 *
 * Purpose:	Read a loop description from a YAML file.
 *
 * Description:	A LUT loop looks like this:
 *
 *			variant: lut
 *			nominal_output_hz: 12288000
 *			control_rate_hz: 93.75
 *			counter_bits: 16
 *			kp: 0.0
 *			ki: 1.0
 *			lut:
 *			  fractions: fractions.h
 *			  registers: register_setup.h
 *
 *		Instead of a register setup header the register words can
 *		be given directly with ctl, div and input_frequency.
 *
 *		A sigma delta loop names a profile:
 *
 *			variant: sdm
 *			control_rate_hz: 100
 *			ki: 32.0
 *			sdm:
 *			  profile: 24.576_1M
 *
 *		File names are relative to the directory of the config file.
 *
 *------------------------------------------------------------------*/

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	VARIANT_LUT = "lut"
	VARIANT_SDM = "sdm"
)

type FileConfig struct {
	Variant string `yaml:"variant"`

	NominalOutputHz float64 `yaml:"nominal_output_hz"`
	ControlRateHz   float64 `yaml:"control_rate_hz"`
	PPMRange        int     `yaml:"ppm_range"`
	CounterBits     int     `yaml:"counter_bits"`

	Kp  float64 `yaml:"kp"`
	Ki  float64 `yaml:"ki"`
	Kii float64 `yaml:"kii"`

	LockCount int `yaml:"lock_count"`

	LUT *LUTFileConfig `yaml:"lut"`
	SDM *SDMFileConfig `yaml:"sdm"`

	dir string
}

type LUTFileConfig struct {
	Fractions string `yaml:"fractions"`
	Registers string `yaml:"registers"`

	Ctl            uint32  `yaml:"ctl"`
	Div            uint32  `yaml:"div"`
	InputFrequency float64 `yaml:"input_frequency"`

	NominalIndex *int `yaml:"nominal_index"` // Default middle of table
}

type SDMFileConfig struct {
	Profile         string `yaml:"profile"`
	TicksPerControl int    `yaml:"ticks_per_control"`
}

// DEFAULT_INPUT_FREQUENCY is the crystal the register words are usually for.
const DEFAULT_INPUT_FREQUENCY = 24e6

func LoadConfig(path string) (*FileConfig, error) {
	var data, err = os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	var fc, parseErr = ParseConfig(data)
	if parseErr != nil {
		return nil, errors.Wrap(parseErr, path)
	}

	fc.dir = filepath.Dir(path)

	return fc, nil
}

// ParseConfig checks the document hangs together; Build does the rest.
func ParseConfig(data []byte) (*FileConfig, error) {
	var fc FileConfig

	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	switch fc.Variant {
	case VARIANT_LUT:
		if fc.LUT == nil || fc.LUT.Fractions == "" {
			return nil, errors.New("lut variant needs lut.fractions")
		}

		if fc.LUT.Registers == "" && (fc.LUT.Ctl == 0 || fc.LUT.Div == 0) {
			return nil, errors.New("lut variant needs lut.registers or lut.ctl and lut.div")
		}
	case VARIANT_SDM:
		if fc.SDM == nil || fc.SDM.Profile == "" {
			return nil, errors.New("sdm variant needs sdm.profile")
		}
	default:
		return nil, errors.Errorf("variant must be %q or %q, not %q", VARIANT_LUT, VARIANT_SDM, fc.Variant)
	}

	if fc.ControlRateHz <= 0 {
		return nil, errors.New("control_rate_hz must be positive")
	}

	return &fc, nil
}

// Config is the loop configuration with defaults applied.
func (fc *FileConfig) Config() Config {
	var cfg = Config{
		NominalOutputHz: fc.NominalOutputHz,
		ControlRateHz:   fc.ControlRateHz,
		PPMRange:        fc.PPMRange,
		CounterBits:     fc.CounterBits,
		Kp:              fc.Kp,
		Ki:              fc.Ki,
		Kii:             fc.Kii,
		LockCount:       fc.LockCount,
	}

	if fc.SDM != nil {
		cfg.SDMTicksPerControl = fc.SDM.TicksPerControl
	}

	return cfg.WithDefaults()
}

func (fc *FileConfig) path(name string) string {
	if filepath.IsAbs(name) || fc.dir == "" {
		return name
	}

	return filepath.Join(fc.dir, name)
}

// Build makes the loop described.
func (fc *FileConfig) Build() (*SoftPLL, error) {
	var cfg = fc.Config()

	if fc.Variant == VARIANT_SDM {
		var profile, err = SDMProfileByName(fc.SDM.Profile)
		if err != nil {
			return nil, err
		}

		return NewSDMPLL(cfg, profile)
	}

	var table, err = LoadFractionsHeader(fc.path(fc.LUT.Fractions))
	if err != nil {
		return nil, err
	}

	var pll, pllErr = fc.lutPLL()
	if pllErr != nil {
		return nil, pllErr
	}

	var nominal = fc.nominalIndex(table)

	if cfg.NominalOutputHz == 0 {
		cfg.NominalOutputHz, err = table.Frequency(pll.Clone(), nominal)
		if err != nil {
			return nil, errors.Wrap(err, "nominal index")
		}
	}

	return NewLUTPLL(cfg, table, pll, nominal)
}

// nominalIndex is the configured table entry, or the middle of the table.
func (fc *FileConfig) nominalIndex(table *FrequencyLookupTable) int {
	if fc.LUT.NominalIndex != nil {
		return *fc.LUT.NominalIndex
	}

	return table.Len() / 2
}

/*------------------------------------------------------------------
 *
 * Name:	PortTimerLoopParams
 *
 * Purpose:	Describe a LUT loop in the form the firmware runs it.
 *
 * Inputs:	loopRateCount	- Port timer events per control period.
 *
 *		pllRatio	- Output clock over reference clock.
 *
 *		refClkExpectedInc - Reference port timer increment per
 *				  event, 0 for no compensation.
 *
 * Returns:	Parameters and the nominal output frequency.
 *
 *------------------------------------------------------------------*/

func (fc *FileConfig) PortTimerLoopParams(loopRateCount, pllRatio int, refClkExpectedInc uint32) (PortTimerLoopParams, float64, error) {
	if fc.Variant != VARIANT_LUT {
		return PortTimerLoopParams{}, 0, errors.Errorf("port timer loop needs the %s variant", VARIANT_LUT)
	}

	var table, err = LoadFractionsHeader(fc.path(fc.LUT.Fractions))
	if err != nil {
		return PortTimerLoopParams{}, 0, err
	}

	var pll, pllErr = fc.lutPLL()
	if pllErr != nil {
		return PortTimerLoopParams{}, 0, pllErr
	}

	var cfg = fc.Config()

	var nominal = fc.nominalIndex(table)

	var target = cfg.NominalOutputHz
	if target == 0 {
		target, err = table.Frequency(pll.Clone(), nominal)
		if err != nil {
			return PortTimerLoopParams{}, 0, errors.Wrap(err, "nominal index")
		}
	}

	return PortTimerLoopParams{
		Kp:                cfg.Kp,
		Ki:                cfg.Ki,
		Kii:               cfg.Kii,
		LoopRateCount:     loopRateCount,
		PLLRatio:          pllRatio,
		RefClkExpectedInc: refClkExpectedInc,
		PPMRange:          cfg.PPMRange,
		LockCount:         cfg.LockCount,
		InputFrequency:    pll.InputFrequency,
		Registers:         EncodeRegisters(pll),
		Table:             table,
		NominalIndex:      nominal,
	}, target, nil
}

func (fc *FileConfig) lutPLL() (*AppPLL, error) {
	var inputHz = IfThenElse(fc.LUT.InputFrequency != 0, fc.LUT.InputFrequency, DEFAULT_INPUT_FREQUENCY)

	if fc.LUT.Registers != "" {
		var f, err = os.Open(fc.path(fc.LUT.Registers))
		if err != nil {
			return nil, errors.Wrap(err, "open register file")
		}
		defer f.Close()

		var rf, readErr = ReadRegisterFile(f)
		if readErr != nil {
			return nil, errors.Wrap(readErr, fc.LUT.Registers)
		}

		return rf.PLL(inputHz)
	}

	return DecodeRegisters(inputHz, Registers{Ctl: fc.LUT.Ctl, Div: fc.LUT.Div, Frac: FRAC_ENABLE_MASK})
}
