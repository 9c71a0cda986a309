// Package board describes a target platform's memory layout, core count,
// and timer rate as data rather than compiled-in constants.
//
// rustpie/src/board/aarch64_virt.rs hardcodes BOARD_NORMAL_MEMORY_RANGE,
// BOARD_DEVICE_MEMORY_RANGE and BOARD_CORE_NUMBER behind a build tag per
// architecture. We generalize that into a Config loaded from YAML
// (gopkg.in/yaml.v3), so the two supported targets — and test fixtures —
// describe their layout data-driven, while keeping board.Init's shape
// (init once at boot, before any other subsystem) from the teacher's
// gopheros/kernel/driver-registration convention.
package board

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nazgrel/vespera/kernel"
)

// Arch names a supported target architecture.
type Arch string

const (
	AArch64 Arch = "aarch64-virt"
	RISCV64 Arch = "riscv64-virt"
)

// MemoryRange is an inclusive-start, exclusive-end physical address
// range, expressed in bytes.
type MemoryRange struct {
	Start uintptr `yaml:"start"`
	End   uintptr `yaml:"end"`
}

// Size returns the range's length in bytes.
func (r MemoryRange) Size() uintptr { return r.End - r.Start }

// Config is a board's complete data-driven description.
type Config struct {
	Arch Arch `yaml:"arch"`

	NormalMemoryRange MemoryRange `yaml:"normal_memory_range"`
	DeviceMemoryRange MemoryRange `yaml:"device_memory_range"`

	CoreCount int `yaml:"core_count"`

	// TimerHz is the fixed timer-tick rate driving schedule() preemption
	// (spec.md §4.4).
	TimerHz int `yaml:"timer_hz"`

	// TimerIRQ and UARTIRQ are the board's timer and console IRQ
	// numbers. They are loaded from the config only: nothing in this
	// tree passes them on to kernel/trap or kernel/event.
	TimerIRQ int `yaml:"timer_irq"`
	UARTIRQ  int `yaml:"uart_irq"`
}

// DefaultAArch64Virt mirrors rustpie's aarch64_virt board constants.
var DefaultAArch64Virt = Config{
	Arch:              AArch64,
	NormalMemoryRange: MemoryRange{Start: 0x40000000, End: 0x48000000},
	DeviceMemoryRange: MemoryRange{Start: 0x08000000, End: 0x08020000},
	CoreCount:         4,
	TimerHz:           100,
	TimerIRQ:          30,
	UARTIRQ:           33,
}

// DefaultRISCV64Virt mirrors rustpie's riscv64_virt board constants.
var DefaultRISCV64Virt = Config{
	Arch:              RISCV64,
	NormalMemoryRange: MemoryRange{Start: 0x80000000, End: 0x88000000},
	DeviceMemoryRange: MemoryRange{Start: 0x10000000, End: 0x10010000},
	CoreCount:         4,
	TimerHz:           100,
	TimerIRQ:          7,
	UARTIRQ:           10,
}

var errMissingArch = &kernel.Error{Module: "board", Message: "config has no arch"}

// LoadConfig parses a board descriptor from path, falling back to the
// compiled-in defaults for the config's declared Arch wherever a field is
// left at its zero value. An empty path yields DefaultAArch64Virt
// unchanged.
func LoadConfig(path string) (Config, *kernel.Error) {
	if path == "" {
		return DefaultAArch64Virt, nil
	}

	raw, ioErr := os.ReadFile(path)
	if ioErr != nil {
		return Config{}, &kernel.Error{Module: "board", Message: ioErr.Error()}
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, &kernel.Error{Module: "board", Message: err.Error()}
	}

	switch cfg.Arch {
	case AArch64:
		return mergeDefaults(cfg, DefaultAArch64Virt), nil
	case RISCV64:
		return mergeDefaults(cfg, DefaultRISCV64Virt), nil
	case "":
		return Config{}, errMissingArch
	default:
		return Config{}, &kernel.Error{Module: "board", Message: "unknown arch: " + string(cfg.Arch)}
	}
}

// mergeDefaults fills any zero-valued field of cfg from def, so a YAML
// fixture only needs to specify what it deviates from.
func mergeDefaults(cfg, def Config) Config {
	if cfg.NormalMemoryRange == (MemoryRange{}) {
		cfg.NormalMemoryRange = def.NormalMemoryRange
	}
	if cfg.DeviceMemoryRange == (MemoryRange{}) {
		cfg.DeviceMemoryRange = def.DeviceMemoryRange
	}
	if cfg.CoreCount == 0 {
		cfg.CoreCount = def.CoreCount
	}
	if cfg.TimerHz == 0 {
		cfg.TimerHz = def.TimerHz
	}
	if cfg.TimerIRQ == 0 {
		cfg.TimerIRQ = def.TimerIRQ
	}
	if cfg.UARTIRQ == 0 {
		cfg.UARTIRQ = def.UARTIRQ
	}
	return cfg
}
