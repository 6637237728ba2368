// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package readings holds the plain data records returned by observers:
// CPU, RAM, I/O, network, GPU, PSU, fan, instruction-mix and trace-path
// readings, plus the bitset that tags which of them a reading carries.
package readings

import "time"

// Type is a bitset tagging which measurement domains a Reading carries.
// A single observer trigger may populate more than one bit (e.g. the
// global /proc/stat trigger sets CPU|Interval, the powercap trigger sets
// CPU|Power|Interval).
type Type uint32

const (
	CPU Type = 1 << iota
	RAM
	IO
	Network
	VRAM
	GPU
	Power
	Interval
	CPUInstructions
)

func (t Type) Has(bit Type) bool {
	return t&bit != 0
}

// Scope tells whether a reading is limited to a single process or spans
// the whole host.
type Scope int

const (
	Process Scope = iota
	System
)

func (s Scope) String() string {
	if s == Process {
		return "process"
	}
	return "system"
}

// Base is embedded by every specialised reading. Timestamp is the
// observer's uptime clock in milliseconds at the moment of the trigger
// that produced this reading; Difference is the elapsed time since the
// previous trigger of the same observer, zero on the very first trigger.
type Base struct {
	ReadingType Type
	Timestamp   int64
	Difference  int64
}

func (b Base) Type() Type        { return b.ReadingType }
func (b Base) TimestampMS() int64 { return b.Timestamp }
func (b Base) DifferenceMS() int64 { return b.Difference }

// CPU carries overall and per-core/per-socket usage, power and energy,
// plus the per-socket mean frequency reported by the topology reader.
type CPUReading struct {
	Base

	OverallUsage  float64 // fraction 0-100, or IPC depending on source
	OverallPower  float64 // watts; the powercap observer stores its joules-since-tick sum here
	OverallEnergy float64 // joules

	PerCoreUsage  []float64
	PerCorePower  []float64
	PerCoreEnergy []float64

	PerSocketUsage  []float64
	PerSocketPower  []float64 // see DESIGN.md: powercap observer reports joules-since-tick here
	PerSocketEnergy []float64

	PerSocketFrequencyMHz []float64
}

// RAM carries process or system memory/bandwidth figures.
type RAMReading struct {
	Base

	OverallRSSMiB       float64
	TotalMemoryUsedMiB  float64
	SwapUsedMiB         float64
	OverallBandwidthMiB float64 // -1 when unsupported
	OverallPowerW       float64 // -1 when unsupported
}

// IO carries cumulative byte counters and bandwidth since the last tick.
type IOReading struct {
	Base

	ReadKiB  float64
	WriteKiB float64

	ReadBandwidthKiBs  float64
	WriteBandwidthKiBs float64

	ReadPowerW  float64 // -1 when unsupported
	WritePowerW float64 // -1 when unsupported
}

// Net is emitted once per network interface.
type NetReading struct {
	Base

	Device string

	TXKiB float64
	RXKiB float64

	TXPackets float64
	RXPackets float64

	TXBandwidthKiBs float64
	RXBandwidthKiBs float64

	TXPowerW float64 // -1 when unsupported
	RXPowerW float64 // -1 when unsupported
}

// PSU carries out-of-band power-supply readings, integrated over the
// lifetime of the observer that produced them.
type PSUReading struct {
	Base

	OverallPowerW  float64
	OverallEnergyJ float64 // integrated since observer construction

	PerPSUPowerW     []float64
	PerPSURatedW     []float64
	PerPSUEnergyJ    []float64
}

// Fan carries baseboard fan tachometer readings.
type FanReading struct {
	Base

	OverallRPM float64
	PerFanRPM  []float64
}

// GPU carries per-device utilisation, memory, power, energy and clocks.
// OverallMemory/PerDeviceMemory hold the memory utilisation percentage
// for System scope; for Process scope OverallMemory is the sum of the
// per-process NVML memory utilisation values divided by 10.
type GPUReading struct {
	Base

	OverallUsage  float64
	OverallMemory float64
	OverallPowerW float64
	OverallEnergyJ float64

	PerDeviceUsage    []float64
	PerDeviceMemory   []float64
	PerDevicePowerW   []float64
	PerDeviceEnergyJ  []float64
	PerDeviceSMClockMHz  []float64
	PerDeviceMemClockMHz []float64
}

// Record carries the filesystem path to a captured profiler trace.
type RecordReading struct {
	Base

	TracePath string
}

// Instruction carries the two summaries produced by the ASM classifier:
// a flat histogram keyed by "mnemonic_operandtypes" and a three-level
// type -> family -> origin taxonomy, both scaled in percent of the
// threshold-filtered sampled budget.
type InstructionReading struct {
	Base

	Histogram map[string]float64
	Taxonomy  map[InstructionType]map[InstructionFamily]map[Origin]float64
}

// InstructionType is the SIMD-ness classification of a mnemonic.
type InstructionType int

const (
	Scalar InstructionType = iota
	Vector
	Unclassified
)

func (t InstructionType) String() string {
	switch t {
	case Scalar:
		return "Scalar"
	case Vector:
		return "Vector"
	default:
		return "Unclassified"
	}
}

// InstructionFamily is the functional classification of a mnemonic.
type InstructionFamily int

const (
	Arithmetic InstructionFamily = iota
	Logic
	Memory
	Branch
	Jump
	Other
)

func (f InstructionFamily) String() string {
	switch f {
	case Arithmetic:
		return "Arithmetic"
	case Logic:
		return "Logic"
	case Memory:
		return "Memory"
	case Branch:
		return "Branch"
	case Jump:
		return "Jump"
	default:
		return "Other"
	}
}

// OperandClass is the class of a single operand, used on both the output
// and input halves of the 4-bit packed Origin encoding.
type OperandClass int

const (
	Unknown OperandClass = iota
	MemoryOperand
	Register
	Immediate
)

func (c OperandClass) String() string {
	switch c {
	case MemoryOperand:
		return "mem"
	case Register:
		return "reg"
	case Immediate:
		return "imm"
	default:
		return "unk"
	}
}

// Origin packs (output-operand-class, input-operand-class) into a 4-bit
// value: 2 bits of input in the low half, 2 bits of output in the high
// half, matching "(input_class << 0) | (output_class << 2)".
type Origin uint8

func PackOrigin(output, input OperandClass) Origin {
	return Origin(uint8(input&0x3) | uint8(output&0x3)<<2)
}

func (o Origin) Decompose() (output, input OperandClass) {
	input = OperandClass(o & 0x3)
	output = OperandClass((o >> 2) & 0x3)
	return
}

// String renders "unknown" when both halves are Unknown, otherwise
// "<in>:<out>".
func (o Origin) String() string {
	output, input := o.Decompose()
	if output == Unknown && input == Unknown {
		return "unknown"
	}
	return input.String() + ":" + output.String()
}

// Uptime returns the current monotonic uptime in milliseconds, used as
// the shared clock source for every reading's Timestamp field.
func Uptime(since time.Time) int64 {
	return time.Since(since).Milliseconds()
}
