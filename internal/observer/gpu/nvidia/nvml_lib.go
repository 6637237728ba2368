// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package nvidia implements the GPU observer backed by NVIDIA's NVML
// library: per-device usage, memory, power, energy and clocks for
// System scope, per-process usage/memory for Process scope.
package nvidia

import (
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// lib abstracts the subset of NVML this observer calls, so tests can
// substitute a fake implementation instead of touching real hardware.
type lib interface {
	Init() nvml.Return
	Shutdown() nvml.Return
	DeviceGetCount() (int, nvml.Return)
	DeviceGetHandleByIndex(index int) (device, nvml.Return)
	ErrorString(ret nvml.Return) string
}

type device interface {
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
	GetMemoryInfo() (nvml.Memory, nvml.Return)
	GetPowerUsage() (uint32, nvml.Return)
	GetTotalEnergyConsumption() (uint64, nvml.Return)
	GetClockInfo(clockType nvml.ClockType) (uint32, nvml.Return)
	GetAccountingMode() (nvml.EnableState, nvml.Return)
	SetAccountingMode(nvml.EnableState) nvml.Return
	GetProcessUtilization(lastSeenTimeStamp uint64) ([]nvml.ProcessUtilizationSample, nvml.Return)
}

type realLib struct{}

func newRealLib() lib { return realLib{} }

func (realLib) Init() nvml.Return     { return nvml.Init() }
func (realLib) Shutdown() nvml.Return { return nvml.Shutdown() }
func (realLib) DeviceGetCount() (int, nvml.Return) { return nvml.DeviceGetCount() }

func (realLib) DeviceGetHandleByIndex(index int) (device, nvml.Return) {
	h, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return nil, ret
	}
	return realDevice{h}, ret
}

func (realLib) ErrorString(ret nvml.Return) string { return nvml.ErrorString(ret) }

type realDevice struct{ d nvml.Device }

func (r realDevice) GetUtilizationRates() (nvml.Utilization, nvml.Return) { return r.d.GetUtilizationRates() }
func (r realDevice) GetMemoryInfo() (nvml.Memory, nvml.Return)            { return r.d.GetMemoryInfo() }
func (r realDevice) GetPowerUsage() (uint32, nvml.Return)                 { return r.d.GetPowerUsage() }
func (r realDevice) GetTotalEnergyConsumption() (uint64, nvml.Return)     { return r.d.GetTotalEnergyConsumption() }
func (r realDevice) GetClockInfo(t nvml.ClockType) (uint32, nvml.Return)  { return r.d.GetClockInfo(t) }
func (r realDevice) GetAccountingMode() (nvml.EnableState, nvml.Return)   { return r.d.GetAccountingMode() }
func (r realDevice) SetAccountingMode(s nvml.EnableState) nvml.Return     { return r.d.SetAccountingMode(s) }
func (r realDevice) GetProcessUtilization(lastSeen uint64) ([]nvml.ProcessUtilizationSample, nvml.Return) {
	return r.d.GetProcessUtilization(lastSeen)
}
