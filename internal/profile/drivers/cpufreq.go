package drivers

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/prometheus/procfs"

	"github.com/mahendrapaipuri/ceems/internal/profile"
)

// Vendor distinguishes the two supported P-State implementations.
type Vendor int

const (
	VendorIntel Vendor = iota
	VendorAMD
)

const (
	cpufreqGlob     = "devices/system/cpu/cpufreq/policy*"
	pmProfilePath   = "firmware/acpi/pm_profile"
	serverPMProfile = "4"
	noTurboPath     = "devices/system/cpu/intel_pstate/no_turbo"
)

func pstateStatusPath(v Vendor) string {
	if v == VendorAMD {
		return "devices/system/cpu/amd_pstate/status"
	}

	return "devices/system/cpu/intel_pstate/status"
}

// CpuFreq drives the scaling_governor/energy_performance_preference
// family of cpufreq knobs for either the Intel or the AMD P-State
// driver (§4.3). One instance backs one vendor.
type CpuFreq struct {
	vendor              Vendor
	policies            []string // resolved policyN directories, relative to gateway root
	hasBoost            bool
	hasEPP              bool
	hasEPB              bool
	hasLowestNonlinear  bool
	lowestNonlinearFreq string
	hasNoTurbo          bool
	noTurbo             bool
}

// NewCpuFreq returns an unprobed CpuFreq driver for the given vendor.
func NewCpuFreq(v Vendor) *CpuFreq {
	return &CpuFreq{vendor: v}
}

func (c *CpuFreq) Name() string { return "cpufreq" }

// VendorName returns the vendor-specific driver name published as
// DriverDescriptor.CpuDriver.
func (c *CpuFreq) VendorName() string {
	if c.vendor == VendorAMD {
		return "amd_pstate"
	}

	return "intel_pstate"
}

func (c *CpuFreq) Kind() profile.Kind { return profile.Cpu }

// Probe requires the vendor's P-State driver to report "active"; a
// server ACPI PM profile or a "passive" status leaves the driver
// unavailable.
func (c *CpuFreq) Probe(env *profile.Env) profile.ProbeResult {
	if pm, err := env.Gateway.ReadString(pmProfilePath); err == nil && strings.TrimSpace(pm) == serverPMProfile {
		return profile.Unavailable
	}

	status, err := env.Gateway.ReadString(pstateStatusPath(c.vendor))
	if err != nil || strings.TrimSpace(status) != "active" {
		return profile.Unavailable
	}

	matches, _ := filepath.Glob(env.Gateway.Path(cpufreqGlob))
	if len(matches) == 0 {
		return profile.Unavailable
	}

	c.policies = make([]string, 0, len(matches))

	for _, m := range matches {
		rel, err := filepath.Rel(env.Gateway.Root(), m)
		if err != nil {
			rel = m
		}

		c.policies = append(c.policies, rel)
	}

	first := c.policies[0]
	c.hasBoost = env.Gateway.Exists(filepath.Join(first, "boost"))
	c.hasEPP = env.Gateway.Exists(filepath.Join(first, "energy_performance_preference"))
	c.lowestNonlinearFreq, c.hasLowestNonlinear = readIfExists(env, filepath.Join(first, "amd_pstate_lowest_nonlinear_freq"))
	c.hasEPB = !c.hasEPP && env.Gateway.Exists("devices/system/cpu/cpu0/power/energy_perf_bias")

	if c.vendor == VendorIntel && env.Gateway.Exists(noTurboPath) {
		c.hasNoTurbo = true

		if noTurbo, err := env.Gateway.ReadString(noTurboPath); err == nil {
			c.noTurbo = strings.TrimSpace(noTurbo) == "1"
		}

		if env.Watcher != nil {
			_ = env.Watcher.Add(env.Gateway.Path(noTurboPath))
		}
	}

	return profile.Probed
}

func readIfExists(env *profile.Env, rel string) (string, bool) {
	if !env.Gateway.Exists(rel) {
		return "", false
	}

	v, err := env.Gateway.ReadString(rel)
	if err != nil {
		return "", false
	}

	return v, true
}

// Supports reports all three profiles; cpufreq always offers a full
// set once probed.
func (c *CpuFreq) Supports() map[profile.Profile]bool {
	return map[profile.Profile]bool{
		profile.PowerSaver:  true,
		profile.Balanced:    true,
		profile.Performance: true,
	}
}

func (c *CpuFreq) epp(env *profile.Env, p profile.Profile) string {
	switch p {
	case profile.PowerSaver:
		if c.vendor == VendorAMD {
			return "power"
		}

		if env.OnBattery {
			return "balance_power"
		}

		return "balance_performance"
	case profile.Balanced:
		if env.OnBattery {
			return "balance_power"
		}

		return "balance_performance"
	default: // Performance
		return "performance"
	}
}

func (c *CpuFreq) governor(p profile.Profile) string {
	if c.vendor == VendorAMD && p == profile.Performance {
		return "performance"
	}

	return "powersave"
}

func (c *CpuFreq) epb(p profile.Profile) string {
	switch p {
	case profile.PowerSaver:
		return "15"
	case profile.Balanced:
		return "6"
	default:
		return "0"
	}
}

// Activate writes every applicable knob on every cpufreq policy.
// Idempotent: re-writing the same value is harmless.
func (c *CpuFreq) Activate(env *profile.Env, p profile.Profile) error {
	for _, policy := range c.policies {
		if err := env.Gateway.WriteString(filepath.Join(policy, "scaling_governor"), c.governor(p)); err != nil {
			return fmt.Errorf("cpufreq: %w", err)
		}

		if c.hasEPP {
			if err := env.Gateway.WriteString(filepath.Join(policy, "energy_performance_preference"), c.epp(env, p)); err != nil {
				return fmt.Errorf("cpufreq: %w", err)
			}
		} else if c.hasEPB {
			if err := env.Gateway.WriteString("devices/system/cpu/cpu0/power/energy_perf_bias", c.epb(p)); err != nil {
				return fmt.Errorf("cpufreq: %w", err)
			}
		}

		if c.hasBoost {
			switch p {
			case profile.Performance:
				if err := env.Gateway.WriteString(filepath.Join(policy, "boost"), "1"); err != nil {
					return fmt.Errorf("cpufreq: %w", err)
				}
			case profile.PowerSaver:
				if err := env.Gateway.WriteString(filepath.Join(policy, "boost"), "0"); err != nil {
					return fmt.Errorf("cpufreq: %w", err)
				}
			}
		}

		if c.hasLowestNonlinear {
			target := c.lowestNonlinearFreq
			if p == profile.PowerSaver {
				min, err := env.Gateway.ReadString(filepath.Join(policy, "cpuinfo_min_freq"))
				if err != nil {
					return fmt.Errorf("cpufreq: %w", err)
				}

				target = min
			}

			if err := env.Gateway.WriteString(filepath.Join(policy, "scaling_min_freq"), target); err != nil {
				return fmt.Errorf("cpufreq: %w", err)
			}
		}
	}

	return nil
}

// Degradation reports high-operating-temperature for Intel when
// no_turbo is set; AMD never contributes this tag. no_turbo is kept
// current by OnWatchedPathChanged, not re-read here, since this is
// called on every recompute and must stay a pure read (§4.3).
func (c *CpuFreq) Degradation() profile.DegradationSet {
	set := make(profile.DegradationSet)
	if c.vendor == VendorIntel && c.noTurbo {
		set.Add(profile.DegradationHighOperatingTemp)
	}

	return set
}

// OnWatchedPathChanged re-reads no_turbo when it fires, so a thermal
// throttle after startup is reflected the next time Degradation is
// consulted.
func (c *CpuFreq) OnWatchedPathChanged(env *profile.Env, path string) {
	if !c.hasNoTurbo || env.Gateway.Path(noTurboPath) != path {
		return
	}

	v, err := env.Gateway.ReadString(noTurboPath)
	if err != nil {
		return
	}

	c.noTurbo = strings.TrimSpace(v) == "1"
}

// VendorFromCPUInfo inspects /proc/cpuinfo's vendor_id to decide which
// CpuFreq instances are worth probing, the same way pkg/collector's CPU
// collector opens procfs to read per-CPU info.
func VendorFromCPUInfo(procfsPath string) (intel, amd bool) {
	fs, err := procfs.NewFS(procfsPath)
	if err != nil {
		return false, false
	}

	info, err := fs.CPUInfo()
	if err != nil {
		return false, false
	}

	for _, cpu := range info {
		switch cpu.VendorID {
		case "GenuineIntel":
			intel = true
		case "AuthenticAMD":
			amd = true
		}
	}

	return intel, amd
}
