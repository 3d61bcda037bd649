package drivers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahendrapaipuri/ceems/internal/gateway"
	"github.com/mahendrapaipuri/ceems/internal/profile"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()

	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestPlaceholderNeverClaimsPerformance(t *testing.T) {
	p := NewPlaceholder()
	assert.True(t, p.Supports()[profile.PowerSaver])
	assert.True(t, p.Supports()[profile.Balanced])
	assert.False(t, p.Supports()[profile.Performance])
	assert.NoError(t, p.Activate(&profile.Env{}, profile.Balanced))
}

func TestFakeOnlyProbesWhenEnabled(t *testing.T) {
	disabled := NewFake(false)
	assert.Equal(t, profile.Unavailable, disabled.Probe(&profile.Env{}))

	enabled := NewFake(true)
	assert.Equal(t, profile.Probed, enabled.Probe(&profile.Env{}))
	assert.True(t, enabled.Supports()[profile.Performance])
}

func TestCpuFreqIntelActivatesEPPAndBoost(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "devices/system/cpu/intel_pstate/status", "active")
	writeFile(t, root, "devices/system/cpu/cpufreq/policy0/scaling_governor", "powersave")
	writeFile(t, root, "devices/system/cpu/cpufreq/policy0/energy_performance_preference", "balance_performance")
	writeFile(t, root, "devices/system/cpu/cpufreq/policy0/boost", "0")

	gw := gateway.New(root)
	env := &profile.Env{Gateway: gw}

	d := NewCpuFreq(VendorIntel)
	require.Equal(t, profile.Probed, d.Probe(env))
	assert.True(t, d.Supports()[profile.Performance])

	require.NoError(t, d.Activate(env, profile.Performance))

	governor, err := gw.ReadString("devices/system/cpu/cpufreq/policy0/scaling_governor")
	require.NoError(t, err)
	assert.Equal(t, "powersave", governor)

	epp, err := gw.ReadString("devices/system/cpu/cpufreq/policy0/energy_performance_preference")
	require.NoError(t, err)
	assert.Equal(t, "performance", epp)

	boost, err := gw.ReadString("devices/system/cpu/cpufreq/policy0/boost")
	require.NoError(t, err)
	assert.Equal(t, "1", boost)
}

func TestCpuFreqAMDUsesPerformanceGovernor(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "devices/system/cpu/amd_pstate/status", "active")
	writeFile(t, root, "devices/system/cpu/cpufreq/policy0/scaling_governor", "powersave")

	gw := gateway.New(root)
	env := &profile.Env{Gateway: gw}

	d := NewCpuFreq(VendorAMD)
	require.Equal(t, profile.Probed, d.Probe(env))

	require.NoError(t, d.Activate(env, profile.Performance))

	governor, err := gw.ReadString("devices/system/cpu/cpufreq/policy0/scaling_governor")
	require.NoError(t, err)
	assert.Equal(t, "performance", governor)
}

func TestCpuFreqUnavailableOnServerPMProfile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "firmware/acpi/pm_profile", "4")
	writeFile(t, root, "devices/system/cpu/intel_pstate/status", "active")
	writeFile(t, root, "devices/system/cpu/cpufreq/policy0/scaling_governor", "powersave")

	gw := gateway.New(root)
	env := &profile.Env{Gateway: gw}

	d := NewCpuFreq(VendorIntel)
	assert.Equal(t, profile.Unavailable, d.Probe(env))
}

func TestCpuFreqDegradationReportsHighOperatingTemp(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "devices/system/cpu/intel_pstate/status", "active")
	writeFile(t, root, "devices/system/cpu/intel_pstate/no_turbo", "1")
	writeFile(t, root, "devices/system/cpu/cpufreq/policy0/scaling_governor", "powersave")

	gw := gateway.New(root)
	env := &profile.Env{Gateway: gw}

	d := NewCpuFreq(VendorIntel)
	require.Equal(t, profile.Probed, d.Probe(env))

	set := d.Degradation()
	assert.Contains(t, set.String(), profile.DegradationHighOperatingTemp)
}

func TestCpuFreqDegradationTracksWatchedNoTurbo(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "devices/system/cpu/intel_pstate/status", "active")
	writeFile(t, root, "devices/system/cpu/intel_pstate/no_turbo", "0")
	writeFile(t, root, "devices/system/cpu/cpufreq/policy0/scaling_governor", "powersave")

	gw := gateway.New(root)
	env := &profile.Env{Gateway: gw}

	d := NewCpuFreq(VendorIntel)
	require.Equal(t, profile.Probed, d.Probe(env))
	assert.Empty(t, d.Degradation())

	writeFile(t, root, "devices/system/cpu/intel_pstate/no_turbo", "1")
	d.OnWatchedPathChanged(env, gw.Path("devices/system/cpu/intel_pstate/no_turbo"))

	assert.Contains(t, d.Degradation().String(), profile.DegradationHighOperatingTemp)

	writeFile(t, root, "devices/system/cpu/intel_pstate/no_turbo", "0")
	d.OnWatchedPathChanged(env, gw.Path("devices/system/cpu/intel_pstate/no_turbo"))

	assert.Empty(t, d.Degradation())
}

func TestPlatformProfileDefersWhenChoicesMissing(t *testing.T) {
	root := t.TempDir()
	gw := gateway.New(root)
	env := &profile.Env{Gateway: gw}

	d := NewPlatformProfile()
	assert.Equal(t, profile.Deferred, d.Probe(env))
}

func TestPlatformProfileMapsChoicesAndActivates(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, PlatformProfileChoicesPath, "low-power balanced performance")
	writeFile(t, root, PlatformProfilePath, "balanced")

	gw := gateway.New(root)
	env := &profile.Env{Gateway: gw}

	d := NewPlatformProfile()
	require.Equal(t, profile.Probed, d.Probe(env))
	assert.True(t, d.Supports()[profile.Performance])

	require.NoError(t, d.Activate(env, profile.Performance))
	assert.Equal(t, "performance", d.LastWritten())

	choice, err := gw.ReadString(PlatformProfilePath)
	require.NoError(t, err)
	assert.Equal(t, "performance", choice)

	back, ok := d.ProfileForChoice("performance")
	require.True(t, ok)
	assert.Equal(t, profile.Performance, back)
}

func TestPlatformProfileLapmodeDegradation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, PlatformProfileChoicesPath, "low-power balanced performance")
	writeFile(t, root, PlatformProfilePath, "balanced")
	writeFile(t, root, DytcLapmodePath, "0")

	gw := gateway.New(root)
	env := &profile.Env{Gateway: gw}

	d := NewPlatformProfile()
	require.Equal(t, profile.Probed, d.Probe(env))

	writeFile(t, root, DytcLapmodePath, "1")
	d.OnWatchedPathChanged(env, gw.Path(DytcLapmodePath))

	assert.Contains(t, d.Degradation().String(), profile.DegradationLapDetected)
}

func TestVendorFromCPUInfo(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "cpuinfo", "processor\t: 0\nvendor_id\t: GenuineIntel\n\n")

	intel, amd := VendorFromCPUInfo(root)
	assert.True(t, intel)
	assert.False(t, amd)
}
