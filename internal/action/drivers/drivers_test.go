package drivers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahendrapaipuri/ceems/internal/action"
	"github.com/mahendrapaipuri/ceems/internal/gateway"
	"github.com/mahendrapaipuri/ceems/internal/profile"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()

	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestTrickleChargeOnlyTouchesDeviceScopedSupplies(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "class/power_supply/BAT0/scope", "Device")
	writeFile(t, root, "class/power_supply/BAT0/charge_type", "Fast")
	writeFile(t, root, "class/power_supply/AC/scope", "System")

	gw := gateway.New(root)
	env := &action.Env{Gateway: gw, Profile: profile.PowerSaver}

	d := NewTrickleCharge()
	require.True(t, d.Probe(env))
	require.NoError(t, d.Evaluate(env))

	got, err := gw.ReadString("class/power_supply/BAT0/charge_type")
	require.NoError(t, err)
	assert.Equal(t, "Trickle", got)
}

func TestAmdgpuDpmRespectsManualOverride(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "class/drm/card0/device/power_dpm_force_performance_level", "manual")

	gw := gateway.New(root)
	env := &action.Env{Gateway: gw, Profile: profile.Performance}

	d := NewAmdgpuDpm()
	require.True(t, d.Probe(env))
	require.NoError(t, d.Evaluate(env))

	got, err := gw.ReadString("class/drm/card0/device/power_dpm_force_performance_level")
	require.NoError(t, err)
	assert.Equal(t, "manual", got)
}

func TestAmdgpuDpmSetsLowOnPowerSaver(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "class/drm/card0/device/power_dpm_force_performance_level", "auto")

	gw := gateway.New(root)
	env := &action.Env{Gateway: gw, Profile: profile.PowerSaver}

	d := NewAmdgpuDpm()
	require.NoError(t, d.Evaluate(env))

	got, err := gw.ReadString("class/drm/card0/device/power_dpm_force_performance_level")
	require.NoError(t, err)
	assert.Equal(t, "low", got)
}

func TestAmdgpuPanelPowerIdlesWithoutUpower(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "class/drm/card0-eDP-1/status", "connected")
	writeFile(t, root, "class/drm/card0-eDP-1/amdgpu/panel_power_savings", "0")

	gw := gateway.New(root)
	env := &action.Env{Gateway: gw, Profile: profile.PowerSaver, UpowerPresent: false}

	d := NewAmdgpuPanelPower()
	require.True(t, d.Probe(env))
	require.NoError(t, d.Evaluate(env))

	got, err := gw.ReadString("class/drm/card0-eDP-1/amdgpu/panel_power_savings")
	require.NoError(t, err)
	assert.Equal(t, "0", got)
}

func TestAmdgpuPanelPowerEscalatesOnLowBattery(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "class/drm/card0-eDP-1/status", "connected")
	writeFile(t, root, "class/drm/card0-eDP-1/amdgpu/panel_power_savings", "0")

	gw := gateway.New(root)
	env := &action.Env{
		Gateway: gw, Profile: profile.PowerSaver,
		UpowerPresent: true, BatteryPercentage: 10,
	}

	d := NewAmdgpuPanelPower()
	require.NoError(t, d.Evaluate(env))

	got, err := gw.ReadString("class/drm/card0-eDP-1/amdgpu/panel_power_savings")
	require.NoError(t, err)
	assert.Equal(t, "3", got)
}

func TestAmdgpuPanelPowerIgnoresDisconnectedConnectors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "class/drm/card0-eDP-1/status", "disconnected")
	writeFile(t, root, "class/drm/card0-eDP-1/amdgpu/panel_power_savings", "0")

	gw := gateway.New(root)
	env := &action.Env{Gateway: gw}

	d := NewAmdgpuPanelPower()
	assert.False(t, d.Probe(env))
}
