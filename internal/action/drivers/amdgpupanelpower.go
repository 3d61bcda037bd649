package drivers

import (
	"path/filepath"
	"strings"

	"github.com/mahendrapaipuri/ceems/internal/action"
	"github.com/mahendrapaipuri/ceems/internal/profile"
)

const drmConnectorGlob = "class/drm/card*-*"

func panelPowerNodes(env *action.Env) []string {
	matches, _ := filepath.Glob(env.Gateway.Path(drmConnectorGlob))

	var nodes []string

	for _, m := range matches {
		rel, err := filepath.Rel(env.Gateway.Root(), m)
		if err != nil {
			continue
		}

		status, err := env.Gateway.ReadString(filepath.Join(rel, "status"))
		if err != nil || strings.TrimSpace(status) != "connected" {
			continue
		}

		node := filepath.Join(rel, "amdgpu", "panel_power_savings")
		if env.Gateway.Exists(node) {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

// AmdgpuPanelPower chooses a panel_power_savings level in 0..4 from a
// table indexed by (effective profile, battery percentage band).
// Requires upower; without it the action stays idle at 0.
type AmdgpuPanelPower struct{}

func NewAmdgpuPanelPower() *AmdgpuPanelPower { return &AmdgpuPanelPower{} }

func (a *AmdgpuPanelPower) Name() string { return "amdgpu_panel_power" }

func (a *AmdgpuPanelPower) Probe(env *action.Env) bool {
	return len(panelPowerNodes(env)) > 0
}

func level(p profile.Profile, upowerPresent bool, pct float64) string {
	if !upowerPresent {
		return "0"
	}

	switch p {
	case profile.Performance:
		return "0"
	case profile.Balanced:
		if pct >= 30 {
			return "0"
		}

		return "1"
	default: // PowerSaver
		switch {
		case pct >= 50:
			return "0"
		case pct >= 20:
			return "1"
		default:
			return "3"
		}
	}
}

func (a *AmdgpuPanelPower) Evaluate(env *action.Env) error {
	target := level(env.Profile, env.UpowerPresent, env.BatteryPercentage)

	for _, node := range panelPowerNodes(env) {
		if err := env.Gateway.WriteString(node, target); err != nil {
			return err
		}
	}

	return nil
}
