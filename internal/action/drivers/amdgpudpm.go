package drivers

import (
	"path/filepath"
	"strings"

	"github.com/mahendrapaipuri/ceems/internal/action"
	"github.com/mahendrapaipuri/ceems/internal/profile"
)

const drmCardGlob = "class/drm/card[0-9]*"

func dpmNodes(env *action.Env) []string {
	matches, _ := filepath.Glob(env.Gateway.Path(drmCardGlob))

	var nodes []string

	for _, m := range matches {
		rel, err := filepath.Rel(env.Gateway.Root(), m)
		if err != nil {
			continue
		}

		node := filepath.Join(rel, "device", "power_dpm_force_performance_level")
		if env.Gateway.Exists(node) {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

// AmdgpuDpm writes power_dpm_force_performance_level on every AMDGPU
// drm_minor: auto on balanced/performance, low on power-saver. A
// user-set manual value is respected and left untouched.
type AmdgpuDpm struct{}

func NewAmdgpuDpm() *AmdgpuDpm { return &AmdgpuDpm{} }

func (a *AmdgpuDpm) Name() string { return "amdgpu_dpm" }

func (a *AmdgpuDpm) Probe(env *action.Env) bool {
	return len(dpmNodes(env)) > 0
}

func (a *AmdgpuDpm) Evaluate(env *action.Env) error {
	target := "auto"
	if env.Profile == profile.PowerSaver {
		target = "low"
	}

	for _, node := range dpmNodes(env) {
		current, err := env.Gateway.ReadString(node)
		if err == nil && strings.TrimSpace(current) == "manual" {
			continue
		}

		if err := env.Gateway.WriteString(node, target); err != nil {
			return err
		}
	}

	return nil
}
