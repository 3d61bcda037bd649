// Package drivers implements the concrete action drivers (§4.4).
package drivers

import (
	"path/filepath"
	"strings"

	"github.com/mahendrapaipuri/ceems/internal/action"
	"github.com/mahendrapaipuri/ceems/internal/profile"
)

const powerSupplyGlob = "class/power_supply/*"

// TrickleCharge forces charge_type to Trickle in power-saver and Fast
// otherwise, on every Device-scoped power_supply. System-scoped
// supplies are left untouched.
type TrickleCharge struct{}

func NewTrickleCharge() *TrickleCharge { return &TrickleCharge{} }

func (t *TrickleCharge) Name() string { return "trickle_charge" }

// chargeableDevices re-scans power_supply devices every call so
// hotplugged devices are picked up without a separate re-probe step.
func chargeableDevices(env *action.Env) []string {
	matches, _ := filepath.Glob(env.Gateway.Path(powerSupplyGlob))

	var devices []string

	for _, m := range matches {
		rel, err := filepath.Rel(env.Gateway.Root(), m)
		if err != nil {
			continue
		}

		scope, err := env.Gateway.ReadString(filepath.Join(rel, "scope"))
		if err != nil || strings.TrimSpace(scope) != "Device" {
			continue
		}

		if !env.Gateway.Exists(filepath.Join(rel, "charge_type")) {
			continue
		}

		devices = append(devices, rel)
	}

	return devices
}

// Probe finds every power_supply device with scope == "Device" and a
// writable charge_type node.
func (t *TrickleCharge) Probe(env *action.Env) bool {
	return len(chargeableDevices(env)) > 0
}

// Evaluate writes charge_type on every matched device.
func (t *TrickleCharge) Evaluate(env *action.Env) error {
	chargeType := "Fast"
	if env.Profile == profile.PowerSaver {
		chargeType = "Trickle"
	}

	for _, dev := range chargeableDevices(env) {
		if err := env.Gateway.WriteString(filepath.Join(dev, "charge_type"), chargeType); err != nil {
			return err
		}
	}

	return nil
}
