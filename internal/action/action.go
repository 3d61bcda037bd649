// Package action implements the action-driver interface and registry
// (§4.4). Actions are side-effect modules that observe the effective
// profile and environment; they do not own profiles.
package action

import (
	"log/slog"

	"github.com/mahendrapaipuri/ceems/internal/gateway"
	"github.com/mahendrapaipuri/ceems/internal/profile"
)

// Env is the context handed to an action at probe and evaluate time.
type Env struct {
	Gateway           *gateway.Gateway
	Logger            *slog.Logger
	Profile           profile.Profile
	OnBattery         bool
	BatteryPercentage float64
	UpowerPresent     bool
}

// Action is the capability contract implemented by each side-effect
// module.
type Action interface {
	// Name is the short string identifier published on the Actions
	// property.
	Name() string
	// Probe reports whether this action applies to the host at all
	// (matching devices present, or a vendor check for vendor-only
	// actions).
	Probe(env *Env) bool
	// Evaluate re-applies the action's sysfs knob for the current
	// profile/environment. Called after every successful driver
	// activation, which includes the recompute that follows a battery
	// change. No device or connector hotplug event triggers it; a
	// hotplugged device is picked up at the next such evaluation.
	Evaluate(env *Env) error
}
