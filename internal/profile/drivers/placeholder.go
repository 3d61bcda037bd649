// Package drivers implements the concrete profile drivers (§4.3).
package drivers

import "github.com/mahendrapaipuri/ceems/internal/profile"

// Placeholder is always available and covers profile values no real
// driver backs. Its Activate is a no-op and never fails.
type Placeholder struct{}

// NewPlaceholder returns a Placeholder driver.
func NewPlaceholder() *Placeholder {
	return &Placeholder{}
}

func (p *Placeholder) Name() string { return "placeholder" }

func (p *Placeholder) Kind() profile.Kind { return profile.Platform }

// Probe always succeeds; the placeholder has no hardware dependency.
func (p *Placeholder) Probe(_ *profile.Env) profile.ProbeResult {
	return profile.Probed
}

// Supports reports power-saver and balanced only. The placeholder
// never claims performance: that is a guarantee only a real driver can
// honor, so performance is published (and selectable) solely when one
// backs it.
func (p *Placeholder) Supports() map[profile.Profile]bool {
	return map[profile.Profile]bool{
		profile.PowerSaver: true,
		profile.Balanced:   true,
	}
}

// Activate is a no-op; the placeholder never fails.
func (p *Placeholder) Activate(_ *profile.Env, _ profile.Profile) error {
	return nil
}
