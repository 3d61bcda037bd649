package drivers

import "github.com/mahendrapaipuri/ceems/internal/profile"

// Fake synthesizes all three profiles with no side effects. Enabled by
// POWER_PROFILE_DAEMON_FAKE_DRIVER=1, it exists to decouple tests and
// host-less development from kernel assumptions; it is a legitimate
// variant, not a test-only hack.
type Fake struct {
	enabled bool
}

// NewFake returns a Fake driver. enabled mirrors the
// POWER_PROFILE_DAEMON_FAKE_DRIVER environment variable.
func NewFake(enabled bool) *Fake {
	return &Fake{enabled: enabled}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Kind() profile.Kind { return profile.Fake }

func (f *Fake) Probe(_ *profile.Env) profile.ProbeResult {
	if !f.enabled {
		return profile.Unavailable
	}

	return profile.Probed
}

func (f *Fake) Supports() map[profile.Profile]bool {
	return map[profile.Profile]bool{
		profile.PowerSaver:  true,
		profile.Balanced:    true,
		profile.Performance: true,
	}
}

func (f *Fake) Activate(_ *profile.Env, _ profile.Profile) error {
	return nil
}
