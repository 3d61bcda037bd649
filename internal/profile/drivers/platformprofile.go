package drivers

import (
	"strings"

	"github.com/mahendrapaipuri/ceems/internal/profile"
)

const (
	PlatformProfileChoicesPath = "firmware/acpi/platform_profile_choices"
	PlatformProfilePath        = "firmware/acpi/platform_profile"
	DytcLapmodePath            = "devices/platform/thinkpad_acpi/dytc_lapmode"
)

// priority lists choices in first-match order per logical profile (§4.3).
var priority = map[profile.Profile][]string{
	profile.PowerSaver:  {"low-power", "quiet", "cool"},
	profile.Balanced:    {"balanced", "balanced-performance"},
	profile.Performance: {"performance"},
}

// PlatformProfile drives /sys/firmware/acpi/platform_profile, optionally
// augmented with the thinkpad_acpi lap-detection node.
type PlatformProfile struct {
	choice map[profile.Profile]string
	lastWritten string
	hasLapmode  bool
	lapDetected bool
}

// NewPlatformProfile returns an unprobed PlatformProfile driver.
func NewPlatformProfile() *PlatformProfile {
	return &PlatformProfile{}
}

func (p *PlatformProfile) Name() string { return "platform_profile" }

func (p *PlatformProfile) Kind() profile.Kind { return profile.Platform }

// Probe reads the choices file and builds the profile->choice mapping.
// An empty choices file defers: the driver watches the path and the
// arbiter re-probes it once populated.
func (p *PlatformProfile) Probe(env *profile.Env) profile.ProbeResult {
	raw, err := env.Gateway.ReadString(PlatformProfileChoicesPath)
	if err != nil {
		if env.Watcher != nil {
			_ = env.Watcher.Add(env.Gateway.Path(PlatformProfileChoicesPath))
		}

		return profile.Deferred
	}

	choices := strings.Fields(raw)
	if len(choices) == 0 {
		if env.Watcher != nil {
			_ = env.Watcher.Add(env.Gateway.Path(PlatformProfileChoicesPath))
		}

		return profile.Deferred
	}

	available := make(map[string]bool, len(choices))
	for _, c := range choices {
		available[c] = true
	}

	mapping := make(map[profile.Profile]string)

	for prof, candidates := range priority {
		for _, c := range candidates {
			if available[c] {
				mapping[prof] = c

				break
			}
		}
	}

	if len(mapping) == 0 {
		return profile.Unavailable
	}

	p.choice = mapping

	p.hasLapmode = env.Gateway.Exists(DytcLapmodePath)
	if p.hasLapmode {
		if v, err := env.Gateway.ReadString(DytcLapmodePath); err == nil {
			p.lapDetected = strings.TrimSpace(v) == "1"
		}
	}

	if env.Watcher != nil {
		_ = env.Watcher.Add(env.Gateway.Path(PlatformProfilePath))

		if p.hasLapmode {
			_ = env.Watcher.Add(env.Gateway.Path(DytcLapmodePath))
		}
	}

	return profile.Probed
}

// Supports reports the profiles for which a choice was found.
func (p *PlatformProfile) Supports() map[profile.Profile]bool {
	out := make(map[profile.Profile]bool, len(p.choice))
	for prof := range p.choice {
		out[prof] = true
	}

	return out
}

// Activate writes the mapped choice string. Idempotent: re-writing the
// same value the firmware already holds is harmless.
func (p *PlatformProfile) Activate(env *profile.Env, prof profile.Profile) error {
	choice, ok := p.choice[prof]
	if !ok {
		return nil
	}

	if err := env.Gateway.WriteString(PlatformProfilePath, choice); err != nil {
		return err
	}

	p.lastWritten = choice

	return nil
}

// LastWritten returns the choice string this driver wrote most
// recently, used by the firmware-write reactor (§4.8) to distinguish
// its own writes from external ones.
func (p *PlatformProfile) LastWritten() string {
	return p.lastWritten
}

// ProfileForChoice maps an observed platform_profile string back to a
// logical profile, or false if no profile maps to it.
func (p *PlatformProfile) ProfileForChoice(choice string) (profile.Profile, bool) {
	for prof, c := range p.choice {
		if c == choice {
			return prof, true
		}
	}

	return "", false
}

// CurrentChoice re-reads the firmware's current platform_profile value.
func (p *PlatformProfile) CurrentChoice(env *profile.Env) (string, error) {
	return env.Gateway.ReadString(PlatformProfilePath)
}

// Degradation reports lap-detected when dytc_lapmode reads 1.
func (p *PlatformProfile) Degradation() profile.DegradationSet {
	set := make(profile.DegradationSet)
	if p.lapDetected {
		set.Add(profile.DegradationLapDetected)
	}

	return set
}

// OnWatchedPathChanged re-reads dytc_lapmode when it fires.
func (p *PlatformProfile) OnWatchedPathChanged(env *profile.Env, path string) {
	if !p.hasLapmode || env.Gateway.Path(DytcLapmodePath) != path {
		return
	}

	v, err := env.Gateway.ReadString(DytcLapmodePath)
	if err != nil {
		return
	}

	p.lapDetected = strings.TrimSpace(v) == "1"
}
