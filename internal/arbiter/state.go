package arbiter

import (
	"sort"

	"github.com/mahendrapaipuri/ceems/internal/profile"
)

// ActiveProfile returns the profile currently applied to the drivers.
func (a *Arbiter) ActiveProfile() profile.Profile {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.activeProfile
}

// SelectedProfile returns the profile last chosen by the user or
// firmware, independent of any hold currently overriding it.
func (a *Arbiter) SelectedProfile() profile.Profile {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.selectedProfile
}

// PerformanceDegraded returns the comma-joined degradation tag string,
// empty when nothing is degraded.
func (a *Arbiter) PerformanceDegraded() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.degradation.String()
}

// Profiles returns the published driver-composition descriptor for
// every profile value at least one driver backs.
func (a *Arbiter) Profiles() []profile.Descriptor {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.registry.Descriptors()
}

// Actions returns the enabled action identifiers, in probe order.
func (a *Arbiter) Actions() []string {
	return a.actions.Names()
}

// ActiveProfileHolds returns a snapshot of every hold currently in
// effect, ordered by ascending cookie for determinism.
func (a *Arbiter) ActiveProfileHolds() []profile.Hold {
	a.mu.Lock()
	defer a.mu.Unlock()

	holds := make([]profile.Hold, 0, len(a.holds))
	for _, h := range a.holds {
		holds = append(holds, *h)
	}

	sort.Slice(holds, func(i, j int) bool { return holds[i].Cookie < holds[j].Cookie })

	return holds
}

// publishedSnapshot is the subset of state that drives property-change
// notifications, captured so consecutive recomputations that land on
// the same values emit nothing (§4.5: only a net publish triggers
// PropertiesChanged).
type publishedSnapshot struct {
	activeProfile   profile.Profile
	degradation     string
	holdCookies     string
	profileVersions string
}

func (a *Arbiter) snapshot() publishedSnapshot {
	holds := make([]string, 0, len(a.holds))
	for cookie := range a.holds {
		holds = append(holds, uint32ToDecimal(cookie))
	}

	sort.Strings(holds)

	descs := a.registry.Descriptors()
	profileKey := make([]string, 0, len(descs))

	for _, d := range descs {
		profileKey = append(profileKey, string(d.Profile)+"|"+d.Driver+"|"+d.CpuDriver+"|"+d.PlatformDriver)
	}

	return publishedSnapshot{
		activeProfile:   a.activeProfile,
		degradation:     a.degradation.String(),
		holdCookies:     joinStrings(holds),
		profileVersions: joinStrings(profileKey),
	}
}

// publishLocked diffs the current state against the last published
// snapshot and notifies the bus exporter of exactly the properties
// that changed. Caller must hold a.mu.
func (a *Arbiter) publishLocked() {
	current := a.snapshot()

	var changed []string

	if current.activeProfile != a.published.activeProfile {
		changed = append(changed, "ActiveProfile")
	}

	if current.degradation != a.published.degradation {
		changed = append(changed, "PerformanceDegraded")
	}

	if current.holdCookies != a.published.holdCookies {
		changed = append(changed, "ActiveProfileHolds")
	}

	if current.profileVersions != a.published.profileVersions {
		changed = append(changed, "Profiles")
	}

	a.published = current

	if len(changed) > 0 && a.publisher != nil {
		a.publisher.PropertiesChanged(changed)
	}
}

func joinStrings(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}

		out += s
	}

	return out
}

// uint32ToDecimal renders a cookie for inclusion in the hold-set
// diffing key without pulling in strconv at every call site.
func uint32ToDecimal(v uint32) string {
	if v == 0 {
		return "0"
	}

	var buf [10]byte

	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}

	return string(buf[i:])
}
