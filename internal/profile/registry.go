package profile

// VendorNamed is implemented by drivers whose published name (Name)
// is a generic family ("cpufreq") distinct from the specific backend
// they probed as ("intel_pstate", "amd_pstate").
type VendorNamed interface {
	VendorName() string
}

// Registry probes candidate profile drivers once at start and composes
// them into per-profile backings (§4.3 composition rule: a CPU driver
// and a Platform driver may stack; Fake and Placeholder are exclusive
// of everything else for the slot they occupy).
type Registry struct {
	env         *Env
	cpuDriver   Driver
	platDriver  Driver
	fakeDriver  Driver
	placeholder Driver
	deferred    []Driver
}

// NewRegistry probes candidates in order and keeps the first Probed
// driver of each Kind. placeholder always backs profiles nothing else
// covers.
func NewRegistry(env *Env, placeholder Driver, candidates ...Driver) *Registry {
	r := &Registry{env: env, placeholder: placeholder}

	for _, d := range candidates {
		switch d.Probe(env) {
		case Probed:
			r.adopt(d)
		case Deferred:
			r.deferred = append(r.deferred, d)
		case Unavailable:
			// not kept
		}
	}

	return r
}

func (r *Registry) adopt(d Driver) {
	switch d.Kind() {
	case Cpu:
		if r.cpuDriver == nil {
			r.cpuDriver = d
		}
	case Platform:
		if r.platDriver == nil {
			r.platDriver = d
		}
	case Fake:
		r.fakeDriver = d
	}
}

// Reprobe re-runs Probe on every deferred driver (called when one of
// their watched paths changes) and adopts any that now succeed.
func (r *Registry) Reprobe() (changed bool) {
	remaining := r.deferred[:0]

	for _, d := range r.deferred {
		switch d.Probe(r.env) {
		case Probed:
			r.adopt(d)

			changed = true
		case Deferred:
			remaining = append(remaining, d)
		case Unavailable:
			changed = true
		}
	}

	r.deferred = remaining

	return changed
}

// Active returns every currently-adopted, non-placeholder driver, in
// the fixed Cpu-then-Platform activation order (§4.5 step 3). When the
// fake driver is adopted it is used exclusively.
func (r *Registry) Active() []Driver {
	if r.fakeDriver != nil {
		return []Driver{r.fakeDriver}
	}

	var out []Driver
	if r.cpuDriver != nil {
		out = append(out, r.cpuDriver)
	}

	if r.platDriver != nil {
		out = append(out, r.platDriver)
	}

	return out
}

// Backing returns the drivers that back p, falling back to the
// placeholder when nothing else supports it and the placeholder itself
// claims p. A profile with zero backers (e.g. performance with no real
// driver and a placeholder that does not claim it) returns nil: that
// profile is simply not offered.
func (r *Registry) Backing(p Profile) []Driver {
	var out []Driver

	for _, d := range r.Active() {
		if d.Supports()[p] {
			out = append(out, d)
		}
	}

	if len(out) == 0 && r.placeholder != nil && r.placeholder.Supports()[p] {
		out = append(out, r.placeholder)
	}

	return out
}

// Supported reports whether at least one driver (including the
// placeholder) backs p.
func (r *Registry) Supported(p Profile) bool {
	return len(r.Backing(p)) > 0
}

// Descriptor builds the published DriverDescriptor row for p. ok is
// false when nothing backs p at all, in which case the row must be
// omitted from Profiles.
func (r *Registry) Descriptor(p Profile) (_ Descriptor, ok bool) {
	backers := r.Backing(p)
	if len(backers) == 0 {
		return Descriptor{}, false
	}

	desc := Descriptor{Profile: p}

	var cpuName, platName string

	for _, d := range backers {
		name := d.Name()
		if vn, ok := d.(VendorNamed); ok {
			name = vn.VendorName()
		}

		switch d.Kind() {
		case Cpu:
			cpuName = name
		case Platform, Fake:
			platName = d.Name()
		}
	}

	switch {
	case len(backers) == 1 && backers[0] == r.placeholder:
		desc.Driver = "placeholder"
	case cpuName != "" && platName != "":
		desc.Driver = "multiple"
		desc.CpuDriver = cpuName
		desc.PlatformDriver = platName
	case cpuName != "":
		desc.Driver = "cpufreq"
		desc.CpuDriver = cpuName
	default:
		desc.Driver = backers[0].Name()
		desc.PlatformDriver = platName
	}

	return desc, true
}

// Descriptors builds the Profiles property: one Descriptor per profile
// value that has at least one backer (placeholder counts). A profile
// with zero backers is omitted entirely.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(All()))

	for _, p := range All() {
		if desc, ok := r.Descriptor(p); ok {
			out = append(out, desc)
		}
	}

	return out
}

// Degradation unions the degradation sets of every active driver.
func (r *Registry) Degradation() DegradationSet {
	set := make(DegradationSet)

	for _, d := range r.Active() {
		if rep, ok := d.(DegradationReporter); ok {
			for tag := range rep.Degradation() {
				set.Add(tag)
			}
		}
	}

	return set
}

// Activate calls Activate(p) on every active driver in order. On the
// first error it rolls back by re-activating previous on drivers
// already advanced and returns the original error.
func (r *Registry) Activate(env *Env, p, previous Profile) error {
	active := r.Active()

	for i, d := range active {
		if !d.Supports()[p] {
			continue
		}

		if err := d.Activate(env, p); err != nil {
			for j := i - 1; j >= 0; j-- {
				if active[j].Supports()[previous] {
					_ = active[j].Activate(env, previous)
				}
			}

			return err
		}
	}

	return nil
}

// NotifyWatch dispatches a changed watched path to every active driver
// that cares about it.
func (r *Registry) NotifyWatch(env *Env, path string) {
	for _, d := range r.Active() {
		if wa, ok := d.(WatchAware); ok {
			wa.OnWatchedPathChanged(env, path)
		}
	}
}
