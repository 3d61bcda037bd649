package profile

import (
	"log/slog"

	"github.com/mahendrapaipuri/ceems/internal/gateway"
	"github.com/mahendrapaipuri/ceems/internal/watcher"
)

// Kind distinguishes the slot a profile driver occupies when the
// arbiter composes drivers for a given profile value: a Cpu and a
// Platform driver may stack, and a Fake driver is used on its own.
type Kind int

const (
	// Cpu drivers tune CPU frequency-scaling knobs.
	Cpu Kind = iota
	// Platform drivers tune firmware platform-profile knobs.
	Platform
	// Fake synthesizes profiles with no side effects, for host-less testing.
	Fake
)

// ProbeResult is returned by Driver.Probe.
type ProbeResult int

const (
	// Unavailable means the driver will never apply to this host.
	Unavailable ProbeResult = iota
	// Probed means the driver is ready to activate.
	Probed
	// Deferred means the underlying kernel node does not exist yet but
	// might appear later; the driver has registered a watch for it.
	Deferred
)

// Env is the context handed to a driver at probe and activate time.
type Env struct {
	Gateway    *gateway.Gateway
	Watcher    *watcher.Watcher
	Logger     *slog.Logger
	OnBattery  bool
	Percentage float64
}

// Driver is the capability contract implemented by each profile
// hardware backend (§4.3). Activate must be idempotent; on error the
// driver must leave hardware in a state from which activating the
// previous profile succeeds.
type Driver interface {
	// Name identifies the driver as published in DriverDescriptor.Driver
	// (e.g. "platform_profile", "cpufreq").
	Name() string
	Kind() Kind
	// Probe is called once at daemon start (and again after a Deferred
	// result's watched path fires).
	Probe(env *Env) ProbeResult
	// Supports reports the subset of profiles this driver backs.
	Supports() map[Profile]bool
	Activate(env *Env, p Profile) error
}

// DegradationReporter is implemented by drivers that contribute
// degradation tags. Pure read, called whenever a watched input changes.
type DegradationReporter interface {
	Degradation() DegradationSet
}

// WatchAware is implemented by drivers that need to know when one of
// their watched paths changed, independent of Degradation polling.
type WatchAware interface {
	OnWatchedPathChanged(env *Env, path string)
}

// Descriptor is the published, per-profile row of the Profiles
// property.
type Descriptor struct {
	Profile        Profile
	Driver         string
	CpuDriver      string
	PlatformDriver string
}
