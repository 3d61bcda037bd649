// Package arbiter implements the core profile arbitration engine
// (§4.5): a single-owner, serial state machine that composes profile
// drivers, owns the active profile and its holds, and evaluates action
// drivers on every transition.
package arbiter

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mahendrapaipuri/ceems/internal/action"
	"github.com/mahendrapaipuri/ceems/internal/authz"
	"github.com/mahendrapaipuri/ceems/internal/config"
	"github.com/mahendrapaipuri/ceems/internal/gateway"
	"github.com/mahendrapaipuri/ceems/internal/profile"
	"github.com/mahendrapaipuri/ceems/internal/profile/drivers"
	"github.com/mahendrapaipuri/ceems/internal/upower"
	"github.com/mahendrapaipuri/ceems/internal/watcher"
)

// BatterySource supplies the on-battery/percentage snapshot the
// arbiter needs to evaluate battery-dependent driver and action
// behavior. *upower.Client satisfies this; nil means upower is absent
// or disabled.
type BatterySource interface {
	Present() bool
	State() upower.State
}

// Publisher is how the arbiter tells the bus surface that published
// state changed. busexport implements this.
type Publisher interface {
	// PropertiesChanged is called with the subset of
	// {ActiveProfile, PerformanceDegraded, ActiveProfileHolds,
	// Profiles, Actions} whose serialized value actually changed.
	PropertiesChanged(names []string)
	// ProfileReleased is emitted whenever a hold disappears, for any
	// reason.
	ProfileReleased(cookie uint32)
}

// Arbiter is the core event processor. All exported methods are safe
// for concurrent use; internally a mutex serializes every
// recomputation so two never interleave (§5).
type Arbiter struct {
	logger      *slog.Logger
	gw          *gateway.Gateway
	watch       *watcher.Watcher
	registry    *profile.Registry
	actions     *action.Registry
	authzBridge *authz.Bridge
	battery     BatterySource
	publisher   Publisher
	configPath  string
	cookies     *profile.Cookies

	// platformDriver is non-nil when an ACPI platform_profile driver
	// was adopted; it is consulted by the firmware-write reactor (§4.8).
	platformDriver *drivers.PlatformProfile

	mu                sync.Mutex
	selectedProfile   profile.Profile
	activeProfile     profile.Profile
	lastManualProfile profile.Profile
	holds             map[uint32]*profile.Hold
	degradation       profile.DegradationSet
	sleeping          bool

	published publishedSnapshot
}

// Config collects the dependencies New wires together.
type Config struct {
	Logger         *slog.Logger
	Gateway        *gateway.Gateway
	Watcher        *watcher.Watcher
	Registry       *profile.Registry
	Actions        *action.Registry
	AuthzBridge    *authz.Bridge
	Battery        BatterySource
	Publisher      Publisher
	ConfigPath     string
	PlatformDriver *drivers.PlatformProfile
}

// New constructs an Arbiter, loads persisted state, and performs the
// initial driver activation.
func New(cfg Config) *Arbiter {
	a := &Arbiter{
		logger:         cfg.Logger,
		gw:             cfg.Gateway,
		watch:          cfg.Watcher,
		registry:       cfg.Registry,
		actions:        cfg.Actions,
		authzBridge:    cfg.AuthzBridge,
		battery:        cfg.Battery,
		publisher:      cfg.Publisher,
		configPath:     cfg.ConfigPath,
		cookies:        profile.NewCookieAllocator(),
		platformDriver: cfg.PlatformDriver,
		holds:          make(map[uint32]*profile.Hold),
		degradation:    make(profile.DegradationSet),
	}

	a.selectedProfile = config.Load(cfg.ConfigPath)
	if !a.registry.Supported(a.selectedProfile) {
		a.selectedProfile = profile.Balanced
	}

	a.lastManualProfile = a.selectedProfile

	if err := a.tryActivate(a.selectedProfile); err != nil {
		a.logger.Error("initial driver activation failed", "profile", a.selectedProfile, "err", err)
	}

	a.published = a.snapshot()

	return a
}

// SetPublisher attaches the bus exporter after construction, breaking
// the construction-order cycle between the Arbiter and the exporter
// (the exporter's Core interface is the Arbiter itself). Safe to call
// once, before the Arbiter is handed off to any bus dispatch loop.
func (a *Arbiter) SetPublisher(p Publisher) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.publisher = p
}

func (a *Arbiter) onBattery() bool {
	if a.battery == nil || !a.battery.Present() {
		return false
	}

	return a.battery.State().OnBattery
}

func (a *Arbiter) percentage() float64 {
	if a.battery == nil || !a.battery.Present() {
		return 0
	}

	return a.battery.State().Percentage
}

func (a *Arbiter) driverEnv() *profile.Env {
	return &profile.Env{
		Gateway:    a.gw,
		Watcher:    a.watch,
		Logger:     a.logger,
		OnBattery:  a.onBattery(),
		Percentage: a.percentage(),
	}
}

func (a *Arbiter) actionEnv(effective profile.Profile) *action.Env {
	return &action.Env{
		Gateway:           a.gw,
		Logger:            a.logger,
		Profile:           effective,
		OnBattery:         a.onBattery(),
		BatteryPercentage: a.percentage(),
		UpowerPresent:     a.battery != nil && a.battery.Present(),
	}
}

// effectiveProfileLocked computes the lowest-power profile among all
// active holds, or selectedProfile if there are none. Caller must hold
// a.mu.
func (a *Arbiter) effectiveProfileLocked() profile.Profile {
	if len(a.holds) == 0 {
		return a.selectedProfile
	}

	first := true

	var min profile.Profile

	for _, h := range a.holds {
		if first || h.Requested.Less(min) {
			min = h.Requested
			first = false
		}
	}

	return min
}

// tryActivate runs driver activation for effective and, on success,
// refreshes degradation and re-evaluates every action. Caller must
// hold a.mu. It does not touch selectedProfile or holds.
func (a *Arbiter) tryActivate(effective profile.Profile) error {
	previous := a.activeProfile

	if err := a.registry.Activate(a.driverEnv(), effective, previous); err != nil {
		return &DriverIoFailedError{Err: err}
	}

	a.activeProfile = effective
	a.degradation = a.registry.Degradation()
	a.actions.EvaluateAll(a.actionEnv(effective))

	return nil
}

// SelectProfile implements the HoldProfile-clearing manual-selection
// path (§4.5). It is the handler for the bus-exposed ActiveProfile
// property setter.
func (a *Arbiter) SelectProfile(ctx context.Context, p profile.Profile, callerBusName string) error {
	if !p.Valid() {
		return &profile.ErrUnknownProfile{Value: string(p)}
	}

	if a.authzBridge != nil {
		if err := a.authzBridge.Check(ctx, authz.ActionSwitchProfile, callerBusName); err != nil {
			return err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.registry.Supported(p) {
		return ErrUnsupportedProfile
	}

	if err := a.tryActivate(p); err != nil {
		return err
	}

	released := a.releaseAllHoldsLocked()
	a.selectedProfile = p
	a.lastManualProfile = p

	if err := config.Save(a.configPath, p); err != nil {
		a.logger.Warn("failed to persist selected profile", "err", err)
	}

	a.publishLocked()
	a.emitReleased(released)

	return nil
}

// HoldProfile creates a hold owned by callerBusName.
func (a *Arbiter) HoldProfile(ctx context.Context, p profile.Profile, reason, application, callerBusName string) (uint32, error) {
	if p != profile.PowerSaver && p != profile.Performance {
		return 0, ErrInvalidHoldProfile
	}

	if a.authzBridge != nil {
		if err := a.authzBridge.Check(ctx, authz.ActionHoldProfile, callerBusName); err != nil {
			return 0, err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.registry.Supported(p) {
		return 0, ErrUnsupportedProfile
	}

	cookie := a.cookies.Next()
	hold := &profile.Hold{Cookie: cookie, Requested: p, Reason: reason, Application: application, BusName: callerBusName}
	a.holds[cookie] = hold

	effective := a.effectiveProfileLocked()
	if err := a.tryActivate(effective); err != nil {
		delete(a.holds, cookie)

		return 0, err
	}

	a.publishLocked()

	return cookie, nil
}

// ReleaseProfile removes the hold if cookie is owned by callerBusName.
// An unknown cookie, or one owned by a different caller, is silently
// ignored (§7 InvalidCookie).
func (a *Arbiter) ReleaseProfile(cookie uint32, callerBusName string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hold, ok := a.holds[cookie]
	if !ok || hold.BusName != callerBusName {
		return
	}

	a.releaseHoldLocked(cookie)
}

// BusNameLost releases every hold owned by name (§4.5).
func (a *Arbiter) BusNameLost(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var cookies []uint32

	for cookie, h := range a.holds {
		if h.BusName == name {
			cookies = append(cookies, cookie)
		}
	}

	for _, cookie := range cookies {
		a.releaseHoldLocked(cookie)
	}
}

// releaseHoldLocked removes a single hold, reactivates, publishes, and
// emits ProfileReleased. Caller must hold a.mu. If the reactivation
// fails the hold is restored and the removal does not take effect;
// this is a defensive fallback for a case the spec does not define a
// behavior for (releasing a hold should never need a profile the
// drivers can't already deliver).
func (a *Arbiter) releaseHoldLocked(cookie uint32) {
	hold := a.holds[cookie]
	delete(a.holds, cookie)

	effective := a.effectiveProfileLocked()
	if err := a.tryActivate(effective); err != nil {
		a.holds[cookie] = hold
		a.logger.Error("failed to reactivate after hold release", "cookie", cookie, "err", err)

		return
	}

	a.publishLocked()
	a.publisher.ProfileReleased(cookie)
}

// releaseAllHoldsLocked clears every hold and returns the cookies that
// were removed, for the caller to emit ProfileReleased once the
// surrounding operation has fully committed. Caller must hold a.mu.
func (a *Arbiter) releaseAllHoldsLocked() []uint32 {
	cookies := make([]uint32, 0, len(a.holds))
	for cookie := range a.holds {
		cookies = append(cookies, cookie)
	}

	a.holds = make(map[uint32]*profile.Hold)

	return cookies
}

func (a *Arbiter) emitReleased(cookies []uint32) {
	for _, cookie := range cookies {
		a.publisher.ProfileReleased(cookie)
	}
}

// ExternalProfileEdit handles a firmware/user key-press–initiated
// platform_profile write (§4.8): it is treated exactly like a manual
// SelectProfile, minus authorization (the daemon itself observed a
// privileged external write, it is not granting one).
func (a *Arbiter) ExternalProfileEdit(p profile.Profile) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.registry.Supported(p) {
		return
	}

	if err := a.tryActivate(p); err != nil {
		a.logger.Error("failed to apply externally selected profile", "profile", p, "err", err)

		return
	}

	released := a.releaseAllHoldsLocked()
	a.selectedProfile = p
	a.lastManualProfile = p

	if err := config.Save(a.configPath, p); err != nil {
		a.logger.Warn("failed to persist externally selected profile", "err", err)
	}

	a.publishLocked()
	a.emitReleased(released)
}

// Recompute re-evaluates the effective profile and re-runs driver
// activation and action evaluation without changing selectedProfile or
// holds. It backs BatteryChanged, SleepEdge(leaving), LapModeChanged
// and DriverInputChanged (§4.5): none of these carry new user intent.
func (a *Arbiter) Recompute() {
	a.mu.Lock()
	defer a.mu.Unlock()

	effective := a.effectiveProfileLocked()
	if err := a.tryActivate(effective); err != nil {
		a.logger.Error("recompute failed", "effective", effective, "err", err)

		return
	}

	a.publishLocked()
}

// SleepEdge records sleep state; leaving sleep triggers Recompute so
// the CPU driver re-applies the currently effective profile. Entering
// sleep needs no driver action. The caller is expected to not invoke
// this at all when logind is disabled, which is what makes
// --disable-logind leave values untouched across a sleep cycle.
func (a *Arbiter) SleepEdge(entering bool) {
	a.mu.Lock()
	a.sleeping = entering
	a.mu.Unlock()

	if !entering {
		a.Recompute()
	}
}

// HandleWatcherPath processes one coalesced watcher edge: it gives
// deferred drivers a chance to re-probe, notifies watch-aware drivers,
// and — for the platform_profile file specifically — runs the
// firmware-write reactor (§4.8).
func (a *Arbiter) HandleWatcherPath(path string) {
	a.mu.Lock()

	a.registry.Reprobe()
	a.registry.NotifyWatch(a.driverEnv(), path)

	isFirmwareEdit := a.platformDriver != nil && path == a.gw.Path(drivers.PlatformProfilePath)

	a.mu.Unlock()

	if isFirmwareEdit {
		a.handleFirmwareEdit()

		return
	}

	// A newly-adopted driver (e.g. platform_profile probing
	// successfully once its choices file stops being empty, §8
	// scenario 8) has never had activate(effective) called on it, so
	// recompute rather than just re-publishing the new Profiles entry.
	a.Recompute()
}

func (a *Arbiter) handleFirmwareEdit() {
	current, err := a.platformDriver.CurrentChoice(a.driverEnv())
	if err != nil {
		return
	}

	if current == a.platformDriver.LastWritten() {
		return
	}

	p, ok := a.platformDriver.ProfileForChoice(current)
	if !ok {
		return
	}

	a.ExternalProfileEdit(p)
}
