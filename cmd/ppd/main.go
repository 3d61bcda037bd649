// Command ppd arbitrates a single machine-wide power profile across
// whichever CPU and platform drivers this host actually exposes,
// publishing it as org.freedesktop.UPower.PowerProfiles (and the
// legacy net.hadess.PowerProfiles alias) on the system bus.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/godbus/dbus/v5"
	"github.com/prometheus/common/promslog"
	"github.com/prometheus/common/promslog/flag"
	"github.com/prometheus/common/version"

	"github.com/mahendrapaipuri/ceems/internal/action"
	actiondrivers "github.com/mahendrapaipuri/ceems/internal/action/drivers"
	"github.com/mahendrapaipuri/ceems/internal/arbiter"
	"github.com/mahendrapaipuri/ceems/internal/authz"
	"github.com/mahendrapaipuri/ceems/internal/busexport"
	"github.com/mahendrapaipuri/ceems/internal/gateway"
	"github.com/mahendrapaipuri/ceems/internal/logind"
	"github.com/mahendrapaipuri/ceems/internal/profile"
	profiledrivers "github.com/mahendrapaipuri/ceems/internal/profile/drivers"
	internal_runtime "github.com/mahendrapaipuri/ceems/internal/runtime"
	"github.com/mahendrapaipuri/ceems/internal/security"
	"github.com/mahendrapaipuri/ceems/internal/upower"
	"github.com/mahendrapaipuri/ceems/internal/watcher"

	kcap "kernel.org/pub/linux/libs/security/libcap/cap"
)

const appName = "ppd"

// fakeDriverEnvar switches the daemon onto the side-effect-free Fake
// driver, the same escape hatch upstream power-profiles-daemon offers
// for running its test suite off real hardware.
const fakeDriverEnvar = "POWER_PROFILE_DAEMON_FAKE_DRIVER"

var (
	app = kingpin.New(
		appName,
		"Arbitrates the machine-wide power profile and exposes it on the system bus.",
	)
	sysfsRoot = app.Flag(
		"path.sysfs",
		"Root directory to treat as /sys.",
	).Default("/sys").String()
	procfsRoot = app.Flag(
		"path.procfs",
		"Root directory to treat as /proc.",
	).Default("/proc").String()
	configFile = app.Flag(
		"config.file",
		"Path to the file persisting the last manually-selected profile.",
	).Default("/var/lib/ppd/state.yaml").String()
	runAsUser = app.Flag(
		"security.run-as-user",
		"Unprivileged user to switch to after opening privileged resources, when started as root.",
	).Default("root").String()
	blockedDrivers = app.Flag(
		"block-driver",
		"Profile driver name to never probe. Repeatable.",
	).Strings()
	blockedActions = app.Flag(
		"block-action",
		"Action name to never probe. Repeatable.",
	).Strings()
	disableUpower = app.Flag(
		"disable-upower",
		"Never connect to UPower; the daemon behaves as if always on mains power.",
	).Default("false").Bool()
	disableLogind = app.Flag(
		"disable-logind",
		"Never connect to logind; suspend/resume re-activation is disabled.",
	).Default("false").Bool()
)

func main() {
	promslogConfig := &promslog.Config{}
	flag.AddFlags(app, promslogConfig)
	verbosity := app.Flag(
		"verbose",
		"Raise log verbosity: -v for info, -vv for debug. Overrides --log.level.",
	).Short('v').Counter()
	app.Version(version.Print(app.Name))
	app.UsageWriter(os.Stdout)
	app.HelpFlag.Short('h')

	if _, err := app.Parse(os.Args[1:]); err != nil {
		panic(err)
	}

	switch {
	case *verbosity >= 2:
		_ = promslogConfig.Level.Set("debug")
	case *verbosity == 1:
		_ = promslogConfig.Level.Set("info")
	}

	logger := promslog.New(promslogConfig)

	logger.Info("Starting "+appName, "version", version.Info())
	logger.Info(
		"Operational information", "build_context", version.BuildContext(),
		"host_details", internal_runtime.Uname(), "fd_limits", internal_runtime.FdLimits(),
	)

	if err := os.MkdirAll(filepath.Dir(*configFile), 0o755); err != nil {
		logger.Warn("failed to create config directory", "err", err)
	}

	if err := security.DropPrivileges(&security.Config{
		RunAsUser:      *runAsUser,
		Caps:           []kcap.Value{kcap.DAC_OVERRIDE, kcap.SYS_ADMIN},
		ReadWritePaths: []string{*sysfsRoot, filepath.Dir(*configFile)},
	}); err != nil {
		logger.Error("failed to drop privileges", "err", err)

		os.Exit(1)
	}

	gw := gateway.New(*sysfsRoot)

	watch, err := watcher.New(logger)
	if err != nil {
		logger.Error("failed to start file watcher", "err", err)

		os.Exit(1)
	}

	blockedDriverSet := toSet(*blockedDrivers)
	blockedActionSet := toSet(*blockedActions)

	profileCandidates := profileDriverCandidates(*procfsRoot, blockedDriverSet)

	var platformDriver *profiledrivers.PlatformProfile

	for _, d := range profileCandidates {
		if pp, ok := d.(*profiledrivers.PlatformProfile); ok {
			platformDriver = pp

			break
		}
	}

	initialEnv := &profile.Env{Gateway: gw, Watcher: watch, Logger: logger}
	placeholder := profiledrivers.NewPlaceholder()
	registry := profile.NewRegistry(initialEnv, placeholder, profileCandidates...)

	actionCandidates := []action.Action{
		actiondrivers.NewTrickleCharge(),
		actiondrivers.NewAmdgpuDpm(),
		actiondrivers.NewAmdgpuPanelPower(),
	}

	initialActionEnv := &action.Env{Gateway: gw, Logger: logger}
	actionRegistry := action.NewRegistry(initialActionEnv, blockedActionSet, actionCandidates...)

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		logger.Error("failed to connect to the system bus", "err", err)

		os.Exit(1)
	}
	defer conn.Close()

	var battery arbiter.BatterySource

	if !*disableUpower {
		upowerClient := upower.Connect(conn, logger)
		battery = upowerClient
	}

	var logindClient *logind.Client
	if !*disableLogind {
		logindClient = logind.Connect(conn, logger)
	}

	authzBridge := authz.New(conn)

	arb := arbiter.New(arbiter.Config{
		Logger:         logger,
		Gateway:        gw,
		Watcher:        watch,
		Registry:       registry,
		Actions:        actionRegistry,
		AuthzBridge:    authzBridge,
		Battery:        battery,
		ConfigPath:     *configFile,
		PlatformDriver: platformDriver,
	})

	exporter, err := busexport.New(conn, arb, logger)
	if err != nil {
		logger.Error("failed to export power profiles object", "err", err)

		os.Exit(1)
	}

	arb.SetPublisher(exporter)

	if err := exporter.RequestName(); err != nil {
		logger.Error("failed to acquire bus name", "err", err)

		os.Exit(1)
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Debug("sd_notify failed", "err", err)
	} else if ok {
		logger.Debug("notified systemd readiness")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if logindClient != nil {
		go func() {
			for edge := range logindClient.Changed {
				arb.SleepEdge(bool(edge))
			}
		}()
	}

	if battery != nil {
		if upowerClient, ok := battery.(*upower.Client); ok {
			go func() {
				for range upowerClient.Changed {
					arb.Recompute()
				}
			}()
		}
	}

	go func() {
		for range watch.Changed {
			for _, path := range watch.Drain() {
				arb.HandleWatcherPath(path)
			}
		}
	}()

	if nameOwnerChanges, err := subscribeNameOwnerChanged(conn); err != nil {
		logger.Warn("failed to subscribe to NameOwnerChanged; hold auto-release on disconnect is disabled", "err", err)
	} else {
		go func() {
			for name := range nameOwnerChanges {
				arb.BusNameLost(name)
			}
		}()
	}

	logger.Info("ready", "active_profile", arb.ActiveProfile())

	<-ctx.Done()

	stop()
	logger.Info("shutting down")

	if err := watch.Close(); err != nil {
		logger.Warn("failed to close file watcher", "err", err)
	}

	logger.Info("see you next time")
}

// profileDriverCandidates assembles the profile-driver candidate list
// for this host, honoring the fake-driver escape hatch and the
// --block-driver filter.
func profileDriverCandidates(procfsRoot string, blocked map[string]bool) []profile.Driver {
	if os.Getenv(fakeDriverEnvar) != "" {
		return []profile.Driver{profiledrivers.NewFake(true)}
	}

	var candidates []profile.Driver

	intel, amd := profiledrivers.VendorFromCPUInfo(procfsRoot)

	if intel {
		candidates = append(candidates, profiledrivers.NewCpuFreq(profiledrivers.VendorIntel))
	}

	if amd {
		candidates = append(candidates, profiledrivers.NewCpuFreq(profiledrivers.VendorAMD))
	}

	candidates = append(candidates, profiledrivers.NewPlatformProfile())

	filtered := candidates[:0]

	for _, d := range candidates {
		if !blocked[d.Name()] {
			filtered = append(filtered, d)
		}
	}

	return filtered
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}

	return out
}

// subscribeNameOwnerChanged watches org.freedesktop.DBus.NameOwnerChanged
// and reports the bus names of clients that dropped off the bus, so
// the arbiter can release any profile holds they owned (§4.5).
func subscribeNameOwnerChanged(conn *dbus.Conn) (<-chan string, error) {
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		return nil, err
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)

	out := make(chan string, 8)

	go func() {
		defer close(out)

		for sig := range signals {
			if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(sig.Body) != 3 {
				continue
			}

			name, ok1 := sig.Body[0].(string)
			newOwner, ok2 := sig.Body[2].(string)

			if !ok1 || !ok2 || newOwner != "" {
				continue
			}

			out <- name
		}
	}()

	return out, nil
}
