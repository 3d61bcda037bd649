// Package busexport exports the arbiter's state onto the system bus
// as org.freedesktop.UPower.PowerProfiles, plus the legacy
// net.hadess.PowerProfiles alias (§4.1, §6).
package busexport

import (
	"context"
	"errors"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/mahendrapaipuri/ceems/internal/authz"
	"github.com/mahendrapaipuri/ceems/internal/profile"
)

const (
	objectPath = dbus.ObjectPath("/org/freedesktop/UPower/PowerProfiles")
	mainIface  = "org.freedesktop.UPower.PowerProfiles"

	legacyObjectPath = dbus.ObjectPath("/net/hadess/PowerProfiles")
	legacyIface      = "net.hadess.PowerProfiles"

	daemonVersion = "1.0"
)

// Core is the subset of arbiter.Arbiter that the exporter calls into.
// Defined here (rather than depended on concretely) so tests can fake
// it without constructing a real Arbiter.
type Core interface {
	SelectProfile(ctx context.Context, p profile.Profile, callerBusName string) error
	HoldProfile(ctx context.Context, p profile.Profile, reason, application, callerBusName string) (uint32, error)
	ReleaseProfile(cookie uint32, callerBusName string)

	ActiveProfile() profile.Profile
	PerformanceDegraded() string
	Profiles() []profile.Descriptor
	Actions() []string
	ActiveProfileHolds() []profile.Hold
}

// Exporter publishes Core on both the modern and legacy D-Bus names
// and bridges godbus/dbus/v5/prop's PropertiesChanged machinery to the
// arbiter's Publisher hook.
type Exporter struct {
	conn   *dbus.Conn
	logger *slog.Logger
	core   Core

	props       *prop.Properties
	legacyProps *prop.Properties
}

// New exports core under both object paths and returns the Exporter.
// It does not request bus names; call RequestName afterward once the
// caller is ready to accept calls.
func New(conn *dbus.Conn, core Core, logger *slog.Logger) (*Exporter, error) {
	e := &Exporter{conn: conn, logger: logger, core: core}

	props, err := prop.Export(conn, objectPath, e.propsMap(mainIface))
	if err != nil {
		return nil, err
	}

	e.props = props

	if err := conn.Export(e, objectPath, mainIface); err != nil {
		return nil, err
	}

	if err := conn.Export(e, legacyObjectPath, legacyIface); err != nil {
		return nil, err
	}

	legacyProps, err := prop.Export(conn, legacyObjectPath, e.propsMap(legacyIface))
	if err != nil {
		return nil, err
	}

	e.legacyProps = legacyProps

	// prop.Export's own org.freedesktop.DBus.Properties.Set has no way
	// to see the caller's sender (§4.7 needs the real bus name for the
	// switch-profile authorization check), so re-export the interface
	// with our own Get/Set/GetAll, which accept dbus.Sender the same
	// way HoldProfile/ReleaseProfile already do.
	if err := conn.Export(e, objectPath, "org.freedesktop.DBus.Properties"); err != nil {
		return nil, err
	}

	if err := conn.Export(e, legacyObjectPath, "org.freedesktop.DBus.Properties"); err != nil {
		return nil, err
	}

	node := &introspect.Node{
		Name: string(objectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			powerProfilesIntrospection(mainIface),
		},
	}

	if err := conn.Export(introspect.NewIntrospectable(node), objectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, err
	}

	legacyNode := &introspect.Node{
		Name: string(legacyObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			powerProfilesIntrospection(legacyIface),
		},
	}

	if err := conn.Export(introspect.NewIntrospectable(legacyNode), legacyObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, err
	}

	return e, nil
}

// propsMap builds the property table for iface, sharing the same
// backing getters/callback across the primary and legacy names.
func (e *Exporter) propsMap(iface string) prop.Map {
	return prop.Map{
		iface: {
			"ActiveProfile": {
				Value:    string(e.core.ActiveProfile()),
				Writable: true,
				Emit:     prop.EmitTrue,
			},
			"PerformanceDegraded": {
				Value:    e.core.PerformanceDegraded(),
				Writable: false,
				Emit:     prop.EmitTrue,
			},
			"Profiles": {
				Value:    descriptorsToMaps(e.core.Profiles()),
				Writable: false,
				Emit:     prop.EmitTrue,
			},
			"Actions": {
				Value:    e.core.Actions(),
				Writable: false,
				Emit:     prop.EmitTrue,
			},
			"ActiveProfileHolds": {
				Value:    holdsToMaps(e.core.ActiveProfileHolds()),
				Writable: false,
				Emit:     prop.EmitTrue,
			},
			"Version": {
				Value:    daemonVersion,
				Writable: false,
				Emit:     prop.EmitFalse,
			},
		},
	}
}

// RequestName acquires the well-known bus name. A failure here is
// fatal to the daemon (§6 StartupFailed).
func (e *Exporter) RequestName() error {
	reply, err := e.conn.RequestName(mainIface, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("power profiles bus name already owned")
	}

	if _, err := e.conn.RequestName(legacyIface, dbus.NameFlagDoNotQueue); err != nil {
		e.logger.Warn("failed to acquire legacy bus name", "name", legacyIface, "err", err)
	}

	return nil
}

// propsFor returns the prop.Properties backing iface, so Get/Set/GetAll
// can delegate to the right one of the two exported object identities.
func (e *Exporter) propsFor(iface string) *prop.Properties {
	if iface == legacyIface {
		return e.legacyProps
	}

	return e.props
}

// Get implements org.freedesktop.DBus.Properties.Get by delegating to
// the prop.Properties instance backing iface.
func (e *Exporter) Get(iface, property string) (dbus.Variant, *dbus.Error) {
	return e.propsFor(iface).Get(iface, property)
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll by
// delegating to the prop.Properties instance backing iface.
func (e *Exporter) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	return e.propsFor(iface).GetAll(iface)
}

// Set implements org.freedesktop.DBus.Properties.Set. It intercepts
// ActiveProfile itself, since that is the only writable property and
// its write must be authorized against the real caller (§4.7); every
// other property is rejected by delegating to prop.Properties, which
// already refuses writes to non-writable properties.
func (e *Exporter) Set(iface, property string, value dbus.Variant, sender dbus.Sender) *dbus.Error {
	if property != "ActiveProfile" || (iface != mainIface && iface != legacyIface) {
		return e.propsFor(iface).Set(iface, property, value)
	}

	s, ok := value.Value().(string)
	if !ok {
		return dbus.MakeFailedError(errors.New("ActiveProfile must be a string"))
	}

	p, err := profile.Parse(s)
	if err != nil {
		return dbus.MakeFailedError(err)
	}

	if err := e.core.SelectProfile(context.Background(), p, string(sender)); err != nil {
		return mapError(err)
	}

	return nil
}

// HoldProfile implements the org.freedesktop.UPower.PowerProfiles and
// net.hadess.PowerProfiles HoldProfile method.
func (e *Exporter) HoldProfile(p, reason, application string, sender dbus.Sender) (uint32, *dbus.Error) {
	cookie, err := e.core.HoldProfile(context.Background(), profile.Profile(p), reason, application, string(sender))
	if err != nil {
		return 0, mapError(err)
	}

	return cookie, nil
}

// ReleaseProfile implements the ReleaseProfile method.
func (e *Exporter) ReleaseProfile(cookie uint32, sender dbus.Sender) *dbus.Error {
	e.core.ReleaseProfile(cookie, string(sender))

	return nil
}

func mapError(err error) *dbus.Error {
	switch {
	case errors.Is(err, authz.ErrPermissionDenied):
		return dbus.NewError("org.freedesktop.UPower.PowerProfiles.NotAuthorized", []interface{}{err.Error()})
	default:
		return dbus.MakeFailedError(err)
	}
}

// PropertiesChanged implements arbiter.Publisher: it re-reads the
// named properties from core and lets prop.Properties emit the
// standard PropertiesChanged signal for whichever ones actually moved.
func (e *Exporter) PropertiesChanged(names []string) {
	for _, name := range names {
		switch name {
		case "ActiveProfile":
			v := string(e.core.ActiveProfile())
			e.props.SetMust(mainIface, "ActiveProfile", v)
			e.legacyProps.SetMust(legacyIface, "ActiveProfile", v)
		case "PerformanceDegraded":
			v := e.core.PerformanceDegraded()
			e.props.SetMust(mainIface, "PerformanceDegraded", v)
			e.legacyProps.SetMust(legacyIface, "PerformanceDegraded", v)
		case "Profiles":
			v := descriptorsToMaps(e.core.Profiles())
			e.props.SetMust(mainIface, "Profiles", v)
			e.legacyProps.SetMust(legacyIface, "Profiles", v)
		case "ActiveProfileHolds":
			v := holdsToMaps(e.core.ActiveProfileHolds())
			e.props.SetMust(mainIface, "ActiveProfileHolds", v)
			e.legacyProps.SetMust(legacyIface, "ActiveProfileHolds", v)
		}
	}
}

// ProfileReleased implements arbiter.Publisher: it emits the
// ProfileReleased signal on both object paths.
func (e *Exporter) ProfileReleased(cookie uint32) {
	if err := e.conn.Emit(objectPath, mainIface+".ProfileReleased", cookie); err != nil {
		e.logger.Warn("failed to emit ProfileReleased", "err", err)
	}

	if err := e.conn.Emit(legacyObjectPath, legacyIface+".ProfileReleased", cookie); err != nil {
		e.logger.Debug("failed to emit legacy ProfileReleased", "err", err)
	}
}

func descriptorsToMaps(descs []profile.Descriptor) []map[string]dbus.Variant {
	out := make([]map[string]dbus.Variant, 0, len(descs))

	for _, d := range descs {
		row := map[string]dbus.Variant{
			"Profile": dbus.MakeVariant(string(d.Profile)),
			"Driver":  dbus.MakeVariant(d.Driver),
		}

		if d.CpuDriver != "" {
			row["CpuDriver"] = dbus.MakeVariant(d.CpuDriver)
		}

		if d.PlatformDriver != "" {
			row["PlatformDriver"] = dbus.MakeVariant(d.PlatformDriver)
		}

		out = append(out, row)
	}

	return out
}

func holdsToMaps(holds []profile.Hold) []map[string]dbus.Variant {
	out := make([]map[string]dbus.Variant, 0, len(holds))

	for _, h := range holds {
		out = append(out, map[string]dbus.Variant{
			"Profile":         dbus.MakeVariant(string(h.Requested)),
			"Reason":          dbus.MakeVariant(h.Reason),
			"ApplicationId":   dbus.MakeVariant(h.Application),
			"Cookie":          dbus.MakeVariant(h.Cookie),
		})
	}

	return out
}

func powerProfilesIntrospection(iface string) introspect.Interface {
	return introspect.Interface{
		Name: iface,
		Methods: []introspect.Method{
			{
				Name: "HoldProfile",
				Args: []introspect.Arg{
					{Name: "profile", Type: "s", Direction: "in"},
					{Name: "reason", Type: "s", Direction: "in"},
					{Name: "application_id", Type: "s", Direction: "in"},
					{Name: "cookie", Type: "u", Direction: "out"},
				},
			},
			{
				Name: "ReleaseProfile",
				Args: []introspect.Arg{
					{Name: "cookie", Type: "u", Direction: "in"},
				},
			},
		},
		Signals: []introspect.Signal{
			{
				Name: "ProfileReleased",
				Args: []introspect.Arg{
					{Name: "cookie", Type: "u"},
				},
			},
		},
	}
}
