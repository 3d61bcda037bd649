package busexport

import (
	"context"
	"log/slog"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahendrapaipuri/ceems/internal/profile"
)

type fakeCore struct {
	active      profile.Profile
	degraded    string
	descriptors []profile.Descriptor
	actions     []string
	holds       []profile.Hold

	selectErr           error
	holdCookie          uint32
	holdErr             error
	released            []uint32
	selectCallerBusName string
}

func (f *fakeCore) SelectProfile(_ context.Context, p profile.Profile, callerBusName string) error {
	if f.selectErr != nil {
		return f.selectErr
	}

	f.active = p
	f.selectCallerBusName = callerBusName

	return nil
}

func (f *fakeCore) HoldProfile(_ context.Context, _ profile.Profile, _, _, _ string) (uint32, error) {
	return f.holdCookie, f.holdErr
}

func (f *fakeCore) ReleaseProfile(cookie uint32, _ string) {
	f.released = append(f.released, cookie)
}

func (f *fakeCore) ActiveProfile() profile.Profile          { return f.active }
func (f *fakeCore) PerformanceDegraded() string             { return f.degraded }
func (f *fakeCore) Profiles() []profile.Descriptor          { return f.descriptors }
func (f *fakeCore) Actions() []string                       { return f.actions }
func (f *fakeCore) ActiveProfileHolds() []profile.Hold       { return f.holds }

func connectTestBus(t *testing.T) *dbus.Conn {
	t.Helper()

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		t.Skip("no session bus available in this environment")
	}

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func TestNewExportsBothObjectPaths(t *testing.T) {
	conn := connectTestBus(t)

	core := &fakeCore{active: profile.Balanced, holdCookie: 7}

	e, err := New(conn, core, slog.Default())
	require.NoError(t, err)

	obj := conn.Object(conn.Names()[0], objectPath)

	var activeProfile string
	err = obj.Call("org.freedesktop.DBus.Properties.Get", 0, mainIface, "ActiveProfile").Store(&activeProfile)
	require.NoError(t, err)
	assert.Equal(t, "balanced", activeProfile)

	var cookie uint32
	err = conn.Object(conn.Names()[0], legacyObjectPath).Call(legacyIface+".HoldProfile", 0, "performance", "testing", "app").Store(&cookie)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), cookie)

	e.ProfileReleased(7)
}

func TestSetActiveProfileSeesRealSenderNotPropertyName(t *testing.T) {
	conn := connectTestBus(t)

	core := &fakeCore{active: profile.Balanced}

	_, err := New(conn, core, slog.Default())
	require.NoError(t, err)

	err = conn.Object(conn.Names()[0], objectPath).Call(
		"org.freedesktop.DBus.Properties.Set", 0, mainIface, "ActiveProfile", dbus.MakeVariant("performance"),
	).Err
	require.NoError(t, err)

	assert.Equal(t, profile.Performance, core.active)
	// The caller's unique connection name, e.g. ":1.42" — never the
	// literal property name "ActiveProfile" that prop.Change.Name
	// would have handed a Callback-based implementation.
	assert.NotEqual(t, "ActiveProfile", core.selectCallerBusName)
	assert.Equal(t, conn.Names()[0], core.selectCallerBusName)
}

func TestReleaseProfileForwardsToCore(t *testing.T) {
	conn := connectTestBus(t)

	core := &fakeCore{}

	_, err := New(conn, core, slog.Default())
	require.NoError(t, err)

	err = conn.Object(conn.Names()[0], objectPath).Call(mainIface+".ReleaseProfile", 0, uint32(3)).Err
	require.NoError(t, err)

	assert.Equal(t, []uint32{3}, core.released)
}
