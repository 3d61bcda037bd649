// Package upower exposes UPower's OnBattery and display-device battery
// percentage as a small reactive value (§4.6). Only changes to those
// two properties are surfaced; every other UPower property change is
// ignored.
package upower

import (
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	busName        = "org.freedesktop.UPower"
	objectPath     = "/org/freedesktop/UPower"
	displayDevPath = "/org/freedesktop/UPower/devices/DisplayDevice"
	upowerIface    = "org.freedesktop.UPower"
	deviceIface    = "org.freedesktop.UPower.Device"
	propsIface     = "org.freedesktop.DBus.Properties"
)

// State is a snapshot of the two properties the arbiter cares about.
type State struct {
	OnBattery  bool
	Percentage float64
}

// Client watches UPower over the system bus. It degrades silently:
// when upower is absent, Present is false, OnBattery reads false, and
// no Changed events ever fire.
type Client struct {
	logger *slog.Logger

	mu      sync.Mutex
	present bool
	state   State

	Changed chan State
}

// Connect attempts to subscribe to UPower on conn. Absence of the
// service is not an error: the returned Client simply reports
// Present()==false forever.
func Connect(conn *dbus.Conn, logger *slog.Logger) *Client {
	c := &Client{logger: logger, Changed: make(chan State, 1)}

	obj := conn.Object(busName, dbus.ObjectPath(objectPath))

	var onBattery bool
	if err := obj.Call(propsIface+".Get", 0, upowerIface, "OnBattery").Store(&onBattery); err != nil {
		logger.Debug("upower not present", "err", err)

		return c
	}

	c.present = true
	c.state.OnBattery = onBattery

	devObj := conn.Object(busName, dbus.ObjectPath(displayDevPath))
	if v, err := devObj.GetProperty(deviceIface + ".Percentage"); err == nil {
		if pct, ok := v.Value().(float64); ok {
			c.state.Percentage = pct
		}
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		logger.Warn("failed to subscribe to upower property changes", "err", err)

		return c
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)

	go c.loop(signals)

	return c
}

func (c *Client) loop(signals chan *dbus.Signal) {
	for sig := range signals {
		if sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
			continue
		}

		iface, _ := sig.Body[0].(string)
		changed, _ := sig.Body[1].(map[string]dbus.Variant)

		dirty := false

		c.mu.Lock()

		switch iface {
		case upowerIface:
			if v, ok := changed["OnBattery"]; ok {
				if b, ok := v.Value().(bool); ok && b != c.state.OnBattery {
					c.state.OnBattery = b
					dirty = true
				}
			}
		case deviceIface:
			if string(sig.Path) != displayDevPath {
				c.mu.Unlock()

				continue
			}

			if v, ok := changed["Percentage"]; ok {
				if pct, ok := v.Value().(float64); ok && pct != c.state.Percentage {
					c.state.Percentage = pct
					dirty = true
				}
			}
		}

		state := c.state

		c.mu.Unlock()

		if dirty {
			select {
			case c.Changed <- state:
			default:
			}
		}
	}
}

// Present reports whether UPower is reachable on the bus.
func (c *Client) Present() bool {
	return c.present
}

// State returns the last known snapshot.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}
