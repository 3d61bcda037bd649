// Package logind subscribes to logind's PrepareForSleep signal and
// surfaces enter/leave sleep edges (§4.6).
package logind

import (
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	busName    = "org.freedesktop.login1"
	objectPath = "/org/freedesktop/login1"
	iface      = "org.freedesktop.login1.Manager"
)

// Edge is delivered on Changed: true means entering sleep, false means
// resumed.
type Edge bool

const (
	Entering Edge = true
	Leaving  Edge = false
)

// Client watches logind's PrepareForSleep signal. Absence of logind on
// the bus is not an error: Present() reports false and Changed never
// fires.
type Client struct {
	present bool
	Changed chan Edge
}

// Connect subscribes to PrepareForSleep on conn.
func Connect(conn *dbus.Conn, logger *slog.Logger) *Client {
	c := &Client{Changed: make(chan Edge, 1)}

	// login1.Manager exposes no Version property to probe against;
	// ask the bus driver directly whether anyone owns the well-known
	// name instead.
	var owned bool
	if err := conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, busName).Store(&owned); err != nil || !owned {
		logger.Debug("logind not present", "err", err)

		return c
	}

	c.present = true

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(dbus.ObjectPath(objectPath)),
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember("PrepareForSleep"),
	); err != nil {
		logger.Warn("failed to subscribe to logind PrepareForSleep", "err", err)

		return c
	}

	signals := make(chan *dbus.Signal, 4)
	conn.Signal(signals)

	go c.loop(signals)

	return c
}

func (c *Client) loop(signals chan *dbus.Signal) {
	for sig := range signals {
		if sig.Name != iface+".PrepareForSleep" || len(sig.Body) != 1 {
			continue
		}

		entering, ok := sig.Body[0].(bool)
		if !ok {
			continue
		}

		select {
		case c.Changed <- Edge(entering):
		default:
		}
	}
}

// Present reports whether logind is reachable on the bus.
func (c *Client) Present() bool {
	return c.present
}
