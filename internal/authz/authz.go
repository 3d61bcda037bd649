// Package authz gates every state-changing bus call against an
// external policy service (§4.7), keyed by the action strings
// "switch-profile" and "hold-profile". The core never implements its
// own authorization; it only asks.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Action names the core asks the policy service about.
type Action string

const (
	ActionSwitchProfile Action = "switch-profile"
	ActionHoldProfile   Action = "hold-profile"
)

// ErrPermissionDenied is returned when the policy service denies the
// request, or the check times out/is cancelled.
var ErrPermissionDenied = errors.New("permission denied")

const (
	authorityBusName = "org.freedesktop.PolicyKit1"
	authorityPath    = "/org/freedesktop/PolicyKit1/Authority"
	authorityIface   = "org.freedesktop.PolicyKit1.Authority"

	actionIDPrefix = "org.freedesktop.UPower.PowerProfiles."
)

// subjectKind is the polkit "system-bus-name" subject kind.
const subjectKind = "system-bus-name"

// Bridge checks permission for a caller's bus name against polkit.
type Bridge struct {
	conn *dbus.Conn
}

// New returns a Bridge bound to conn.
func New(conn *dbus.Conn) *Bridge {
	return &Bridge{conn: conn}
}

// Check performs the async permission check for action, requested by
// the caller identified by callerBusName. Cancelling ctx aborts only
// the pending check and surfaces as ErrPermissionDenied.
func (b *Bridge) Check(ctx context.Context, action Action, callerBusName string) error {
	subject := struct {
		Kind    string
		Details map[string]dbus.Variant
	}{
		Kind: subjectKind,
		Details: map[string]dbus.Variant{
			"name": dbus.MakeVariant(callerBusName),
		},
	}

	obj := b.conn.Object(authorityBusName, dbus.ObjectPath(authorityPath))

	type result struct {
		isAuthorized bool
		err          error
	}

	done := make(chan result, 1)

	go func() {
		var res struct {
			IsAuthorized bool
			IsChallenge  bool
			Details      map[string]string
		}

		call := obj.Call(
			authorityIface+".CheckAuthorization", 0,
			subject,
			actionIDPrefix+string(action),
			map[string]string{},
			uint32(1), // AllowUserInteraction
			"",
		)

		if call.Err != nil {
			done <- result{err: call.Err}

			return
		}

		if err := call.Store(&res.IsAuthorized, &res.IsChallenge, &res.Details); err != nil {
			done <- result{err: err}

			return
		}

		done <- result{isAuthorized: res.IsAuthorized}
	}()

	select {
	case <-ctx.Done():
		return ErrPermissionDenied
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("policy check failed: %w", r.err)
		}

		if !r.isAuthorized {
			return ErrPermissionDenied
		}

		return nil
	}
}
