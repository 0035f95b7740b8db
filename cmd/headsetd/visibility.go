package main

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	login1Dest         = "org.freedesktop.login1"
	login1ManagerPath  = dbus.ObjectPath("/org/freedesktop/login1")
	login1GetSession   = "org.freedesktop.login1.Manager.GetSession"
	login1SessionIface = "org.freedesktop.login1.Session"
	propsIface         = "org.freedesktop.DBus.Properties"
	propsChangedMember = "PropertiesChanged"
)

// VisibilityObserver notes when the user's login session becomes active or
// inactive (screen locked, VT switched away). It has no effect on fusion.
type VisibilityObserver struct {
	// Session is the logind session id; "auto" resolves the caller's session.
	Session string
	Logger  *slog.Logger

	// connect is swapped in tests.
	connect func() (*dbus.Conn, error)
}

// Attach subscribes to Session.Active changes on the system bus.
func (v *VisibilityObserver) Attach(reg *Registrar, sink CandidateSink) error {
	connect := v.connect
	if connect == nil {
		connect = func() (*dbus.Conn, error) { return dbus.ConnectSystemBus() }
	}
	session := v.Session
	if session == "" {
		session = "auto"
	}

	conn, err := connect()
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}

	var path dbus.ObjectPath
	if err := conn.Object(login1Dest, login1ManagerPath).Call(login1GetSession, 0, session).Store(&path); err != nil {
		conn.Close()
		return fmt.Errorf("resolve session %q: %w", session, err)
	}

	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember(propsChangedMember),
	}
	if err := conn.AddMatchSignal(opts...); err != nil {
		conn.Close()
		return fmt.Errorf("add match: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				active, changed := parseActiveChange(path, sig)
				if !changed {
					continue
				}
				v.Logger.Debug("session visibility changed", "session", path, "active", active)
				if active {
					sink.Note("app foregrounded")
				} else {
					sink.Note("app backgrounded")
				}
			}
		}
	}()

	var once sync.Once
	reg.Add("visibility", func() {
		once.Do(func() {
			close(done)
			if err := conn.RemoveMatchSignal(opts...); err != nil {
				v.Logger.Debug("remove match failed", "error", err)
			}
			conn.RemoveSignal(signals)
			conn.Close()
		})
	})

	v.Logger.Info("visibility observer attached", "session", path)
	return nil
}

// parseActiveChange extracts the new Active value from a logind
// PropertiesChanged signal for path. changed is false for anything else.
func parseActiveChange(path dbus.ObjectPath, sig *dbus.Signal) (active bool, changed bool) {
	if sig == nil || sig.Path != path || sig.Name != propsIface+"."+propsChangedMember {
		return false, false
	}
	if len(sig.Body) < 2 {
		return false, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != login1SessionIface {
		return false, false
	}
	props, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false, false
	}
	v, ok := props["Active"]
	if !ok {
		return false, false
	}
	active, ok = v.Value().(bool)
	return active, ok
}
