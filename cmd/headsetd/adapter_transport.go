package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
)

// TransportAction is one of the transport-control actions a media player can be
// asked to perform.
type TransportAction string

const (
	ActionPlay          TransportAction = "play"
	ActionPause         TransportAction = "pause"
	ActionStop          TransportAction = "stop"
	ActionSeekBackward  TransportAction = "seekbackward"
	ActionSeekForward   TransportAction = "seekforward"
	ActionPreviousTrack TransportAction = "previoustrack"
	ActionNextTrack     TransportAction = "nexttrack"
)

// TransportActions lists every action in registration order.
var TransportActions = []TransportAction{
	ActionPlay,
	ActionPause,
	ActionStop,
	ActionSeekBackward,
	ActionSeekForward,
	ActionPreviousTrack,
	ActionNextTrack,
}

var (
	errUnknownAction   = errors.New("unknown transport action")
	errTransportClosed = errors.New("transport session closed")
)

// TransportProvider detects the transport-control capability.
type TransportProvider interface {
	// Probe returns a live session, or an error if the capability is absent.
	Probe(ctx context.Context) (TransportSession, error)
}

// TransportSession owns the per-action handlers. A nil handler clears the action.
type TransportSession interface {
	SetActionHandler(action TransportAction, handler func()) error
	Close() error
}

// ============================================================================
// Action table (bus independent)
// ============================================================================

// actionTable holds the registered handlers and the playback status used to
// resolve toggles. Handlers run on the caller's goroutine.
type actionTable struct {
	mu       sync.Mutex
	handlers map[TransportAction]func()
	status   string
	closed   bool

	// onStatus is notified after every status change (property export).
	onStatus func(status string)
	// onCan is notified when an action gains or loses its handler.
	onCan func(action TransportAction, can bool)
}

const (
	statusPlaying = "Playing"
	statusPaused  = "Paused"
	statusStopped = "Stopped"
)

func newActionTable() *actionTable {
	return &actionTable{
		handlers: make(map[TransportAction]func()),
		status:   statusStopped,
	}
}

func validAction(a TransportAction) bool {
	for _, known := range TransportActions {
		if a == known {
			return true
		}
	}
	return false
}

func (t *actionTable) set(action TransportAction, handler func()) error {
	if !validAction(action) {
		return fmt.Errorf("%w: %q", errUnknownAction, action)
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errTransportClosed
	}
	if handler == nil {
		delete(t.handlers, action)
	} else {
		t.handlers[action] = handler
	}
	onCan := t.onCan
	t.mu.Unlock()

	if onCan != nil {
		onCan(action, handler != nil)
	}
	return nil
}

// dispatch runs the handler for action, if any, and advances the playback status.
func (t *actionTable) dispatch(action TransportAction) {
	t.mu.Lock()
	h := t.handlers[action]
	changed := false
	switch action {
	case ActionPlay:
		changed = t.status != statusPlaying
		t.status = statusPlaying
	case ActionPause:
		changed = t.status != statusPaused
		t.status = statusPaused
	case ActionStop:
		changed = t.status != statusStopped
		t.status = statusStopped
	}
	status := t.status
	onStatus := t.onStatus
	t.mu.Unlock()

	if changed && onStatus != nil {
		onStatus(status)
	}
	if h != nil {
		h()
	}
}

// toggle resolves PlayPause against the current status.
func (t *actionTable) toggle() TransportAction {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == statusPlaying {
		return ActionPause
	}
	return ActionPlay
}

func (t *actionTable) bind(onStatus func(string), onCan func(TransportAction, bool)) {
	t.mu.Lock()
	t.onStatus = onStatus
	t.onCan = onCan
	t.mu.Unlock()
}

func (t *actionTable) close() {
	t.mu.Lock()
	t.closed = true
	t.handlers = make(map[TransportAction]func())
	t.mu.Unlock()
}

func (t *actionTable) registered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers)
}

// ============================================================================
// MPRIS over D-Bus
// ============================================================================

const (
	mprisPath        = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	mprisRootIface   = "org.mpris.MediaPlayer2"
	mprisPlayerIface = "org.mpris.MediaPlayer2.Player"
	mprisNamePrefix  = "org.mpris.MediaPlayer2."
)

// mprisProvider exposes headsetd as an MPRIS player on the session bus so the
// desktop routes headset transport commands to it.
type mprisProvider struct {
	busName  string // suffix after org.mpris.MediaPlayer2.
	identity string
}

func newMPRISProvider(busName string) *mprisProvider {
	return &mprisProvider{busName: busName, identity: "headsetd"}
}

// mprisPlayer implements the org.mpris.MediaPlayer2.Player methods.
type mprisPlayer struct {
	table *actionTable
}

func (p *mprisPlayer) Play() *dbus.Error  { p.table.dispatch(ActionPlay); return nil }
func (p *mprisPlayer) Pause() *dbus.Error { p.table.dispatch(ActionPause); return nil }
func (p *mprisPlayer) Stop() *dbus.Error  { p.table.dispatch(ActionStop); return nil }
func (p *mprisPlayer) Next() *dbus.Error  { p.table.dispatch(ActionNextTrack); return nil }

func (p *mprisPlayer) Previous() *dbus.Error {
	p.table.dispatch(ActionPreviousTrack)
	return nil
}

func (p *mprisPlayer) PlayPause() *dbus.Error {
	p.table.dispatch(p.table.toggle())
	return nil
}

// Seek offset is in microseconds; the sign picks the direction.
func (p *mprisPlayer) Seek(offset int64) *dbus.Error {
	if offset < 0 {
		p.table.dispatch(ActionSeekBackward)
	} else if offset > 0 {
		p.table.dispatch(ActionSeekForward)
	}
	return nil
}

func (p *mprisPlayer) SetPosition(trackID dbus.ObjectPath, position int64) *dbus.Error {
	return nil
}

func (p *mprisPlayer) OpenUri(uri string) *dbus.Error { return nil }

// mprisRoot implements org.mpris.MediaPlayer2.
type mprisRoot struct{}

func (mprisRoot) Raise() *dbus.Error { return nil }
func (mprisRoot) Quit() *dbus.Error  { return nil }

// canProperty maps actions to the MPRIS capability property they drive.
var canProperty = map[TransportAction]string{
	ActionPlay:          "CanPlay",
	ActionPause:         "CanPause",
	ActionSeekBackward:  "CanSeek",
	ActionSeekForward:   "CanSeek",
	ActionPreviousTrack: "CanGoPrevious",
	ActionNextTrack:     "CanGoNext",
}

func (m *mprisProvider) Probe(ctx context.Context) (TransportSession, error) {
	if m.busName == "" {
		return nil, errors.New("transport bus name is empty")
	}

	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	name := mprisNamePrefix + m.busName
	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request name %s: %w", name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("name %s already taken", name)
	}

	table := newActionTable()
	player := &mprisPlayer{table: table}

	if err := conn.Export(player, mprisPath, mprisPlayerIface); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export player: %w", err)
	}
	if err := conn.Export(mprisRoot{}, mprisPath, mprisRootIface); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export root: %w", err)
	}

	props, err := prop.Export(conn, mprisPath, m.propertyMap())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("export properties: %w", err)
	}

	node := &introspect.Node{
		Name: string(mprisPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       mprisRootIface,
				Methods:    introspect.Methods(mprisRoot{}),
				Properties: props.Introspection(mprisRootIface),
			},
			{
				Name:       mprisPlayerIface,
				Methods:    introspect.Methods(player),
				Properties: props.Introspection(mprisPlayerIface),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), mprisPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	table.bind(
		func(status string) {
			_ = props.Set(mprisPlayerIface, "PlaybackStatus", dbus.MakeVariant(status))
		},
		func(action TransportAction, can bool) {
			if p, ok := canProperty[action]; ok {
				_ = props.Set(mprisPlayerIface, p, dbus.MakeVariant(can))
			}
		},
	)

	return &mprisSession{conn: conn, name: name, table: table}, nil
}

func (m *mprisProvider) propertyMap() prop.Map {
	ro := func(v any) *prop.Prop {
		return &prop.Prop{Value: v, Writable: false, Emit: prop.EmitTrue}
	}
	return prop.Map{
		mprisRootIface: {
			"CanQuit":             ro(false),
			"CanRaise":            ro(false),
			"HasTrackList":        ro(false),
			"Identity":            ro(m.identity),
			"SupportedUriSchemes": ro([]string{}),
			"SupportedMimeTypes":  ro([]string{}),
		},
		mprisPlayerIface: {
			"PlaybackStatus": ro(statusStopped),
			"Rate":           ro(1.0),
			"Metadata":       ro(map[string]dbus.Variant{}),
			"Volume":         ro(1.0),
			"Position":       {Value: int64(0), Writable: false, Emit: prop.EmitFalse},
			"MinimumRate":    ro(1.0),
			"MaximumRate":    ro(1.0),
			"CanGoNext":      ro(false),
			"CanGoPrevious":  ro(false),
			"CanPlay":        ro(false),
			"CanPause":       ro(false),
			"CanSeek":        ro(false),
			"CanControl":     ro(true),
		},
	}
}

type mprisSession struct {
	conn  *dbus.Conn
	name  string
	table *actionTable

	closeOnce sync.Once
	closeErr  error
}

func (s *mprisSession) SetActionHandler(action TransportAction, handler func()) error {
	return s.table.set(action, handler)
}

// Close releases the bus name and the connection. Handlers are dropped first so a
// late method call finds nothing to run.
func (s *mprisSession) Close() error {
	s.closeOnce.Do(func() {
		s.table.close()
		if _, err := s.conn.ReleaseName(s.name); err != nil {
			s.closeErr = fmt.Errorf("release name %s: %w", s.name, err)
		}
		if err := s.conn.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}
