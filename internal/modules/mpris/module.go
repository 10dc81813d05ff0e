package mpris

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"go.uber.org/zap"

	"github.com/mikey-austin/lms_bridge/internal/core"
	"github.com/mikey-austin/lms_bridge/internal/ports"
	"github.com/mikey-austin/lms_bridge/pkg/lms"
)

// D-Bus names of the MPRIS2 object.
const (
	ObjectPath      = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	RootInterface   = "org.mpris.MediaPlayer2"
	PlayerInterface = "org.mpris.MediaPlayer2.Player"
	busNamePrefix   = "org.mpris.MediaPlayer2."
)

// Config configures the MPRIS module.
type Config struct {
	// Identity is the human readable player name shown by desktop shells.
	Identity string
	// Connect opens the bus. Defaults to the session bus.
	Connect func() (*dbus.Conn, error)
}

// Module exposes the bridged player on D-Bus as an MPRIS2 media player.
type Module struct {
	log    *zap.Logger
	config Config

	mu      sync.Mutex
	ctx     context.Context
	player  ports.Player
	target  lms.Player
	conn    *dbus.Conn
	props   *prop.Properties
	busName string
}

// NewModule creates the module.
func NewModule(log *zap.Logger, cfg Config) *Module {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Identity) == "" {
		cfg.Identity = "squeezelite"
	}
	if cfg.Connect == nil {
		cfg.Connect = func() (*dbus.Conn, error) { return dbus.ConnectSessionBus() }
	}
	return &Module{log: log, config: cfg}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "mpris"
}

// BusName returns the well-known bus name for a player name.
func BusName(playerName string) string {
	return busNamePrefix + sanitize(playerName)
}

// TrackID returns the MPRIS track object path for a playlist index.
func TrackID(playerName string, index uint64) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/%s/track/%d", ObjectPath, sanitize(playerName), index))
}

// sanitize maps name to the characters allowed in both bus name elements
// and object path elements.
func sanitize(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// Start connects to the bus, exports the object and claims the bus name.
func (m *Module) Start(ctx context.Context, client ports.Player, player lms.Player) error {
	state, err := core.Snapshot(ctx, client, player.ID)
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	conn, err := m.config.Connect()
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}

	m.mu.Lock()
	m.ctx = ctx
	m.player = client
	m.target = player
	m.conn = conn
	m.busName = BusName(player.Name)
	m.mu.Unlock()

	if err := m.export(conn, state); err != nil {
		conn.Close()
		return err
	}
	reply, err := conn.RequestName(m.busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return fmt.Errorf("request name %s: %w", m.busName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return fmt.Errorf("bus name %s already taken", m.busName)
	}
	m.log.Info("mpris exported", zap.String("bus_name", m.busName))
	return nil
}

func (m *Module) export(conn *dbus.Conn, state core.NowPlaying) error {
	root := &rootObject{m: m}
	player := &playerObject{m: m}
	if err := conn.Export(root, ObjectPath, RootInterface); err != nil {
		return fmt.Errorf("export root: %w", err)
	}
	if err := conn.Export(player, ObjectPath, PlayerInterface); err != nil {
		return fmt.Errorf("export player: %w", err)
	}

	props, err := prop.Export(conn, ObjectPath, prop.Map{
		RootInterface:   rootProperties(m.config.Identity),
		PlayerInterface: playerProperties(m.target.Name, state),
	})
	if err != nil {
		return fmt.Errorf("export properties: %w", err)
	}
	// Replace the stock handler so playback properties are read on demand.
	if err := conn.Export(&propertiesObject{m: m, props: props}, ObjectPath, "org.freedesktop.DBus.Properties"); err != nil {
		return fmt.Errorf("export properties: %w", err)
	}
	m.mu.Lock()
	m.props = props
	m.mu.Unlock()

	node := &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       RootInterface,
				Methods:    introspect.Methods(root),
				Properties: props.Introspection(RootInterface),
			},
			{
				Name:       PlayerInterface,
				Methods:    introspect.Methods(player),
				Properties: props.Introspection(PlayerInterface),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}
	return nil
}

// Notify re-reads the player and updates the playback properties, which
// emits PropertiesChanged for those that changed.
func (m *Module) Notify(ctx context.Context) error {
	m.mu.Lock()
	started := m.props != nil
	m.mu.Unlock()
	if !started {
		return errors.New("mpris not started")
	}
	_, err := m.refresh(ctx)
	return err
}

// refresh reads the player and returns the current playback properties.
// Exported values that differ are updated.
func (m *Module) refresh(ctx context.Context) (map[string]interface{}, error) {
	m.mu.Lock()
	client := m.player
	target := m.target
	props := m.props
	m.mu.Unlock()
	if client == nil {
		return nil, errors.New("player not ready")
	}
	state, err := core.Snapshot(ctx, client, target.ID)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	values := playbackValues(target.Name, state)
	if props != nil {
		for name, v := range values {
			if !reflect.DeepEqual(props.GetMust(PlayerInterface, name), v) {
				props.SetMust(PlayerInterface, name, v)
			}
		}
	}
	return values, nil
}

// Close releases the bus name and the connection.
func (m *Module) Close() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.props = nil
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	_, err := conn.ReleaseName(m.busName)
	return errors.Join(err, conn.Close())
}

// PlaybackStatus maps a playback mode to its MPRIS name.
func PlaybackStatus(mode lms.Mode) string {
	return mode.String()
}

// ShuffleEnabled reports whether mode shuffles individual tracks. Album
// shuffle keeps track order and is reported as off.
func ShuffleEnabled(mode lms.Shuffle) bool {
	return mode == lms.ShuffleBySong
}

// Metadata builds the MPRIS metadata map for the current track.
func Metadata(playerName string, state core.NowPlaying) map[string]dbus.Variant {
	md := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(TrackID(playerName, state.Index)),
	}
	if state.Artist != "" {
		md["xesam:artist"] = dbus.MakeVariant([]string{state.Artist})
	}
	if state.Album != "" {
		md["xesam:album"] = dbus.MakeVariant(state.Album)
	}
	if state.Title != "" {
		md["xesam:title"] = dbus.MakeVariant(state.Title)
	}
	return md
}

func playbackValues(playerName string, state core.NowPlaying) map[string]interface{} {
	return map[string]interface{}{
		"PlaybackStatus": PlaybackStatus(state.Mode),
		"Shuffle":        ShuffleEnabled(state.Shuffle),
		"Metadata":       Metadata(playerName, state),
	}
}

func rootProperties(identity string) map[string]*prop.Prop {
	return map[string]*prop.Prop{
		"CanQuit":             {Value: false, Emit: prop.EmitFalse},
		"CanRaise":            {Value: false, Emit: prop.EmitFalse},
		"HasTrackList":        {Value: false, Emit: prop.EmitFalse},
		"Identity":            {Value: identity, Emit: prop.EmitFalse},
		"SupportedUriSchemes": {Value: []string{}, Emit: prop.EmitFalse},
		"SupportedMimeTypes":  {Value: []string{}, Emit: prop.EmitFalse},
	}
}

func playerProperties(playerName string, state core.NowPlaying) map[string]*prop.Prop {
	values := playbackValues(playerName, state)
	return map[string]*prop.Prop{
		"PlaybackStatus": {Value: values["PlaybackStatus"], Emit: prop.EmitTrue},
		"LoopStatus":     {Value: "None", Emit: prop.EmitFalse},
		"Rate":           {Value: 1.0, Emit: prop.EmitFalse},
		"Shuffle":        {Value: values["Shuffle"], Emit: prop.EmitTrue},
		"Metadata":       {Value: values["Metadata"], Emit: prop.EmitTrue},
		"Volume":         {Value: 1.0, Emit: prop.EmitFalse},
		"Position":       {Value: int64(0), Emit: prop.EmitFalse},
		"MinimumRate":    {Value: 1.0, Emit: prop.EmitFalse},
		"MaximumRate":    {Value: 1.0, Emit: prop.EmitFalse},
		"CanGoNext":      {Value: true, Emit: prop.EmitFalse},
		"CanGoPrevious":  {Value: true, Emit: prop.EmitFalse},
		"CanPlay":        {Value: true, Emit: prop.EmitFalse},
		"CanPause":       {Value: true, Emit: prop.EmitFalse},
		"CanSeek":        {Value: false, Emit: prop.EmitFalse},
		"CanControl":     {Value: true, Emit: prop.EmitFalse},
	}
}

// apply forwards a player method to the control client.
func (m *Module) apply(cmd core.Command) *dbus.Error {
	m.mu.Lock()
	ctx := m.ctx
	client := m.player
	id := m.target.ID
	m.mu.Unlock()
	if client == nil {
		return dbus.MakeFailedError(errors.New("player not ready"))
	}
	m.log.Debug("mpris command", zap.String("command", string(cmd)))
	if err := core.Apply(ctx, client, id, cmd); err != nil {
		m.log.Warn("mpris command failed", zap.String("command", string(cmd)), zap.Error(err))
		return dbus.MakeFailedError(err)
	}
	if _, err := m.refresh(ctx); err != nil {
		m.log.Warn("mpris refresh failed", zap.String("command", string(cmd)), zap.Error(err))
	}
	return nil
}

// propertiesObject serves org.freedesktop.DBus.Properties. Playback
// properties are read from the player on every call.
type propertiesObject struct {
	m     *Module
	props *prop.Properties
}

func (p *propertiesObject) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	if iface == PlayerInterface && isPlaybackProperty(name) {
		values, err := p.m.refresh(p.m.context())
		if err != nil {
			return dbus.Variant{}, dbus.MakeFailedError(err)
		}
		return dbus.MakeVariant(values[name]), nil
	}
	if p.props == nil {
		return dbus.Variant{}, prop.ErrIfaceNotFound
	}
	return p.props.Get(iface, name)
}

func (p *propertiesObject) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if p.props == nil {
		return nil, prop.ErrIfaceNotFound
	}
	all, derr := p.props.GetAll(iface)
	if derr != nil || iface != PlayerInterface {
		return all, derr
	}
	values, err := p.m.refresh(p.m.context())
	if err != nil {
		return nil, dbus.MakeFailedError(err)
	}
	for name, v := range values {
		all[name] = dbus.MakeVariant(v)
	}
	return all, nil
}

func (p *propertiesObject) Set(iface, name string, value dbus.Variant) *dbus.Error {
	if p.props == nil {
		return prop.ErrIfaceNotFound
	}
	return p.props.Set(iface, name, value)
}

func isPlaybackProperty(name string) bool {
	switch name {
	case "PlaybackStatus", "Shuffle", "Metadata":
		return true
	}
	return false
}

func (m *Module) context() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

type rootObject struct {
	m *Module
}

func (r *rootObject) Raise() *dbus.Error { return nil }
func (r *rootObject) Quit() *dbus.Error  { return nil }

type playerObject struct {
	m *Module
}

func (p *playerObject) Next() *dbus.Error      { return p.m.apply(core.CommandNext) }
func (p *playerObject) Previous() *dbus.Error  { return p.m.apply(core.CommandPrevious) }
func (p *playerObject) Pause() *dbus.Error     { return p.m.apply(core.CommandPause) }
func (p *playerObject) PlayPause() *dbus.Error { return p.m.apply(core.CommandToggle) }
func (p *playerObject) Stop() *dbus.Error      { return p.m.apply(core.CommandStop) }
func (p *playerObject) Play() *dbus.Error      { return p.m.apply(core.CommandPlay) }

// Seek and friends are accepted and ignored.
func (p *playerObject) Seek(offset int64) *dbus.Error { return nil }
func (p *playerObject) SetPosition(trackID dbus.ObjectPath, position int64) *dbus.Error {
	return nil
}
func (p *playerObject) OpenUri(uri string) *dbus.Error { return nil }
