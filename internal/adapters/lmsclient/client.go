package lmsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/lms_bridge/pkg/lms"
)

// Options configures a control client.
type Options struct {
	// Address is host:port or a base URL of the control server.
	Address  string
	Timeout  time.Duration
	KeyStyle lms.KeyStyle
	Logger   *zap.Logger
}

// Client talks to one control server. Every failed operation is returned
// to its caller and also forwarded once on the Errors channel.
type Client struct {
	log      *zap.Logger
	endpoint string
	http     *http.Client
	keys     lms.KeyStyle
	errs     chan error
	done     chan struct{}
	once     sync.Once
}

// NewClient creates a control client.
func NewClient(opts Options) (*Client, error) {
	address := strings.TrimSpace(opts.Address)
	if address == "" {
		return nil, errors.New("control server address required")
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	parsed, err := url.Parse(address)
	if err != nil {
		return nil, err
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid control server address %q", opts.Address)
	}
	if !strings.HasSuffix(parsed.Path, lms.RPCPath) {
		parsed.Path = path.Join("/", parsed.Path, lms.RPCPath)
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		log:      opts.Logger,
		endpoint: parsed.String(),
		http:     &http.Client{Timeout: opts.Timeout},
		keys:     opts.KeyStyle,
		// Capacity one: a second failure blocks its caller until the
		// supervisor drains the first.
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}, nil
}

// Close releases callers blocked on a full error channel. Later failures
// are still returned but no longer wait for a reader.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// Endpoint returns the RPC URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Errors yields failures of any operation on this client.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// Version returns the server version.
func (c *Client) Version(ctx context.Context) (string, error) {
	req, key := lms.VersionRequest()
	return query(ctx, c, "version", req, key, asString)
}

// Connected reports whether a player is connected to the server.
func (c *Client) Connected(ctx context.Context, playerID string) (bool, error) {
	req, key := lms.ConnectedRequest(playerID)
	return query(ctx, c, "connected", req, key, asBool)
}

// Index returns the current playlist index.
func (c *Client) Index(ctx context.Context, playerID string) (uint64, error) {
	req, key := lms.IndexRequest(playerID)
	return query(ctx, c, "index", req, key, asUint)
}

// TrackCount returns the number of tracks in the playlist.
func (c *Client) TrackCount(ctx context.Context, playerID string) (uint64, error) {
	req, key := lms.TrackCountRequest(playerID)
	return query(ctx, c, "track count", req, key, asUint)
}

// Shuffle returns the shuffle mode.
func (c *Client) Shuffle(ctx context.Context, playerID string) (lms.Shuffle, error) {
	req, key := lms.ShuffleRequest(playerID)
	return query(ctx, c, "shuffle", req, key, asShuffle)
}

// Mode returns the playback mode.
func (c *Client) Mode(ctx context.Context, playerID string) (lms.Mode, error) {
	req, key := lms.ModeRequest(playerID)
	return query(ctx, c, "mode", req, key, asMode)
}

// Artist returns the current track artist. ok is false when the server
// omits the field (no current track, or a stream without one).
func (c *Client) Artist(ctx context.Context, playerID string) (artist string, ok bool, err error) {
	req, key := lms.ArtistRequest(playerID)
	return c.optionalString(ctx, "artist", req, key)
}

// Title returns the current track title; see Artist.
func (c *Client) Title(ctx context.Context, playerID string) (title string, ok bool, err error) {
	req, key := lms.TitleRequest(playerID)
	return c.optionalString(ctx, "title", req, key)
}

// Album returns the current track album; see Artist.
func (c *Client) Album(ctx context.Context, playerID string) (album string, ok bool, err error) {
	req, key := lms.AlbumRequest(playerID)
	return c.optionalString(ctx, "album", req, key)
}

// Players lists the players known to the server. The server omits the
// list entirely when it has none.
func (c *Client) Players(ctx context.Context) ([]lms.Player, error) {
	const op = "players"
	req, key := lms.PlayersRequest()
	resp, err := c.post(ctx, op, req)
	if err != nil {
		return nil, c.fail(ctx, err)
	}
	v, name, ok, err := resp.Lookup(c.keys, key)
	if err != nil {
		return nil, c.fail(ctx, newError(op, ErrResultShape, "", err))
	}
	if !ok {
		return []lms.Player{}, nil
	}
	players, err := asPlayers(v)
	if err != nil {
		return nil, c.fail(ctx, newError(op, ErrWrongType, name, err))
	}
	c.log.Debug("lms converted", zap.String("op", op), zap.Int("players", len(players)))
	return players, nil
}

// PlayerCount returns the number of players known to the server.
func (c *Client) PlayerCount(ctx context.Context) (uint64, error) {
	req, key := lms.PlayerCountRequest()
	return query(ctx, c, "player count", req, key, asUint)
}

// Play starts playback.
func (c *Client) Play(ctx context.Context, playerID string) error {
	return c.command(ctx, "play", lms.PlayRequest(playerID))
}

// Stop stops playback.
func (c *Client) Stop(ctx context.Context, playerID string) error {
	return c.command(ctx, "stop", lms.StopRequest(playerID))
}

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context, playerID string) error {
	return c.command(ctx, "pause", lms.PauseRequest(playerID))
}

// PlayPause toggles between playing and paused.
func (c *Client) PlayPause(ctx context.Context, playerID string) error {
	return c.command(ctx, "play/pause", lms.PlayPauseRequest(playerID))
}

// Previous skips to the previous track.
func (c *Client) Previous(ctx context.Context, playerID string) error {
	return c.command(ctx, "previous", lms.PreviousRequest(playerID))
}

// Next skips to the next track.
func (c *Client) Next(ctx context.Context, playerID string) error {
	return c.command(ctx, "next", lms.NextRequest(playerID))
}

func query[T any](ctx context.Context, c *Client, op string, req lms.Request, key lms.Key, extract func(lms.Value) (T, error)) (T, error) {
	var zero T
	v, name, err := c.locate(ctx, op, req, key)
	if err != nil {
		return zero, c.fail(ctx, err)
	}
	out, err := extract(v)
	if err != nil {
		return zero, c.fail(ctx, newError(op, ErrWrongType, name, err))
	}
	c.log.Debug("lms converted", zap.String("op", op), zap.Any("value", out))
	return out, nil
}

func (c *Client) optionalString(ctx context.Context, op string, req lms.Request, key lms.Key) (string, bool, error) {
	v, name, err := c.locate(ctx, op, req, key)
	if errors.Is(err, ErrKeyAbsent) {
		c.log.Debug("lms field absent", zap.String("op", op))
		return "", false, nil
	}
	if err != nil {
		return "", false, c.fail(ctx, err)
	}
	s, err := asString(v)
	if err != nil {
		return "", false, c.fail(ctx, newError(op, ErrWrongType, name, err))
	}
	return s, true, nil
}

// locate posts req and finds key in the result object.
func (c *Client) locate(ctx context.Context, op string, req lms.Request, key lms.Key) (lms.Value, string, error) {
	resp, err := c.post(ctx, op, req)
	if err != nil {
		return lms.Value{}, "", err
	}
	v, name, ok, err := resp.Lookup(c.keys, key)
	if err != nil {
		return lms.Value{}, "", newError(op, ErrResultShape, "", err)
	}
	if !ok {
		return lms.Value{}, "", newError(op, ErrKeyAbsent, strings.Join(c.keys.Candidates(key), "|"), nil)
	}
	return v, name, nil
}

func (c *Client) command(ctx context.Context, op string, req lms.Request) error {
	if _, err := c.post(ctx, op, req); err != nil {
		return c.fail(ctx, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, op string, req lms.Request) (lms.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return lms.Response{}, newError(op, ErrTransport, "", err)
	}
	c.log.Debug("lms request",
		zap.String("op", op),
		zap.String("target", req.Params.Target),
		zap.Strings("tokens", req.Params.Tokens),
	)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return lms.Response{}, newError(op, ErrTransport, "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return lms.Response{}, newError(op, ErrTransport, "", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return lms.Response{}, newError(op, ErrTransport, "", err)
	}
	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return lms.Response{}, newError(op, ErrTransport, "", fmt.Errorf("lms error: %s", msg))
	}
	var out lms.Response
	if err := json.Unmarshal(data, &out); err != nil {
		return lms.Response{}, newError(op, ErrDecode, "", err)
	}
	c.log.Debug("lms response", zap.String("op", op), zap.Stringer("result", out.Result))
	return out, nil
}

// fail forwards err on the error channel and returns it. Delivery waits
// for room in the channel unless ctx ends or the client is closed first.
func (c *Client) fail(ctx context.Context, err error) error {
	select {
	case c.errs <- err:
		return err
	default:
	}
	select {
	case c.errs <- err:
	case <-ctx.Done():
		c.log.Warn("lms error not forwarded", zap.Error(err))
	case <-c.done:
		c.log.Debug("lms error after close", zap.Error(err))
	}
	return err
}
