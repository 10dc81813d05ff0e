package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// Port is the well-known discovery port of the control server.
const Port = 3483

// TimeoutError is returned when the overall discovery deadline elapses.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no control server answered within %s", e.Elapsed)
}

// Client broadcasts discovery probes.
type Client struct {
	log *zap.Logger
	// Target is where probes are sent; defaults to the IPv4 broadcast
	// address on Port.
	Target *net.UDPAddr
	// BufferSize bounds a single reply datagram.
	BufferSize int
}

// Discoverer sends probes until a reply arrives or ctx ends.
type Discoverer interface {
	Discover(ctx context.Context, attempt time.Duration) (Reply, error)
}

// NewClient creates a discovery client.
func NewClient(log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		log:        log,
		Target:     &net.UDPAddr{IP: net.IPv4bcast, Port: Port},
		BufferSize: 1024,
	}
}

// Discover sends a probe and waits up to attempt for an answer, repeating
// until a reply arrives or ctx is done. A reply that fails to parse ends
// discovery.
func (c *Client) Discover(ctx context.Context, attempt time.Duration) (Reply, error) {
	if attempt <= 0 {
		attempt = time.Second
	}
	// Go enables SO_BROADCAST on UDP sockets.
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return Reply{}, fmt.Errorf("bind discovery socket: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	c.log.Info("discovering control server", zap.Stringer("target", c.Target))
	buf := make([]byte, c.BufferSize)
	for attemptNo := 1; ; attemptNo++ {
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}
		if _, err := conn.WriteToUDP(Probe, c.Target); err != nil {
			return Reply{}, fmt.Errorf("send discovery probe: %w", err)
		}
		if err := conn.SetReadDeadline(time.Now().Add(attempt)); err != nil {
			return Reply{}, err
		}
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return Reply{}, ctxErr
				}
				c.log.Debug("discovery attempt timed out", zap.Int("attempt", attemptNo), zap.Duration("timeout", attempt))
				continue
			}
			return Reply{}, fmt.Errorf("receive discovery reply: %w", err)
		}
		reply, err := ParseReply(buf[:n])
		if err != nil {
			return Reply{}, fmt.Errorf("reply from %s: %w", from, err)
		}
		reply.Addr = from.IP
		c.log.Info("found control server",
			zap.String("addr", from.IP.String()),
			zap.String("hostname", reply.Hostname),
			zap.Uint16("port", reply.Port),
			zap.String("version", reply.Version),
		)
		return reply, nil
	}
}

// DiscoverWithin runs Discover under an overall deadline. Exceeding it
// yields a *TimeoutError; cancellation of ctx itself is returned as is.
func DiscoverWithin(ctx context.Context, c Discoverer, overall time.Duration, attempt time.Duration) (Reply, error) {
	dctx, cancel := context.WithTimeout(ctx, overall)
	defer cancel()
	reply, err := c.Discover(dctx, attempt)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return Reply{}, &TimeoutError{Elapsed: overall}
	}
	return reply, err
}
