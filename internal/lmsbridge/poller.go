package lmsbridge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/lms_bridge/internal/ports"
	"github.com/mikey-austin/lms_bridge/pkg/lms"
)

// Poller watches a player's playback mode and notifies on every change.
type Poller struct {
	Log      *zap.Logger
	Source   ports.ModeSource
	Notifier ports.Notifier
	PlayerID string
	Interval time.Duration
}

// Run polls until ctx is cancelled, which returns nil. Query failures skip
// the iteration; they are already reported on the client's error channel.
// A notification failure stops the poller.
func (p Poller) Run(ctx context.Context) error {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *lms.Mode
	for {
		mode, err := p.Source.Mode(ctx, p.PlayerID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			log.Debug("mode poll failed", zap.Error(err))
		case last == nil || *last != mode:
			from := "none"
			if last != nil {
				from = last.String()
			}
			log.Info("playback mode changed", zap.String("from", from), zap.Stringer("to", mode))
			last = &mode
			if err := p.Notifier.Notify(ctx); err != nil {
				return fmt.Errorf("notify: %w", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Notifiers fans a notification out to several notifiers in order.
type Notifiers []ports.Notifier

// Notify calls every notifier and returns the first failure.
func (n Notifiers) Notify(ctx context.Context) error {
	for _, notifier := range n {
		if err := notifier.Notify(ctx); err != nil {
			return err
		}
	}
	return nil
}
