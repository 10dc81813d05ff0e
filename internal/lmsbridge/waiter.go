package lmsbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/mikey-austin/lms_bridge/internal/ports"
)

// WaitForPlayer polls the player list until a player named name appears
// and returns its id. Polls are spaced by interval. Any list failure ends
// the wait.
func WaitForPlayer(ctx context.Context, lister ports.PlayerLister, name string, timeout, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		players, err := lister.Players(ctx)
		if err != nil {
			return "", fmt.Errorf("wait for player %q: %w", name, err)
		}
		for _, p := range players {
			if p.Name == name {
				return p.ID, nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", &NotAvailableError{Player: name, Elapsed: timeout}
		}
		timer := time.NewTimer(min(interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}
