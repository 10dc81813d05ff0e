package lmsbridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mikey-austin/lms_bridge/internal/adapters/lmsclient"
	"github.com/mikey-austin/lms_bridge/pkg/lms"
)

// scriptedLister returns lists[i] on the i-th call and the last entry after.
type scriptedLister struct {
	mu    sync.Mutex
	lists [][]lms.Player
	err   error
	calls int
}

func (s *scriptedLister) Players(ctx context.Context) ([]lms.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	i := min(s.calls-1, len(s.lists)-1)
	return s.lists[i], nil
}

func TestWaitForPlayerAppears(t *testing.T) {
	lister := &scriptedLister{lists: [][]lms.Player{
		{},
		{},
		{{Name: "SqueezeLite", ID: "abc"}},
	}}
	id, err := WaitForPlayer(context.Background(), lister, "SqueezeLite", 5*time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if id != "abc" {
		t.Fatalf("expected abc, got %q", id)
	}
	if lister.calls != 3 {
		t.Fatalf("expected 3 polls, got %d", lister.calls)
	}
}

func TestWaitForPlayerMatchesExactName(t *testing.T) {
	lister := &scriptedLister{lists: [][]lms.Player{
		{{Name: "squeezelite", ID: "lower"}, {Name: "SqueezeLite", ID: "exact"}},
	}}
	id, err := WaitForPlayer(context.Background(), lister, "SqueezeLite", time.Second, 10*time.Millisecond)
	if err != nil || id != "exact" {
		t.Fatalf("expected exact match, got %q %v", id, err)
	}
}

func TestWaitForPlayerTimeout(t *testing.T) {
	lister := &scriptedLister{lists: [][]lms.Player{{{Name: "Other", ID: "x"}}}}
	start := time.Now()
	_, err := WaitForPlayer(context.Background(), lister, "SqueezeLite", time.Second, 100*time.Millisecond)
	var notAvailable *NotAvailableError
	if !errors.As(err, &notAvailable) {
		t.Fatalf("expected NotAvailableError, got %v", err)
	}
	if notAvailable.Elapsed != time.Second || !strings.Contains(err.Error(), "1s") {
		t.Fatalf("expected message naming 1s, got %q", err.Error())
	}
	elapsed := time.Since(start)
	if elapsed < time.Second || elapsed > 3*time.Second {
		t.Fatalf("unexpected wait duration %s", elapsed)
	}
}

func TestWaitForPlayerClientErrorIsFatal(t *testing.T) {
	cause := &lmsclient.Error{Op: "players", Kind: lmsclient.ErrTransport, Err: errors.New("refused")}
	lister := &scriptedLister{err: cause}
	_, err := WaitForPlayer(context.Background(), lister, "SqueezeLite", 5*time.Second, 10*time.Millisecond)
	if !errors.Is(err, lmsclient.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if lister.calls != 1 {
		t.Fatalf("expected a single poll, got %d", lister.calls)
	}
}

func TestWaitForPlayerCancelled(t *testing.T) {
	lister := &scriptedLister{lists: [][]lms.Player{{}}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := WaitForPlayer(ctx, lister, "SqueezeLite", 10*time.Second, 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context error, got %v", err)
	}
}
