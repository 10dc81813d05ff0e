package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mikey-austin/lms_bridge/internal/ports"
	"github.com/mikey-austin/lms_bridge/pkg/lms"
)

// Resolver resolves player selectors against the server's player list.
type Resolver struct {
	Players ports.PlayerLister
	Config  Config
}

// ResolvePlayer resolves a selector using config defaults. With no selector
// and no default, a server with exactly one player resolves to it.
func (r Resolver) ResolvePlayer(ctx context.Context, selector string) (lms.Player, error) {
	if selector == "" {
		selector = r.Config.Defaults.Player
	}

	players, err := r.Players.Players(ctx)
	if err != nil {
		return lms.Player{}, WrapClientError("list players", err)
	}

	if strings.TrimSpace(selector) == "" {
		if len(players) == 1 {
			return players[0], nil
		}
		if len(players) == 0 {
			return lms.Player{}, &CLIError{Code: ExitNotFound, Msg: "no players connected"}
		}
		return lms.Player{}, &CLIError{Code: ExitUsage, Msg: "player selector required: " + suggestionList(players)}
	}
	return resolveSelector(selector, players, r.Config.Aliases)
}

func resolveSelector(selector string, players []lms.Player, aliases map[string]string) (lms.Player, error) {
	selector = strings.TrimSpace(selector)
	if alias, ok := aliases[selector]; ok {
		selector = alias
	}

	for _, p := range players {
		if p.ID == selector {
			return p, nil
		}
	}

	matches := make([]lms.Player, 0)
	for _, p := range players {
		if strings.EqualFold(p.Name, selector) || strings.EqualFold(p.ID, selector) {
			matches = append(matches, p)
		}
	}

	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) == 0 {
		return lms.Player{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("no player matches %q", selector)}
	}
	return lms.Player{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("ambiguous selector %q: %s", selector, suggestionList(matches))}
}

func suggestionList(players []lms.Player) string {
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.ID))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
