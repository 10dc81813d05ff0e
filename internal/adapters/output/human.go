package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"

	"github.com/mikey-austin/lms_bridge/internal/core"
	"github.com/mikey-austin/lms_bridge/pkg/lms"
)

// HumanPrinter prints human-readable output to Out, or stdout when Out is
// nil.
type HumanPrinter struct {
	Out io.Writer
}

// Print renders human output.
func (p HumanPrinter) Print(v any) error {
	w := writer(p.Out)
	switch data := v.(type) {
	case core.PlayersResult:
		return printPlayers(w, data)
	case core.ServerResult:
		return printServer(w, data)
	case core.DiscoverResult:
		return printDiscover(w, data)
	case core.StatusResult:
		return printStatus(w, data)
	case core.CommandResult:
		_, err := fmt.Fprintf(w, "%s: %s\n", data.Player.Name, data.Command)
		return err
	default:
		_, err := fmt.Fprintln(w, "ok")
		return err
	}
}

func printPlayers(w io.Writer, result core.PlayersResult) error {
	if len(result.Players) == 0 {
		_, err := fmt.Fprintln(w, "no players")
		return err
	}
	data := pterm.TableData{{"NAME", "ID", "MODEL", "IP"}}
	for _, player := range result.Players {
		data = append(data, []string{player.Name, player.ID, player.Model, player.IP})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, table)
	return err
}

func printServer(w io.Writer, result core.ServerResult) error {
	_, err := fmt.Fprintf(w, "%s  version %s  %d players\n", result.Endpoint, result.Version, result.PlayerCount)
	return err
}

func printDiscover(w io.Writer, result core.DiscoverResult) error {
	name := result.Hostname
	if name == "" {
		name = result.Address
	}
	line := fmt.Sprintf("%s  %s:%d  version %s", name, result.Address, result.Port, result.Version)
	if result.UUID != "" {
		line += "  uuid " + result.UUID
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func printStatus(w io.Writer, result core.StatusResult) error {
	state := result.State
	parts := []string{result.Player.Name, "[" + modeStyle(state.Mode).Sprint(state.Mode.String()) + "]"}
	if item := formatTrack(state); item != "" {
		parts = append(parts, item)
	}
	if _, err := fmt.Fprintln(w, strings.Join(parts, "  ")); err != nil {
		return err
	}
	queue := "Playlist: empty"
	if state.Tracks > 0 {
		queue = fmt.Sprintf("Playlist: track %d of %d", state.Index+1, state.Tracks)
	}
	_, err := fmt.Fprintf(w, "%s  shuffle %s\n", queue, state.Shuffle)
	return err
}

func formatTrack(state core.NowPlaying) string {
	item := state.Title
	if state.Artist != "" {
		if item == "" {
			item = state.Artist
		} else {
			item = state.Artist + " - " + item
		}
	}
	if state.Album != "" && item != "" {
		item += " (" + state.Album + ")"
	}
	return item
}

func modeStyle(mode lms.Mode) *pterm.Style {
	switch mode {
	case lms.ModePlaying:
		return pterm.NewStyle(pterm.FgGreen)
	case lms.ModePaused:
		return pterm.NewStyle(pterm.FgYellow)
	default:
		return pterm.NewStyle(pterm.FgGray)
	}
}
