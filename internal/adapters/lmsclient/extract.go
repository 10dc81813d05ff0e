package lmsclient

import (
	"fmt"
	"strconv"

	"github.com/mikey-austin/lms_bridge/pkg/lms"
)

// Extractors coerce a located result value into a Go type. Each accepts
// only the documented aliases; the caller classifies failures as
// ErrWrongType.

func asString(v lms.Value) (string, error) {
	if s, ok := v.Str(); ok {
		return s, nil
	}
	return "", wrongType(v, "string")
}

// asBool accepts a JSON bool or an integer, where non-zero is true.
func asBool(v lms.Value) (bool, error) {
	switch v.Kind() {
	case lms.KindBool:
		b, _ := v.Bool()
		return b, nil
	case lms.KindNumber:
		n, _ := v.Number()
		i, err := n.Int64()
		if err != nil {
			return false, wrongType(v, "integer")
		}
		return i != 0, nil
	default:
		return false, wrongType(v, "bool")
	}
}

// asUint accepts a non-negative integer number or its decimal string form.
func asUint(v lms.Value) (uint64, error) {
	var text string
	switch v.Kind() {
	case lms.KindNumber:
		n, _ := v.Number()
		text = n.String()
	case lms.KindString:
		text, _ = v.Str()
	default:
		return 0, wrongType(v, "unsigned integer")
	}
	u, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, wrongType(v, "unsigned integer")
	}
	return u, nil
}

func asMode(v lms.Value) (lms.Mode, error) {
	s, ok := v.Str()
	if !ok {
		return lms.ModeStopped, wrongType(v, "mode string")
	}
	mode, ok := lms.ParseMode(s)
	if !ok {
		return lms.ModeStopped, wrongType(v, "stop, play or pause")
	}
	return mode, nil
}

func asShuffle(v lms.Value) (lms.Shuffle, error) {
	switch v.Kind() {
	case lms.KindString:
		s, _ := v.Str()
		if shuffle, ok := lms.ParseShuffle(s); ok {
			return shuffle, nil
		}
	case lms.KindNumber:
		n, _ := v.Number()
		if code, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			if shuffle, ok := lms.ShuffleFromCode(code); ok {
				return shuffle, nil
			}
		}
	}
	return lms.ShuffleOff, wrongType(v, "0, 1 or 2")
}

func asPlayers(v lms.Value) ([]lms.Player, error) {
	if v.Kind() != lms.KindArray {
		return nil, wrongType(v, "array")
	}
	var players []lms.Player
	if err := v.Decode(&players); err != nil {
		return nil, fmt.Errorf("players: %w", err)
	}
	return players, nil
}

func wrongType(v lms.Value, want string) error {
	return fmt.Errorf("expected %s, got %s", want, v)
}
