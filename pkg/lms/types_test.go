package lms

import "testing"

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"stop", ModeStopped, true},
		{"play", ModePlaying, true},
		{"pause", ModePaused, true},
		{"Play", ModeStopped, false},
		{"", ModeStopped, false},
	}
	for _, test := range tests {
		got, ok := ParseMode(test.in)
		if ok != test.ok || got != test.want {
			t.Fatalf("mode %q: expected %v/%v got %v/%v", test.in, test.want, test.ok, got, ok)
		}
	}
}

func TestShuffleMappings(t *testing.T) {
	if s, ok := ParseShuffle("1"); !ok || s != ShuffleBySong {
		t.Fatalf("expected by song")
	}
	if s, ok := ShuffleFromCode(1); !ok || s != ShuffleBySong {
		t.Fatalf("expected by song")
	}
	if _, ok := ParseShuffle("3"); ok {
		t.Fatalf("expected 3 to be rejected")
	}
	if _, ok := ShuffleFromCode(3); ok {
		t.Fatalf("expected 3 to be rejected")
	}
}
