package bridge

import "testing"

func TestValidateCommandEnvelope(t *testing.T) {
	cmd, err := NewCommand(CmdPlay, nil)
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	cmd.ID = "id"
	cmd.TS = 1
	cmd.From = "tester"
	if err := ValidateCommandEnvelope(cmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmd.Body = []byte("{broken")
	if err := ValidateCommandEnvelope(cmd); err == nil {
		t.Fatalf("expected body error")
	}
}

func TestValidateCommandEnvelopeMissingFields(t *testing.T) {
	cmd := CommandEnvelope{}
	if err := ValidateCommandEnvelope(cmd); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPlaybackAction(t *testing.T) {
	tests := map[string]string{
		CmdPlay:     "play",
		CmdPause:    "pause",
		CmdToggle:   "toggle",
		CmdStop:     "stop",
		CmdNext:     "next",
		CmdPrevious: "prev",
	}
	for cmdType, want := range tests {
		got, ok := PlaybackAction(cmdType)
		if !ok || got != want {
			t.Fatalf("%s: expected %s, got %q", cmdType, want, got)
		}
	}
	for _, cmdType := range []string{CmdStateGet, "playback.seek", "play"} {
		if _, ok := PlaybackAction(cmdType); ok {
			t.Fatalf("%s: expected no playback action", cmdType)
		}
	}
}

func TestTopics(t *testing.T) {
	if TopicPresence("lms", "n1") != "lms/node/n1/presence" {
		t.Fatalf("unexpected presence topic")
	}
	if TopicState("lms", "n1") != "lms/node/n1/state" {
		t.Fatalf("unexpected state topic")
	}
	if TopicCommands("lms", "n1") != "lms/node/n1/cmd" {
		t.Fatalf("unexpected command topic")
	}
	if TopicReply("lms", "c1") != "lms/reply/c1" {
		t.Fatalf("unexpected reply topic")
	}
}

func TestNodeID(t *testing.T) {
	if got := NodeID("00:04:20:AA:bb:cc"); got != "lms-00-04-20-aa-bb-cc" {
		t.Fatalf("unexpected node id %s", got)
	}
}
