package process

import (
	"errors"
	"os/exec"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// shellSpec runs script with the placeholders passed as $0 and $1.
func shellSpec(script string) Spec {
	return Spec{Command: "sh", Args: []string{"-c", script, NamePlaceholder, ServerPlaceholder}}
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		spec Spec
		ok   bool
	}{
		"default":        {Spec{Command: "squeezelite", Args: []string{"-n", "{name}", "-s", "{server}"}}, true},
		"embedded":       {Spec{Command: "player", Args: []string{"--target={name}@{server}"}}, true},
		"missing name":   {Spec{Command: "squeezelite", Args: []string{"-s", "{server}"}}, false},
		"missing server": {Spec{Command: "squeezelite", Args: []string{"-n", "{name}"}}, false},
		"no args":        {Spec{Command: "squeezelite"}, false},
		"no command":     {Spec{Args: []string{"{name}", "{server}"}}, false},
	}
	for name, test := range tests {
		err := test.spec.Validate()
		if test.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
		if !test.ok && !errors.Is(err, ErrInvalidSpec) {
			t.Fatalf("%s: expected ErrInvalidSpec, got %v", name, err)
		}
	}
}

func TestExpand(t *testing.T) {
	spec := Spec{Command: "squeezelite", Args: []string{"-n", "{name}", "-s", "{server}", "-o", "{name}-{server}"}}
	got := spec.Expand("Kitchen", "10.0.0.2:9000")
	want := []string{"-n", "Kitchen", "-s", "10.0.0.2:9000", "-o", "Kitchen-10.0.0.2:9000"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if spec.Args[1] != "{name}" {
		t.Fatalf("expand must not modify the args")
	}
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	_, err := Start(zap.NewNop(), Spec{Command: "definitely-not-run", Args: []string{"{name}"}}, "p", "s")
	if !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
}

func TestStartMissingExecutable(t *testing.T) {
	_, err := Start(zap.NewNop(), Spec{Command: "/nonexistent/squeezelite", Args: []string{"{name}", "{server}"}}, "p", "s")
	if err == nil {
		t.Fatalf("expected start error")
	}
}

func TestExitCode(t *testing.T) {
	requireShell(t)
	proc, err := Start(zap.NewNop(), shellSpec(`test "$0" = Kitchen && test "$1" = lms:9000 && exit 2; exit 9`), "Kitchen", "lms:9000")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("child did not exit")
	}
	code, ok := proc.ExitCode()
	if !ok || code != 2 {
		t.Fatalf("expected exit code 2, got %d (has code %v)", code, ok)
	}
	if proc.Alive() {
		t.Fatalf("expected child to be dead")
	}
	if err := proc.Terminate(time.Second); err != nil {
		t.Fatalf("terminate after exit: %v", err)
	}
}

func TestTerminate(t *testing.T) {
	requireShell(t)
	proc, err := Start(zap.NewNop(), shellSpec("exec sleep 30"), "p", "s")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !proc.Alive() {
		t.Fatalf("expected child to be running")
	}
	if _, ok := proc.ExitCode(); ok {
		t.Fatalf("running child must not report an exit code")
	}
	if err := proc.Terminate(2 * time.Second); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if proc.Alive() {
		t.Fatalf("expected child to be dead")
	}
	if _, ok := proc.ExitCode(); ok {
		t.Fatalf("signalled child must not report an exit code")
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	requireShell(t)
	proc, err := Start(zap.NewNop(), shellSpec("trap '' TERM; exec sleep 30"), "p", "s")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// Let the shell install the trap before signalling.
	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	if err := proc.Terminate(100 * time.Millisecond); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if proc.Alive() {
		t.Fatalf("expected child to be dead")
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatalf("kill must wait for the grace period")
	}
}
