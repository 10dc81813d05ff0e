package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Placeholders substituted into the argument list at launch.
const (
	NamePlaceholder   = "{name}"
	ServerPlaceholder = "{server}"
)

// ErrInvalidSpec is returned when a launch spec is rejected before spawning.
var ErrInvalidSpec = errors.New("invalid process spec")

// Spec describes the managed player executable.
type Spec struct {
	Command string
	Args    []string
}

// Validate checks that the command is set and that the argument list
// references both placeholders at least once.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("%w: command required", ErrInvalidSpec)
	}
	var hasName, hasServer bool
	for _, arg := range s.Args {
		if strings.Contains(arg, NamePlaceholder) {
			hasName = true
		}
		if strings.Contains(arg, ServerPlaceholder) {
			hasServer = true
		}
	}
	if !hasName {
		return fmt.Errorf("%w: arguments must contain %s", ErrInvalidSpec, NamePlaceholder)
	}
	if !hasServer {
		return fmt.Errorf("%w: arguments must contain %s", ErrInvalidSpec, ServerPlaceholder)
	}
	return nil
}

// Expand returns the argument list with placeholders substituted.
func (s Spec) Expand(name, server string) []string {
	r := strings.NewReplacer(NamePlaceholder, name, ServerPlaceholder, server)
	out := make([]string, len(s.Args))
	for i, arg := range s.Args {
		out[i] = r.Replace(arg)
	}
	return out
}

// Process is a running managed child.
type Process struct {
	log  *zap.Logger
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	code    int
	hasCode bool
	waitErr error
}

// Start validates spec and launches it. The child's stdout and stderr are
// written to log line by line.
func Start(log *zap.Logger, spec Spec, name, server string) (*Process, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	args := spec.Expand(name, server)
	cmd := exec.Command(spec.Command, args...)
	cmd.Stdout = zap.NewStdLog(log.With(zap.String("stream", "stdout"))).Writer()
	cmd.Stderr = zap.NewStdLog(log.With(zap.String("stream", "stderr"))).Writer()
	// Grandchildren holding the pipes must not stall Wait forever.
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}
	p := &Process{
		log:  log,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	log.Info("child started",
		zap.String("command", spec.Command),
		zap.Strings("args", args),
		zap.Int("pid", cmd.Process.Pid),
	)
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	if state := p.cmd.ProcessState; state != nil {
		p.code = state.ExitCode()
		p.hasCode = p.code >= 0
	}
	p.mu.Unlock()
	p.log.Info("child exited", zap.Int("code", p.code), zap.Bool("has_code", p.hasCode), zap.Error(err))
	close(p.done)
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode reports the exit status. hasCode is false while the child is
// running and when it was ended by a signal.
func (p *Process) ExitCode() (code int, hasCode bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.hasCode
}

// Alive reports whether the child has not yet exited.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Terminate sends SIGTERM and waits up to grace for the child to exit
// before killing it. It is a no-op when the child already exited.
func (p *Process) Terminate(grace time.Duration) error {
	if !p.Alive() {
		return nil
	}
	p.log.Info("terminating child", zap.Int("pid", p.PID()), zap.Duration("grace", grace))
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal child: %w", err)
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}
	p.log.Warn("child ignored SIGTERM, killing", zap.Int("pid", p.PID()))
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill child: %w", err)
	}
	<-p.done
	return nil
}
