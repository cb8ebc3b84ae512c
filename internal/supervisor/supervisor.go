// Package supervisor implements the pvfs2-client watchdog process from
// spec.md §4.8: fork+exec pvfs2-client-core, forward termination signals
// to it, and restart it within a bounded budget if it exits on its own,
// the way dockerd's cmd/dockerd/trap package traps and forwards signals
// to a supervised child rather than letting the kernel deliver them
// directly.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/pvfs2/client/internal/gossip"
	"github.com/pvfs2/client/pkg/errors"
	"github.com/pvfs2/client/pkg/recovery"
)

// RestartIntervalSecs and MaxRestarts are CLIENT_RESTART_INTERVAL_SECS
// and CLIENT_MAX_RESTARTS: a child that dies and restarts more than
// MaxRestarts times inside a rolling RestartIntervalSecs window exhausts
// the budget and Run returns an error instead of looping forever.
const (
	RestartIntervalSecs = 10
	MaxRestarts         = 10
)

// Process is the seam over *exec.Cmd that lets tests drive a Supervisor
// without spawning a real pvfs2-client-core binary.
type Process interface {
	Wait() error
	Signal(os.Signal) error
	Pid() int
}

// Launcher starts one instance of the child process.
type Launcher func(ctx context.Context, path string, args []string) (Process, error)

// ExecLauncher is the production Launcher: a real fork+exec of path,
// with the child's stdio inherited from the supervisor.
func ExecLauncher(ctx context.Context, path string, args []string) (Process, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap("supervisor", errors.CodeChildSpawnFailed, err).WithOperation("ExecLauncher")
	}
	return &cmdProcess{cmd: cmd}, nil
}

type cmdProcess struct {
	cmd *exec.Cmd
}

func (p *cmdProcess) Wait() error               { return p.cmd.Wait() }
func (p *cmdProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *cmdProcess) Pid() int                   { return p.cmd.Process.Pid }

// Config configures a Supervisor.
type Config struct {
	// Path is the pvfs2-client-core binary to run (internal/config's
	// GlobalConfig.CorePath).
	Path string
	Args []string

	// Launch defaults to ExecLauncher; tests override it with a fake.
	Launch Launcher

	// Recovery wraps every spawn attempt, retrying transient fork/exec
	// failures with backoff (pkg/recovery, itself built on pkg/retry).
	// Defaults to recovery.NewManager(recovery.DefaultConfig()) if nil.
	Recovery *recovery.Manager

	Gossip *gossip.Logger

	RestartIntervalSecs int
	MaxRestarts         int

	Now func() time.Time
}

// Supervisor runs and restarts one pvfs2-client-core child within the
// configured restart budget, forwarding signals to whichever child
// instance is currently running.
type Supervisor struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	current Process
}

// New validates cfg and returns a Supervisor ready for Run.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Path == "" {
		return nil, errors.New("supervisor", errors.CodeInvalidConfig, "path to pvfs2-client-core is required").
			WithOperation("New")
	}
	if cfg.Launch == nil {
		cfg.Launch = ExecLauncher
	}
	if cfg.Recovery == nil {
		rc := recovery.DefaultConfig()
		rc.Gossip = cfg.Gossip
		cfg.Recovery = recovery.NewManager(rc)
	}
	if cfg.RestartIntervalSecs <= 0 {
		cfg.RestartIntervalSecs = RestartIntervalSecs
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = MaxRestarts
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Supervisor{cfg: cfg, now: now}, nil
}

// Run launches the child and relaunches it every time it exits on its
// own, until ctx is cancelled or the restart budget is exhausted within
// a single RestartIntervalSecs window.
func (s *Supervisor) Run(ctx context.Context) error {
	var restarts int
	var lastExit time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var proc Process
		spawnErr := s.cfg.Recovery.Execute(ctx, "supervisor", "spawn", func(ctx context.Context) error {
			p, err := s.cfg.Launch(ctx, s.cfg.Path, s.cfg.Args)
			if err != nil {
				return err
			}
			proc = p
			return nil
		})
		if spawnErr != nil {
			return spawnErr
		}

		s.mu.Lock()
		s.current = proc
		s.mu.Unlock()
		s.log("spawned pvfs2-client-core", map[string]interface{}{"pid": proc.Pid()})

		waitCh := make(chan error, 1)
		go func() { waitCh <- proc.Wait() }()
		var waitErr error
		select {
		case <-ctx.Done():
			return nil
		case waitErr = <-waitCh:
		}
		if ctx.Err() != nil {
			return nil
		}

		now := s.now()
		if !lastExit.IsZero() && now.Sub(lastExit) < time.Duration(s.cfg.RestartIntervalSecs)*time.Second {
			restarts++
		} else {
			restarts = 1
		}
		lastExit = now

		s.log("pvfs2-client-core exited", map[string]interface{}{"error": errString(waitErr), "restart": restarts})

		if restarts > s.cfg.MaxRestarts {
			return errors.New("supervisor", errors.CodeRestartBudgetExceeded,
				fmt.Sprintf("pvfs2-client-core restarted %d times within %ds", restarts, s.cfg.RestartIntervalSecs)).
				WithOperation("Run")
		}
	}
}

// Signal forwards sig to the currently running child, if any, so the
// supervisor's own signal handler can hand SIGTERM/SIGHUP/SIGINT
// straight through instead of the kernel delivering them independently.
func (s *Supervisor) Signal(sig os.Signal) error {
	s.mu.Lock()
	proc := s.current
	s.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.Signal(sig)
}

func (s *Supervisor) log(msg string, fields map[string]interface{}) {
	if s.cfg.Gossip == nil {
		return
	}
	s.cfg.Gossip.Log(gossip.FacilitySupervisor, msg, fields)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
