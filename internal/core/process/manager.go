package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Daemon is an external helper process (aria2c) owned by medialoader.
type Daemon interface {
	Name() string
	Command() (bin string, args []string)
	ReadyCheck() ReadyProbe
	Healthy(ctx context.Context) bool
}

type ReadyProbe struct {
	Check    func(ctx context.Context) bool
	Interval time.Duration
	Timeout  time.Duration
}

var ErrNotReady = errors.New("daemon not ready")

const (
	stopGracePeriod = 5 * time.Second
	watchInterval   = 5 * time.Second
	maxRestartDelay = time.Minute
)

// Manager runs daemons as child processes and restarts them when their
// health probe fails.
type Manager struct {
	mu      sync.Mutex
	daemons []*child
}

type child struct {
	daemon   Daemon
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	exited   chan struct{}
	restarts int
	nextTry  time.Time
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) Register(d Daemon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daemons = append(m.daemons, &child{daemon: d})
}

// StartAll launches every registered daemon and blocks until each one passes
// its ready probe.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.daemons {
		if err := m.start(ctx, c); err != nil {
			return fmt.Errorf("start %s: %w", c.daemon.Name(), err)
		}
	}
	return nil
}

func (m *Manager) start(ctx context.Context, c *child) error {
	bin, args := c.daemon.Command()
	// The child outlives ctx; StopAll terminates it explicitly.
	procCtx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(procCtx, bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	log.Info().Str("daemon", c.daemon.Name()).Str("bin", bin).Msg("starting daemon")
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start process: %w", err)
	}

	c.cmd = cmd
	c.cancel = cancel
	c.exited = make(chan struct{})
	go func(cmd *exec.Cmd, exited chan struct{}) {
		_ = cmd.Wait()
		close(exited)
	}(cmd, c.exited)

	return waitReady(ctx, c)
}

func waitReady(ctx context.Context, c *child) error {
	probe := c.daemon.ReadyCheck()
	interval := probe.Interval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	deadline := time.NewTimer(probe.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if probe.Check(ctx) {
			log.Info().Str("daemon", c.daemon.Name()).Msg("daemon ready")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.exited:
			return fmt.Errorf("%w: %s exited during startup", ErrNotReady, c.daemon.Name())
		case <-deadline.C:
			return fmt.Errorf("%w: %s after %s", ErrNotReady, c.daemon.Name(), probe.Timeout)
		case <-ticker.C:
		}
	}
}

// StopAll interrupts every running daemon in parallel and kills the ones
// still alive after the grace period.
func (m *Manager) StopAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range m.daemons {
		if c.cmd == nil || c.cmd.Process == nil {
			continue
		}
		wg.Add(1)
		go func(c *child) {
			defer wg.Done()
			stop(c)
		}(c)
	}
	wg.Wait()
	return nil
}

func stop(c *child) {
	log.Info().Str("daemon", c.daemon.Name()).Msg("stopping daemon")
	_ = c.cmd.Process.Signal(os.Interrupt)

	select {
	case <-c.exited:
	case <-time.After(stopGracePeriod):
		_ = c.cmd.Process.Kill()
		<-c.exited
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.cmd = nil
}

// Watch probes daemons until ctx ends, restarting unhealthy ones with an
// exponential delay between attempts.
func (m *Manager) Watch(ctx context.Context) {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAndRestart(ctx)
		}
	}
}

func (m *Manager) checkAndRestart(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, c := range m.daemons {
		if c.cmd == nil || c.daemon.Healthy(ctx) {
			if c.cmd != nil {
				c.restarts = 0
			}
			continue
		}
		if now.Before(c.nextTry) {
			continue
		}

		log.Warn().Str("daemon", c.daemon.Name()).Int("restarts", c.restarts).Msg("daemon unhealthy, restarting")
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
			<-c.exited
		}
		if c.cancel != nil {
			c.cancel()
		}

		c.restarts++
		c.nextTry = now.Add(restartDelay(c.restarts))
		if err := m.start(ctx, c); err != nil {
			log.Error().Err(err).Str("daemon", c.daemon.Name()).Msg("restart failed")
		}
	}
}

func restartDelay(attempt int) time.Duration {
	d := time.Second << min(attempt, 6)
	return min(d, maxRestartDelay)
}
