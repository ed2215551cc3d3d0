package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig configures exponential backoff for transient launch failures.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     50 * time.Millisecond,
		MaxInterval:         time.Second,
		MaxElapsedTime:      10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerConfig configures the per-executable circuit breakers.
type BreakerConfig struct {
	ConsecutiveFailures uint32        // launch failures before the breaker opens
	OpenTimeout         time.Duration // time spent open before a trial launch
	HalfOpenRequests    uint32
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// Breakers holds one circuit breaker per executable. Only launch failures
// count against a breaker; a tool that runs and exits non-zero is healthy.
type Breakers struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	logger   *slog.Logger
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakers creates an empty breaker set. logger may be nil.
func NewBreakers(cfg BreakerConfig, logger *slog.Logger) *Breakers {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breakers{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for executable, creating it on first use.
func (b *Breakers) Get(executable string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[executable]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        executable,
		MaxRequests: b.cfg.HalfOpenRequests,
		Timeout:     b.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("tool breaker changed state", "tool", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			var se *StartError
			return !errors.As(err, &se)
		},
	})
	b.breakers[executable] = cb
	return cb
}

// Launcher runs task processes with retry, circuit breaking and process
// tracking. The zero value runs processes without any of them.
type Launcher struct {
	Processes *ProcessManager
	Breakers  *Breakers
	Retry     RetryConfig
	Output    OutputFunc

	start func(*exec.Cmd) error
}

// NewLauncher creates a Launcher.
func NewLauncher(pm *ProcessManager, breakers *Breakers, retry RetryConfig, out OutputFunc) *Launcher {
	return &Launcher{
		Processes: pm,
		Breakers:  breakers,
		Retry:     retry,
		Output:    out,
	}
}

// Run executes argv in dir and returns its stdout. When stream is set every
// output line goes to the Launcher's OutputFunc under name.
func (l *Launcher) Run(ctx context.Context, name string, argv []string, dir string, env []string, stream bool) ([]byte, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command line")
	}

	start := l.start
	if start == nil {
		start = (*exec.Cmd).Start
	}
	var out OutputFunc
	if stream {
		out = l.Output
	}

	launch := func() (interface{}, error) {
		cmd := newCommand(ctx, argv, dir, env)
		return runProcess(cmd, l.Processes, start, name, out)
	}

	var stdout []byte
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		var (
			result interface{}
			err    error
		)
		if l.Breakers != nil {
			result, err = l.Breakers.Get(filepath.Base(argv[0])).Execute(launch)
		} else {
			result, err = launch()
		}
		if result != nil {
			stdout = result.([]byte)
		}

		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(fmt.Errorf("%s unavailable: %w", argv[0], err))
		case ctx.Err() != nil:
			return backoff.Permanent(err)
		case transient(err):
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	return stdout, backoff.Retry(operation, backoff.WithContext(l.policy(), ctx))
}

func (l *Launcher) policy() backoff.BackOff {
	cfg := l.Retry
	if cfg.InitialInterval <= 0 {
		cfg = DefaultRetryConfig()
	}
	p := backoff.NewExponentialBackOff()
	p.InitialInterval = cfg.InitialInterval
	p.MaxInterval = cfg.MaxInterval
	p.MaxElapsedTime = cfg.MaxElapsedTime
	p.Multiplier = cfg.Multiplier
	p.RandomizationFactor = cfg.RandomizationFactor
	return p
}

// transient reports launch failures worth retrying: the executable is still
// being written, or the system is briefly out of processes.
func transient(err error) bool {
	var se *StartError
	if !errors.As(err, &se) {
		return false
	}
	return errors.Is(err, syscall.ETXTBSY) || errors.Is(err, syscall.EAGAIN)
}
