// Package readiness decides when a started service is ready enough for the
// next one to be launched.
//
// The default probe is a fixed settle delay. HTTP and Prometheus-text
// probes poll an endpoint instead. Every probe aborts as soon as the
// watched process exits or the context is cancelled.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// Sentinel errors returned by probes. Callers can match these with
// errors.Is through wrapped error chains.
var (
	// ErrIntervalNotPositive indicates a non-positive poll interval.
	ErrIntervalNotPositive = errors.New("interval must be positive")

	// ErrTimeoutNotPositive indicates a non-positive timeout.
	ErrTimeoutNotPositive = errors.New("timeout must be positive")

	// ErrProcessExited indicates the process exited before becoming ready.
	ErrProcessExited = errors.New("process exited before becoming ready")
)

const (
	// DefaultSettleDelay is the pause between starting the backend and
	// starting the dashboard.
	DefaultSettleDelay = 2 * time.Second

	// DefaultInterval is the poll interval for endpoint probes.
	DefaultInterval = 250 * time.Millisecond

	// DefaultTimeout bounds endpoint probes.
	DefaultTimeout = 60 * time.Second
)

// Target is what a probe watches.
type Target struct {
	// Name identifies the service in errors and logs.
	Name string

	// Exited is closed when the service's process exits. May be nil.
	Exited <-chan struct{}
}

// Probe waits until a service is ready.
type Probe interface {
	// Name returns a short description, e.g. "delay 2s".
	Name() string

	// Wait blocks until the target is ready, the target exits, or ctx is
	// done.
	Wait(ctx context.Context, target Target) error
}

// =============================================================================
// Delay
// =============================================================================

type delayProbe struct {
	d time.Duration
}

// Delay returns a probe that waits for a fixed duration.
func Delay(d time.Duration) Probe {
	return delayProbe{d: d}
}

func (p delayProbe) Name() string {
	return "delay " + p.d.String()
}

func (p delayProbe) Wait(ctx context.Context, target Target) error {
	if p.d <= 0 {
		return exitedErr(target)
	}
	t := time.NewTimer(p.d)
	defer t.Stop()

	select {
	case <-t.C:
		return exitedErr(target)
	case <-target.Exited:
		return fmt.Errorf("process %s: %w", target.Name, ErrProcessExited)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exitedErr reports ErrProcessExited if the target has already exited.
func exitedErr(target Target) error {
	if target.Exited == nil {
		return nil
	}
	select {
	case <-target.Exited:
		return fmt.Errorf("process %s: %w", target.Name, ErrProcessExited)
	default:
		return nil
	}
}

// =============================================================================
// None
// =============================================================================

type noneProbe struct{}

// None returns a probe that is immediately ready.
func None() Probe {
	return noneProbe{}
}

func (noneProbe) Name() string { return "none" }

func (noneProbe) Wait(ctx context.Context, _ Target) error {
	return ctx.Err()
}

// =============================================================================
// WaitReady
// =============================================================================

// Check is a function that checks if a service is ready.
// The attempt parameter is 1-based. It returns true when ready, false to
// continue polling, and a non-nil error to abort.
type Check func(ctx context.Context, attempt int) (ready bool, err error)

// PollConfig configures WaitReady.
type PollConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
}

// WaitReady polls check until it reports ready, it fails, the timeout
// elapses, or the target exits.
func WaitReady(ctx context.Context, target Target, cfg PollConfig, check Check) error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("wait for %s: %w", target.Name, ErrIntervalNotPositive)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("wait for %s: %w", target.Name, ErrTimeoutNotPositive)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	// PollUntilContextTimeout calls the condition sequentially, so attempt
	// needs no synchronization.
	attempt := 0
	if err := wait.PollUntilContextTimeout(ctx, cfg.Interval, cfg.Timeout, true,
		func(pollCtx context.Context) (bool, error) {
			if err := exitedErr(target); err != nil {
				return false, err
			}

			attempt++
			ready, err := check(pollCtx, attempt)
			if err != nil {
				return false, err
			}
			if ready {
				log.Debug("service_ready", "name", target.Name, "attempt", attempt)
			}
			return ready, nil
		}); err != nil {
		return fmt.Errorf("wait for %s readiness: %w", target.Name, err)
	}
	return nil
}
