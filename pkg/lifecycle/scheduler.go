package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/groot1121/secure-token-gateway/pkg/codec"
)

// ErrSchedulerRunning is returned when StartScheduler is called twice.
var ErrSchedulerRunning = errors.New("rotation scheduler already running")

// ShouldRotate reports whether, at now, the time elapsed since the token's
// iat has reached threshold times its lifetime (exp - iat). A token issued
// in the future or with no lifetime never qualifies.
func ShouldRotate(claims *codec.Claims, now time.Time, threshold float64) bool {
	if claims == nil {
		return false
	}
	lifetime := claims.Lifetime()
	if lifetime <= 0 {
		return false
	}
	elapsed := now.Sub(claims.IssuedAtTime())
	return elapsed >= time.Duration(float64(lifetime)*threshold)
}

// Tick makes one rotation decision against the current time and rotates if
// due. It reports whether a rotation happened. With no token or no key it is
// a no-op. Only the token the decision was made on is rotated: if another
// rotation replaced it meanwhile, Tick does nothing.
//
// A token the gateway refused with 401 (Revoked or Expired) is not
// resubmitted on later ticks; the next successful Issue resumes scheduling.
// This differs from retrying the decision on every interval, which would
// only repeat the refused request.
func (e *Engine) Tick(ctx context.Context) (bool, error) {
	if ctx.Err() != nil || e.checkOpen() != nil {
		return false, nil
	}

	token, claims, ok := e.creds.Get()
	if !ok || !e.keys.HasKey() {
		return false, nil
	}

	e.mu.Lock()
	current := e.current
	e.mu.Unlock()
	if current == StateRevoked || current == StateExpired {
		e.log.Debug("skipping rotation of refused token", "jti", claims.JTI, "state", current.String())
		return false, nil
	}

	now := e.now()
	if !ShouldRotate(claims, now, e.threshold) {
		return false, nil
	}

	e.log.Info("rotation due",
		"jti", claims.JTI,
		"elapsed", now.Sub(claims.IssuedAtTime()),
		"lifetime", claims.Lifetime())
	res, err := e.rotateShared(ctx, token)
	if err != nil {
		return false, err
	}
	return res.rotated, nil
}

// StartScheduler starts the autonomous rotation loop. It checks once
// immediately and then every poll interval until Stop, Logout, Close or
// cancellation of ctx. Rotation failures are logged and retried on the next
// tick.
func (e *Engine) StartScheduler(ctx context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	if e.cancel != nil {
		select {
		case <-e.done:
			e.cancel()
			e.cancel, e.done = nil, nil
		default:
			return ErrSchedulerRunning
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done

	go e.schedule(ctx, done)
	e.log.Info("rotation scheduler started", "interval", e.interval, "threshold", e.threshold)
	return nil
}

// Running reports whether the scheduler loop is active.
func (e *Engine) Running() bool {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	if e.done == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Stop cancels the scheduler and waits for it to exit. A rotation already
// submitted to the gateway is not abandoned: it settles in the background
// and Close waits for it. Safe to call when the scheduler is not running.
func (e *Engine) Stop() {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel, e.done = nil, nil
	e.log.Info("rotation scheduler stopped")
}

func (e *Engine) schedule(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.tickAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tickAndLog(ctx)
		}
	}
}

func (e *Engine) tickAndLog(ctx context.Context) {
	if _, err := e.Tick(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		e.log.Warn("scheduled rotation failed", "error", err)
	}
}
