// Package await polls managed resources until they settle. Every lifecycle in
// the workflow (infrastructure stacks, jobs, endpoints, pipeline executions)
// funnels through the same loop: probe on an interval, log status changes,
// tolerate transient API faults, and stop on a terminal answer, a timeout, or
// context cancellation.
package await

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/machinist-ai/machinist/internal/cloud"
)

// Probe inspects the resource once. It reports the current status string for
// logging, and done=true when the resource reached a terminal state. A
// non-nil error ends the wait unless it is transient, in which case polling
// continues.
type Probe func(ctx context.Context) (status string, done bool, err error)

// Config shapes one wait loop.
type Config struct {
	// Interval between probes. Required.
	Interval time.Duration
	// Timeout bounds the whole wait. Zero means no bound.
	Timeout time.Duration
	// Clock defaults to the real clock; tests inject a fake one.
	Clock clockwork.Clock
	// Log receives status-change lines; unchanged-status lines are throttled.
	Log *logrus.Entry
}

const unchangedLogInterval = time.Minute

// Wait runs the probe until it reports done, the timeout elapses, or the
// context is canceled. The first probe runs immediately so a resource that is
// already terminal returns without sleeping.
func Wait(ctx context.Context, cfg Config, probe Probe) error {
	if cfg.Interval <= 0 {
		return errors.New("await: non-positive poll interval")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := cfg.Log
	if log == nil {
		log = logrus.WithField("component", "await")
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = clockwork.WithTimeout(ctx, clock, cfg.Timeout)
		defer cancel()
	}

	unchanged := rate.NewLimiter(rate.Every(unchangedLogInterval), 1)
	lastStatus := ""
	for {
		status, done, err := probe(ctx)
		switch {
		case err != nil && cloud.IsTransient(err):
			log.WithError(err).Warn("transient fault while polling, will retry")
		case err != nil:
			return err
		case done:
			log.Infof("reached terminal status %s", status)
			return nil
		default:
			if status != lastStatus {
				log.Infof("status is now %s", status)
			} else if unchanged.Allow() {
				log.Infof("still %s", status)
			}
			lastStatus = status
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errors.Errorf("timed out after %s waiting, last status %q",
					cfg.Timeout, lastStatus)
			}
			return ctx.Err()
		case <-clock.After(cfg.Interval):
		}
	}
}
