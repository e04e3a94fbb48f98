package await

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"gotest.tools/assert"
)

func TestWaitAlreadyTerminal(t *testing.T) {
	calls := 0
	err := Wait(context.Background(), Config{Interval: time.Second},
		func(ctx context.Context) (string, bool, error) {
			calls++
			return "COMPLETED", true, nil
		})
	assert.NilError(t, err)
	assert.Equal(t, calls, 1)
}

func TestWaitPollsUntilDone(t *testing.T) {
	fc := clockwork.NewFakeClock()
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Wait(context.Background(), Config{Interval: time.Second, Clock: fc},
			func(ctx context.Context) (string, bool, error) {
				calls++
				if calls >= 3 {
					return "COMPLETED", true, nil
				}
				return "IN_PROGRESS", false, nil
			})
	}()
	for i := 0; i < 2; i++ {
		fc.BlockUntil(1)
		fc.Advance(time.Second)
	}
	assert.NilError(t, <-done)
	assert.Equal(t, calls, 3)
}

func TestWaitTransientFaultContinues(t *testing.T) {
	fc := clockwork.NewFakeClock()
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Wait(context.Background(), Config{Interval: time.Second, Clock: fc},
			func(ctx context.Context) (string, bool, error) {
				calls++
				if calls == 1 {
					return "", false, awserr.New("ThrottlingException", "slow down", nil)
				}
				return "COMPLETED", true, nil
			})
	}()
	fc.BlockUntil(1)
	fc.Advance(time.Second)
	assert.NilError(t, <-done)
	assert.Equal(t, calls, 2)
}

func TestWaitFatalProbeError(t *testing.T) {
	boom := errors.New("described the wrong universe")
	err := Wait(context.Background(), Config{Interval: time.Second},
		func(ctx context.Context) (string, bool, error) {
			return "", false, boom
		})
	assert.Assert(t, errors.Is(err, boom))
}

func TestWaitTimeout(t *testing.T) {
	fc := clockwork.NewFakeClock()
	done := make(chan error, 1)
	go func() {
		done <- Wait(context.Background(),
			Config{Interval: time.Second, Timeout: 500 * time.Millisecond, Clock: fc},
			func(ctx context.Context) (string, bool, error) {
				return "IN_PROGRESS", false, nil
			})
	}()
	fc.BlockUntil(2) // interval timer plus timeout timer
	fc.Advance(600 * time.Millisecond)
	err := <-done
	assert.ErrorContains(t, err, "timed out")
	assert.ErrorContains(t, err, "IN_PROGRESS")
}

func TestWaitContextCanceled(t *testing.T) {
	fc := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Wait(ctx, Config{Interval: time.Second, Clock: fc},
			func(ctx context.Context) (string, bool, error) {
				return "IN_PROGRESS", false, nil
			})
	}()
	fc.BlockUntil(1)
	cancel()
	assert.Assert(t, errors.Is(<-done, context.Canceled))
}

func TestWaitRejectsBadInterval(t *testing.T) {
	err := Wait(context.Background(), Config{},
		func(ctx context.Context) (string, bool, error) { return "", true, nil })
	assert.ErrorContains(t, err, "non-positive poll interval")
}
