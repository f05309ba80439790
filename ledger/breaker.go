package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"donatenow/logging"
	"donatenow/metrics"
	"donatenow/models"

	gobreaker "github.com/sony/gobreaker/v2"
)

const breakerName = "ledger-store"

// BreakerStore fails fast with ErrStorageUnavailable once the wrapped store
// has failed consecutiveFailures times in a row. Domain outcomes such as a
// closed cause or a lost conflict do not count as failures.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[any]
}

func NewBreakerStore(next Store, consecutiveFailures uint32, openTimeout time.Duration) *BreakerStore {
	if consecutiveFailures == 0 {
		consecutiveFailures = 5
	}
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isDomainError(err) || callerGone(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return &BreakerStore{next: next, cb: cb}
}

// State exposes the breaker state for health reporting.
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}

// callerGone reports errors caused by the caller's context rather than by
// the store: a disconnected client or a tx deadline spent waiting on one
// busy cause.
func callerGone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// withCtxErr attaches ctx's error when the store failed after ctx ended
// without saying so, as a server-side statement cancel does.
func withCtxErr(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil || errors.Is(err, ctx.Err()) {
		return err
	}
	return fmt.Errorf("%w: %w", err, ctx.Err())
}

func (b *BreakerStore) execute(ctx context.Context, fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(func() (any, error) {
		v, err := fn()
		return v, withCtxErr(ctx, err)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return v, err
}

func (b *BreakerStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	_, err := b.execute(ctx, func() (any, error) {
		return nil, b.next.InTx(ctx, fn)
	})
	return err
}

func (b *BreakerStore) GetCause(ctx context.Context, id uint) (*models.Cause, error) {
	v, err := b.execute(ctx, func() (any, error) {
		return b.next.GetCause(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Cause), nil
}

func (b *BreakerStore) ListDonations(ctx context.Context, causeID uint) ([]models.Donation, error) {
	v, err := b.execute(ctx, func() (any, error) {
		return b.next.ListDonations(ctx, causeID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Donation), nil
}

func (b *BreakerStore) UserName(ctx context.Context, userID uint) (string, error) {
	v, err := b.execute(ctx, func() (any, error) {
		return b.next.UserName(ctx, userID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
