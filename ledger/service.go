// Package ledger records donations and closes causes that reach their goal.
//
// A donation runs as one transaction: lock the cause, append the donation,
// add it to raised, re-read, evaluate the goal and, when it was just crossed,
// close the cause and emit its goal story. Either all of it commits or none.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"donatenow/identity"
	"donatenow/logging"
	"donatenow/metrics"
	"donatenow/models"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
)

// DonateResult is the committed outcome of one donation.
type DonateResult struct {
	Donation    *models.Donation
	Cause       *models.Cause
	Story       *models.Story
	GoalReached bool
}

// Service is the donation orchestrator.
type Service struct {
	store        Store
	maxRetries   int
	retryInitial time.Duration
	txTimeout    time.Duration
	publisher    message.Publisher
}

// Option configures a Service.
type Option func(*Service)

// WithRetry bounds how often a conflicting transaction is retried.
func WithRetry(maxRetries int, initial time.Duration) Option {
	return func(s *Service) {
		s.maxRetries = maxRetries
		s.retryInitial = initial
	}
}

// WithTxTimeout limits each transaction attempt.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Service) { s.txTimeout = d }
}

// WithPublisher makes the service publish domain events after commit.
func WithPublisher(p message.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		maxRetries:   5,
		retryInitial: 20 * time.Millisecond,
		txTimeout:    5 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Donate records a donation against causeID on behalf of p (nil for
// anonymous callers). Conflicting transactions are retried with backoff; when
// retries run out the result is ErrStorageConflict and nothing was written.
func (s *Service) Donate(ctx context.Context, causeID uint, in DonationInput, p *identity.Principal) (*DonateResult, error) {
	start := time.Now()
	res, err := s.donate(ctx, causeID, in, p)
	metrics.DonateDuration.Observe(time.Since(start).Seconds())
	metrics.Donations.WithLabelValues(resultLabel(err)).Inc()

	log := logging.Ctx(ctx)
	if err != nil {
		switch {
		case errors.Is(err, ErrStorageConflict), errors.Is(err, ErrStorageUnavailable):
			log.Error().Err(err).Uint("cause_id", causeID).Msg("donation failed")
		default:
			log.Debug().Err(err).Uint("cause_id", causeID).Msg("donation rejected")
		}
		return nil, err
	}

	amount, _ := res.Donation.Amount.Float64()
	metrics.DonationAmount.Add(amount)
	if res.GoalReached {
		metrics.CauseClosures.Inc()
		log.Info().Uint("cause_id", causeID).Str("raised", res.Cause.Raised.String()).
			Str("goal", res.Cause.Goal.String()).Uint("story_id", res.Story.ID).Msg("cause reached its goal")
	} else {
		log.Debug().Uint("cause_id", causeID).Uint("donation_id", res.Donation.ID).
			Str("amount", res.Donation.Amount.String()).Msg("donation recorded")
	}
	publishResult(ctx, s.publisher, res)
	return res, nil
}

func (s *Service) donate(ctx context.Context, causeID uint, in DonationInput, p *identity.Principal) (*DonateResult, error) {
	amount, err := ValidateAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	in.Amount = amount

	attempts := 0
	var res *DonateResult
	op := func() error {
		attempts++
		r, err := s.donateOnce(ctx, causeID, in, p)
		if err == nil {
			res = r
			return nil
		}
		if errors.Is(err, ErrStorageConflict) {
			if attempts <= s.maxRetries {
				metrics.LedgerRetries.Inc()
				logging.Ctx(ctx).Warn().Err(err).Uint("cause_id", causeID).Int("attempt", attempts).Msg("retrying donation")
			}
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInitial
	b.MaxInterval = 20 * s.retryInitial
	var policy backoff.BackOff = b
	if s.maxRetries >= 0 {
		policy = backoff.WithMaxRetries(b, uint64(s.maxRetries))
	}

	err = backoff.Retry(op, backoff.WithContext(policy, ctx))
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, ErrStorageConflict):
		return nil, fmt.Errorf("donation to cause %d abandoned after %d attempts: %w", causeID, attempts, err)
	case isDomainError(err), errors.Is(err, ErrStorageUnavailable):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
}

func (s *Service) donateOnce(ctx context.Context, causeID uint, in DonationInput, p *identity.Principal) (*DonateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var res DonateResult
	err := s.store.InTx(ctx, func(tx Tx) error {
		d, err := Record(tx, causeID, in, p)
		if err != nil {
			return err
		}
		cause, err := tx.Cause(causeID)
		if err != nil {
			return fmt.Errorf("re-read cause: %w", err)
		}
		res = DonateResult{Donation: d, Cause: cause}
		if !Evaluate(cause) {
			return nil
		}
		story, err := Close(tx, cause)
		if err != nil {
			return err
		}
		res.Story = story
		res.GoalReached = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CauseDetail is a cause with its creator name and donation history.
type CauseDetail struct {
	Cause       *models.Cause
	CreatorName string
	Donations   []models.Donation
}

// CauseDetail loads a cause and its donations, newest first.
func (s *Service) CauseDetail(ctx context.Context, causeID uint) (*CauseDetail, error) {
	cause, err := s.store.GetCause(ctx, causeID)
	if err != nil {
		return nil, err
	}
	donations, err := s.store.ListDonations(ctx, causeID)
	if err != nil {
		return nil, err
	}
	name, err := s.store.UserName(ctx, cause.CreatorID)
	if err != nil {
		return nil, err
	}
	return &CauseDetail{Cause: cause, CreatorName: name, Donations: donations}, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrCauseNotFound):
		return "not_found"
	case errors.Is(err, ErrCauseClosed):
		return "closed"
	case errors.Is(err, ErrStorageConflict):
		return "conflict"
	default:
		return "unavailable"
	}
}
