package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"donatenow/identity"
	"donatenow/models"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFixture(t *testing.T, goal string) (*MemStore, *Service, models.Cause) {
	t.Helper()
	store := NewMemStore()
	store.AddUser(1, "Priya")
	cause := store.AddCause(models.Cause{Title: "Clean Water", Goal: amt(goal), CreatorID: 1})
	return store, NewService(store, WithRetry(5, time.Millisecond)), cause
}

func sumDonations(store *MemStore, causeID uint) decimal.Decimal {
	total := decimal.Zero
	for _, d := range store.AllDonations() {
		if d.CauseID == causeID {
			total = total.Add(d.Amount)
		}
	}
	return total
}

func closureStories(store *MemStore, causeID uint) int {
	n := 0
	for _, st := range store.Stories() {
		if st.ClosureCauseID != nil && *st.ClosureCauseID == causeID {
			n++
		}
	}
	return n
}

func TestDonateScenarios(t *testing.T) {
	ctx := context.Background()
	store, svc, cause := newFixture(t, "1000")

	// below goal
	res, err := svc.Donate(ctx, cause.ID, DonationInput{Amount: amt("600")}, nil)
	require.NoError(t, err)
	assert.False(t, res.GoalReached)
	assert.True(t, res.Cause.Raised.Equal(amt("600")))
	assert.Equal(t, models.CauseOpen, res.Cause.Status)
	assert.NotZero(t, res.Donation.ID)

	// crosses goal with overshoot
	res, err = svc.Donate(ctx, cause.ID, DonationInput{Amount: amt("500")}, nil)
	require.NoError(t, err)
	assert.True(t, res.GoalReached)
	got, err := store.GetCause(ctx, cause.ID)
	require.NoError(t, err)
	assert.True(t, got.Raised.Equal(amt("1100")))
	assert.Equal(t, models.CauseClosed, got.Status)
	require.Equal(t, 1, closureStories(store, cause.ID))

	st := store.Stories()[0]
	assert.Equal(t, "Clean Water — Goal Reached", st.Title)
	assert.Equal(t, "Priya", st.AuthorName)
	assert.Contains(t, st.Text, `"Clean Water"`)
	assert.Contains(t, st.Text, "₹1,000")
	assert.True(t, st.Approved)

	// post-closure donation rejected
	_, err = svc.Donate(ctx, cause.ID, DonationInput{Amount: amt("50")}, nil)
	assert.ErrorIs(t, err, ErrCauseClosed)
	got, _ = store.GetCause(ctx, cause.ID)
	assert.True(t, got.Raised.Equal(amt("1100")))
	assert.Len(t, store.AllDonations(), 2)
}

func TestDonateUnboundedGoalNeverCloses(t *testing.T) {
	store, svc, cause := newFixture(t, "0")
	res, err := svc.Donate(context.Background(), cause.ID, DonationInput{Amount: amt("1000000")}, nil)
	require.NoError(t, err)
	assert.False(t, res.GoalReached)
	assert.Equal(t, models.CauseOpen, res.Cause.Status)
	assert.Empty(t, store.Stories())
}

func TestDonateInvalidAmountWritesNothing(t *testing.T) {
	store, svc, cause := newFixture(t, "1000")
	for _, a := range []decimal.Decimal{amt("-5"), decimal.Zero, amt("0.001")} {
		_, err := svc.Donate(context.Background(), cause.ID, DonationInput{Amount: a}, nil)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
	assert.Empty(t, store.AllDonations())
}

func TestDonateUnknownCause(t *testing.T) {
	store, svc, _ := newFixture(t, "1000")
	_, err := svc.Donate(context.Background(), 999, DonationInput{Amount: amt("5")}, nil)
	assert.ErrorIs(t, err, ErrCauseNotFound)
	assert.Empty(t, store.AllDonations())
}

func TestDonorNaming(t *testing.T) {
	ctx := context.Background()
	_, svc, cause := newFixture(t, "0")
	p := &identity.Principal{ID: 42, Name: "Ravi"}

	res, err := svc.Donate(ctx, cause.ID, DonationInput{Amount: amt("1")}, nil)
	require.NoError(t, err)
	assert.Equal(t, AnonymousDonor, res.Donation.DonorName)
	assert.Nil(t, res.Donation.UserID)

	res, err = svc.Donate(ctx, cause.ID, DonationInput{Amount: amt("1"), Name: "   "}, p)
	require.NoError(t, err)
	assert.Equal(t, "Ravi", res.Donation.DonorName)
	require.NotNil(t, res.Donation.UserID)
	assert.Equal(t, uint(42), *res.Donation.UserID)

	res, err = svc.Donate(ctx, cause.ID, DonationInput{Amount: amt("1"), Name: "  Meera ", Message: "good luck", Place: " "}, p)
	require.NoError(t, err)
	assert.Equal(t, "Meera", res.Donation.DonorName)
	require.NotNil(t, res.Donation.Message)
	assert.Equal(t, "good luck", *res.Donation.Message)
	assert.Nil(t, res.Donation.Place)
}

func TestStoryAuthorFallsBackToOrganizer(t *testing.T) {
	store := NewMemStore()
	cause := store.AddCause(models.Cause{Title: "Books", Goal: amt("10"), CreatorID: 77})
	svc := NewService(store)
	res, err := svc.Donate(context.Background(), cause.ID, DonationInput{Amount: amt("10")}, nil)
	require.NoError(t, err)
	require.True(t, res.GoalReached)
	assert.Equal(t, DefaultStoryAuthor, res.Story.AuthorName)
}

func TestConcurrentDonationsCloseOnce(t *testing.T) {
	store, svc, cause := newFixture(t, "1000")

	var wg sync.WaitGroup
	var reached atomic.Int32
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Donate(context.Background(), cause.ID, DonationInput{Amount: amt("600")}, nil)
			if err == nil && res.GoalReached {
				reached.Add(1)
			}
		}()
	}
	wg.Wait()

	got, err := store.GetCause(context.Background(), cause.ID)
	require.NoError(t, err)
	// The per-cause lock serializes the two; the second one crosses the goal.
	assert.Equal(t, models.CauseClosed, got.Status)
	assert.True(t, got.Raised.Equal(amt("1200")), "raised %s", got.Raised)
	assert.Equal(t, int32(1), reached.Load())
	assert.Equal(t, 1, closureStories(store, cause.ID))
}

func TestConservationUnderLoad(t *testing.T) {
	store, svc, cause := newFixture(t, "1000")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Donate(context.Background(), cause.ID, DonationInput{Amount: amt("30")}, nil)
			if err != nil && !errors.Is(err, ErrCauseClosed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := store.GetCause(context.Background(), cause.ID)
	require.NoError(t, err)
	assert.True(t, got.Raised.Equal(sumDonations(store, cause.ID)), "raised %s", got.Raised)
	assert.True(t, got.Raised.Equal(amt("1020")), "raised %s", got.Raised)
	assert.Equal(t, models.CauseClosed, got.Status)
	assert.Equal(t, 1, closureStories(store, cause.ID))
}

// faultyStore wraps a Store to inject failures.
type faultyStore struct {
	Store
	conflicts   int32 // InTx calls that fail with a conflict before fn runs
	calls       atomic.Int32
	failStories bool
	unavailable bool
}

func (f *faultyStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	n := f.calls.Add(1)
	if f.unavailable {
		return ErrStorageUnavailable
	}
	if n <= f.conflicts {
		return ErrStorageConflict
	}
	return f.Store.InTx(ctx, func(tx Tx) error {
		if f.failStories {
			tx = storyFailingTx{tx}
		}
		return fn(tx)
	})
}

type storyFailingTx struct{ Tx }

func (storyFailingTx) InsertStory(*models.Story) error { return errors.New("disk full") }

func TestClosureFailureRollsBackEverything(t *testing.T) {
	store, _, cause := newFixture(t, "1000")
	svc := NewService(&faultyStore{Store: store, failStories: true})

	res, err := svc.Donate(context.Background(), cause.ID, DonationInput{Amount: amt("1500")}, nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	got, _ := store.GetCause(context.Background(), cause.ID)
	assert.True(t, got.Raised.IsZero())
	assert.Equal(t, models.CauseOpen, got.Status)
	assert.Empty(t, store.AllDonations())
	assert.Empty(t, store.Stories())
}

func TestConflictIsRetried(t *testing.T) {
	store, _, cause := newFixture(t, "1000")
	fs := &faultyStore{Store: store, conflicts: 2}
	svc := NewService(fs, WithRetry(3, time.Millisecond))

	res, err := svc.Donate(context.Background(), cause.ID, DonationInput{Amount: amt("10")}, nil)
	require.NoError(t, err)
	assert.NotNil(t, res.Donation)
	assert.Equal(t, int32(3), fs.calls.Load())
	assert.Len(t, store.AllDonations(), 1)
}

func TestConflictRetriesExhausted(t *testing.T) {
	store, _, cause := newFixture(t, "1000")
	fs := &faultyStore{Store: store, conflicts: 100}
	svc := NewService(fs, WithRetry(2, time.Millisecond))

	_, err := svc.Donate(context.Background(), cause.ID, DonationInput{Amount: amt("10")}, nil)
	assert.ErrorIs(t, err, ErrStorageConflict)
	assert.Equal(t, int32(3), fs.calls.Load())
	assert.Empty(t, store.AllDonations())
}

func TestTimedOutTransactionRollsBack(t *testing.T) {
	store, _, cause := newFixture(t, "1000")

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = store.InTx(context.Background(), func(tx Tx) error {
			if _, err := tx.LockCause(cause.ID); err != nil {
				return err
			}
			close(held)
			<-done
			return errors.New("abort")
		})
	}()
	<-held
	defer close(done)

	svc := NewService(store, WithRetry(0, time.Millisecond), WithTxTimeout(20*time.Millisecond))
	_, err := svc.Donate(context.Background(), cause.ID, DonationInput{Amount: amt("10")}, nil)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Empty(t, store.AllDonations())
}

func TestBreakerOpensOnUnavailableOnly(t *testing.T) {
	store, _, cause := newFixture(t, "1000")
	fs := &faultyStore{Store: store, unavailable: true}
	br := NewBreakerStore(fs, 2, time.Minute)
	svc := NewService(br, WithRetry(0, time.Millisecond))

	for i := 0; i < 4; i++ {
		_, err := svc.Donate(context.Background(), cause.ID, DonationInput{Amount: amt("1")}, nil)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	}
	assert.Equal(t, int32(2), fs.calls.Load(), "breaker should stop calling the store once open")
	assert.Equal(t, "open", br.State())

	// domain errors do not trip a fresh breaker
	br2 := NewBreakerStore(store, 1, time.Minute)
	svc2 := NewService(br2)
	for i := 0; i < 3; i++ {
		_, err := svc2.Donate(context.Background(), 999, DonationInput{Amount: amt("1")}, nil)
		assert.ErrorIs(t, err, ErrCauseNotFound)
	}
	assert.Equal(t, "closed", br2.State())
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	store, _, busy := newFixture(t, "1000")
	other := store.AddCause(models.Cause{Title: "Other", Goal: amt("1000")})
	br := NewBreakerStore(store, 2, time.Minute)
	svc := NewService(br, WithRetry(0, time.Millisecond), WithTxTimeout(20*time.Millisecond))

	// clients that hang up
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		_, err := svc.Donate(cancelled, busy.ID, DonationInput{Amount: amt("1")}, nil)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	}
	assert.Equal(t, "closed", br.State())

	// tx deadlines spent waiting on one busy cause
	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = store.InTx(context.Background(), func(tx Tx) error {
			if _, err := tx.LockCause(busy.ID); err != nil {
				return err
			}
			close(held)
			<-done
			return errors.New("abort")
		})
	}()
	<-held
	defer close(done)
	for i := 0; i < 5; i++ {
		_, err := svc.Donate(context.Background(), busy.ID, DonationInput{Amount: amt("1")}, nil)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	}
	assert.Equal(t, "closed", br.State())

	res, err := svc.Donate(context.Background(), other.ID, DonationInput{Amount: amt("5")}, nil)
	require.NoError(t, err)
	assert.True(t, amt("5").Equal(res.Cause.Raised))
}

func TestWithCtxErrMarksStatementCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stmt := errors.New("canceling statement due to user request")
	assert.False(t, callerGone(withCtxErr(ctx, stmt)))
	cancel()
	err := withCtxErr(ctx, stmt)
	assert.True(t, callerGone(err))
	assert.ErrorIs(t, err, stmt)
	assert.NoError(t, withCtxErr(ctx, nil))
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for range msgs {
		p.topics = append(p.topics, topic)
	}
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestEventsPublishedAfterCommit(t *testing.T) {
	store, _, cause := newFixture(t, "100")
	pub := &recordingPublisher{}
	svc := NewService(store, WithPublisher(pub))

	_, err := svc.Donate(context.Background(), cause.ID, DonationInput{Amount: amt("40")}, nil)
	require.NoError(t, err)
	_, err = svc.Donate(context.Background(), cause.ID, DonationInput{Amount: amt("60")}, nil)
	require.NoError(t, err)
	_, err = svc.Donate(context.Background(), cause.ID, DonationInput{Amount: amt("1")}, nil)
	require.ErrorIs(t, err, ErrCauseClosed)

	assert.Equal(t, []string{TopicDonationRecorded, TopicDonationRecorded, TopicCauseClosed}, pub.topics)
}

func TestCauseDetail(t *testing.T) {
	ctx := context.Background()
	_, svc, cause := newFixture(t, "0")
	for _, a := range []string{"1", "2", "3"} {
		_, err := svc.Donate(ctx, cause.ID, DonationInput{Amount: amt(a)}, nil)
		require.NoError(t, err)
	}
	detail, err := svc.CauseDetail(ctx, cause.ID)
	require.NoError(t, err)
	assert.Equal(t, "Priya", detail.CreatorName)
	require.Len(t, detail.Donations, 3)
	assert.True(t, detail.Donations[0].Amount.Equal(amt("3")), "newest first")

	_, err = svc.CauseDetail(ctx, 999)
	assert.ErrorIs(t, err, ErrCauseNotFound)
}
