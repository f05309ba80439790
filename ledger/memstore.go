package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"donatenow/models"

	"github.com/shopspring/decimal"
)

// MemStore is an in-memory Store with the same locking and conditional
// update semantics as GormStore. Writes made inside InTx are staged and only
// become visible on commit.
type MemStore struct {
	mu        sync.Mutex
	causes    map[uint]models.Cause
	donations []models.Donation
	stories   []models.Story
	users     map[uint]string
	locks     map[uint]chan struct{}
	seq       uint
}

func NewMemStore() *MemStore {
	return &MemStore{
		causes: make(map[uint]models.Cause),
		users:  make(map[uint]string),
		locks:  make(map[uint]chan struct{}),
	}
}

func (s *MemStore) nextID() uint {
	s.seq++
	return s.seq
}

// AddCause stores c, assigning an id when c.ID is zero.
func (s *MemStore) AddCause(c models.Cause) models.Cause {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.nextID()
	} else if c.ID > s.seq {
		s.seq = c.ID
	}
	if c.Status == "" {
		c.Status = models.CauseOpen
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.causes[c.ID] = c
	return c
}

// AddUser registers a display name for userID.
func (s *MemStore) AddUser(userID uint, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = name
}

// Stories returns all committed stories.
func (s *MemStore) Stories() []models.Story {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Story(nil), s.stories...)
}

// AllDonations returns every committed donation in insertion order.
func (s *MemStore) AllDonations() []models.Donation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Donation(nil), s.donations...)
}

func (s *MemStore) GetCause(ctx context.Context, id uint) (*models.Cause, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.causes[id]
	if !ok {
		return nil, fmt.Errorf("cause %d: %w", id, ErrCauseNotFound)
	}
	return &c, nil
}

func (s *MemStore) ListDonations(ctx context.Context, causeID uint) ([]models.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Donation
	for _, d := range s.donations {
		if d.CauseID == causeID {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemStore) UserName(ctx context.Context, userID uint) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID], nil
}

func (s *MemStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	tx := &memTx{s: s, ctx: ctx, held: make(map[uint]chan struct{}), causes: make(map[uint]models.Cause)}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return tx.commit()
}

type memTx struct {
	s         *MemStore
	ctx       context.Context
	held      map[uint]chan struct{}
	causes    map[uint]models.Cause
	donations []models.Donation
	stories   []models.Story
}

func (t *memTx) lock(id uint) error {
	if _, ok := t.held[id]; ok {
		return nil
	}
	t.s.mu.Lock()
	if _, ok := t.s.causes[id]; !ok {
		t.s.mu.Unlock()
		return fmt.Errorf("cause %d: %w", id, ErrCauseNotFound)
	}
	l, ok := t.s.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		t.s.locks[id] = l
	}
	t.s.mu.Unlock()

	select {
	case l <- struct{}{}:
	case <-t.ctx.Done():
		return fmt.Errorf("%w: waiting for cause lock: %w", ErrStorageUnavailable, t.ctx.Err())
	}
	t.held[id] = l

	t.s.mu.Lock()
	c, ok := t.s.causes[id]
	t.s.mu.Unlock()
	if !ok {
		return fmt.Errorf("cause %d: %w", id, ErrCauseNotFound)
	}
	t.causes[id] = c
	return nil
}

func (t *memTx) release() {
	for id, l := range t.held {
		<-l
		delete(t.held, id)
	}
}

func (t *memTx) LockCause(id uint) (*models.Cause, error) {
	if err := t.lock(id); err != nil {
		return nil, err
	}
	c := t.causes[id]
	return &c, nil
}

func (t *memTx) Cause(id uint) (*models.Cause, error) {
	if c, ok := t.causes[id]; ok {
		return &c, nil
	}
	return t.s.GetCause(t.ctx, id)
}

func (t *memTx) InsertDonation(d *models.Donation) error {
	t.s.mu.Lock()
	d.ID = t.s.nextID()
	t.s.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	t.donations = append(t.donations, *d)
	return nil
}

func (t *memTx) IncrementRaised(causeID uint, amount decimal.Decimal) error {
	if err := t.lock(causeID); err != nil {
		return err
	}
	c := t.causes[causeID]
	if c.Status != models.CauseOpen {
		return fmt.Errorf("cause %d: %w", causeID, ErrCauseClosed)
	}
	c.Raised = c.Raised.Add(amount)
	c.UpdatedAt = time.Now()
	t.causes[causeID] = c
	return nil
}

func (t *memTx) CloseCause(causeID uint) (bool, error) {
	if err := t.lock(causeID); err != nil {
		return false, err
	}
	c := t.causes[causeID]
	if c.Status != models.CauseOpen {
		return false, nil
	}
	c.Status = models.CauseClosed
	c.UpdatedAt = time.Now()
	t.causes[causeID] = c
	return true, nil
}

func (t *memTx) InsertStory(st *models.Story) error {
	if st.ClosureCauseID != nil {
		if t.hasClosureStory(*st.ClosureCauseID) {
			return fmt.Errorf("closure story for cause %d exists: %w", *st.ClosureCauseID, ErrStorageConflict)
		}
	}
	t.s.mu.Lock()
	st.ID = t.s.nextID()
	t.s.mu.Unlock()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	t.stories = append(t.stories, *st)
	return nil
}

func (t *memTx) hasClosureStory(causeID uint) bool {
	for _, st := range t.stories {
		if st.ClosureCauseID != nil && *st.ClosureCauseID == causeID {
			return true
		}
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, st := range t.s.stories {
		if st.ClosureCauseID != nil && *st.ClosureCauseID == causeID {
			return true
		}
	}
	return false
}

func (t *memTx) UserName(userID uint) (string, error) {
	return t.s.UserName(t.ctx, userID)
}

func (t *memTx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, st := range t.stories {
		if st.ClosureCauseID == nil {
			continue
		}
		for _, existing := range t.s.stories {
			if existing.ClosureCauseID != nil && *existing.ClosureCauseID == *st.ClosureCauseID {
				return fmt.Errorf("closure story for cause %d exists: %w", *st.ClosureCauseID, ErrStorageConflict)
			}
		}
	}
	for id, c := range t.causes {
		t.s.causes[id] = c
	}
	t.s.donations = append(t.s.donations, t.donations...)
	t.s.stories = append(t.s.stories, t.stories...)
	return nil
}
