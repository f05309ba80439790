package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"donatenow/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the Postgres-backed Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
	return classify(err)
}

func (s *GormStore) GetCause(ctx context.Context, id uint) (*models.Cause, error) {
	var c models.Cause
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("cause %d: %w", id, ErrCauseNotFound)
		}
		return nil, classify(err)
	}
	return &c, nil
}

func (s *GormStore) ListDonations(ctx context.Context, causeID uint) ([]models.Donation, error) {
	var out []models.Donation
	err := s.db.WithContext(ctx).
		Where("cause_id = ?", causeID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *GormStore) UserName(ctx context.Context, userID uint) (string, error) {
	name, err := userName(s.db.WithContext(ctx), userID)
	return name, classify(err)
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) LockCause(id uint) (*models.Cause, error) {
	var c models.Cause
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("cause %d: %w", id, ErrCauseNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *gormTx) Cause(id uint) (*models.Cause, error) {
	var c models.Cause
	err := t.db.First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("cause %d: %w", id, ErrCauseNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *gormTx) InsertDonation(d *models.Donation) error {
	return t.db.Omit(clause.Associations).Create(d).Error
}

func (t *gormTx) IncrementRaised(causeID uint, amount decimal.Decimal) error {
	res := t.db.Model(&models.Cause{}).
		Where("id = ? AND status = ?", causeID, models.CauseOpen).
		Update("raised", gorm.Expr("raised + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("cause %d: %w", causeID, ErrCauseClosed)
	}
	return nil
}

func (t *gormTx) CloseCause(causeID uint) (bool, error) {
	res := t.db.Model(&models.Cause{}).
		Where("id = ? AND status = ?", causeID, models.CauseOpen).
		Update("status", models.CauseClosed)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (t *gormTx) InsertStory(st *models.Story) error {
	return t.db.Create(st).Error
}

func (t *gormTx) UserName(userID uint) (string, error) {
	return userName(t.db, userID)
}

func userName(db *gorm.DB, userID uint) (string, error) {
	var u models.User
	err := db.Select("id", "name").Where("id = ?", userID).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return u.Name, nil
}

// classify maps driver errors onto the ledger taxonomy. Ledger errors pass
// through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "55P03", pgErr.Code == "23505":
			return fmt.Errorf("%w: %s (%s)", ErrStorageConflict, pgErr.Message, pgErr.Code)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"), strings.HasPrefix(pgErr.Code, "53"):
			return fmt.Errorf("%w: %s (%s)", ErrStorageUnavailable, pgErr.Message, pgErr.Code)
		}
	}

	// Everything else, timeouts included, has rolled the transaction back.
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
