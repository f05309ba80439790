package ledger

import (
	"fmt"
	"strings"

	"donatenow/identity"
	"donatenow/models"

	"github.com/shopspring/decimal"
)

// AnonymousDonor is the donor name used when neither the request nor the
// caller supplies one.
const AnonymousDonor = "Anonymous"

// DonationInput is a validated donation request.
type DonationInput struct {
	Amount  decimal.Decimal
	Name    string
	Message string
	Place   string
}

// ResolveDonorName picks the trimmed request name, then the principal's
// name, then AnonymousDonor.
func ResolveDonorName(name string, p *identity.Principal) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	if p != nil {
		if n := strings.TrimSpace(p.Name); n != "" {
			return n
		}
	}
	return AnonymousDonor
}

// Record appends one donation and adds its amount to the cause total inside
// tx. The cause must exist and be open.
func Record(tx Tx, causeID uint, in DonationInput, p *identity.Principal) (*models.Donation, error) {
	amount, err := ValidateAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	cause, err := tx.LockCause(causeID)
	if err != nil {
		return nil, err
	}
	if !cause.IsOpen() {
		return nil, fmt.Errorf("cause %d: %w", causeID, ErrCauseClosed)
	}

	d := &models.Donation{
		CauseID:   causeID,
		DonorName: ResolveDonorName(in.Name, p),
		Amount:    amount,
		Message:   optional(in.Message),
		Place:     optional(in.Place),
	}
	if p != nil {
		uid := p.ID
		d.UserID = &uid
	}
	if err := tx.InsertDonation(d); err != nil {
		return nil, fmt.Errorf("insert donation: %w", err)
	}
	if err := tx.IncrementRaised(causeID, amount); err != nil {
		return nil, fmt.Errorf("increment raised: %w", err)
	}
	return d, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
