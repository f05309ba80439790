// Package report prints month-bounded donation reports for a cause.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"donatenow/ledger"
	"donatenow/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MonthRange returns the UTC [start, end) bounds of month (YYYY-MM).
func MonthRange(month string) (time.Time, time.Time, error) {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid month format, expected YYYY-MM: %w", err)
	}
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0), nil
}

// Summary is the aggregate of one cause's donations within a month.
type Summary struct {
	Cause models.Cause
	Count int64
	Total decimal.Decimal
	Rows  []models.Donation
}

// Build collects the report for causeID. Rows are loaded only when list is set.
func Build(ctx context.Context, gdb *gorm.DB, causeID uint, month string, list bool) (*Summary, error) {
	start, end, err := MonthRange(month)
	if err != nil {
		return nil, err
	}
	gdb = gdb.WithContext(ctx)

	s := &Summary{}
	if err := gdb.First(&s.Cause, causeID).Error; err != nil {
		return nil, fmt.Errorf("cause %d: %w", causeID, err)
	}

	var agg struct {
		Total decimal.Decimal
		Cnt   int64
	}
	if err := gdb.Raw(`SELECT COALESCE(SUM(amount),0) AS total, COUNT(*) AS cnt FROM donations WHERE cause_id = ? AND created_at >= ? AND created_at < ?`,
		causeID, start, end).Scan(&agg).Error; err != nil {
		return nil, fmt.Errorf("aggregate query: %w", err)
	}
	s.Count, s.Total = agg.Cnt, agg.Total

	if list {
		if err := gdb.Where("cause_id = ? AND created_at >= ? AND created_at < ?", causeID, start, end).
			Order("created_at, id").Find(&s.Rows).Error; err != nil {
			return nil, fmt.Errorf("fetch rows: %w", err)
		}
	}
	return s, nil
}

// Write renders s in the pipe-separated layout used by the ops scripts.
func Write(w io.Writer, s *Summary, month string) {
	fmt.Fprintf(w, "Report for cause=%d %q month=%s (UTC):\n", s.Cause.ID, s.Cause.Title, month)
	fmt.Fprintf(w, "  status=%s goal=%s raised=%s\n", s.Cause.Status, ledger.FormatAmount(s.Cause.Goal), ledger.FormatAmount(s.Cause.Raised))
	fmt.Fprintf(w, "  donations=%d total_amount=%s\n", s.Count, ledger.FormatAmount(s.Total))
	for _, d := range s.Rows {
		fmt.Fprintf(w, "%d|%s|%s|%s\n", d.ID, d.DonorName, d.Amount.StringFixed(2), d.CreatedAt.UTC().Format(time.RFC3339))
	}
}
