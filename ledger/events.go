package ledger

import (
	"context"
	"encoding/json"
	"time"

	"donatenow/logging"
	"donatenow/metrics"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/shopspring/decimal"
)

// Topics published after a donation commits.
const (
	TopicDonationRecorded = "donation.recorded"
	TopicCauseClosed      = "cause.closed"
)

// DonationRecorded is published for every committed donation.
type DonationRecorded struct {
	DonationID  uint            `json:"donation_id"`
	CauseID     uint            `json:"cause_id"`
	UserID      *uint           `json:"user_id,omitempty"`
	DonorName   string          `json:"donor_name"`
	Amount      decimal.Decimal `json:"amount"`
	Raised      decimal.Decimal `json:"raised"`
	GoalReached bool            `json:"goal_reached"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

// CauseClosed is published when a donation closes its cause.
type CauseClosed struct {
	CauseID  uint            `json:"cause_id"`
	Title    string          `json:"title"`
	Goal     decimal.Decimal `json:"goal"`
	Raised   decimal.Decimal `json:"raised"`
	StoryID  uint            `json:"story_id"`
	ClosedAt time.Time       `json:"closed_at"`
}

// NewEventBus returns an in-process pub/sub for ledger events.
func NewEventBus() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, logging.NewWatermillAdapter())
}

// publishResult emits the events of a committed donation. Failures are
// logged and counted; the donation has already committed.
func publishResult(ctx context.Context, pub message.Publisher, res *DonateResult) {
	if pub == nil || res == nil || res.Donation == nil {
		return
	}
	rec := DonationRecorded{
		DonationID:  res.Donation.ID,
		CauseID:     res.Donation.CauseID,
		UserID:      res.Donation.UserID,
		DonorName:   res.Donation.DonorName,
		Amount:      res.Donation.Amount,
		GoalReached: res.GoalReached,
		RecordedAt:  res.Donation.CreatedAt,
	}
	if res.Cause != nil {
		rec.Raised = res.Cause.Raised
	}
	publishJSON(ctx, pub, TopicDonationRecorded, rec)

	if res.GoalReached && res.Cause != nil && res.Story != nil {
		publishJSON(ctx, pub, TopicCauseClosed, CauseClosed{
			CauseID:  res.Cause.ID,
			Title:    res.Cause.Title,
			Goal:     res.Cause.Goal,
			Raised:   res.Cause.Raised,
			StoryID:  res.Story.ID,
			ClosedAt: time.Now().UTC(),
		})
	}
}

func publishJSON(ctx context.Context, pub message.Publisher, topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		metrics.EventPublishErrors.WithLabelValues(topic).Inc()
		logging.Ctx(ctx).Error().Err(err).Str("topic", topic).Msg("marshal event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if id := logging.RequestIDFromContext(ctx); id != "" {
		msg.Metadata.Set("request_id", id)
	}
	if err := pub.Publish(topic, msg); err != nil {
		metrics.EventPublishErrors.WithLabelValues(topic).Inc()
		logging.Ctx(ctx).Error().Err(err).Str("topic", topic).Msg("publish event")
	}
}
