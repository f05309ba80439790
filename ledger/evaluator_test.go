package ledger

import (
	"testing"

	"donatenow/models"

	"github.com/shopspring/decimal"
)

func TestEvaluate(t *testing.T) {
	d := decimal.NewFromInt
	cases := []struct {
		name   string
		cause  *models.Cause
		closes bool
	}{
		{"below goal", &models.Cause{Goal: d(1000), Raised: d(600), Status: models.CauseOpen}, false},
		{"exactly goal", &models.Cause{Goal: d(1000), Raised: d(1000), Status: models.CauseOpen}, true},
		{"overshoot", &models.Cause{Goal: d(1000), Raised: d(1100), Status: models.CauseOpen}, true},
		{"already closed", &models.Cause{Goal: d(1000), Raised: d(1100), Status: models.CauseClosed}, false},
		{"unbounded goal", &models.Cause{Goal: d(0), Raised: d(1000000), Status: models.CauseOpen}, false},
		{"negative goal", &models.Cause{Goal: d(-1), Raised: d(5), Status: models.CauseOpen}, false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.cause); got != tc.closes {
				t.Fatalf("Evaluate() = %v, want %v", got, tc.closes)
			}
		})
	}
}

func TestGoalStoryText(t *testing.T) {
	got := GoalStoryText("Clean Water", "1,000", "Priya")
	want := `This cause "Clean Water" has reached its goal of ₹1,000 thanks to generous donors. Created by Priya.`
	if got != want {
		t.Fatalf("GoalStoryText() = %q, want %q", got, want)
	}
	if GoalStoryTitle("Clean Water") != "Clean Water — Goal Reached" {
		t.Fatalf("unexpected title %q", GoalStoryTitle("Clean Water"))
	}
}
