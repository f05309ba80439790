package ledger

import "donatenow/models"

// Evaluate reports whether the cause has just crossed its goal: it has a
// positive goal, raised has reached it and it is still open. Overshoot is
// kept as is; a goal <= 0 never closes.
func Evaluate(c *models.Cause) bool {
	if c == nil || !c.IsOpen() {
		return false
	}
	return c.Goal.IsPositive() && c.Raised.GreaterThanOrEqual(c.Goal)
}
