package ledger

import (
	"fmt"

	"donatenow/models"
)

// DefaultStoryAuthor is used when the cause creator cannot be resolved.
const DefaultStoryAuthor = "Organizer"

// Close transitions the cause to closed and inserts its goal story in tx.
// Losing the open -> closed compare-and-set to another transaction is
// reported as ErrStorageConflict so the caller retries and then observes the
// closed cause.
func Close(tx Tx, c *models.Cause) (*models.Story, error) {
	if !c.Status.CanTransitionTo(models.CauseClosed) {
		return nil, fmt.Errorf("cause %d: %w", c.ID, ErrCauseClosed)
	}
	closed, err := tx.CloseCause(c.ID)
	if err != nil {
		return nil, fmt.Errorf("close cause: %w", err)
	}
	if !closed {
		return nil, fmt.Errorf("cause %d closed concurrently: %w", c.ID, ErrStorageConflict)
	}
	c.Status = models.CauseClosed

	author, err := tx.UserName(c.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("resolve creator: %w", err)
	}
	if author == "" {
		author = DefaultStoryAuthor
	}

	causeID := c.ID
	closureID := c.ID
	story := &models.Story{
		CauseID:        &causeID,
		ClosureCauseID: &closureID,
		Title:          GoalStoryTitle(c.Title),
		AuthorName:     author,
		Text:           GoalStoryText(c.Title, FormatAmount(c.Goal), author),
		Approved:       true,
	}
	if err := tx.InsertStory(story); err != nil {
		return nil, fmt.Errorf("insert goal story: %w", err)
	}
	return story, nil
}

// GoalStoryTitle is the title of the story emitted when a cause closes.
func GoalStoryTitle(causeTitle string) string {
	return causeTitle + " — Goal Reached"
}

// GoalStoryText is the body of the story emitted when a cause closes.
func GoalStoryText(causeTitle, goal, author string) string {
	return fmt.Sprintf("This cause \"%s\" has reached its goal of ₹%s thanks to generous donors. Created by %s.", causeTitle, goal, author)
}
