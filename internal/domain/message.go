package domain

import "github.com/google/uuid"

// GoalConflictMessage notifies a destination that a no-go goal's category or
// application was used. The self message is the original; buddy copies share
// its payload but carry their own delivery identity and point back to the
// origin.
type GoalConflictMessage struct {
	ID                      uuid.UUID
	RelatedUserAnonymizedID uuid.UUID
	ActivityID              uuid.UUID
	GoalID                  uuid.UUID
	URL                     string
	// OriginID is the id of the self message this copy was derived from.
	// It is the zero UUID on the self message itself.
	OriginID uuid.UUID
}

// NewGoalConflictMessage builds the self-notification for a newly recorded
// conflict activity.
func NewGoalConflictMessage(userAnonymizedID, activityID, goalID uuid.UUID, url string) GoalConflictMessage {
	return GoalConflictMessage{
		ID:                      uuid.New(),
		RelatedUserAnonymizedID: userAnonymizedID,
		ActivityID:              activityID,
		GoalID:                  goalID,
		URL:                     url,
	}
}

// BuddyCopy derives an independently deliverable copy for a buddy
// destination.
func (m GoalConflictMessage) BuddyCopy() GoalConflictMessage {
	copy := m
	copy.ID = uuid.New()
	copy.OriginID = m.ID
	return copy
}
