package campaign

import (
	"errors"
	"fmt"
	"strings"

	"github.com/veltar/pacer/internal/models"
)

var (
	ErrNotFound            = errors.New("campaign not found")
	ErrAlreadyActive       = errors.New("campaign already has an active queue")
	ErrChannelDisconnected = errors.New("messaging channel is not connected")
	ErrNoPendingContacts   = errors.New("campaign has no pending contacts")
	ErrQuotaExceeded       = errors.New("message quota exceeded")
)

// TransitionError reports a rejected campaign status transition.
type TransitionError struct {
	From models.CampaignStatus
	To   models.CampaignStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition campaign from %s to %s", e.From, e.To)
}

// ValidationError reports rejected configuration fields.
type ValidationError struct {
	Reason string
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, strings.Join(e.Fields, ", "))
}

// transitions is the campaign lifecycle state machine. Anything not
// listed is rejected.
var transitions = map[models.CampaignStatus][]models.CampaignStatus{
	models.StatusScheduled: {models.StatusRunning, models.StatusCancelled},
	models.StatusRunning:   {models.StatusPaused, models.StatusCompleted, models.StatusCancelled, models.StatusFailed},
	models.StatusPaused:    {models.StatusRunning, models.StatusCancelled},
}

func canTransition(from, to models.CampaignStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
