package campaign

import (
	"time"

	"github.com/veltar/pacer/internal/repository"
)

// Progress is the basic delivery snapshot of a campaign.
type Progress struct {
	Total       int     `json:"total"`
	Sent        int     `json:"sent"`
	Failed      int     `json:"failed"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}

// ContactInfo identifies the contact currently (or next) being
// processed.
type ContactInfo struct {
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
}

// EnhancedProgress extends Progress with pace observations. The
// pace-derived fields are nil when no live queue exists to observe
// them.
type EnhancedProgress struct {
	Progress
	ElapsedSeconds            float64         `json:"elapsed_seconds"`
	AverageSpeed              *float64        `json:"average_speed,omitempty"` // messages per minute
	EstimatedSecondsRemaining *float64        `json:"estimated_seconds_remaining,omitempty"`
	CurrentContact            *ContactInfo    `json:"current_contact,omitempty"`
	RecentFailures            []FailedContact `json:"recent_failures,omitempty"`
}

func (q *Queue) progressLocked() Progress {
	total := q.campaign.TotalContacts
	return Progress{
		Total:       total,
		Sent:        q.sent,
		Failed:      q.failed,
		Pending:     total - q.sent - q.failed,
		SuccessRate: successRate(q.sent, q.failed),
	}
}

// EnhancedProgress returns the live snapshot including pace
// estimates derived from the observed processing rate.
func (q *Queue) EnhancedProgress() EnhancedProgress {
	q.mu.Lock()
	defer q.mu.Unlock()

	ep := EnhancedProgress{Progress: q.progressLocked()}

	if !q.startedAt.IsZero() {
		ep.ElapsedSeconds = time.Since(q.startedAt).Seconds()
	}
	if q.processed > 0 && ep.ElapsedSeconds > 0 {
		perSecond := float64(q.processed) / ep.ElapsedSeconds
		speed := perSecond * 60
		ep.AverageSpeed = &speed
		if perSecond > 0 {
			eta := float64(ep.Pending) / perSecond
			ep.EstimatedSecondsRemaining = &eta
		}
	}
	if q.current != nil {
		ep.CurrentContact = &ContactInfo{Phone: q.current.Phone, Name: q.current.Name}
	}
	if len(q.recentFailures) > 0 {
		ep.RecentFailures = append([]FailedContact(nil), q.recentFailures...)
	}

	return ep
}

func successRate(sent, failed int) float64 {
	processed := sent + failed
	if processed == 0 {
		return 0
	}
	return float64(sent) / float64(processed) * 100
}

// Reporter produces a uniform progress snapshot whether or not a
// campaign currently has a live queue. Without one, an equivalent
// snapshot is reconstructed from the store; the pace-derived fields
// are then unavailable.
type Reporter struct {
	scheduler *Scheduler
	campaigns *repository.CampaignRepository
	contacts  *repository.ContactRepository
}

func NewReporter(s *Scheduler, campaigns *repository.CampaignRepository, contacts *repository.ContactRepository) *Reporter {
	return &Reporter{scheduler: s, campaigns: campaigns, contacts: contacts}
}

// Snapshot returns the progress of a campaign.
func (r *Reporter) Snapshot(id string) (*EnhancedProgress, error) {
	if q, ok := r.scheduler.ActiveQueue(id); ok {
		ep := q.EnhancedProgress()
		return &ep, nil
	}

	c, err := r.campaigns.GetByID(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}

	ep := &EnhancedProgress{
		Progress: Progress{
			Total:       c.TotalContacts,
			Sent:        c.SentCount,
			Failed:      c.FailedCount,
			Pending:     c.TotalContacts - c.SentCount - c.FailedCount,
			SuccessRate: successRate(c.SentCount, c.FailedCount),
		},
	}

	if c.StartedAt != nil {
		if c.CompletedAt != nil {
			ep.ElapsedSeconds = c.CompletedAt.Sub(*c.StartedAt).Seconds()
		} else {
			ep.ElapsedSeconds = time.Since(*c.StartedAt).Seconds()
		}
	}

	if next, err := r.contacts.NextPending(id); err == nil && next != nil {
		ep.CurrentContact = &ContactInfo{Phone: next.Phone, Name: next.Name}
	}

	failed, err := r.contacts.RecentFailed(id, recentFailureLimit)
	if err != nil {
		return nil, err
	}
	for _, fc := range failed {
		ep.RecentFailures = append(ep.RecentFailures, FailedContact{
			Phone:        fc.Phone,
			Name:         fc.Name,
			ErrorType:    fc.ErrorType,
			ErrorMessage: fc.ErrorMessage,
		})
	}

	return ep, nil
}
