package campaign

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veltar/pacer/internal/dispatcher"
	"github.com/veltar/pacer/internal/metrics"
	"github.com/veltar/pacer/internal/models"
	"github.com/veltar/pacer/internal/repository"
)

// Sender dispatches one message for one contact, classifying the
// outcome instead of returning an error.
type Sender interface {
	Dispatch(ctx context.Context, campaign *models.Campaign, contact *models.Contact) dispatcher.Result
}

// recentFailureLimit bounds the failure list kept for progress
// reporting.
const recentFailureLimit = 5

// FailedContact is one entry of the recent-failure list.
type FailedContact struct {
	Phone        string            `json:"phone"`
	Name         string            `json:"name,omitempty"`
	ErrorType    models.ErrorClass `json:"error_type"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

type stopReason string

const (
	stopCompleted  stopReason = "completed"
	stopPaused     stopReason = "paused"
	stopCancelled  stopReason = "cancelled"
	stopStoreError stopReason = "store_error"
)

// Queue owns the processing loop for exactly one campaign. It walks
// the pending contacts in processing order, paces sends with a
// randomized delay, defers sends outside the sending window, and
// stops cooperatively on pause or cancel. All counter and status
// writes go through the store's atomic per-contact update.
type Queue struct {
	campaign  *models.Campaign
	contacts  []models.Contact
	campaigns *repository.CampaignRepository
	store     *repository.ContactRepository
	sender    Sender
	logger    *slog.Logger

	// cancel tears down the queue's context; set by the scheduler.
	cancel context.CancelFunc

	paused    atomic.Bool
	pauseOnce sync.Once
	pauseCh   chan struct{}

	mu             sync.Mutex
	pos            int
	sent           int
	failed         int
	processed      int
	startedAt      time.Time
	current        *models.Contact
	recentFailures []FailedContact
}

func newQueue(c *models.Campaign, pending []models.Contact, campaigns *repository.CampaignRepository, contacts *repository.ContactRepository, sender Sender, logger *slog.Logger) *Queue {
	return &Queue{
		campaign:  c,
		contacts:  pending,
		campaigns: campaigns,
		store:     contacts,
		sender:    sender,
		logger:    logger.With("component", "queue", "campaign_id", c.ID),
		pauseCh:   make(chan struct{}),
		sent:      c.SentCount,
		failed:    c.FailedCount,
	}
}

// Pause requests a cooperative stop. The in-flight send, if any,
// completes; the loop exits at its next checkpoint.
func (q *Queue) Pause() {
	q.pauseOnce.Do(func() {
		q.paused.Store(true)
		close(q.pauseCh)
	})
}

func (q *Queue) run(ctx context.Context) stopReason {
	q.mu.Lock()
	q.startedAt = time.Now()
	q.mu.Unlock()

	q.logger.Info("campaign queue started", "pending", len(q.contacts)-q.pos)

	for {
		if ctx.Err() != nil {
			return stopCancelled
		}
		if q.paused.Load() {
			return stopPaused
		}

		// Sends outside the sending window wait for it to open; no
		// contact is ever skipped.
		if w := q.campaign.SendingWindow; w != nil {
			now := time.Now()
			if !windowOpen(w, now) {
				next := nextWindowOpen(w, now)
				q.logger.Info("outside sending window, waiting", "until", next)
				if reason, ok := q.sleep(ctx, time.Until(next)); !ok {
					return reason
				}
				continue
			}
		}

		q.mu.Lock()
		if q.pos >= len(q.contacts) {
			q.mu.Unlock()
			return q.complete()
		}
		contact := q.contacts[q.pos]
		q.current = &contact
		q.mu.Unlock()

		// The in-flight send always runs to completion and its true
		// outcome is recorded; cancel and shutdown only take effect at
		// the loop checkpoints. The dispatcher bounds the call with its
		// own timeout.
		start := time.Now()
		res := q.sender.Dispatch(context.WithoutCancel(ctx), q.campaign, &contact)
		metrics.ObserveSendDuration(time.Since(start).Seconds())

		if err := q.record(&contact, res); err != nil {
			q.logger.Error("failed to persist contact result", "contact_id", contact.ID, "error", err)
			// Without the store the loop cannot make progress.
			if _, terr := q.campaigns.TransitionStatus(q.campaign.ID, models.StatusRunning, models.StatusFailed); terr != nil {
				q.logger.Error("failed to mark campaign failed", "error", terr)
			}
			return stopStoreError
		}

		q.mu.Lock()
		q.pos++
		q.processed++
		q.current = nil
		last := q.pos >= len(q.contacts)
		q.mu.Unlock()

		if last {
			return q.complete()
		}

		delay := randomDelay(q.campaign.DelayMin(), q.campaign.DelayMax())
		if reason, ok := q.sleep(ctx, delay); !ok {
			return reason
		}
	}
}

// record persists one dispatch outcome and mirrors it in memory.
func (q *Queue) record(contact *models.Contact, res dispatcher.Result) error {
	if res.Sent {
		if err := q.store.MarkSent(q.campaign.ID, contact.ID, res.ProviderMsgID); err != nil {
			return err
		}
		q.mu.Lock()
		q.sent++
		q.mu.Unlock()
		metrics.IncMessagesSent(string(q.campaign.Type))
		q.logger.Debug("message sent", "contact_id", contact.ID, "provider_msg_id", res.ProviderMsgID)
		return nil
	}

	if err := q.store.MarkFailed(q.campaign.ID, contact.ID, res.ErrorClass, res.ErrorMessage); err != nil {
		return err
	}
	q.mu.Lock()
	q.failed++
	q.recentFailures = append(q.recentFailures, FailedContact{
		Phone:        contact.Phone,
		Name:         contact.Name,
		ErrorType:    res.ErrorClass,
		ErrorMessage: res.ErrorMessage,
	})
	if len(q.recentFailures) > recentFailureLimit {
		q.recentFailures = q.recentFailures[len(q.recentFailures)-recentFailureLimit:]
	}
	q.mu.Unlock()
	metrics.IncMessagesFailed(string(res.ErrorClass))
	q.logger.Debug("message failed", "contact_id", contact.ID, "error_class", res.ErrorClass)
	return nil
}

func (q *Queue) complete() stopReason {
	ok, err := q.campaigns.TransitionStatus(q.campaign.ID, models.StatusRunning, models.StatusCompleted)
	if err != nil {
		q.logger.Error("failed to mark campaign completed", "error", err)
		return stopStoreError
	}
	if !ok {
		// A pause that landed while the final send was in flight must
		// not strand a fully-processed campaign in paused.
		ok, err = q.campaigns.TransitionStatus(q.campaign.ID, models.StatusPaused, models.StatusCompleted)
		if err != nil {
			q.logger.Error("failed to mark campaign completed", "error", err)
			return stopStoreError
		}
	}
	if !ok {
		// A concurrent cancel won the transition.
		q.logger.Info("campaign finished but was cancelled concurrently")
		return stopCancelled
	}
	q.mu.Lock()
	sent, failed := q.sent, q.failed
	q.mu.Unlock()
	q.logger.Info("campaign completed", "sent", sent, "failed", failed)
	return stopCompleted
}

// sleep waits for d, interruptible by cancel and pause. ok is false
// when the wait was interrupted.
func (q *Queue) sleep(ctx context.Context, d time.Duration) (stopReason, bool) {
	if d <= 0 {
		return "", true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return stopCancelled, false
	case <-q.pauseCh:
		return stopPaused, false
	case <-t.C:
		return "", true
	}
}

// randomDelay draws a delay uniformly from [min, max].
func randomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}
