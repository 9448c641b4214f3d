package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/veltar/pacer/internal/metrics"
	"github.com/veltar/pacer/internal/models"
	"github.com/veltar/pacer/internal/provider"
	"github.com/veltar/pacer/internal/quota"
	"github.com/veltar/pacer/internal/repository"
)

// ChannelChecker reports messaging channel connectivity. Satisfied
// by *provider.Client.
type ChannelChecker interface {
	ChannelStatus(ctx context.Context, channelID string) (*provider.ChannelStatusResponse, error)
}

// SchedulerConfig wires the scheduler's collaborators.
type SchedulerConfig struct {
	Campaigns    *repository.CampaignRepository
	Contacts     *repository.ContactRepository
	Sender       Sender
	Channels     ChannelChecker
	Quota        quota.Checker
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Scheduler owns the registry of active campaign queues and the
// campaign lifecycle operations. The registry mutex is the single
// concurrency-control point guaranteeing at most one active queue
// per campaign.
type Scheduler struct {
	campaigns    *repository.CampaignRepository
	contacts     *repository.ContactRepository
	sender       Sender
	channels     ChannelChecker
	quota        quota.Checker
	pollInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	queues map[string]*Queue

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.Quota == nil {
		cfg.Quota = quota.AllowAll{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		campaigns:    cfg.Campaigns,
		contacts:     cfg.Contacts,
		sender:       cfg.Sender,
		channels:     cfg.Channels,
		quota:        cfg.Quota,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger.With("component", "scheduler"),
		queues:       make(map[string]*Queue),
		baseCtx:      ctx,
		baseCancel:   cancel,
	}
}

// Start launches the scheduled-campaign poller.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.pollLoop()
	s.logger.Info("scheduler started", "poll_interval", s.pollInterval)
}

// Stop cancels all active queues and waits for them to drain. Queues
// stop at their next checkpoint; interrupted campaigns are recovered
// to paused on the next boot.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler...")
	s.baseCancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			s.startDueScheduled()
		}
	}
}

// startDueScheduled starts campaigns whose scheduled time has
// passed. Errors are logged and retried on the next tick.
func (s *Scheduler) startDueScheduled() {
	due, err := s.campaigns.GetScheduledDue(time.Now())
	if err != nil {
		s.logger.Error("failed to list due campaigns", "error", err)
		return
	}

	for _, c := range due {
		if err := s.StartNow(s.baseCtx, c.ID); err != nil {
			s.logger.Warn("failed to start scheduled campaign", "campaign_id", c.ID, "error", err)
			continue
		}
		s.logger.Info("started scheduled campaign", "campaign_id", c.ID, "name", c.Name, "scheduled_at", c.ScheduledAt)
	}
}

// RestoreInterrupted flips campaigns left running by a previous
// process to paused so operators can resume them. Called once at
// boot, before Start.
func (s *Scheduler) RestoreInterrupted() (int, error) {
	n, err := s.campaigns.MarkInterruptedPaused()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("recovered interrupted campaigns", "count", n)
	}
	return n, nil
}

// ActiveCount returns the number of live campaign queues.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}

// ActiveQueue returns the live queue for a campaign, if any.
func (s *Scheduler) ActiveQueue(id string) (*Queue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[id]
	return q, ok
}

// StartNow begins processing a scheduled campaign immediately.
func (s *Scheduler) StartNow(ctx context.Context, id string) error {
	c, err := s.campaigns.GetByID(id)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNotFound
	}
	if c.Status != models.StatusScheduled {
		return &TransitionError{From: c.Status, To: models.StatusRunning}
	}

	return s.launch(ctx, c, models.StatusScheduled)
}

// Resume continues a paused campaign from its persisted position.
// The queue is rebuilt from the store; the original processing order
// is never re-randomized.
func (s *Scheduler) Resume(ctx context.Context, id string) error {
	c, err := s.campaigns.GetByID(id)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNotFound
	}
	if c.Status != models.StatusPaused {
		return &TransitionError{From: c.Status, To: models.StatusRunning}
	}

	return s.launch(ctx, c, models.StatusPaused)
}

// launch validates quota and channel connectivity, then registers
// and starts a queue for the campaign. from is the status the
// campaign must still hold when the transition lands.
func (s *Scheduler) launch(ctx context.Context, c *models.Campaign, from models.CampaignStatus) error {
	pending, err := s.contacts.PendingByOrder(c.ID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return ErrNoPendingContacts
	}

	allowed, err := s.quota.Check(ctx, c.OwnerID, quota.KindCampaignMessages, len(pending))
	if err != nil {
		return fmt.Errorf("quota check: %w", err)
	}
	if !allowed {
		return ErrQuotaExceeded
	}

	status, err := s.channels.ChannelStatus(ctx, c.ChannelID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChannelDisconnected, err)
	}
	if !status.Connected {
		return ErrChannelDisconnected
	}

	s.mu.Lock()
	if _, exists := s.queues[c.ID]; exists {
		s.mu.Unlock()
		return ErrAlreadyActive
	}

	ok, err := s.campaigns.TransitionStatus(c.ID, from, models.StatusRunning)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !ok {
		// Raced with another lifecycle operation.
		s.mu.Unlock()
		return &TransitionError{From: from, To: models.StatusRunning}
	}

	q := newQueue(c, pending, s.campaigns, s.contacts, s.sender, s.logger)
	qctx, qcancel := context.WithCancel(s.baseCtx)
	q.cancel = qcancel
	s.queues[c.ID] = q
	s.mu.Unlock()

	metrics.IncCampaignsActive()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer qcancel()

		reason := q.run(qctx)

		s.mu.Lock()
		delete(s.queues, c.ID)
		s.mu.Unlock()

		metrics.DecCampaignsActive()
		switch reason {
		case stopCompleted:
			metrics.IncCampaignsFinished(string(models.StatusCompleted))
		case stopStoreError:
			metrics.IncCampaignsFinished(string(models.StatusFailed))
		}
		s.logger.Info("campaign queue stopped", "campaign_id", c.ID, "reason", reason)
	}()

	return nil
}

// Pause requests a cooperative stop of the campaign's queue and
// persists the paused status. It is a no-op (not an error) when the
// queue has already stopped on its own. The processing position is
// already durable: every send updates current_index atomically.
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	s.mu.Lock()
	q, ok := s.queues[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	q.Pause()

	// A queue finishing concurrently wins the transition; that is
	// fine, the campaign simply completed.
	if _, err := s.campaigns.TransitionStatus(id, models.StatusRunning, models.StatusPaused); err != nil {
		return err
	}
	s.logger.Info("campaign paused", "campaign_id", id)
	return nil
}

// Cancel stops any active queue and persists the cancelled status.
// Idempotent: cancelling a cancelled or completed campaign succeeds
// without changes. The persisted status is updated even when no
// in-memory queue exists, so cancel works after a restart.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	c, err := s.campaigns.GetByID(id)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNotFound
	}
	if !canTransition(c.Status, models.StatusCancelled) {
		// Already terminal; cancel is idempotent.
		return nil
	}

	s.mu.Lock()
	q := s.queues[id]
	s.mu.Unlock()
	if q != nil && q.cancel != nil {
		q.cancel()
	}

	changed, err := s.campaigns.CancelPersisted(id)
	if err != nil {
		return err
	}
	if changed {
		metrics.IncCampaignsFinished(string(models.StatusCancelled))
		s.logger.Info("campaign cancelled", "campaign_id", id)
	}
	return nil
}

// editableFields are the configuration keys UpdateConfig accepts.
// Everything else (contact list, counters, status) is rejected.
var editableFields = map[string]struct{}{
	"name":            {},
	"message_type":    {},
	"body":            {},
	"media_url":       {},
	"delay_min_ms":    {},
	"delay_max_ms":    {},
	"randomize_order": {},
	"sending_window":  {},
	"is_scheduled":    {},
	"scheduled_at":    {},
}

// UpdateConfig applies configuration changes to a campaign that is
// not running, completed or cancelled. It returns the names of the
// fields actually changed. Unknown or non-editable fields are
// rejected with a ValidationError naming them; no partial updates
// happen.
func (s *Scheduler) UpdateConfig(ctx context.Context, id string, updates map[string]any) ([]string, error) {
	c, err := s.campaigns.GetByID(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}

	switch c.Status {
	case models.StatusRunning, models.StatusCompleted, models.StatusCancelled:
		return nil, &ValidationError{
			Reason: fmt.Sprintf("campaign with status %s cannot be edited; rejected fields", c.Status),
			Fields: sortedKeys(updates),
		}
	}

	var offending []string
	var changed []string

	for key, val := range updates {
		if _, ok := editableFields[key]; !ok {
			offending = append(offending, key)
			continue
		}
		applied, err := applyField(c, key, val)
		if err != nil {
			return nil, err
		}
		if applied {
			changed = append(changed, key)
		}
	}

	if len(offending) > 0 {
		sort.Strings(offending)
		return nil, &ValidationError{Reason: "fields are not editable", Fields: offending}
	}

	if c.DelayMinMs < 0 || c.DelayMaxMs < c.DelayMinMs {
		return nil, &ValidationError{Reason: "invalid pacing bounds", Fields: []string{"delay_min_ms", "delay_max_ms"}}
	}

	sort.Strings(changed)
	if len(changed) == 0 {
		return changed, nil
	}

	ok, err := s.campaigns.UpdateConfig(c)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The campaign changed status between the read and the write;
		// the store's predicate rejected the edit.
		fresh, err := s.campaigns.GetByID(id)
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			return nil, ErrNotFound
		}
		return nil, &ValidationError{
			Reason: fmt.Sprintf("campaign with status %s cannot be edited; rejected fields", fresh.Status),
			Fields: sortedKeys(updates),
		}
	}
	s.logger.Info("campaign config updated", "campaign_id", id, "fields", changed)
	return changed, nil
}

// applyField sets one editable field on the campaign, reporting
// whether the value actually changed.
func applyField(c *models.Campaign, key string, val any) (bool, error) {
	badValue := func() error {
		return &ValidationError{Reason: "invalid value for field", Fields: []string{key}}
	}

	switch key {
	case "name":
		v, ok := val.(string)
		if !ok || v == "" {
			return false, badValue()
		}
		if c.Name == v {
			return false, nil
		}
		c.Name = v
	case "message_type":
		v, ok := val.(string)
		if !ok || !models.ValidMessageType(models.MessageType(v)) {
			return false, badValue()
		}
		if c.Type == models.MessageType(v) {
			return false, nil
		}
		c.Type = models.MessageType(v)
	case "body":
		v, ok := val.(string)
		if !ok {
			return false, badValue()
		}
		if c.Body == v {
			return false, nil
		}
		c.Body = v
	case "media_url":
		v, ok := val.(string)
		if !ok {
			return false, badValue()
		}
		if c.MediaURL == v {
			return false, nil
		}
		c.MediaURL = v
	case "delay_min_ms":
		v, ok := intValue(val)
		if !ok {
			return false, badValue()
		}
		if c.DelayMinMs == v {
			return false, nil
		}
		c.DelayMinMs = v
	case "delay_max_ms":
		v, ok := intValue(val)
		if !ok {
			return false, badValue()
		}
		if c.DelayMaxMs == v {
			return false, nil
		}
		c.DelayMaxMs = v
	case "randomize_order":
		v, ok := val.(bool)
		if !ok {
			return false, badValue()
		}
		if c.RandomizeOrder == v {
			return false, nil
		}
		c.RandomizeOrder = v
	case "sending_window":
		if val == nil {
			if c.SendingWindow == nil {
				return false, nil
			}
			c.SendingWindow = nil
			return true, nil
		}
		data, err := json.Marshal(val)
		if err != nil {
			return false, badValue()
		}
		var w models.SendingWindow
		if err := json.Unmarshal(data, &w); err != nil {
			return false, badValue()
		}
		if _, ok := parseClock(w.Start); !ok {
			return false, badValue()
		}
		if _, ok := parseClock(w.End); !ok {
			return false, badValue()
		}
		c.SendingWindow = &w
	case "is_scheduled":
		v, ok := val.(bool)
		if !ok {
			return false, badValue()
		}
		if c.IsScheduled == v {
			return false, nil
		}
		c.IsScheduled = v
	case "scheduled_at":
		if val == nil {
			if c.ScheduledAt == nil {
				return false, nil
			}
			c.ScheduledAt = nil
			return true, nil
		}
		v, ok := val.(string)
		if !ok {
			return false, badValue()
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return false, badValue()
		}
		if c.ScheduledAt != nil && c.ScheduledAt.Equal(t) {
			return false, nil
		}
		c.ScheduledAt = &t
	default:
		return false, badValue()
	}
	return true, nil
}

func intValue(val any) (int, bool) {
	switch v := val.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssignProcessingOrder fixes the delivery order of a campaign's
// contacts at creation time. With randomize set the order is drawn
// from a shuffled permutation; either way the order never changes
// afterwards, which is what makes resume deterministic.
func AssignProcessingOrder(contacts []models.Contact, randomize bool) {
	order := make([]int, len(contacts))
	for i := range order {
		order[i] = i
	}
	if randomize {
		rand.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	for i := range contacts {
		contacts[i].ProcessingOrder = order[i]
	}
}
