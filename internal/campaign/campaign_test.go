package campaign

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/veltar/pacer/internal/db"
	"github.com/veltar/pacer/internal/dispatcher"
	"github.com/veltar/pacer/internal/models"
	"github.com/veltar/pacer/internal/provider"
	"github.com/veltar/pacer/internal/quota"
	"github.com/veltar/pacer/internal/repository"
)

// fakeSender records dispatch order and returns scripted results.
type fakeSender struct {
	mu       sync.Mutex
	calls    []sendCall
	failures map[string]dispatcher.Result // keyed by phone
	perSend  time.Duration
	onSend   func(n int) // called with the 1-based call number
}

type sendCall struct {
	phone string
	at    time.Time
}

func (f *fakeSender) Dispatch(ctx context.Context, c *models.Campaign, contact *models.Contact) dispatcher.Result {
	f.mu.Lock()
	f.calls = append(f.calls, sendCall{phone: contact.Phone, at: time.Now()})
	n := len(f.calls)
	onSend := f.onSend
	res, failed := f.failures[contact.Phone]
	f.mu.Unlock()

	if f.perSend > 0 {
		select {
		case <-time.After(f.perSend):
		case <-ctx.Done():
		}
	}
	if onSend != nil {
		onSend(n)
	}

	// Like the real dispatcher, a dead context means the provider
	// call was aborted mid-send.
	if err := ctx.Err(); err != nil {
		return dispatcher.Result{ErrorClass: models.ErrorUnknown, ErrorMessage: err.Error()}
	}
	if failed {
		return res
	}
	return dispatcher.Result{Sent: true, ProviderMsgID: "msg-" + contact.Phone}
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSender) sentPhones() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	phones := make([]string, len(f.calls))
	for i, c := range f.calls {
		phones[i] = c.phone
	}
	return phones
}

// fakeChannels reports a fixed connectivity state.
type fakeChannels struct {
	connected bool
}

func (f *fakeChannels) ChannelStatus(ctx context.Context, channelID string) (*provider.ChannelStatusResponse, error) {
	state := "open"
	if !f.connected {
		state = "close"
	}
	return &provider.ChannelStatusResponse{ChannelID: channelID, Connected: f.connected, State: state}, nil
}

// denyQuota rejects every quota check.
type denyQuota struct{}

func (denyQuota) Check(ctx context.Context, ownerID string, kind quota.Kind, amount int) (bool, error) {
	return false, nil
}

type testEnv struct {
	campaigns *repository.CampaignRepository
	contacts  *repository.ContactRepository
	sender    *fakeSender
	channels  *fakeChannels
	sched     *Scheduler
}

type envOption func(*SchedulerConfig)

func withQuota(q quota.Checker) envOption {
	return func(cfg *SchedulerConfig) { cfg.Quota = q }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	env := &testEnv{
		campaigns: repository.NewCampaignRepository(database.DB),
		contacts:  repository.NewContactRepository(database.DB),
		sender:    &fakeSender{failures: map[string]dispatcher.Result{}},
		channels:  &fakeChannels{connected: true},
	}

	cfg := SchedulerConfig{
		Campaigns:    env.campaigns,
		Contacts:     env.contacts,
		Sender:       env.sender,
		Channels:     env.channels,
		PollInterval: time.Hour, // poller stays quiet during tests
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	env.sched = NewScheduler(cfg)
	t.Cleanup(env.sched.Stop)

	return env
}

func (e *testEnv) createCampaign(t *testing.T, phones []string, mutate func(*models.Campaign)) *models.Campaign {
	t.Helper()

	c := &models.Campaign{
		Name:      "Test Campaign",
		OwnerID:   "owner-1",
		ChannelID: "channel-1",
		Type:      models.MessageText,
		Body:      "hello",
	}
	if mutate != nil {
		mutate(c)
	}
	if err := e.campaigns.Create(c); err != nil {
		t.Fatalf("failed to create campaign: %v", err)
	}

	contacts := make([]models.Contact, len(phones))
	for i, phone := range phones {
		contacts[i] = models.Contact{Phone: phone, Name: "Contact " + phone}
	}
	AssignProcessingOrder(contacts, c.RandomizeOrder)
	if err := e.contacts.CreateBatch(c.ID, contacts); err != nil {
		t.Fatalf("failed to create contacts: %v", err)
	}
	c.TotalContacts = len(contacts)
	return c
}

// waitForStatus polls the store until the campaign reaches the given
// status.
func (e *testEnv) waitForStatus(t *testing.T, id string, status models.CampaignStatus) *models.Campaign {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c, err := e.campaigns.GetByID(id)
		if err != nil {
			t.Fatalf("failed to get campaign: %v", err)
		}
		if c != nil && c.Status == status {
			return c
		}
		time.Sleep(10 * time.Millisecond)
	}
	c, _ := e.campaigns.GetByID(id)
	t.Fatalf("campaign never reached status %s (current: %+v)", status, c)
	return nil
}

// waitForQueueGone polls until the campaign no longer has a live
// queue.
func (e *testEnv) waitForQueueGone(t *testing.T, id string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := e.sched.ActiveQueue(id); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("queue for campaign %s never stopped", id)
}

var testPhones = []string{
	"+5511999990001",
	"+5511999990002",
	"+5511999990003",
	"+5511999990004",
	"+5511999990005",
}
