package repository

import (
	"testing"
	"time"

	"github.com/veltar/pacer/internal/models"
)

func TestCampaignRepository_CreateAndGet(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCampaignRepository(database)

	window := &models.SendingWindow{
		Days:     []time.Weekday{time.Monday, time.Tuesday},
		Start:    "09:00",
		End:      "18:00",
		Timezone: "America/Sao_Paulo",
	}
	c := createTestCampaign(t, repo, func(c *models.Campaign) {
		c.SendingWindow = window
	})

	if c.ID == "" {
		t.Error("expected ID to be set")
	}
	if c.Status != models.StatusScheduled {
		t.Errorf("expected status scheduled, got %s", c.Status)
	}

	got, err := repo.GetByID(c.ID)
	if err != nil {
		t.Fatalf("failed to get campaign: %v", err)
	}
	if got == nil {
		t.Fatal("expected campaign, got nil")
	}
	if got.Name != "Test Campaign" {
		t.Errorf("expected name 'Test Campaign', got '%s'", got.Name)
	}
	if got.SendingWindow == nil {
		t.Fatal("expected sending window to round-trip")
	}
	if got.SendingWindow.Start != "09:00" || got.SendingWindow.End != "18:00" {
		t.Errorf("unexpected window bounds: %+v", got.SendingWindow)
	}
	if len(got.SendingWindow.Days) != 2 {
		t.Errorf("expected 2 window days, got %d", len(got.SendingWindow.Days))
	}
}

func TestCampaignRepository_GetByIDNotFound(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCampaignRepository(database)

	got, err := repo.GetByID("missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing campaign, got %+v", got)
	}
}

func TestCampaignRepository_List(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCampaignRepository(database)

	createTestCampaign(t, repo, nil)
	paused := createTestCampaign(t, repo, func(c *models.Campaign) {
		c.Status = models.StatusPaused
	})
	createTestCampaign(t, repo, func(c *models.Campaign) {
		c.OwnerID = "owner-2"
	})

	all, err := repo.List(models.CampaignListFilter{})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 campaigns, got %d", len(all))
	}

	byStatus, err := repo.List(models.CampaignListFilter{Status: models.StatusPaused})
	if err != nil {
		t.Fatalf("failed to list by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != paused.ID {
		t.Errorf("expected only the paused campaign, got %d", len(byStatus))
	}

	byOwner, err := repo.List(models.CampaignListFilter{OwnerID: "owner-2"})
	if err != nil {
		t.Fatalf("failed to list by owner: %v", err)
	}
	if len(byOwner) != 1 {
		t.Errorf("expected 1 campaign for owner-2, got %d", len(byOwner))
	}
}

func TestCampaignRepository_GetScheduledDue(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCampaignRepository(database)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	due := createTestCampaign(t, repo, func(c *models.Campaign) {
		c.IsScheduled = true
		c.ScheduledAt = &past
	})
	createTestCampaign(t, repo, func(c *models.Campaign) {
		c.IsScheduled = true
		c.ScheduledAt = &future
	})
	createTestCampaign(t, repo, nil) // not scheduled

	got, err := repo.GetScheduledDue(time.Now())
	if err != nil {
		t.Fatalf("failed to get due campaigns: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 due campaign, got %d", len(got))
	}
	if got[0].ID != due.ID {
		t.Errorf("expected campaign %s, got %s", due.ID, got[0].ID)
	}
}

func TestCampaignRepository_TransitionStatus(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCampaignRepository(database)

	c := createTestCampaign(t, repo, nil)

	ok, err := repo.TransitionStatus(c.ID, models.StatusScheduled, models.StatusRunning)
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if !ok {
		t.Fatal("expected transition to apply")
	}

	got, _ := repo.GetByID(c.ID)
	if got.Status != models.StatusRunning {
		t.Errorf("expected status running, got %s", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("expected started_at to be stamped")
	}

	// Stale transition loses.
	ok, err = repo.TransitionStatus(c.ID, models.StatusScheduled, models.StatusRunning)
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if ok {
		t.Error("expected stale transition to be rejected")
	}

	ok, err = repo.TransitionStatus(c.ID, models.StatusRunning, models.StatusCompleted)
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if !ok {
		t.Fatal("expected running->completed to apply")
	}
	got, _ = repo.GetByID(c.ID)
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be stamped")
	}
}

func TestCampaignRepository_CancelPersisted(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCampaignRepository(database)

	c := createTestCampaign(t, repo, nil)

	changed, err := repo.CancelPersisted(c.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !changed {
		t.Error("expected first cancel to change status")
	}

	// Second cancel is a no-op.
	changed, err = repo.CancelPersisted(c.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if changed {
		t.Error("expected second cancel to be a no-op")
	}

	got, _ := repo.GetByID(c.ID)
	if got.Status != models.StatusCancelled {
		t.Errorf("expected status cancelled, got %s", got.Status)
	}
}

func TestCampaignRepository_CancelPersistedCompleted(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCampaignRepository(database)

	c := createTestCampaign(t, repo, func(c *models.Campaign) {
		c.Status = models.StatusCompleted
	})

	changed, err := repo.CancelPersisted(c.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if changed {
		t.Error("completed campaign must not be cancelled")
	}
}

func TestCampaignRepository_MarkInterruptedPaused(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCampaignRepository(database)

	createTestCampaign(t, repo, func(c *models.Campaign) {
		c.Status = models.StatusRunning
	})
	createTestCampaign(t, repo, func(c *models.Campaign) {
		c.Status = models.StatusRunning
	})
	other := createTestCampaign(t, repo, nil)

	n, err := repo.MarkInterruptedPaused()
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 recovered campaigns, got %d", n)
	}

	paused, _ := repo.List(models.CampaignListFilter{Status: models.StatusPaused})
	if len(paused) != 2 {
		t.Errorf("expected 2 paused campaigns, got %d", len(paused))
	}
	got, _ := repo.GetByID(other.ID)
	if got.Status != models.StatusScheduled {
		t.Errorf("scheduled campaign must be untouched, got %s", got.Status)
	}
}

func TestCampaignRepository_UpdateConfig(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCampaignRepository(database)

	c := createTestCampaign(t, repo, nil)
	c.Name = "Renamed"
	c.DelayMinMs = 500
	c.DelayMaxMs = 700
	c.SendingWindow = &models.SendingWindow{Start: "08:00", End: "12:00"}

	ok, err := repo.UpdateConfig(c)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !ok {
		t.Fatal("expected update to apply")
	}

	got, _ := repo.GetByID(c.ID)
	if got.Name != "Renamed" {
		t.Errorf("expected name 'Renamed', got '%s'", got.Name)
	}
	if got.DelayMinMs != 500 || got.DelayMaxMs != 700 {
		t.Errorf("unexpected delays: %d/%d", got.DelayMinMs, got.DelayMaxMs)
	}
	if got.SendingWindow == nil || got.SendingWindow.Start != "08:00" {
		t.Errorf("unexpected window: %+v", got.SendingWindow)
	}
}

func TestCampaignRepository_UpdateConfigStatusGuard(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCampaignRepository(database)

	c := createTestCampaign(t, repo, nil)
	if _, err := repo.TransitionStatus(c.ID, models.StatusScheduled, models.StatusRunning); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	// A running campaign rejects the write even if the caller read it
	// as editable before the status changed.
	c.Name = "Renamed"
	ok, err := repo.UpdateConfig(c)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if ok {
		t.Fatal("expected update to be rejected for a running campaign")
	}

	got, _ := repo.GetByID(c.ID)
	if got.Name == "Renamed" {
		t.Error("config must not change on a running campaign")
	}
}

func TestCampaignRepository_Delete(t *testing.T) {
	database := setupTestDB(t)
	campaigns := NewCampaignRepository(database)
	contacts := NewContactRepository(database)

	c := createTestCampaign(t, campaigns, nil)
	createTestContacts(t, contacts, c.ID, []string{"+5511999990001"})

	if err := campaigns.Delete(c.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	got, _ := campaigns.GetByID(c.ID)
	if got != nil {
		t.Error("expected campaign to be deleted")
	}

	// Contacts cascade with the campaign.
	remaining, err := contacts.List(models.ContactFilter{CampaignID: c.ID})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected contacts to cascade, got %d", len(remaining))
	}
}
