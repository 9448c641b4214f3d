package repository

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/veltar/pacer/internal/db"
	"github.com/veltar/pacer/internal/models"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database.DB
}

func createTestCampaign(t *testing.T, repo *CampaignRepository, mutate func(*models.Campaign)) *models.Campaign {
	t.Helper()

	c := &models.Campaign{
		Name:       "Test Campaign",
		OwnerID:    "owner-1",
		ChannelID:  "channel-1",
		Type:       models.MessageText,
		Body:       "Hello {{name}}",
		DelayMinMs: 1000,
		DelayMaxMs: 3000,
	}
	if mutate != nil {
		mutate(c)
	}
	if err := repo.Create(c); err != nil {
		t.Fatalf("failed to create campaign: %v", err)
	}
	return c
}

func createTestContacts(t *testing.T, repo *ContactRepository, campaignID string, phones []string) []models.Contact {
	t.Helper()

	contacts := make([]models.Contact, len(phones))
	for i, phone := range phones {
		contacts[i] = models.Contact{
			Phone:           phone,
			Name:            "Contact " + phone,
			ProcessingOrder: i,
		}
	}
	if err := repo.CreateBatch(campaignID, contacts); err != nil {
		t.Fatalf("failed to create contacts: %v", err)
	}
	return contacts
}
