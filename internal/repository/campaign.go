package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veltar/pacer/internal/models"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, owner_id, name, channel_id, message_type, body, media_url,
	delay_min_ms, delay_max_ms, randomize_order, sending_window,
	is_scheduled, scheduled_at, status,
	total_contacts, sent_count, failed_count, current_index,
	created_at, started_at, completed_at`

// Create inserts a new campaign. Counters start at zero and status
// defaults to scheduled unless the caller set one.
func (r *CampaignRepository) Create(c *models.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.StatusScheduled
	}
	c.CreatedAt = time.Now()

	window, err := marshalWindow(c.SendingWindow)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT INTO campaigns (id, owner_id, name, channel_id, message_type, body, media_url,
			delay_min_ms, delay_max_ms, randomize_order, sending_window,
			is_scheduled, scheduled_at, status,
			total_contacts, sent_count, failed_count, current_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.Name, c.ChannelID, c.Type, c.Body, c.MediaURL,
		c.DelayMinMs, c.DelayMaxMs, c.RandomizeOrder, window,
		c.IsScheduled, c.ScheduledAt, c.Status,
		c.TotalContacts, c.SentCount, c.FailedCount, c.CurrentIndex, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID, or nil if it does not exist.
func (r *CampaignRepository) GetByID(id string) (*models.Campaign, error) {
	row := r.db.QueryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns campaigns matching the filter, newest first.
func (r *CampaignRepository) List(filter models.CampaignListFilter) ([]models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []any{}

	if filter.OwnerID != "" {
		query += " AND owner_id = ?"
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// GetScheduledDue returns scheduled campaigns whose scheduled_at has
// passed, oldest first.
func (r *CampaignRepository) GetScheduledDue(now time.Time) ([]models.Campaign, error) {
	rows, err := r.db.Query(`
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = ? AND is_scheduled = 1 AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		ORDER BY scheduled_at`, models.StatusScheduled, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// TransitionStatus atomically moves a campaign from one status to
// another. Returns false when the campaign was not in the expected
// status (or does not exist).
func (r *CampaignRepository) TransitionStatus(id string, from, to models.CampaignStatus) (bool, error) {
	now := time.Now()
	var startedAt, completedAt *time.Time

	switch to {
	case models.StatusRunning:
		startedAt = &now
	case models.StatusCompleted, models.StatusFailed, models.StatusCancelled:
		completedAt = &now
	}

	res, err := r.db.Exec(`
		UPDATE campaigns SET status = ?, started_at = COALESCE(?, started_at), completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND status = ?`,
		to, startedAt, completedAt, id, from,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CancelPersisted marks a campaign cancelled unless it already
// finished. Returns true when a row was updated.
func (r *CampaignRepository) CancelPersisted(id string) (bool, error) {
	now := time.Now()
	res, err := r.db.Exec(`
		UPDATE campaigns SET status = ?, completed_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		models.StatusCancelled, now, id, models.StatusCancelled, models.StatusCompleted,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkInterruptedPaused flips campaigns left running by a dead
// process to paused so they can be resumed. Returns the number of
// campaigns recovered.
func (r *CampaignRepository) MarkInterruptedPaused() (int, error) {
	res, err := r.db.Exec(`UPDATE campaigns SET status = ? WHERE status = ?`,
		models.StatusPaused, models.StatusRunning)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// UpdateConfig persists the editable configuration fields of a
// campaign. Counters, status and totals are never touched here. The
// WHERE clause re-checks the status so a concurrent start cannot let
// an edit land on a running campaign; it returns false when the
// status no longer permits editing.
func (r *CampaignRepository) UpdateConfig(c *models.Campaign) (bool, error) {
	window, err := marshalWindow(c.SendingWindow)
	if err != nil {
		return false, err
	}

	res, err := r.db.Exec(`
		UPDATE campaigns SET name = ?, message_type = ?, body = ?, media_url = ?,
			delay_min_ms = ?, delay_max_ms = ?, randomize_order = ?, sending_window = ?,
			is_scheduled = ?, scheduled_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		c.Name, c.Type, c.Body, c.MediaURL,
		c.DelayMinMs, c.DelayMaxMs, c.RandomizeOrder, window,
		c.IsScheduled, c.ScheduledAt, c.ID,
		models.StatusRunning, models.StatusCompleted, models.StatusCancelled,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update campaign config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes a campaign; contacts cascade.
func (r *CampaignRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM campaigns WHERE id = ?", id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	c := &models.Campaign{}
	var body, mediaURL, window sql.NullString
	var scheduledAt, startedAt, completedAt sql.NullTime

	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.ChannelID, &c.Type, &body, &mediaURL,
		&c.DelayMinMs, &c.DelayMaxMs, &c.RandomizeOrder, &window,
		&c.IsScheduled, &scheduledAt, &c.Status,
		&c.TotalContacts, &c.SentCount, &c.FailedCount, &c.CurrentIndex,
		&c.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if body.Valid {
		c.Body = body.String
	}
	if mediaURL.Valid {
		c.MediaURL = mediaURL.String
	}
	if scheduledAt.Valid {
		c.ScheduledAt = &scheduledAt.Time
	}
	if startedAt.Valid {
		c.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	if window.Valid && window.String != "" {
		var w models.SendingWindow
		// An unreadable window is treated as absent rather than
		// failing the whole read.
		if err := json.Unmarshal([]byte(window.String), &w); err == nil {
			c.SendingWindow = &w
		}
	}

	return c, nil
}

func marshalWindow(w *models.SendingWindow) (any, error) {
	if w == nil {
		return nil, nil
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sending window: %w", err)
	}
	return string(data), nil
}
