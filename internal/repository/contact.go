package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veltar/pacer/internal/models"
)

type ContactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

const contactColumns = `id, campaign_id, phone, name, variables, processing_order,
	status, error_type, error_message, provider_msg_id, sent_at, created_at`

// CreateBatch inserts the contacts of a campaign in one transaction
// and bumps the campaign's total_contacts. ProcessingOrder must
// already be assigned by the caller.
func (r *ContactRepository) CreateBatch(campaignID string, contacts []models.Contact) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO campaign_contacts (id, campaign_id, phone, name, variables, processing_order, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for i := range contacts {
		contacts[i].ID = uuid.New().String()
		contacts[i].CampaignID = campaignID
		contacts[i].Status = models.ContactPending
		contacts[i].CreatedAt = now

		vars, err := marshalVariables(contacts[i].Variables)
		if err != nil {
			return err
		}

		_, err = stmt.Exec(contacts[i].ID, campaignID, contacts[i].Phone, contacts[i].Name,
			vars, contacts[i].ProcessingOrder, contacts[i].Status, now)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(`UPDATE campaigns SET total_contacts = total_contacts + ? WHERE id = ?`,
		len(contacts), campaignID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// NextPending returns the next pending contact by processing order,
// or nil when none remain.
func (r *ContactRepository) NextPending(campaignID string) (*models.Contact, error) {
	row := r.db.QueryRow(`
		SELECT `+contactColumns+` FROM campaign_contacts
		WHERE campaign_id = ? AND status = ?
		ORDER BY processing_order
		LIMIT 1`, campaignID, models.ContactPending)

	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// PendingByOrder returns all pending contacts in processing order.
func (r *ContactRepository) PendingByOrder(campaignID string) ([]models.Contact, error) {
	rows, err := r.db.Query(`
		SELECT `+contactColumns+` FROM campaign_contacts
		WHERE campaign_id = ? AND status = ?
		ORDER BY processing_order`, campaignID, models.ContactPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectContacts(rows)
}

// CountPending returns the number of contacts still pending.
func (r *ContactRepository) CountPending(campaignID string) (int, error) {
	var n int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM campaign_contacts
		WHERE campaign_id = ? AND status = ?`, campaignID, models.ContactPending).Scan(&n)
	return n, err
}

// RecentFailed returns the most recently failed contacts. Contacts
// are processed strictly in processing order, so descending order
// yields most-recent-first.
func (r *ContactRepository) RecentFailed(campaignID string, limit int) ([]models.Contact, error) {
	rows, err := r.db.Query(`
		SELECT `+contactColumns+` FROM campaign_contacts
		WHERE campaign_id = ? AND status = ?
		ORDER BY processing_order DESC
		LIMIT ?`, campaignID, models.ContactFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectContacts(rows)
}

// List returns contacts matching the filter in processing order.
func (r *ContactRepository) List(filter models.ContactFilter) ([]models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM campaign_contacts WHERE campaign_id = ?`
	args := []any{filter.CampaignID}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY processing_order"

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

	return collectContacts(rows)
}

// MarkSent records a successful delivery: the contact row and the
// campaign counters move in one transaction, and only if the contact
// is still pending, so a replayed write can never double-count.
func (r *ContactRepository) MarkSent(campaignID, contactID, providerMsgID string) error {
	return r.markProcessed(campaignID, contactID, func(tx *sql.Tx) (sql.Result, error) {
		return tx.Exec(`
			UPDATE campaign_contacts SET status = ?, provider_msg_id = ?, sent_at = ?
			WHERE id = ? AND status = ?`,
			models.ContactSent, providerMsgID, time.Now(), contactID, models.ContactPending)
	}, `UPDATE campaigns SET sent_count = sent_count + 1, current_index = current_index + 1 WHERE id = ?`)
}

// MarkFailed records a failed delivery with its classification, same
// atomicity contract as MarkSent.
func (r *ContactRepository) MarkFailed(campaignID, contactID string, class models.ErrorClass, message string) error {
	return r.markProcessed(campaignID, contactID, func(tx *sql.Tx) (sql.Result, error) {
		return tx.Exec(`
			UPDATE campaign_contacts SET status = ?, error_type = ?, error_message = ?
			WHERE id = ? AND status = ?`,
			models.ContactFailed, class, message, contactID, models.ContactPending)
	}, `UPDATE campaigns SET failed_count = failed_count + 1, current_index = current_index + 1 WHERE id = ?`)
}

func (r *ContactRepository) markProcessed(campaignID, contactID string, updateContact func(*sql.Tx) (sql.Result, error), counterSQL string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := updateContact(tx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Already processed; nothing to count.
		return tx.Rollback()
	}

	if _, err := tx.Exec(counterSQL, campaignID); err != nil {
		return err
	}

	return tx.Commit()
}

func scanContact(row rowScanner) (*models.Contact, error) {
	c := &models.Contact{}
	var name, vars, errType, errMsg, providerMsgID sql.NullString
	var sentAt sql.NullTime

	err := row.Scan(&c.ID, &c.CampaignID, &c.Phone, &name, &vars, &c.ProcessingOrder,
		&c.Status, &errType, &errMsg, &providerMsgID, &sentAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}

	if name.Valid {
		c.Name = name.String
	}
	if errType.Valid {
		c.ErrorType = models.ErrorClass(errType.String)
	}
	if errMsg.Valid {
		c.ErrorMessage = errMsg.String
	}
	if providerMsgID.Valid {
		c.ProviderMsgID = providerMsgID.String
	}
	if sentAt.Valid {
		c.SentAt = &sentAt.Time
	}
	if vars.Valid && vars.String != "" {
		var m map[string]string
		if err := json.Unmarshal([]byte(vars.String), &m); err == nil {
			c.Variables = m
		}
	}

	return c, nil
}

func collectContacts(rows *sql.Rows) ([]models.Contact, error) {
	contacts := []models.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

func marshalVariables(vars map[string]string) (any, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to encode variables: %w", err)
	}
	return string(data), nil
}
