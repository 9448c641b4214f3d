package models

import "time"

// ContactStatus is the delivery state of a single recipient.
type ContactStatus string

const (
	ContactPending ContactStatus = "pending"
	ContactSent    ContactStatus = "sent"
	ContactFailed  ContactStatus = "failed"
)

// ErrorClass classifies a failed delivery attempt.
type ErrorClass string

const (
	ErrorInvalidRecipient    ErrorClass = "invalid_recipient"
	ErrorChannelDisconnected ErrorClass = "channel_disconnected"
	ErrorTimeout             ErrorClass = "timeout"
	ErrorProviderRejected    ErrorClass = "provider_rejected"
	ErrorUnknown             ErrorClass = "unknown"
)

// Contact represents one recipient of a campaign. ProcessingOrder is
// assigned once at creation and defines the delivery order; it is
// unique within a campaign.
type Contact struct {
	ID              string            `json:"id"`
	CampaignID      string            `json:"campaign_id"`
	Phone           string            `json:"phone"`
	Name            string            `json:"name,omitempty"`
	Variables       map[string]string `json:"variables,omitempty"`
	ProcessingOrder int               `json:"processing_order"`
	Status          ContactStatus     `json:"status"`
	ErrorType       ErrorClass        `json:"error_type,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	ProviderMsgID   string            `json:"provider_msg_id,omitempty"`
	SentAt          *time.Time        `json:"sent_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// ContactFilter for listing contacts within a campaign
type ContactFilter struct {
	CampaignID string
	Status     ContactStatus
	Limit      int
	Offset     int
}
