package models

import "time"

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	StatusScheduled CampaignStatus = "scheduled"
	StatusRunning   CampaignStatus = "running"
	StatusPaused    CampaignStatus = "paused"
	StatusCancelled CampaignStatus = "cancelled"
	StatusCompleted CampaignStatus = "completed"
	StatusFailed    CampaignStatus = "failed"
)

// MessageType identifies the kind of message a campaign sends.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
	MessageSticker  MessageType = "sticker"
)

// ValidMessageType reports whether t is a known message type.
func ValidMessageType(t MessageType) bool {
	switch t {
	case MessageText, MessageImage, MessageAudio, MessageVideo, MessageDocument, MessageSticker:
		return true
	}
	return false
}

// SendingWindow restricts the time of day (and days of week) during
// which a campaign may send. Times are "HH:MM" in the given IANA
// timezone. An End before Start means the window crosses midnight.
// Empty Days means every day.
type SendingWindow struct {
	Days     []time.Weekday `json:"days,omitempty"`
	Start    string         `json:"start"`
	End      string         `json:"end"`
	Timezone string         `json:"timezone,omitempty"`
}

// Campaign represents one bulk-send job.
type Campaign struct {
	ID        string      `json:"id"`
	OwnerID   string      `json:"owner_id"`
	Name      string      `json:"name"`
	ChannelID string      `json:"channel_id"`
	Type      MessageType `json:"message_type"`
	Body      string      `json:"body"`
	MediaURL  string      `json:"media_url,omitempty"`

	DelayMinMs     int            `json:"delay_min_ms"`
	DelayMaxMs     int            `json:"delay_max_ms"`
	RandomizeOrder bool           `json:"randomize_order"`
	SendingWindow  *SendingWindow `json:"sending_window,omitempty"`

	IsScheduled bool       `json:"is_scheduled"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`

	Status CampaignStatus `json:"status"`

	TotalContacts int `json:"total_contacts"`
	SentCount     int `json:"sent_count"`
	FailedCount   int `json:"failed_count"`
	CurrentIndex  int `json:"current_index"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DelayMin returns the lower pacing bound as a duration.
func (c *Campaign) DelayMin() time.Duration {
	return time.Duration(c.DelayMinMs) * time.Millisecond
}

// DelayMax returns the upper pacing bound as a duration.
func (c *Campaign) DelayMax() time.Duration {
	return time.Duration(c.DelayMaxMs) * time.Millisecond
}

// CampaignListFilter for listing campaigns
type CampaignListFilter struct {
	OwnerID string
	Status  CampaignStatus
	Limit   int
	Offset  int
}
