package provider

// Error codes returned by the messaging provider API.
const (
	CodeInvalidRecipient    = "invalid_recipient"
	CodeChannelDisconnected = "channel_disconnected"
	CodeRejected            = "rejected"
)

// SendRequest represents a message send request. Exactly one payload
// shape applies depending on Type: text messages carry Body, media
// messages carry MediaURL plus an optional Caption.
type SendRequest struct {
	ChannelID string `json:"channel_id"`
	To        string `json:"to"`
	Type      string `json:"type"`
	Body      string `json:"body,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`
	Caption   string `json:"caption,omitempty"`
	FileName  string `json:"file_name,omitempty"`
}

// SendResponse represents a send response
type SendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// ChannelStatusResponse represents channel connectivity state
type ChannelStatusResponse struct {
	ChannelID string `json:"channel_id"`
	Connected bool   `json:"connected"`
	State     string `json:"state,omitempty"`
}

// ErrorResponse represents an API error body
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
