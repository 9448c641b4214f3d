package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/veltar/pacer/internal/models"
	"github.com/veltar/pacer/internal/provider"
)

// variable pattern for template substitution: {{variable_name}}
var varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

var phonePattern = regexp.MustCompile(`^\+?[1-9][0-9]{6,14}$`)

// Result is the classified outcome of a single delivery attempt.
type Result struct {
	Sent          bool
	ProviderMsgID string
	ErrorClass    models.ErrorClass
	ErrorMessage  string
}

func failure(class models.ErrorClass, message string) Result {
	return Result{ErrorClass: class, ErrorMessage: message}
}

// Dispatcher delivers one message to one recipient through the
// provider and classifies the outcome. Dispatch never returns an
// error: a failure for one recipient must not abort the rest.
type Dispatcher struct {
	provider *provider.Client
	timeout  time.Duration
	logger   *slog.Logger
}

func New(p *provider.Client, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		provider: p,
		timeout:  timeout,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch sends the campaign's message to one contact.
func (d *Dispatcher) Dispatch(ctx context.Context, campaign *models.Campaign, contact *models.Contact) Result {
	if !phonePattern.MatchString(contact.Phone) {
		return failure(models.ErrorInvalidRecipient, "recipient is not a valid international phone number")
	}

	req, ok := buildPayload(campaign, contact)
	if !ok {
		return failure(models.ErrorProviderRejected, "unsupported message type: "+string(campaign.Type))
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.provider.Send(sendCtx, req)
	if err != nil {
		res := classify(err)
		d.logger.Debug("send failed",
			"campaign_id", campaign.ID,
			"contact_id", contact.ID,
			"error_class", res.ErrorClass,
			"error", err,
		)
		return res
	}

	return Result{Sent: true, ProviderMsgID: resp.MessageID}
}

// buildPayload maps the campaign's message variant onto a provider
// request. This is the single dispatch point for message types.
func buildPayload(campaign *models.Campaign, contact *models.Contact) (*provider.SendRequest, bool) {
	req := &provider.SendRequest{
		ChannelID: campaign.ChannelID,
		To:        contact.Phone,
		Type:      string(campaign.Type),
	}

	body := renderTemplate(campaign.Body, contact)

	switch campaign.Type {
	case models.MessageText:
		req.Body = body
	case models.MessageImage, models.MessageVideo, models.MessageDocument:
		req.MediaURL = campaign.MediaURL
		req.Caption = body
		if campaign.Type == models.MessageDocument {
			req.FileName = fileNameFromURL(campaign.MediaURL)
		}
	case models.MessageAudio, models.MessageSticker:
		// No caption on audio/sticker messages.
		req.MediaURL = campaign.MediaURL
	default:
		return nil, false
	}

	return req, true
}

// classify maps a provider error onto the recipient/channel error
// taxonomy.
func classify(err error) Result {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case provider.CodeInvalidRecipient:
			return failure(models.ErrorInvalidRecipient, apiErr.Message)
		case provider.CodeChannelDisconnected:
			return failure(models.ErrorChannelDisconnected, apiErr.Message)
		default:
			return failure(models.ErrorProviderRejected, apiErr.Message)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return failure(models.ErrorTimeout, "send timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failure(models.ErrorTimeout, "send timed out")
	}

	return failure(models.ErrorUnknown, err.Error())
}

// renderTemplate substitutes {{variable}} patterns with the contact's
// variables. {{name}} and {{phone}} are always available.
func renderTemplate(template string, contact *models.Contact) string {
	if template == "" {
		return template
	}

	return varPattern.ReplaceAllStringFunc(template, func(match string) string {
		varName := strings.TrimSpace(match[2 : len(match)-2])
		switch varName {
		case "name":
			if contact.Name != "" {
				return contact.Name
			}
		case "phone":
			return contact.Phone
		}
		if value, ok := contact.Variables[varName]; ok {
			return value
		}
		// Keep original if variable not found
		return match
	})
}

func fileNameFromURL(mediaURL string) string {
	if idx := strings.LastIndex(mediaURL, "/"); idx >= 0 && idx < len(mediaURL)-1 {
		name := mediaURL[idx+1:]
		if q := strings.IndexByte(name, '?'); q >= 0 {
			name = name[:q]
		}
		return name
	}
	return ""
}
