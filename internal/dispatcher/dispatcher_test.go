package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/veltar/pacer/internal/models"
	"github.com/veltar/pacer/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCampaign(mt models.MessageType) *models.Campaign {
	return &models.Campaign{
		ID:        "camp-1",
		ChannelID: "channel-1",
		Type:      mt,
		Body:      "Hi {{name}}, your code is {{coupon}}",
		MediaURL:  "https://cdn.example.com/files/catalog.pdf?v=2",
	}
}

func testContact() *models.Contact {
	return &models.Contact{
		ID:        "contact-1",
		Phone:     "+5511999990001",
		Name:      "Ana",
		Variables: map[string]string{"coupon": "PROMO10"},
	}
}

func TestDispatchSuccess(t *testing.T) {
	var got provider.SendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(provider.SendResponse{MessageID: "wamid-1", Status: "queued"})
	}))
	defer srv.Close()

	d := New(provider.NewClient(srv.URL, "key", 5*time.Second), 5*time.Second, testLogger())
	res := d.Dispatch(context.Background(), testCampaign(models.MessageText), testContact())

	if !res.Sent {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.ProviderMsgID != "wamid-1" {
		t.Errorf("expected provider msg id wamid-1, got %q", res.ProviderMsgID)
	}
	if got.Body != "Hi Ana, your code is PROMO10" {
		t.Errorf("template not rendered: %q", got.Body)
	}
	if got.To != "+5511999990001" || got.ChannelID != "channel-1" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestDispatchInvalidPhone(t *testing.T) {
	// No server: validation fails before any network call.
	d := New(provider.NewClient("http://127.0.0.1:0", "key", time.Second), time.Second, testLogger())

	contact := testContact()
	contact.Phone = "not-a-phone"
	res := d.Dispatch(context.Background(), testCampaign(models.MessageText), contact)

	if res.Sent {
		t.Fatal("expected failure")
	}
	if res.ErrorClass != models.ErrorInvalidRecipient {
		t.Errorf("expected invalid_recipient, got %s", res.ErrorClass)
	}
}

func TestDispatchErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      string
		wantClass models.ErrorClass
	}{
		{"invalid recipient", http.StatusBadRequest, provider.CodeInvalidRecipient, models.ErrorInvalidRecipient},
		{"channel disconnected", http.StatusConflict, provider.CodeChannelDisconnected, models.ErrorChannelDisconnected},
		{"rejected", http.StatusBadRequest, provider.CodeRejected, models.ErrorProviderRejected},
		{"unclassified 500", http.StatusInternalServerError, "", models.ErrorProviderRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(provider.ErrorResponse{Error: "nope", Code: tt.code})
			}))
			defer srv.Close()

			d := New(provider.NewClient(srv.URL, "key", 5*time.Second), 5*time.Second, testLogger())
			res := d.Dispatch(context.Background(), testCampaign(models.MessageText), testContact())

			if res.Sent {
				t.Fatal("expected failure")
			}
			if res.ErrorClass != tt.wantClass {
				t.Errorf("expected %s, got %s", tt.wantClass, res.ErrorClass)
			}
		})
	}
}

func TestDispatchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	d := New(provider.NewClient(srv.URL, "key", 5*time.Second), 50*time.Millisecond, testLogger())
	res := d.Dispatch(context.Background(), testCampaign(models.MessageText), testContact())

	if res.Sent {
		t.Fatal("expected failure")
	}
	if res.ErrorClass != models.ErrorTimeout {
		t.Errorf("expected timeout, got %s", res.ErrorClass)
	}
}

func TestBuildPayloadVariants(t *testing.T) {
	contact := testContact()

	tests := []struct {
		mt           models.MessageType
		wantBody     bool
		wantMedia    bool
		wantCaption  bool
		wantFileName string
	}{
		{models.MessageText, true, false, false, ""},
		{models.MessageImage, false, true, true, ""},
		{models.MessageVideo, false, true, true, ""},
		{models.MessageDocument, false, true, true, "catalog.pdf"},
		{models.MessageAudio, false, true, false, ""},
		{models.MessageSticker, false, true, false, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.mt), func(t *testing.T) {
			req, ok := buildPayload(testCampaign(tt.mt), contact)
			if !ok {
				t.Fatal("expected payload")
			}
			if (req.Body != "") != tt.wantBody {
				t.Errorf("body presence = %v, want %v", req.Body != "", tt.wantBody)
			}
			if (req.MediaURL != "") != tt.wantMedia {
				t.Errorf("media presence = %v, want %v", req.MediaURL != "", tt.wantMedia)
			}
			if (req.Caption != "") != tt.wantCaption {
				t.Errorf("caption presence = %v, want %v", req.Caption != "", tt.wantCaption)
			}
			if req.FileName != tt.wantFileName {
				t.Errorf("file name = %q, want %q", req.FileName, tt.wantFileName)
			}
		})
	}

	if _, ok := buildPayload(testCampaign("carousel"), contact); ok {
		t.Error("expected unknown message type to be rejected")
	}
}

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		contact  *models.Contact
		want     string
	}{
		{
			name:     "builtin variables",
			template: "Hi {{name}} ({{phone}})",
			contact:  &models.Contact{Phone: "+5511999990001", Name: "Ana"},
			want:     "Hi Ana (+5511999990001)",
		},
		{
			name:     "custom variable",
			template: "Use {{coupon}}",
			contact:  &models.Contact{Phone: "+1", Variables: map[string]string{"coupon": "X"}},
			want:     "Use X",
		},
		{
			name:     "unknown variable kept",
			template: "Hello {{missing}}",
			contact:  &models.Contact{Phone: "+1"},
			want:     "Hello {{missing}}",
		},
		{
			name:     "name falls through to variables when empty",
			template: "Hi {{name}}",
			contact:  &models.Contact{Phone: "+1", Variables: map[string]string{"name": "Fallback"}},
			want:     "Hi Fallback",
		},
		{
			name:     "empty template",
			template: "",
			contact:  &models.Contact{Phone: "+1"},
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderTemplate(tt.template, tt.contact); got != tt.want {
				t.Errorf("renderTemplate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPhonePattern(t *testing.T) {
	valid := []string{"+5511999990001", "5511999990001", "+14155550123", "1234567"}
	invalid := []string{"", "+0123456", "abc", "+55 11 99999", "123"}

	for _, p := range valid {
		if !phonePattern.MatchString(p) {
			t.Errorf("expected %q to be valid", p)
		}
	}
	for _, p := range invalid {
		if phonePattern.MatchString(p) {
			t.Errorf("expected %q to be invalid", p)
		}
	}
}
