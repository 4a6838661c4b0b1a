package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sokoniapp/sokoni-core/internal/models"
)

// deliveryPayload is the wire shape the ingestion endpoint accepts.
// AudioPayload marshals to base64 per encoding/json.
type deliveryPayload struct {
	ConversationID  string `json:"conversation_id"`
	SenderID        string `json:"sender_id"`
	RecipientID     string `json:"recipient_id"`
	PayloadText     string `json:"payload_text"`
	PayloadLanguage string `json:"payload_language"`
	AudioPayload    []byte `json:"audio_payload,omitempty"`
	ClientMessageID string `json:"client_message_id"`
}

// HTTPTransport posts messages to the remote ingestion endpoint. Every
// attempt carries a bounded timeout so a hung connection on a 2G link
// cannot stall the drain loop.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport creates an HTTPTransport with the given per-attempt timeout.
func NewHTTPTransport(endpoint string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Deliver posts one message. A non-2xx response is treated identically to
// a transport error: one failed attempt.
func (t *HTTPTransport) Deliver(ctx context.Context, msg *models.Message) error {
	body, err := json.Marshal(deliveryPayload{
		ConversationID:  msg.ConversationID,
		SenderID:        msg.SenderID,
		RecipientID:     msg.RecipientID,
		PayloadText:     msg.PayloadText,
		PayloadLanguage: msg.PayloadLanguage,
		AudioPayload:    msg.AudioPayload,
		ClientMessageID: msg.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("delivery rejected with status %d", resp.StatusCode)
	}
	return nil
}
