package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"otp-dispatch-service/internal/config"
)

// WhatsAppSender delivers messages through the WhatsApp Cloud API
// (POST /{phone-number-id}/messages).
type WhatsAppSender struct {
	baseURL       string
	token         string
	phoneNumberID string
	httpClient    *http.Client
}

type whatsAppTextBody struct {
	Body string `json:"body"`
}

type whatsAppSendRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             whatsAppTextBody `json:"text"`
}

type whatsAppSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func NewWhatsAppSender(cfg config.WhatsAppProviderConfig) *WhatsAppSender {
	return &WhatsAppSender{
		baseURL:       cfg.BaseURL,
		token:         cfg.Token,
		phoneNumberID: cfg.PhoneNumberID,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (s *WhatsAppSender) Send(ctx context.Context, identifier, message string) Result {
	body, err := json.Marshal(whatsAppSendRequest{
		MessagingProduct: "whatsapp",
		To:               identifier,
		Type:             "text",
		Text:             whatsAppTextBody{Body: message},
	})
	if err != nil {
		return Result{Status: StatusError, Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Status: StatusError, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Result{Status: StatusError, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{Status: StatusThrottled, Err: fmt.Errorf("whatsapp api throttled the request")}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var sendResp whatsAppSendResponse
		if err := json.NewDecoder(resp.Body).Decode(&sendResp); err == nil && len(sendResp.Messages) > 0 {
			return Result{Status: StatusSent, ProviderID: sendResp.Messages[0].ID}
		}
		return Result{Status: StatusSent}
	default:
		return Result{Status: StatusError, Err: fmt.Errorf("unexpected whatsapp api status: %d", resp.StatusCode)}
	}
}

var _ Sender = (*WhatsAppSender)(nil)
