package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"otp-dispatch-service/internal/config"
)

// EmailSender posts messages to the transactional email provider's send
// endpoint. The base URL is injected from config so tests can point to a
// local mock.
type EmailSender struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
}

type emailSendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

type emailSendResponse struct {
	MessageID string `json:"message_id"`
}

func NewEmailSender(cfg config.EmailProviderConfig) *EmailSender {
	return &EmailSender{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		from:    cfg.From,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (s *EmailSender) Send(ctx context.Context, identifier, message string) Result {
	body, err := json.Marshal(emailSendRequest{
		From:    s.from,
		To:      identifier,
		Subject: "Your verification code",
		Text:    message,
	})
	if err != nil {
		return Result{Status: StatusError, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return Result{Status: StatusError, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Result{Status: StatusError, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{Status: StatusThrottled, Err: fmt.Errorf("email provider throttled the request")}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var sendResp emailSendResponse
		if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil {
			// Provider accepted the message; a malformed body is not a delivery failure.
			return Result{Status: StatusSent}
		}
		return Result{Status: StatusSent, ProviderID: sendResp.MessageID}
	default:
		return Result{Status: StatusError, Err: fmt.Errorf("unexpected email provider status: %d", resp.StatusCode)}
	}
}

var _ Sender = (*EmailSender)(nil)
