package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const telegramBaseURL = "https://api.telegram.org"

// TelegramSink posts summaries to a chat through the Bot API. Runs with failures
// get the CSV failure report attached as a document.
type TelegramSink struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegram creates a Telegram sink
func NewTelegram(token, chatID string, timeout time.Duration) *TelegramSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramSink{
		token:   token,
		chatID:  chatID,
		baseURL: telegramBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Sink
func (t *TelegramSink) Name() string {
	return "telegram"
}

// Notify implements Sink
func (t *TelegramSink) Notify(ctx context.Context, s Summary) error {
	if len(s.Failures) == 0 {
		return t.sendMessage(ctx, Text(s))
	}

	report, err := FailureReport(s)
	if err != nil {
		return err
	}
	return t.sendDocument(ctx, Text(s), fmt.Sprintf("campaign-%s-failures.csv", s.CampaignID), report)
}

func (t *TelegramSink) sendMessage(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}
	return t.call(ctx, "sendMessage", "application/json", bytes.NewReader(body))
}

func (t *TelegramSink) sendDocument(ctx context.Context, caption, filename string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("chat_id", t.chatID); err != nil {
		return err
	}
	if err := mw.WriteField("caption", caption); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	return t.call(ctx, "sendDocument", mw.FormDataContentType(), &buf)
}

func (t *TelegramSink) call(ctx context.Context, method, contentType string, body io.Reader) error {
	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("telegram %s: status %d", method, resp.StatusCode)
	}
	if !out.OK {
		return fmt.Errorf("telegram %s: %s", method, out.Description)
	}
	return nil
}
