package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"breakout-failures/internal/analysis"
)

// Notification summarises the failures found in one scan of a symbol.
type Notification struct {
	Ticker   string
	Company  string
	ScanTime time.Time
	Failures []analysis.Failure
}

// Notifier delivers failure notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify posts the rendered summary via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected telegram status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("ticker", note.Ticker).
		Int("failures", len(note.Failures)).
		Msg("alert dispatched (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Breakout Failure Alert]\n")
	name := note.Ticker
	if note.Company != "" && note.Company != note.Ticker {
		name = fmt.Sprintf("%s (%s)", note.Company, note.Ticker)
	}
	builder.WriteString(fmt.Sprintf("Symbol: %s\n", name))
	builder.WriteString(fmt.Sprintf("Scanned: %s UTC\n", note.ScanTime.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Failures: %d\n", len(note.Failures)))
	for _, failure := range note.Failures {
		builder.WriteString(fmt.Sprintf("- %s at %s, close %s\n",
			failure.Location,
			failure.FailureTime.UTC().Format(time.RFC3339),
			failure.CloseAtFailure.StringFixed(2),
		))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
