// Package notify delivers engine events to the alerting collaborator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"stealth-trader/internal/config"
	"stealth-trader/internal/models"
)

// Notifier is the alerting collaborator interface consumed by the
// scheduler.
type Notifier interface {
	SendExit(ctx context.Context, ev models.ExitEvent) error
	SendOpen(ctx context.Context, ev models.PositionOpened) error
	SendUpdate(ctx context.Context, ev models.PositionUpdated) error
	SendDataAlert(ctx context.Context, symbol string, consecutiveFailures int) error
}

// Channel is a single delivery mechanism behind the multi-channel
// notifier.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification is the channel-agnostic message shape.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType classifies notifications for level filtering.
type NotificationType string

const (
	NotificationExit   NotificationType = "exit"
	NotificationOpen   NotificationType = "open"
	NotificationUpdate NotificationType = "update"
	NotificationError  NotificationType = "error"
)

// MultiNotifier fans a notification out to every enabled channel,
// applying the configured level filter.
type MultiNotifier struct {
	channels []Channel
	level    string
}

// NewMultiNotifier builds a notifier from configuration.
func NewMultiNotifier(cfg config.NotificationConfig) *MultiNotifier {
	n := &MultiNotifier{level: cfg.Level}

	if !cfg.Enabled {
		return n
	}
	if cfg.Terminal {
		n.channels = append(n.channels, NewTerminalChannel())
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		n.channels = append(n.channels, NewWebhookChannel(cfg.Webhook.URL))
	}

	return n
}

// SendExit implements Notifier.
func (m *MultiNotifier) SendExit(ctx context.Context, ev models.ExitEvent) error {
	return m.send(ctx, Notification{
		Type:  NotificationExit,
		Title: fmt.Sprintf("Exit %s (%s)", ev.Symbol, ev.Reason),
		Message: fmt.Sprintf("%s closed at %.2f, P&L %.2f, stage %s, held %s",
			ev.Symbol, ev.ExitPrice, ev.RealizedPnL, ev.StageAtExit, ev.HoldingDuration.Round(time.Second)),
		Data: map[string]interface{}{
			"symbol":     ev.Symbol,
			"exit_price": ev.ExitPrice,
			"reason":     string(ev.Reason),
			"pnl":        ev.RealizedPnL,
			"stage":      string(ev.StageAtExit),
		},
		Timestamp: ev.Timestamp,
	})
}

// SendOpen implements Notifier.
func (m *MultiNotifier) SendOpen(ctx context.Context, ev models.PositionOpened) error {
	return m.send(ctx, Notification{
		Type:  NotificationOpen,
		Title: fmt.Sprintf("Opened %s", ev.Symbol),
		Message: fmt.Sprintf("%s x%d, notional %.2f, stop %.2f, target %.2f",
			ev.Symbol, ev.Quantity, ev.NotionalValue, ev.StopPrice, ev.TakeProfitPrice),
		Data: map[string]interface{}{
			"symbol":   ev.Symbol,
			"quantity": ev.Quantity,
			"notional": ev.NotionalValue,
		},
		Timestamp: ev.Timestamp,
	})
}

// SendUpdate implements Notifier.
func (m *MultiNotifier) SendUpdate(ctx context.Context, ev models.PositionUpdated) error {
	return m.send(ctx, Notification{
		Type:      NotificationUpdate,
		Title:     fmt.Sprintf("%s advanced to %s", ev.Symbol, ev.Stage),
		Message:   fmt.Sprintf("%s stage %s, stop %.2f", ev.Symbol, ev.Stage, ev.StopPrice),
		Data:      map[string]interface{}{"symbol": ev.Symbol, "stage": string(ev.Stage)},
		Timestamp: ev.Timestamp,
	})
}

// SendDataAlert implements Notifier. Used when market data for a symbol
// has failed past the escalation threshold; the position is left open.
func (m *MultiNotifier) SendDataAlert(ctx context.Context, symbol string, consecutiveFailures int) error {
	return m.send(ctx, Notification{
		Type:  NotificationError,
		Title: fmt.Sprintf("Market data stale for %s", symbol),
		Message: fmt.Sprintf("%s has had no usable market data for %d consecutive ticks; position left open",
			symbol, consecutiveFailures),
		Data:      map[string]interface{}{"symbol": symbol, "failures": consecutiveFailures},
		Timestamp: time.Now(),
	})
}

func (m *MultiNotifier) send(ctx context.Context, n Notification) error {
	if !m.shouldSend(n.Type) {
		return nil
	}

	var firstErr error
	for _, ch := range m.channels {
		if !ch.IsEnabled() {
			continue
		}
		if err := ch.Send(ctx, n); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("channel %s: %w", ch.Name(), err)
		}
	}
	return firstErr
}

func (m *MultiNotifier) shouldSend(t NotificationType) bool {
	switch m.level {
	case "exits_only":
		return t == NotificationExit
	case "errors_only":
		return t == NotificationError
	default:
		return true
	}
}

// WebhookChannel posts notifications as JSON to a configured URL.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements Channel.
func (w *WebhookChannel) Name() string { return "webhook" }

// IsEnabled implements Channel.
func (w *WebhookChannel) IsEnabled() bool { return w.url != "" }

// Send implements Channel.
func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(map[string]interface{}{
		"type":      string(n.Type),
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
