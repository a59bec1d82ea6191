package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// alertQueueSize is the bounded channel capacity for outbound alerts.
const alertQueueSize = 256

// AlertWebhook delivers AlertEvents to an external HTTP endpoint. Alerts are
// queued without blocking and sent by a background goroutine; when the
// queue is full they are dropped.
type AlertWebhook struct {
	url        string
	authHeader string // "Header: Value", e.g. "Authorization: Bearer xxx"
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
	events     chan AlertEvent
	wg         sync.WaitGroup
}

// NewAlertWebhook starts a dispatcher posting to url. authHeader is optional.
func NewAlertWebhook(url, authHeader string, logger *slog.Logger) *AlertWebhook {
	if logger == nil {
		logger = slog.Default()
	}
	w := &AlertWebhook{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "alert_webhook"),
		retryDelay: time.Second,
		events:     make(chan AlertEvent, alertQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Notify enqueues e. It never blocks and is usable as an AlertFunc.
func (w *AlertWebhook) Notify(e AlertEvent) {
	select {
	case w.events <- e:
	default:
		w.logger.Warn("queue full, dropping alert", "type", e.Type)
	}
}

// Close stops accepting alerts and waits for queued ones to be sent.
func (w *AlertWebhook) Close() {
	close(w.events)
	w.wg.Wait()
}

func (w *AlertWebhook) loop() {
	defer w.wg.Done()
	for e := range w.events {
		if err := w.send(context.Background(), e); err != nil {
			w.logger.Warn("delivery failed", "type", e.Type, "error", err)
		}
	}
}

func (w *AlertWebhook) send(ctx context.Context, e AlertEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	// One retry on 5xx or transport failure. Backoffs are stateful, so each
	// delivery gets its own.
	backoff := retry.WithMaxRetries(1, retry.NewConstant(w.retryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "authgate-alerts/1.0")
		if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
			req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("webhook returned %d", resp.StatusCode))
		case resp.StatusCode >= 300:
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		return nil
	})
}
