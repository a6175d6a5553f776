// Package notify delivers alert payloads to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "formwatch/pkg/logx"
)

type Config struct {
	// Timeout bounds one blocking POST. Default 8s.
	Timeout time.Duration

	// RatePerSec throttles sends so a burst of failures doesn't hammer the
	// webhook. Default 1.
	RatePerSec int
}

// DeliveryResult classifies one send attempt. OK means HTTP 2xx.
type DeliveryResult struct {
	OK         bool
	StatusCode int // 0 when the request never got a response
	Err        error
}

// Client posts {"text": ...} payloads to a webhook URL.
// It is safe for concurrent use.
type Client struct {
	log logx.Logger

	mu      sync.Mutex
	hc      *http.Client
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{log: log}
	c.Apply(cfg)
	return c
}

// Apply swaps timeout and rate settings at runtime.
// It is safe to call concurrently with Send.
func (c *Client) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	c.mu.Lock()
	c.hc = &http.Client{Timeout: cfg.Timeout}
	c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	c.mu.Unlock()
}

func (c *Client) snapshot() (*http.Client, *rate.Limiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hc, c.limiter
}

// Send posts the message text to the webhook and classifies the outcome.
// Failures are logged here, never surfaced to an end user; the caller only
// decides whether to keep or release the notification mark.
func (c *Client) Send(ctx context.Context, webhook, text string) DeliveryResult {
	hc, limiter := c.snapshot()
	if err := limiter.Wait(ctx); err != nil {
		return DeliveryResult{Err: err}
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("encode payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := hc.Do(req)
	if err != nil {
		c.log.Warn("webhook send failed", logx.Err(err))
		return DeliveryResult{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return DeliveryResult{OK: true, StatusCode: resp.StatusCode}
	}

	// Keep a short slice of the response body for diagnostics.
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	c.log.Warn("webhook rejected payload",
		logx.Int("status", resp.StatusCode),
		logx.String("body", string(b)),
	)
	return DeliveryResult{
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("webhook returned HTTP %d", resp.StatusCode),
	}
}
