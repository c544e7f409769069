// Package notify posts plan lifecycle notifications to webhook URLs.
//
// The Webhook implements the plan executor's Publisher: step completions and
// final plan outcomes are queued and delivered by a background worker, so a
// slow receiver never delays plan execution. Payloads are JSON, optionally
// signed with HMAC-SHA256 in the X-Conductor-Signature header.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// EventType describes what happened.
type EventType string

const (
	EventStepSucceeded EventType = "step_succeeded"
	EventStepFailed    EventType = "step_failed"
	EventPlanSucceeded EventType = "plan_succeeded"
	EventPlanFailed    EventType = "plan_failed"
)

const (
	queueSize   = 256
	maxAttempts = 3
)

// Notification is the webhook payload.
type Notification struct {
	Type      EventType `json:"type"`
	PlanID    string    `json:"plan_id"`
	StepID    string    `json:"step_id,omitempty"`
	Index     int       `json:"index,omitempty"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FromEvent maps a plan event to a notification. Transitions into running
// are not notified.
func FromEvent(evt models.PlanEvent) (Notification, bool) {
	n := Notification{PlanID: evt.PlanID, StepID: evt.StepID, Index: evt.Index, Output: evt.Output, Error: evt.Error, Timestamp: evt.Timestamp}
	step := evt.StepID != ""
	switch {
	case step && evt.Status == string(models.StepSucceeded):
		n.Type = EventStepSucceeded
	case step && evt.Status == string(models.StepFailed):
		n.Type = EventStepFailed
	case !step && evt.Status == string(models.PlanSucceeded):
		n.Type = EventPlanSucceeded
	case !step && evt.Status == string(models.PlanFailed):
		n.Type = EventPlanFailed
	default:
		return n, false
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	return n, true
}

// Webhook delivers notifications to every configured URL.
type Webhook struct {
	urls       []string
	secret     string
	client     *http.Client
	retryDelay time.Duration

	queue chan Notification
	done  chan struct{}
	once  sync.Once
}

// NewWebhook starts the delivery worker. Call Close to drain and stop it.
func NewWebhook(urls []string, secret string) *Webhook {
	w := &Webhook{
		urls:       urls,
		secret:     secret,
		client:     &http.Client{Timeout: 15 * time.Second},
		retryDelay: time.Second,
		queue:      make(chan Notification, queueSize),
		done:       make(chan struct{}),
	}
	go w.run()
	log.Info().Int("urls", len(urls)).Bool("signed", secret != "").Msg("Plan webhooks enabled")
	return w
}

// Publish queues the event for delivery. Events are dropped when the queue is full.
func (w *Webhook) Publish(evt models.PlanEvent) {
	n, ok := FromEvent(evt)
	if !ok {
		return
	}
	select {
	case w.queue <- n:
	default:
		log.Warn().Str("plan_id", n.PlanID).Str("event", string(n.Type)).Msg("Webhook queue full, dropping notification")
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (w *Webhook) Close() {
	w.once.Do(func() {
		close(w.queue)
		<-w.done
	})
}

func (w *Webhook) run() {
	defer close(w.done)
	for n := range w.queue {
		for _, url := range w.urls {
			if err := w.send(context.Background(), url, n); err != nil {
				log.Warn().Err(err).Str("url", url).Str("plan_id", n.PlanID).Str("event", string(n.Type)).Msg("Webhook delivery failed")
				continue
			}
			log.Debug().Str("url", url).Str("plan_id", n.PlanID).Str("event", string(n.Type)).Msg("Webhook delivered")
		}
	}
}

// send posts n to url, retrying transport errors and non-2xx responses.
func (w *Webhook) send(ctx context.Context, url string, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Conductor-Webhook/1.0")
		req.Header.Set("X-Conductor-Event", string(n.Type))
		if w.secret != "" {
			req.Header.Set("X-Conductor-Signature", "sha256="+Sign(w.secret, body))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		err = fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, url)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.retryDelay
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, maxAttempts-1), ctx))
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
