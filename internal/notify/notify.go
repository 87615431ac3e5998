// Package notify implements the two human-facing collaborators the
// bridge talks to: a chat webhook for routine/operator-visible events
// and an alert/pager webhook for anomalies that need paging. Neither
// collaborator has a client library anywhere in the reference corpus,
// so both are thin net/http + encoding/json webhook clients, the same
// shape the bridge uses for its other HTTP-only collaborators (the
// remote signer and the audit store).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Chatter posts human-readable status messages to an operator chat
// channel (e.g. a Slack-style incoming webhook).
type Chatter interface {
	Post(ctx context.Context, message string) error
}

// Alerter pages an operator about an anomaly that needs attention.
// Severity distinguishes a liveness warning from a funds-at-risk page.
type Alerter interface {
	Alert(ctx context.Context, severity Severity, message string) error
}

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// WebhookChatter posts a JSON payload {"text": message} to a configured
// webhook URL.
type WebhookChatter struct {
	URL    string
	Client *http.Client
}

func NewWebhookChatter(url string) *WebhookChatter {
	return &WebhookChatter{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (c *WebhookChatter) Post(ctx context.Context, message string) error {
	if c.URL == "" {
		log.Debug("chat notification suppressed, no webhook configured", "message", message)
		return nil
	}
	body, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return fmt.Errorf("notify: marshal chat payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post chat message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: chat webhook returned %s", resp.Status)
	}
	return nil
}

// WebhookAlerter posts a routing-key-tagged incident payload to a paging
// integration's events endpoint.
type WebhookAlerter struct {
	URL        string
	RoutingKey string
	Client     *http.Client
}

func NewWebhookAlerter(url, routingKey string) *WebhookAlerter {
	return &WebhookAlerter{URL: url, RoutingKey: routingKey, Client: &http.Client{Timeout: 10 * time.Second}}
}

type alertPayload struct {
	RoutingKey string `json:"routing_key"`
	EventKind  string `json:"event_action"`
	Payload    struct {
		Summary  string `json:"summary"`
		Severity string `json:"severity"`
		Source   string `json:"source"`
	} `json:"payload"`
}

func (a *WebhookAlerter) Alert(ctx context.Context, severity Severity, message string) error {
	if a.URL == "" {
		log.Warn("alert suppressed, no alert integration configured", "severity", severity, "message", message)
		return nil
	}
	payload := alertPayload{RoutingKey: a.RoutingKey, EventKind: "trigger"}
	payload.Payload.Summary = message
	payload.Payload.Severity = string(severity)
	payload.Payload.Source = "ncg-bridge"

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal alert payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: alert integration returned %s", resp.Status)
	}
	return nil
}
