/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"

	"golang.org/x/time/rate"

	"github.com/sentryguard/sentryguard/internal/monitor"
)

// Per-channel rate limiting defaults, mirroring the dispatcher's own
// global limiter shape so no single channel can be hammered by a flapping
// monitor even when the global budget still has headroom.
const (
	defaultChannelMaxAlertsPerHour = 100
	defaultChannelBurst            = 10
)

func newChannelLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(defaultChannelMaxAlertsPerHour)/3600), defaultChannelBurst)
}

// SMTPConfig holds the outbound mail relay credentials used by the email
// channel.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type emailChannel struct {
	cfg     SMTPConfig
	limiter *rate.Limiter
}

func newEmailChannel(cfg SMTPConfig) *emailChannel {
	return &emailChannel{cfg: cfg, limiter: newChannelLimiter()}
}

func (c *emailChannel) Type() monitor.ChannelType { return monitor.ChannelEmail }

func (c *emailChannel) Send(ctx context.Context, recipient string, msg RenderedMessage) error {
	if c.cfg.Host == "" {
		return fmt.Errorf("email channel not configured")
	}
	if !c.limiter.Allow() {
		return fmt.Errorf("email channel rate limit exceeded")
	}
	body := "From: " + c.cfg.From + "\r\n" +
		"To: " + recipient + "\r\n" +
		"Subject: " + msg.Subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
		msg.PlainBody

	auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	addr := c.cfg.Host + ":" + c.cfg.Port
	return smtp.SendMail(addr, auth, c.cfg.From, []string{recipient}, []byte(body))
}

// webhookChannel posts a JSON envelope to a single configured URL; it
// backs the generic webhook channel (Slack has its own slackChannel).
type webhookChannel struct {
	url     string
	method  string
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
}

func newWebhookChannel(url string, headers map[string]string) *webhookChannel {
	return &webhookChannel{url: url, method: http.MethodPost, headers: headers, client: http.DefaultClient, limiter: newChannelLimiter()}
}

func (c *webhookChannel) Type() monitor.ChannelType { return monitor.ChannelWebhook }

func (c *webhookChannel) Send(ctx context.Context, recipient string, msg RenderedMessage) error {
	if c.url == "" {
		return fmt.Errorf("webhook channel not configured")
	}
	if !c.limiter.Allow() {
		return fmt.Errorf("webhook channel rate limit exceeded")
	}
	payload := map[string]any{
		"recipient": recipient,
		"subject":   msg.Subject,
		"message":   msg.PlainBody,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

type slackChannel struct {
	webhookURL string
	client     *http.Client
	limiter    *rate.Limiter
}

func newSlackChannel(webhookURL string) *slackChannel {
	return &slackChannel{webhookURL: webhookURL, client: http.DefaultClient, limiter: newChannelLimiter()}
}

func (c *slackChannel) Type() monitor.ChannelType { return monitor.ChannelSlack }

func (c *slackChannel) Send(ctx context.Context, recipient string, msg RenderedMessage) error {
	if c.webhookURL == "" {
		return fmt.Errorf("slack channel not configured")
	}
	if !c.limiter.Allow() {
		return fmt.Errorf("slack channel rate limit exceeded")
	}
	payload := map[string]any{"text": msg.Subject + "\n" + msg.PlainBody}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

// smsChannel is a webhook-shaped specialisation posting to a
// Twilio-style REST gateway; no SMS SDK appears anywhere in the retrieval
// pack, so it is built on the same http.Client plumbing as webhookChannel
// rather than a vendor client.
type smsChannel struct {
	gatewayURL string
	from       string
	client     *http.Client
	limiter    *rate.Limiter
}

func newSMSChannel(gatewayURL, from string) *smsChannel {
	return &smsChannel{gatewayURL: gatewayURL, from: from, client: http.DefaultClient, limiter: newChannelLimiter()}
}

func (c *smsChannel) Type() monitor.ChannelType { return monitor.ChannelSMS }

func (c *smsChannel) Send(ctx context.Context, recipient string, msg RenderedMessage) error {
	if c.gatewayURL == "" {
		return fmt.Errorf("sms channel not configured")
	}
	if !c.limiter.Allow() {
		return fmt.Errorf("sms channel rate limit exceeded")
	}
	body := strings.NewReader(fmt.Sprintf("From=%s&To=%s&Body=%s", c.from, recipient, msg.Subject))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL, body)
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// callChannel places a voice call via the same class of REST gateway as
// SMS (e.g. Twilio's /Calls endpoint); no voice provider SDK appears in
// the retrieval pack either.
type callChannel struct {
	gatewayURL string
	from       string
	client     *http.Client
	limiter    *rate.Limiter
}

func newCallChannel(gatewayURL, from string) *callChannel {
	return &callChannel{gatewayURL: gatewayURL, from: from, client: http.DefaultClient, limiter: newChannelLimiter()}
}

func (c *callChannel) Type() monitor.ChannelType { return monitor.ChannelCall }

func (c *callChannel) Send(ctx context.Context, recipient string, msg RenderedMessage) error {
	if c.gatewayURL == "" {
		return fmt.Errorf("call channel not configured")
	}
	if !c.limiter.Allow() {
		return fmt.Errorf("call channel rate limit exceeded")
	}
	body := strings.NewReader(fmt.Sprintf("From=%s&To=%s&Message=%s", c.from, recipient, msg.Subject))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL, body)
	if err != nil {
		return fmt.Errorf("build call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("place call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("call gateway returned status %d", resp.StatusCode)
	}
	return nil
}
