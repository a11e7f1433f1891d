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

// Package alerting renders and delivers alert lifecycle events to
// configured channels, with per-recipient dedup, retry/backoff, an
// escalation policy and a bounded reminder cadence.
package alerting

import (
	"context"

	"github.com/sentryguard/sentryguard/internal/monitor"
)

// RenderedMessage is what a Channel actually sends: subject plus a
// plain-text and an HTML rendering, produced once per dispatch and shared
// across every recipient of that dispatch.
type RenderedMessage struct {
	Subject   string
	PlainBody string
	HTMLBody  string
}

// renderContext is the data passed to every message template.
type renderContext struct {
	Monitor   *monitor.Monitor
	Alert     *monitor.Alert
	Event     monitor.EventType
	Severity  monitor.AlertSeverity
	Recipient string
}

// Channel delivers one rendered message to one recipient. Channels do not
// implement their own retry loop; the dispatcher wraps every Send in a
// shared retry/backoff helper.
type Channel interface {
	Type() monitor.ChannelType
	Send(ctx context.Context, recipient string, msg RenderedMessage) error
}

// target is one resolved (channel, recipient) pair for one dispatch.
type target struct {
	channel   monitor.ChannelType
	recipient string
}
