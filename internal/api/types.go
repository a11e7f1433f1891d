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

package api

import (
	"time"

	"github.com/sentryguard/sentryguard/internal/monitor"
)

// ErrorDetail is the stable shape of every non-2xx response body.
type ErrorDetail struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SchedulerStateResponse answers /scheduler/start, /scheduler/stop and
// /scheduler/status.
type SchedulerStateResponse struct {
	Running   bool       `json:"running"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	CheckedAt time.Time  `json:"checked_at,omitempty"`
}

// ExecuteResult is the one-shot outcome of POST /monitors/{id}/execute.
type ExecuteResult struct {
	Status  monitor.Status `json:"status"`
	Success bool           `json:"success"`
	Message string         `json:"message"`
}

// ExecuteResponse wraps ExecuteResult per spec.md's {result:{...}} shape.
type ExecuteResponse struct {
	Result ExecuteResult `json:"result"`
}

// AcknowledgeRequest is the body of POST /alerts/{id}/acknowledge.
type AcknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
	Note           string `json:"note"`
}

// RecoverResponse is the body of a successful POST /alerts/{id}/recover.
type RecoverResponse struct {
	AttemptNumber int `json:"attempt_number"`
}
