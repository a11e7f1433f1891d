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

// Package probe implements one pure input->sample function per monitor
// type, plus the registry that wires a monitor's Type to its Probe.
package probe

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sentryguard/sentryguard/internal/monitor"
)

// Probe turns a monitor configuration into one metric sample. Probes
// must never let an error escape Check: every failure is encoded as a
// status=error sample with ErrorMessage set.
type Probe interface {
	Check(ctx context.Context, m *monitor.Monitor) monitor.Sample
}

// Registry maps a monitor Type to the Probe that services it, and wraps
// network-calling probes in a per-monitor circuit breaker so a target
// that is already down fails fast instead of burning its own timeout on
// every tick.
type Registry struct {
	probes map[monitor.Type]Probe

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewRegistry builds a registry with all built-in probes registered.
func NewRegistry() *Registry {
	r := &Registry{
		probes:   make(map[monitor.Type]Probe),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	r.Register(monitor.TypeURL, &URLProbe{})
	r.Register(monitor.TypeAPIPost, &URLProbe{})
	r.Register(monitor.TypePing, &PingProbe{})
	r.Register(monitor.TypeSSH, &SSHProbe{})
	r.Register(monitor.TypeAWS, &AWSProbe{})
	r.Register(monitor.TypeCertificate, &CertificateProbe{})
	r.Register(monitor.TypeLog, &LogProbe{Fixes: NewFixEngine()})
	return r
}

// Register installs (or overrides) the probe for a monitor type.
func (r *Registry) Register(t monitor.Type, p Probe) {
	r.probes[t] = p
}

// breakerFor returns the circuit breaker for a monitor, creating it on
// first use. Breaker state is scoped per monitor id so one dead target
// never trips checks against a healthy one.
func (r *Registry) breakerFor(monitorID string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[monitorID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        monitorID,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	r.breakers[monitorID] = b
	return b
}

// networked reports whether a monitor type's probe calls out over the
// network and should therefore be breaker-wrapped. Types not listed here
// (Ping and Log) run without a breaker.
func networked(t monitor.Type) bool {
	switch t {
	case monitor.TypeURL, monitor.TypeAPIPost, monitor.TypeAWS, monitor.TypeCertificate, monitor.TypeSSH:
		return true
	default:
		return false
	}
}

// Check runs the monitor's registered probe, enforcing the timeout
// deadline and the per-monitor circuit breaker.
func (r *Registry) Check(ctx context.Context, m *monitor.Monitor) monitor.Sample {
	p, ok := r.probes[m.Type]
	if !ok {
		return monitor.Sample{
			MonitorID:    m.ID,
			Timestamp:    time.Now(),
			Status:       monitor.StatusError,
			ErrorMessage: "no probe registered for monitor type " + string(m.Type),
		}
	}

	timeout := time.Duration(m.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !networked(m.Type) {
		return p.Check(checkCtx, m)
	}

	breaker := r.breakerFor(m.ID)
	result, err := breaker.Execute(func() (any, error) {
		s := p.Check(checkCtx, m)
		if s.Status == monitor.StatusError {
			return s, errProbeFailed
		}
		return s, nil
	})
	if err != nil {
		if sample, ok := result.(monitor.Sample); ok {
			return sample
		}
		return monitor.Sample{
			MonitorID:    m.ID,
			Timestamp:    time.Now(),
			Status:       monitor.StatusError,
			ErrorMessage: "circuit open: " + err.Error(),
		}
	}
	return result.(monitor.Sample)
}

var errProbeFailed = probeFailedError{}

type probeFailedError struct{}

func (probeFailedError) Error() string { return "probe returned error status" }
