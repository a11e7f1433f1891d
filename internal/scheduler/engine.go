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

// Package scheduler decides which monitors are due and submits
// evaluation jobs against a bounded worker pool, respecting maintenance
// windows and per-monitor mutual exclusion.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentryguard/sentryguard/internal/clock"
	"github.com/sentryguard/sentryguard/internal/metrics"
	"github.com/sentryguard/sentryguard/internal/monitor"
	"github.com/sentryguard/sentryguard/internal/repository"
)

// Evaluator is the single downstream consumer of a due monitor: probe,
// classify, persist, dispatch. The scheduler only knows it returns an
// error; everything about samples/alerts/notifications lives downstream.
type Evaluator interface {
	Evaluate(ctx context.Context, m *monitor.Monitor) error
}

// runState is the scheduler's own lifecycle, independent of any single
// tick's work.
type runState string

const (
	stateStopped  runState = "stopped"
	stateStarting runState = "starting"
	stateRunning  runState = "running"
	stateStopping runState = "stopping"
)

const (
	defaultTickInterval  = 30 * time.Second
	defaultConcurrency   = 16
	defaultShutdownGrace = 30 * time.Second
	maxJitter            = 1000 * time.Millisecond
)

// Result summarizes one ExecuteDue pass.
type Result struct {
	Total    int
	Executed int
	Skipped  int
	Results  []MonitorResult
}

// MonitorResult is the per-monitor outcome of one ExecuteDue pass.
type MonitorResult struct {
	MonitorID string
	Skipped   bool
	Reason    string
	Err       error
}

// Scheduler advances wall-clock time, decides which monitors are due,
// and submits evaluation jobs respecting concurrency limits. Exactly one
// Scheduler should run per process; Start guards against double-start.
type Scheduler struct {
	repo      repository.Repository
	evaluator Evaluator
	clock     clock.Clock
	logger    zerolog.Logger

	tickInterval  time.Duration
	concurrency   int
	shutdownGrace time.Duration
	jitter        *clock.Jitter

	mu       sync.Mutex
	state    runState
	stopCh   chan struct{}
	doneCh   chan struct{}
	inflight sync.Map // monitorID -> struct{}
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

func WithConcurrency(n int) Option {
	return func(s *Scheduler) { s.concurrency = n }
}

func WithShutdownGrace(d time.Duration) Option {
	return func(s *Scheduler) { s.shutdownGrace = d }
}

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// New builds a Scheduler in the stopped state.
func New(repo repository.Repository, eval Evaluator, logger zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:          repo,
		evaluator:     eval,
		clock:         clock.Real{},
		logger:        logger.With().Str("component", "scheduler").Logger(),
		tickInterval:  defaultTickInterval,
		concurrency:   defaultConcurrency,
		shutdownGrace: defaultShutdownGrace,
		state:         stateStopped,
	}
	for _, o := range opts {
		o(s)
	}
	s.jitter = clock.NewJitter(time.Now().UnixNano())
	return s
}

// IsRunning reports the current lifecycle state.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning || s.state == stateStarting
}

// Start begins issuing ticks. It returns immediately; the tick loop runs
// in its own goroutine until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateStopped {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already %s", s.state)
	}
	s.state = stateStarting
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.tickInterval).Int("concurrency", s.concurrency).Msg("starting scheduler")

	s.mu.Lock()
	s.state = stateRunning
	s.mu.Unlock()

	go s.loop(ctx)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := s.clock.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.ExecuteDue(ctx); err != nil {
				s.logger.Error().Err(err).Msg("tick failed")
				metrics.RecordTick("error")
			} else {
				metrics.RecordTick("ok")
			}
		}
	}
}

// Stop halts new ticks and waits up to the configured shutdown grace for
// in-flight evaluations to finish before returning.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != stateRunning && s.state != stateStarting {
		s.mu.Unlock()
		return
	}
	s.state = stateStopping
	close(s.stopCh)
	s.mu.Unlock()

	select {
	case <-s.doneCh:
	case <-time.After(s.shutdownGrace):
		s.logger.Warn().Msg("shutdown grace elapsed with ticks possibly still in flight")
	}

	s.mu.Lock()
	s.state = stateStopped
	s.mu.Unlock()
}

// ExecuteNow enqueues an out-of-band evaluation regardless of due time.
// It is rejected while the scheduler is stopped or stopping.
func (s *Scheduler) ExecuteNow(ctx context.Context, monitorID string) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == stateStopped || state == stateStopping {
		return fmt.Errorf("scheduler: cannot execute, scheduler is %s", state)
	}

	m, err := s.repo.GetMonitor(ctx, monitorID)
	if err != nil {
		return fmt.Errorf("get monitor: %w", err)
	}
	return s.runOne(ctx, m)
}

// ExecuteDue is the periodic driver: it loads active+running monitors,
// filters to those due or in a maintenance window, sorts the due set by
// tie-break order, and dispatches them across the worker pool.
func (s *Scheduler) ExecuteDue(ctx context.Context) (Result, error) {
	monitors, err := s.repo.ListDueMonitors(ctx, s.clock.Now())
	if err != nil {
		return Result{}, fmt.Errorf("list due monitors: %w", err)
	}

	type candidate struct {
		m        *monitor.Monitor
		overdue  time.Duration
		maintWin bool
	}
	now := s.clock.Now()
	candidates := make([]candidate, 0, len(monitors))
	for _, m := range monitors {
		if !m.Active || !m.Running {
			continue
		}
		state, _ := s.repo.GetMonitorState(ctx, m.ID)
		var lastCheck *time.Time
		if state != nil {
			lastCheck = state.LastCheckTime
		}
		if !m.IsDue(now, lastCheck) {
			continue
		}
		inWindow := m.InMaintenanceWindow(now)
		candidates = append(candidates, candidate{m: m, overdue: m.DueSince(now, lastCheck), maintWin: inWindow})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := severityRank(candidates[i].m), severityRank(candidates[j].m)
		if si != sj {
			return si > sj
		}
		return candidates[i].overdue > candidates[j].overdue
	})

	result := Result{Total: len(candidates)}
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, c := range candidates {
		c := c
		if c.maintWin {
			result.Skipped++
			result.Results = append(result.Results, MonitorResult{MonitorID: c.m.ID, Skipped: true, Reason: "maintenance_window"})
			continue
		}
		if _, already := s.inflight.LoadOrStore(c.m.ID, struct{}{}); already {
			result.Skipped++
			result.Results = append(result.Results, MonitorResult{MonitorID: c.m.ID, Skipped: true, Reason: "already_in_flight"})
			continue
		}

		select {
		case sem <- struct{}{}:
		default:
			s.inflight.Delete(c.m.ID)
			result.Skipped++
			result.Results = append(result.Results, MonitorResult{MonitorID: c.m.ID, Skipped: true, Reason: "queue_full"})
			metrics.RecordBackpressureSkip(c.m.ID)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer s.inflight.Delete(c.m.ID)

			if d := s.jitter.Next(maxJitter); d > 0 {
				s.clock.Sleep(d)
			}

			err := s.runOne(ctx, c.m)
			mu.Lock()
			result.Executed++
			result.Results = append(result.Results, MonitorResult{MonitorID: c.m.ID, Err: err})
			mu.Unlock()
		}()
	}
	wg.Wait()

	return result, nil
}

func (s *Scheduler) runOne(ctx context.Context, m *monitor.Monitor) error {
	if err := s.evaluator.Evaluate(ctx, m); err != nil {
		s.logger.Error().Err(err).Str("monitor_id", m.ID).Msg("evaluation failed")
		return err
	}
	return nil
}

func severityRank(m *monitor.Monitor) int {
	switch m.Severity {
	case monitor.SeverityCritical:
		return 4
	case monitor.SeverityHigh:
		return 3
	case monitor.SeverityMedium:
		return 2
	case monitor.SeverityLow:
		return 1
	default:
		return 0
	}
}
