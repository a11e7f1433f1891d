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

package monitor

import (
	"time"

	"github.com/robfig/cron/v3"
)

var maintenanceParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// windowActiveAt reports whether now falls inside w's most recent
// occurrence, found by walking the window's cron schedule back up to 24h.
func windowActiveAt(w MaintenanceWindow, now time.Time) bool {
	loc := time.UTC
	if w.Timezone != "" {
		if l, err := time.LoadLocation(w.Timezone); err == nil {
			loc = l
		}
	}
	t := now.In(loc)

	sched, err := maintenanceParser.Parse(w.Schedule)
	if err != nil {
		return false
	}

	checkTime := t.Add(-24 * time.Hour)
	for checkTime.Before(t) {
		windowStart := sched.Next(checkTime)
		windowEnd := windowStart.Add(w.Duration)
		if t.After(windowStart) && t.Before(windowEnd) {
			return true
		}
		checkTime = windowStart
	}
	return false
}

// InMaintenanceWindow reports whether now falls inside any of the
// monitor's recurring maintenance windows. Shared by the scheduler (to
// skip due-but-suppressed monitors without advancing last_check_time)
// and the evaluator (defense in depth for out-of-band ExecuteNow calls).
func (m *Monitor) InMaintenanceWindow(now time.Time) bool {
	for _, w := range m.MaintenanceWindows {
		if windowActiveAt(w, now) {
			return true
		}
	}
	return false
}
