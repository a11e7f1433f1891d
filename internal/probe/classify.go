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

package probe

import "github.com/sentryguard/sentryguard/internal/monitor"

// classifyThreshold applies a monitor's numeric thresholds to a raw
// value, shared by every probe that produces a scalar. explicitAlarm and
// explicitWarning let a probe fold in a non-numeric condition (pattern
// mismatch, unexpected status code, expired certificate) alongside the
// threshold check.
func classifyThreshold(m *monitor.Monitor, value *float64, explicitAlarm, explicitWarning bool) monitor.Status {
	if explicitAlarm {
		return monitor.StatusAlarm
	}
	if value != nil {
		v := *value
		if m.HighAlarm != nil && v >= *m.HighAlarm {
			return monitor.StatusAlarm
		}
		if m.LowAlarm != nil && v <= *m.LowAlarm {
			return monitor.StatusAlarm
		}
	}
	if explicitWarning {
		return monitor.StatusWarning
	}
	if value != nil {
		v := *value
		if m.HighWarning != nil && v >= *m.HighWarning {
			return monitor.StatusWarning
		}
		if m.LowWarning != nil && v <= *m.LowWarning {
			return monitor.StatusWarning
		}
	}
	return monitor.StatusOK
}
