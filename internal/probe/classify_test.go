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

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentryguard/sentryguard/internal/monitor"
)

func ptrF(f float64) *float64 { return &f }

func TestClassifyThresholdExplicitAlarmWins(t *testing.T) {
	m := &monitor.Monitor{HighWarning: ptrF(10)}
	status := classifyThreshold(m, ptrF(1), true, false)
	assert.Equal(t, monitor.StatusAlarm, status)
}

func TestClassifyThresholdHighAlarm(t *testing.T) {
	m := &monitor.Monitor{HighAlarm: ptrF(100), HighWarning: ptrF(50)}
	assert.Equal(t, monitor.StatusAlarm, classifyThreshold(m, ptrF(150), false, false))
	assert.Equal(t, monitor.StatusWarning, classifyThreshold(m, ptrF(75), false, false))
	assert.Equal(t, monitor.StatusOK, classifyThreshold(m, ptrF(10), false, false))
}

func TestClassifyThresholdLowAlarm(t *testing.T) {
	m := &monitor.Monitor{LowAlarm: ptrF(5), LowWarning: ptrF(20)}
	assert.Equal(t, monitor.StatusAlarm, classifyThreshold(m, ptrF(2), false, false))
	assert.Equal(t, monitor.StatusWarning, classifyThreshold(m, ptrF(15), false, false))
}

func TestClassifyThresholdNilValueNoThresholds(t *testing.T) {
	m := &monitor.Monitor{}
	assert.Equal(t, monitor.StatusOK, classifyThreshold(m, nil, false, false))
}
