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
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentryguard/sentryguard/internal/monitor"
)

func TestURLProbeOKOnExpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("all good"))
	}))
	defer srv.Close()

	m := &monitor.Monitor{
		ID:   "m1",
		Type: monitor.TypeURL,
		URL:  &monitor.URLConfig{Target: srv.URL, ExpectedStatusCodes: []int{200}},
	}

	p := &URLProbe{}
	sample := p.Check(context.Background(), m)
	require.Equal(t, monitor.StatusOK, sample.Status)
	assert.Equal(t, 200, sample.Metadata.StatusCode)
}

func TestURLProbeAlarmOnUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := &monitor.Monitor{
		ID:   "m1",
		Type: monitor.TypeURL,
		URL:  &monitor.URLConfig{Target: srv.URL, ExpectedStatusCodes: []int{200}},
	}

	sample := (&URLProbe{}).Check(context.Background(), m)
	assert.Equal(t, monitor.StatusAlarm, sample.Status)
}

func TestURLProbeNegativePatternTriggersAlarm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("internal error occurred"))
	}))
	defer srv.Close()

	m := &monitor.Monitor{
		ID:              "m1",
		Type:            monitor.TypeURL,
		NegativePattern: "error",
		URL:             &monitor.URLConfig{Target: srv.URL, ExpectedStatusCodes: []int{200}},
	}

	sample := (&URLProbe{}).Check(context.Background(), m)
	assert.Equal(t, monitor.StatusAlarm, sample.Status)
	require.NotNil(t, sample.Metadata.NegativeMatched)
	assert.True(t, *sample.Metadata.NegativeMatched)
}

func TestURLProbeMissingTargetIsError(t *testing.T) {
	m := &monitor.Monitor{ID: "m1", Type: monitor.TypeURL}
	sample := (&URLProbe{}).Check(context.Background(), m)
	assert.Equal(t, monitor.StatusError, sample.Status)
	assert.NotEmpty(t, sample.ErrorMessage)
}
