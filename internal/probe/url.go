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
	"bytes"
	"context"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/sentryguard/sentryguard/internal/monitor"
)

const maxBodyBytes = 1 << 20 // 1 MB

// URLProbe services both TypeURL (GET) and TypeAPIPost (POST with a JSON
// body), distinguished by whether Monitor.URL.PostBody is set.
type URLProbe struct {
	Client *http.Client
}

func (p *URLProbe) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

func (p *URLProbe) Check(ctx context.Context, m *monitor.Monitor) monitor.Sample {
	sample := monitor.Sample{MonitorID: m.ID, Timestamp: time.Now()}

	if m.URL == nil || m.URL.Target == "" {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = "monitor has no url target configured"
		return sample
	}

	method := http.MethodGet
	var body io.Reader
	if len(m.URL.PostBody) > 0 {
		method = http.MethodPost
		body = bytes.NewReader(m.URL.PostBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.URL.Target, body)
	if err != nil {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = err.Error()
		return sample
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := p.client().Do(req)
	sample.ResponseTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = err.Error()
		return sample
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	sample.Metadata.StatusCode = resp.StatusCode

	codeOK := statusCodeExpected(m.URL.ExpectedStatusCodes, resp.StatusCode)

	var positiveMatched, negativeMatched *bool
	if m.PositivePattern != "" {
		matched := matchPattern(m.PositivePattern, respBody)
		positiveMatched = &matched
	}
	if m.NegativePattern != "" {
		matched := matchPattern(m.NegativePattern, respBody)
		negativeMatched = &matched
	}
	sample.Metadata.PositiveMatched = positiveMatched
	sample.Metadata.NegativeMatched = negativeMatched

	explicitAlarm := !codeOK ||
		(positiveMatched != nil && !*positiveMatched) ||
		(negativeMatched != nil && *negativeMatched)

	value := float64(sample.ResponseTimeMS)
	sample.Value = &value
	sample.Status = classifyThreshold(m, &value, explicitAlarm, false)
	return sample
}

func statusCodeExpected(expected []int, got int) bool {
	if len(expected) == 0 {
		return got >= 200 && got < 300
	}
	for _, code := range expected {
		if code == got {
			return true
		}
	}
	return false
}

func matchPattern(pattern string, body []byte) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.Match(body)
}
