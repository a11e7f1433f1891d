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
	"context"
	"time"
)

// retryBackoffs is the fixed backoff schedule for a single channel send:
// up to 3 retries after the initial attempt, at 1s/4s/15s.
var retryBackoffs = []time.Duration{1 * time.Second, 4 * time.Second, 15 * time.Second}

// sendWithRetry retries fn on failure per retryBackoffs, returning the
// last error once the schedule is exhausted.
func sendWithRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= len(retryBackoffs) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoffs[attempt]):
		}
	}
}
