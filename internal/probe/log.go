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
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/sentryguard/sentryguard/internal/monitor"
)

const (
	defaultLogWindowLines = 200
	maxLogLineBytes       = 64 * 1024
)

// LogProbe reads the tail of a log file, locally or over SSH, and
// applies the monitor's positive/negative patterns plus a heuristic
// fix-suggestion lookup.
type LogProbe struct {
	Fixes *FixEngine
}

func (p *LogProbe) Check(ctx context.Context, m *monitor.Monitor) monitor.Sample {
	sample := monitor.Sample{MonitorID: m.ID, Timestamp: time.Now()}

	if m.Log == nil || m.Log.Path == "" {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = "monitor has no log path configured"
		return sample
	}

	window := m.Log.WindowLines
	if window <= 0 {
		window = defaultLogWindowLines
	}

	var lines []string
	var err error
	if m.Log.Remote != nil {
		lines, err = p.readRemote(ctx, m.Log.Remote, m.Log.Path, window)
	} else {
		lines, err = readLocalTail(m.Log.Path, window)
	}
	if err != nil {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = err.Error()
		return sample
	}

	var matches []string
	var negativeMatched bool
	var positiveMatched *bool
	if m.Log.NegativePattern != "" {
		re, reErr := regexp.Compile(m.Log.NegativePattern)
		if reErr == nil {
			for _, line := range lines {
				if re.MatchString(line) {
					negativeMatched = true
					matches = append(matches, line)
				}
			}
		}
	}
	if m.Log.PositivePattern != "" {
		re, reErr := regexp.Compile(m.Log.PositivePattern)
		found := false
		if reErr == nil {
			for _, line := range lines {
				if re.MatchString(line) {
					found = true
				}
			}
		}
		positiveMatched = &found
	}

	sample.Metadata.PositiveMatched = positiveMatched
	sample.Metadata.NegativeMatched = &negativeMatched
	if len(matches) > 0 {
		capped := matches
		if len(capped) > 10 {
			capped = capped[:10]
		}
		sample.Metadata.LogMatches = capped
		if p.Fixes != nil {
			sample.Metadata.SuggestedFix = p.Fixes.BestSuggestion(matches, nil)
		}
	}

	matchCount := float64(len(matches))
	sample.Value = &matchCount

	explicitAlarm := negativeMatched || (positiveMatched != nil && !*positiveMatched)
	sample.Status = classifyThreshold(m, &matchCount, explicitAlarm, false)
	return sample
}

func readLocalTail(path string, windowLines int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLineBytes)

	ring := make([]string, 0, windowLines)
	for scanner.Scan() {
		line := scanner.Text()
		if len(ring) >= windowLines {
			ring = ring[1:]
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return ring, nil
}

func (p *LogProbe) readRemote(ctx context.Context, cfg *monitor.SSHConfig, path string, windowLines int) ([]string, error) {
	cmd := cfg.Command
	if cmd == "" {
		cmd = fmt.Sprintf("tail -n %d %s", windowLines, shellQuote(path))
	}
	remote := *cfg
	remote.Command = cmd
	out, err := runSSHCommand(ctx, &remote)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func shellQuote(s string) string {
	return "'" + s + "'"
}
