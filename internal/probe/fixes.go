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
	"regexp"
	"sort"
	"strings"
	"sync"
)

// FixPattern maps a log-line category to a human hint, ordered by
// Priority (higher wins). Patterns are tried in priority order against
// log lines, and a custom pattern replaces a built-in one of the same
// name.
type FixPattern struct {
	Name       string
	LinePattern string
	Suggestion string
	Priority   int
}

type compiledFixPattern struct {
	pattern FixPattern
	re      *regexp.Regexp
}

// FixEngine matches log lines against a priority-ordered pattern table
// to produce a heuristic "solution" hint.
type FixEngine struct {
	builtins []FixPattern

	compileOnce sync.Once
	compiled    []compiledFixPattern
}

// NewFixEngine builds an engine with the built-in log-pattern table.
func NewFixEngine() *FixEngine {
	return &FixEngine{builtins: builtinFixPatterns()}
}

func (e *FixEngine) getCompiledBuiltins() []compiledFixPattern {
	e.compileOnce.Do(func() {
		e.compiled = compileFixPatterns(e.builtins)
	})
	return e.compiled
}

func compileFixPatterns(patterns []FixPattern) []compiledFixPattern {
	out := make([]compiledFixPattern, 0, len(patterns))
	for _, p := range patterns {
		cp := compiledFixPattern{pattern: p}
		if re, err := regexp.Compile(p.LinePattern); err == nil {
			cp.re = re
		}
		out = append(out, cp)
	}
	return out
}

// BestSuggestion returns the highest-priority suggestion whose pattern
// matches any line, custom patterns overriding a builtin of the same
// name, or the generic fallback if nothing matches.
func (e *FixEngine) BestSuggestion(lines []string, custom []FixPattern) string {
	merged := e.merge(custom)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].pattern.Priority > merged[j].pattern.Priority
	})

	joined := strings.Join(lines, "\n")
	for _, cp := range merged {
		if cp.re != nil && cp.re.MatchString(joined) {
			return cp.pattern.Suggestion
		}
	}
	return "Check the surrounding log lines for the root cause."
}

func (e *FixEngine) merge(custom []FixPattern) []compiledFixPattern {
	builtins := e.getCompiledBuiltins()
	customCompiled := compileFixPatterns(custom)

	out := make([]compiledFixPattern, 0, len(builtins)+len(customCompiled))
	names := make(map[string]bool, len(customCompiled))
	for _, p := range customCompiled {
		out = append(out, p)
		names[p.pattern.Name] = true
	}
	for _, p := range builtins {
		if !names[p.pattern.Name] {
			out = append(out, p)
		}
	}
	return out
}

func builtinFixPatterns() []FixPattern {
	return []FixPattern{
		{Name: "oom", LinePattern: `(?i)out of memory|oomkilled`, Suggestion: "Process ran out of memory. Check for a memory leak or raise the resource limit.", Priority: 100},
		{Name: "connection-refused", LinePattern: `(?i)connection refused`, Suggestion: "Downstream service is not accepting connections. Check it is running and reachable.", Priority: 90},
		{Name: "timeout", LinePattern: `(?i)timed? ?out`, Suggestion: "An operation timed out. Check network latency or increase the configured timeout.", Priority: 85},
		{Name: "disk-full", LinePattern: `(?i)no space left on device`, Suggestion: "Disk is full. Free space or grow the volume.", Priority: 95},
		{Name: "permission-denied", LinePattern: `(?i)permission denied`, Suggestion: "Process lacks permission for the resource it is accessing. Check file/credential permissions.", Priority: 80},
		{Name: "auth-failure", LinePattern: `(?i)authentication failed|unauthorized|401`, Suggestion: "Credentials were rejected. Verify the configured username/password or token.", Priority: 75},
		{Name: "panic", LinePattern: `(?i)panic:|fatal error:`, Suggestion: "Process crashed with a panic. Inspect the stack trace for the failing call.", Priority: 70},
	}
}
