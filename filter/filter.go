package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Options captures the filtering configuration. Include and exclude patterns
// are mutually exclusive.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

func (o Options) includeActive() bool {
	return len(nonEmpty(o.IncludeHeader)) > 0 || len(nonEmpty(o.IncludeBody)) > 0
}

func (o Options) excludeActive() bool {
	return len(nonEmpty(o.ExcludeHeader)) > 0 || len(nonEmpty(o.ExcludeBody)) > 0
}

// Filter holds compiled regex patterns for selecting messages.
type Filter struct {
	includeMode   bool
	excludeMode   bool
	includeHeader []*regexp.Regexp
	includeBody   []*regexp.Regexp
	excludeHeader []*regexp.Regexp
	excludeBody   []*regexp.Regexp

	mu   sync.Mutex
	hits map[string]int
}

// Stats reports how often each pattern matched, keyed by pattern text.
type Stats struct {
	IncludeHeaderPatterns []string
	IncludeBodyPatterns   []string
	ExcludeHeaderPatterns []string
	ExcludeBodyPatterns   []string
	Hits                  map[string]int
}

// New creates a Filter from the provided options.
func New(opts Options) (*Filter, error) {
	if opts.includeActive() && opts.excludeActive() {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	return &Filter{
		includeMode:   opts.includeActive(),
		excludeMode:   opts.excludeActive(),
		includeHeader: includeHeader,
		includeBody:   includeBody,
		excludeHeader: excludeHeader,
		excludeBody:   excludeBody,
		hits:          make(map[string]int),
	}, nil
}

// Active reports whether any pattern was configured.
func (f *Filter) Active() bool {
	return f.includeMode || f.excludeMode
}

// Allows returns true if the message passes the filter criteria.
func (f *Filter) Allows(header, body []byte) bool {
	if f.includeMode {
		headerHit := f.matchAny(f.includeHeader, header)
		bodyHit := f.matchAny(f.includeBody, body)
		return headerHit || bodyHit
	}

	if f.excludeMode {
		headerHit := f.matchAny(f.excludeHeader, header)
		bodyHit := f.matchAny(f.excludeBody, body)
		return !headerHit && !bodyHit
	}

	return true
}

// AllowsRaw splits a raw message and applies Allows.
func (f *Filter) AllowsRaw(raw []byte) bool {
	header, body := SplitRawMessage(raw)
	return f.Allows(header, body)
}

// Matches reports whether the message hits any configured pattern. Unlike
// Allows it ignores the include/exclude direction, which is what "select
// these messages" callers such as remove --match want.
func (f *Filter) Matches(raw []byte) bool {
	if !f.Active() {
		return false
	}
	if f.includeMode {
		return f.AllowsRaw(raw)
	}
	return !f.AllowsRaw(raw)
}

func (f *Filter) GetStats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	hits := make(map[string]int, len(f.hits))
	for k, v := range f.hits {
		hits[k] = v
	}
	return Stats{
		IncludeHeaderPatterns: patternStrings(f.includeHeader),
		IncludeBodyPatterns:   patternStrings(f.includeBody),
		ExcludeHeaderPatterns: patternStrings(f.excludeHeader),
		ExcludeBodyPatterns:   patternStrings(f.excludeBody),
		Hits:                  hits,
	}
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

// matchAny evaluates every pattern so each one's hit count stays accurate.
func (f *Filter) matchAny(patterns []*regexp.Regexp, text []byte) bool {
	matched := false
	for _, re := range patterns {
		if re.Match(text) {
			matched = true
			f.mu.Lock()
			f.hits[re.String()]++
			f.mu.Unlock()
		}
	}
	return matched
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range nonEmpty(patterns) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func nonEmpty(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func patternStrings(patterns []*regexp.Regexp) []string {
	out := make([]string, 0, len(patterns))
	for _, re := range patterns {
		out = append(out, re.String())
	}
	return out
}
