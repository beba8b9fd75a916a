// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

// Package secretmask scrubs secret values out of text before it
// leaves the worker. Console lines, issue messages, and log pages all
// pass through a Masker so that a secret handed to a step (a token,
// a password, a key) never reaches the coordinator in the clear.
package secretmask

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Replacement is what masked spans are rewritten to.
const Replacement = "***"

// minSecretLength is the shortest value the masker will register.
// Masking one- or two-character values would shred ordinary output.
const minSecretLength = 3

// Masker replaces registered secret values and patterns with
// Replacement. Values are matched longest-first so that a secret
// whose prefix is also registered masks as one span. A nil *Masker
// masks nothing; callers without secrets can pass one through
// unchecked.
//
// Safe for concurrent use: steps register secrets while queue flush
// goroutines mask in-flight lines.
type Masker struct {
	mu       sync.RWMutex
	values   []string
	patterns []*regexp.Regexp
}

// New returns an empty Masker.
func New() *Masker {
	return &Masker{}
}

// Add registers a literal secret value. Values shorter than three
// characters are ignored. Duplicate values are registered once.
func (m *Masker) Add(value string) {
	if m == nil || len(value) < minSecretLength {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.values {
		if existing == value {
			return
		}
	}
	m.values = append(m.values, value)
	// Longest first: when one registered value contains another, the
	// containing value must win so the masked output shows a single
	// replacement span.
	sort.Slice(m.values, func(i, j int) bool {
		return len(m.values[i]) > len(m.values[j])
	})
}

// AddRegex registers a pattern whose matches are masked. Used for
// secrets with variable encodings, such as URL-escaped passwords.
func (m *Masker) AddRegex(pattern string) error {
	if m == nil {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid secret pattern: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append(m.patterns, re)
	return nil
}

// Mask returns line with every registered value and pattern match
// replaced. The input is returned unchanged when nothing matches.
func (m *Masker) Mask(line string) string {
	if m == nil {
		return line
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, value := range m.values {
		line = strings.ReplaceAll(line, value, Replacement)
	}
	for _, re := range m.patterns {
		line = re.ReplaceAllString(line, Replacement)
	}
	return line
}
