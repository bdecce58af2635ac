// Package selector implements the machine selector (spec §4.5): field
// extraction plus exact or regex matching, with capture-group
// propagation into the template context.
//
// Regex matching is grounded on the teacher's source-side field matchers
// (source/service.go, source/traefik_proxy.go), which compile a
// regexp.Regexp once and match it against an extracted string field.
package selector

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/meshdns-controller/meshdns-controller/internal/machine"
)

// Selector selects machines by a single field and pattern.
type Selector struct {
	Field   string
	Pattern string

	regex *regexp.Regexp // nil for exact-match patterns
}

// Compile validates the selector's pattern. Regex patterns are written as
// /.../ and compiled once; an invalid regex does not error here — per
// spec §4.5 "match failure on invalid regex is silent" — Compile instead
// records that the selector never matches.
func (s *Selector) Compile() {
	if isRegexPattern(s.Pattern) {
		body := s.Pattern[1 : len(s.Pattern)-1]
		re, err := regexp.Compile(body)
		if err == nil {
			s.regex = re
		}
		// invalid regex: s.regex stays nil, Match always returns false.
	}
}

func isRegexPattern(pattern string) bool {
	return len(pattern) >= 2 && pattern[0] == '/' && pattern[len(pattern)-1] == '/'
}

// Captures holds numbered and named regex capture groups extracted from
// the one field value that matched.
type Captures map[string]string

// Match evaluates the selector against m, returning whether it matched
// and the captures (empty, non-nil map, on an exact match or no groups).
//
// At most one field value is consumed: among multiple matching values
// (e.g. several tags), the first in source order wins (spec §4.5).
func (s *Selector) Match(m *machine.Machine) (bool, Captures) {
	values := m.Field(s.Field)
	for _, v := range values {
		if ok, caps := s.matchValue(v); ok {
			return true, caps
		}
	}
	return false, nil
}

func (s *Selector) matchValue(value string) (bool, Captures) {
	if isRegexPattern(s.Pattern) {
		if s.regex == nil {
			return false, nil
		}
		m := s.regex.FindStringSubmatch(value)
		if m == nil {
			return false, nil
		}
		caps := Captures{}
		for i, g := range m {
			if i == 0 {
				continue
			}
			caps[strconv.Itoa(i)] = g
		}
		for i, name := range s.regex.SubexpNames() {
			if i == 0 || name == "" {
				continue
			}
			caps[name] = m[i]
		}
		return true, caps
	}
	return strings.TrimSpace(value) == strings.TrimSpace(s.Pattern), Captures{}
}
