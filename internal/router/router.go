// Package router matches request method and path against an ordered route table.
//
// Registration order is the only precedence rule: the first registered entry whose
// verb and pattern match wins. Patterns are made of literal segments, named segments
// (":id"), optional named segments (":id?") and a trailing rest-of-path wildcard ("*").
// Matching ignores case and tolerates a single trailing slash.
package router

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// WildcardParam is the parameter name a trailing "*" segment is captured under
const WildcardParam = "*"

// Route is a registration request: verb, pattern and the handler it routes to
type Route[H any] struct {
	Method  string
	Pattern string
	Handler H
}

// Entry is a compiled, registered route. Entries are immutable after registration.
type Entry[H any] struct {
	Method  string
	Pattern string
	Handler H

	matcher *regexp.Regexp
	params  []string
}

// Params returns the ordered parameter names captured by the entry's pattern
func (e *Entry[H]) Params() []string {
	out := make([]string, len(e.params))
	copy(out, e.params)
	return out
}

// Match is a successful lookup
type Match[H any] struct {
	Handler H
	Params  map[string]string
	Entry   *Entry[H]
}

// Table is an ordered route registry.
// Register is expected to be called before any Match; both are safe for concurrent use.
type Table[H any] struct {
	mu      sync.RWMutex
	entries []*Entry[H]
}

// New creates an empty route table
func New[H any]() *Table[H] {
	return &Table[H]{}
}

// Register compiles route and appends it to the table
func (t *Table[H]) Register(route Route[H]) (*Entry[H], error) {
	matcher, params, err := Compile(route.Pattern)
	if err != nil {
		return nil, err
	}
	if matcher.NumSubexp() != len(params) {
		return nil, &PatternError{Pattern: route.Pattern, Reason: "capture group count does not match parameter count"}
	}

	e := &Entry[H]{
		Method:  normalizeMethod(route.Method),
		Pattern: route.Pattern,
		Handler: route.Handler,
		matcher: matcher,
		params:  params,
	}

	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
	return e, nil
}

// Entries returns the registered entries in match order
func (t *Table[H]) Entries() []*Entry[H] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Entry[H], len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of registered entries
func (t *Table[H]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Match finds the first entry matching method and the raw (still escaped) path.
// It returns ok=false when nothing matches, and a *DecodeError when the first
// structurally matching entry captured a segment with an invalid percent-escape.
func (t *Table[H]) Match(method, rawPath string) (Match[H], bool, error) {
	method = normalizeMethod(method)

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.entries {
		if e.Method != method {
			continue
		}
		idx := e.matcher.FindStringSubmatchIndex(rawPath)
		if idx == nil {
			continue
		}

		params := make(map[string]string, len(e.params))
		for i, name := range e.params {
			start, end := idx[2*(i+1)], idx[2*(i+1)+1]
			if start < 0 {
				// optional group that did not participate
				continue
			}
			raw := rawPath[start:end]
			v, err := url.PathUnescape(raw)
			if err != nil {
				return Match[H]{}, false, &DecodeError{Segment: raw, Cause: err}
			}
			params[name] = v
		}
		return Match[H]{Handler: e.Handler, Params: params, Entry: e}, true, nil
	}
	return Match[H]{}, false, nil
}

// MatchRequest matches using the request's method and escaped URL path
func (t *Table[H]) MatchRequest(r *http.Request) (Match[H], bool, error) {
	return t.Match(r.Method, r.URL.EscapedPath())
}

func normalizeMethod(m string) string {
	return strings.ToLower(strings.TrimSpace(m))
}

var paramName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Compile turns a pattern into an anchored matcher plus its ordered parameter names
func Compile(pattern string) (*regexp.Regexp, []string, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, nil, &PatternError{Pattern: pattern, Reason: "must start with /"}
	}

	var (
		sb     strings.Builder
		params []string
		seen   = make(map[string]bool)
	)
	sb.WriteString("(?i)^")

	segments := strings.Split(strings.TrimSuffix(pattern[1:], "/"), "/")
	for i, seg := range segments {
		switch {
		case seg == "" && len(segments) == 1:
			// root pattern "/"
		case seg == "":
			return nil, nil, &PatternError{Pattern: pattern, Reason: "empty segment"}
		case seg == "*":
			if i != len(segments)-1 {
				return nil, nil, &PatternError{Pattern: pattern, Reason: "wildcard must be the last segment"}
			}
			sb.WriteString(`(?:/(.*))?`)
			params = append(params, WildcardParam)
		case strings.HasPrefix(seg, ":"):
			name, optional := strings.CutSuffix(seg[1:], "?")
			if !paramName.MatchString(name) {
				return nil, nil, &PatternError{Pattern: pattern, Reason: fmt.Sprintf("invalid parameter name %q", name)}
			}
			if seen[name] {
				return nil, nil, &PatternError{Pattern: pattern, Reason: fmt.Sprintf("duplicate parameter %q", name)}
			}
			seen[name] = true
			if optional {
				sb.WriteString(`(?:/([^/]+?))?`)
			} else {
				sb.WriteString(`/([^/]+?)`)
			}
			params = append(params, name)
		default:
			sb.WriteString("/")
			sb.WriteString(regexp.QuoteMeta(seg))
		}
	}
	sb.WriteString("/?$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, nil, &PatternError{Pattern: pattern, Reason: err.Error()}
	}
	return re, params, nil
}
