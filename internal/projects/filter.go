// Package projects decides which projects are tracked in the shared ref
// store.
//
// A Filter holds an ordered list of patterns. A pattern starting with "^" is a
// regular expression that must match the whole project name, a pattern ending
// with "*" matches by prefix, and anything else must equal the name exactly.
// An empty pattern list matches every project.
package projects

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dlclark/regexp2"
)

// PatternType classifies a configured project pattern.
type PatternType int

const (
	Exact PatternType = iota
	Wildcard
	Regex
)

// TypeOf reports how pattern is interpreted.
func TypeOf(pattern string) PatternType {
	switch {
	case strings.HasPrefix(pattern, "^"):
		return Regex
	case strings.HasSuffix(pattern, "*"):
		return Wildcard
	default:
		return Exact
	}
}

type matcher func(name string) bool

// Filter matches project names against configured patterns and memoizes every
// decision in its Cache.
type Filter struct {
	patterns []string
	matchers []matcher
	cache    *Cache
}

// NewFilter compiles patterns. An invalid regular expression is an error.
func NewFilter(patterns []string) (*Filter, error) {
	f := &Filter{
		patterns: append([]string(nil), patterns...),
		cache:    NewCache(),
	}
	for _, p := range patterns {
		m, err := compile(p)
		if err != nil {
			return nil, err
		}
		f.matchers = append(f.matchers, m)
	}
	return f, nil
}

// MustFilter is like NewFilter but panics on an invalid pattern.
func MustFilter(patterns ...string) *Filter {
	f, err := NewFilter(patterns)
	if err != nil {
		panic(err)
	}
	return f
}

func compile(pattern string) (matcher, error) {
	switch TypeOf(pattern) {
	case Regex:
		// Anchor at both ends so the expression has to cover the whole name.
		re, err := regexp2.Compile(`\A(?:`+pattern+`)\z`, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("projects: invalid pattern %q: %w", pattern, err)
		}
		return func(name string) bool {
			ok, err := re.MatchString(name)
			return err == nil && ok
		}, nil
	case Wildcard:
		prefix := strings.TrimSuffix(pattern, "*")
		return func(name string) bool { return strings.HasPrefix(name, prefix) }, nil
	default:
		return func(name string) bool { return name == pattern }, nil
	}
}

// Patterns returns the configured patterns.
func (f *Filter) Patterns() []string {
	return append([]string(nil), f.patterns...)
}

// Matches reports whether project is in scope. The empty name never matches.
func (f *Filter) Matches(project string) bool {
	if project == "" {
		return false
	}
	if len(f.matchers) == 0 {
		return true
	}
	if matched, ok := f.cache.Lookup(project); ok {
		return matched
	}
	for _, m := range f.matchers {
		if m(project) {
			f.cache.Store(project, true)
			return true
		}
	}
	f.cache.Store(project, false)
	return false
}

// Cache remembers which project names matched (global) and which did not
// (local).
type Cache struct {
	global sync.Map
	local  sync.Map
}

func NewCache() *Cache {
	return &Cache{}
}

// Lookup returns the cached decision for project, if any.
func (c *Cache) Lookup(project string) (matched, ok bool) {
	if _, hit := c.global.Load(project); hit {
		return true, true
	}
	if _, hit := c.local.Load(project); hit {
		return false, true
	}
	return false, false
}

func (c *Cache) Store(project string, matched bool) {
	if matched {
		c.global.Store(project, struct{}{})
		return
	}
	c.local.Store(project, struct{}{})
}

// Len returns the number of cached global and local decisions.
func (c *Cache) Len() (global, local int) {
	c.global.Range(func(any, any) bool { global++; return true })
	c.local.Range(func(any, any) bool { local++; return true })
	return global, local
}
