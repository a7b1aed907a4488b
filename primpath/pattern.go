// Package primpath selects USD prim paths with glob-like patterns.
//
// A pattern is an absolute prim path whose segments may contain wildcards:
//
//	/World/*          every direct child of /World
//	/World/Geo_*      children of /World whose name starts with "Geo_"
//	/World/**/Mesh    every prim named Mesh anywhere below /World
//	/**               every prim
//
// A "*" matches within one path segment and a "**" segment matches any
// number of segments, including zero. The pseudo-root "/" is matched as the
// empty path, so "/**" selects it too.
package primpath

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidPattern is wrapped by every *PatternError.
var ErrInvalidPattern = errors.New("primpath: invalid pattern")

// PatternError describes why a pattern could not be compiled.
type PatternError struct {
	Pattern string
	Offset  int // byte offset of the offending segment
	Reason  string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("primpath: invalid pattern %q at offset %d: %s", e.Pattern, e.Offset, e.Reason)
}

func (e *PatternError) Unwrap() error { return ErrInvalidPattern }

// Matcher is a compiled pattern. It is safe for concurrent use.
type Matcher struct {
	pattern string
	re      *regexp.Regexp // nil selects nothing
}

// Regular expression pieces for wildcards.
const (
	segmentChars = `\w`
	anySegment   = `(?:/\w+)*`
)

// Compile parses a pattern. An empty or all-whitespace pattern compiles
// to a Matcher that selects nothing.
func Compile(pattern string) (*Matcher, error) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return &Matcher{pattern: p}, nil
	}
	if p[0] != '/' {
		return nil, &PatternError{Pattern: p, Offset: 0, Reason: "pattern must start with /"}
	}
	if p == "/" {
		return &Matcher{pattern: p, re: regexp.MustCompile(`^$`)}, nil
	}

	var b strings.Builder
	b.WriteByte('^')
	offset := 1
	for _, seg := range strings.Split(p[1:], "/") {
		if err := writeSegment(&b, p, offset, seg); err != nil {
			return nil, err
		}
		offset += len(seg) + 1
	}
	b.WriteByte('$')

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, &PatternError{Pattern: p, Offset: 0, Reason: err.Error()}
	}
	return &Matcher{pattern: p, re: re}, nil
}

// writeSegment appends the expression for one pattern segment, including
// its leading separator.
func writeSegment(b *strings.Builder, pattern string, offset int, seg string) error {
	switch {
	case seg == "":
		return &PatternError{Pattern: pattern, Offset: offset, Reason: "empty path segment"}
	case strings.Contains(seg, "***"):
		return &PatternError{Pattern: pattern, Offset: offset, Reason: "*** is not a valid wildcard"}
	case seg == "**":
		b.WriteString(anySegment)
		return nil
	case strings.Contains(seg, "**"):
		return &PatternError{Pattern: pattern, Offset: offset, Reason: "** must be a whole path segment"}
	case seg == "*":
		b.WriteString("/" + segmentChars + "+")
		return nil
	}

	b.WriteByte('/')
	for i, lit := range strings.Split(seg, "*") {
		if i > 0 {
			b.WriteString(segmentChars + "*")
		}
		b.WriteString(regexp.QuoteMeta(lit))
	}
	return nil
}

// MustCompile is like Compile but panics if the pattern is invalid.
func MustCompile(pattern string) *Matcher {
	m, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

// Match reports whether the whole prim path matches the pattern.
func (m *Matcher) Match(path string) bool {
	if m.re == nil {
		return false
	}
	if path == "/" {
		path = ""
	}
	return m.re.MatchString(path)
}

// String returns the pattern the Matcher was compiled from.
func (m *Matcher) String() string {
	return m.pattern
}
