package status

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

type pattern struct {
	segments []string
	dirOnly  bool
}

// Matcher decides which working-tree paths Status skips. Patterns use
// gitignore-like globs: "*" and "?" within a segment, "**" across segments,
// a trailing "/" for directories only, and a pattern without "/" matches at
// any depth.
type Matcher struct {
	patterns []pattern
}

// NewMatcher compiles patterns. Blank lines and "#" comments are ignored.
func NewMatcher(patterns ...string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		m.Add(p)
	}
	return m
}

// Add compiles one more pattern.
func (m *Matcher) Add(raw string) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	line = filepath.ToSlash(line)
	p := pattern{}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimRight(line, "/")
	}

	anchored := strings.HasPrefix(line, "/") || strings.Contains(line, "/")
	line = strings.TrimPrefix(line, "/")
	if line == "" {
		return
	}
	if !anchored {
		line = "**/" + line
	}

	p.segments = strings.Split(line, "/")
	m.patterns = append(m.patterns, p)
}

// LoadFile adds the patterns found in path, one per line. A missing file is
// not an error.
func (m *Matcher) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.Add(sc.Text())
	}
	return sc.Err()
}

// Match reports whether the slash-separated root-relative path should be skipped.
func (m *Matcher) Match(rel string, isDir bool) bool {
	if m == nil {
		return false
	}

	parts := strings.Split(filepath.ToSlash(filepath.Clean(rel)), "/")
	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if matchSegments(p.segments, parts) {
			return true
		}
	}
	return false
}

// matchSegments matches pattern segments recursively
func matchSegments(pats, parts []string) bool {
	for len(pats) > 0 {
		p := pats[0]
		pats = pats[1:]

		if p == "**" {
			if len(pats) == 0 {
				return true // trailing ** matches anything
			}
			for i := 0; i <= len(parts); i++ {
				if matchSegments(pats, parts[i:]) {
					return true
				}
			}
			return false
		}

		if len(parts) == 0 {
			return false
		}

		ok, _ := filepath.Match(p, parts[0])
		if !ok {
			return false
		}

		parts = parts[1:]
	}

	return len(parts) == 0
}
