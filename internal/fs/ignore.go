package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-directory file listing extra ignore patterns.
const IgnoreFileName = ".camignore"

// DefaultIgnorePatterns keep collection documents, in-flight temp files and
// the ignore file itself out of blob listings.
var DefaultIgnorePatterns = []string{IgnoreFileName, "*.json", ".tmp-*"}

type ignoreRule struct {
	glob    string
	include bool // "!pattern" re-includes a name an earlier rule ignored
}

// IgnoreMatcher decides which files of a blob directory are invisible to
// listings and orphan scans. Collection directories are flat, so rules
// match file names only. Rules are evaluated in order and the last matching
// rule wins, so a later "!name" can re-include a file.
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher parses rules. Blank lines, comments starting with '#' and
// malformed globs are skipped.
func NewIgnoreMatcher(patterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		rule := ignoreRule{glob: p}
		if rest, ok := strings.CutPrefix(p, "!"); ok {
			rule = ignoreRule{glob: rest, include: true}
		}
		if _, err := filepath.Match(rule.glob, ""); err != nil {
			continue
		}
		m.rules = append(m.rules, rule)
	}
	return m
}

// Match reports whether a file is ignored. Only the base name of name is
// considered.
func (m *IgnoreMatcher) Match(name string) bool {
	base := filepath.Base(name)
	ignored := false
	for _, r := range m.rules {
		if ok, _ := filepath.Match(r.glob, base); ok {
			ignored = !r.include
		}
	}
	return ignored
}

// ParseIgnoreFile reads the patterns of an ignore file, one per line.
// A missing file yields no patterns.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		patterns = append(patterns, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file %s: %w", path, err)
	}
	return patterns, nil
}
