package docpkg

import (
	"bytes"
	"sort"
	"strings"
)

// Result is the outcome of Rewrite.
type Result struct {
	// Content is the rewritten package.
	Content []byte
	// Replacements maps part names to the number of occurrences replaced.
	// Parts without occurrences are absent.
	Replacements map[string]int
}

// Total returns the number of occurrences replaced across all parts.
func (r *Result) Total() int {
	n := 0
	for _, c := range r.Replacements {
		n += c
	}
	return n
}

// Parts returns the names of the rewritten parts in sorted order.
func (r *Result) Parts() []string {
	names := make([]string, 0, len(r.Replacements))
	for name := range r.Replacements {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rewrite replaces every occurrence of pattern with replacement in the primary
// part and in each auxiliary part of the package in content.
//
// Parts without an occurrence are left byte-identical. When nothing matches
// at all, Content is a copy of the input.
func Rewrite(content []byte, pattern, replacement string) (*Result, error) {
	if pattern == "" {
		return nil, ErrEmptyPattern
	}

	pkg, err := Open(content)
	if err != nil {
		return nil, err
	}

	parts := append([]Part{pkg.PrimaryPart()}, pkg.AuxiliaryParts()...)
	counts, err := Patch(parts, pattern, replacement)
	if err != nil {
		return nil, err
	}

	res := &Result{Replacements: counts}
	if len(counts) == 0 {
		res.Content = bytes.Clone(content)
		return res, nil
	}

	res.Content, err = pkg.Save()
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Patch replaces pattern with replacement in each part that contains it and
// returns the number of replacements per part. Parts without an occurrence
// are not written.
func Patch(parts []Part, pattern, replacement string) (map[string]int, error) {
	if pattern == "" {
		return nil, ErrEmptyPattern
	}

	counts := make(map[string]int)
	for _, part := range parts {
		text, err := part.Text()
		if err != nil {
			return nil, err
		}
		n := strings.Count(text, pattern)
		if n == 0 {
			continue
		}
		if err := part.SetText(strings.ReplaceAll(text, pattern, replacement)); err != nil {
			return nil, err
		}
		counts[part.Name()] = n
	}
	return counts, nil
}
