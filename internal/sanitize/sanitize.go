// Package sanitize cleans user-supplied entry names before they touch
// the filesystem.
package sanitize

import "strings"

// Sanitizer filters names against a character whitelist and bounds their
// length. The zero value is not usable, construct with New.
type Sanitizer struct {
	keep      map[rune]bool
	maxLength int
}

// New returns a Sanitizer keeping only the runes in whitelist and
// clamping results to maxLength runes.
func New(whitelist string, maxLength int) *Sanitizer {
	keep := make(map[rune]bool, len(whitelist))
	for _, r := range whitelist {
		keep[r] = true
	}
	return &Sanitizer{keep: keep, maxLength: maxLength}
}

// DirectoryName sanitizes a directory name: whitelist filtering, leading
// space and trailing space/dot trimming, tail-clamped to the maximum
// length. The result of applying it twice equals applying it once.
func (s *Sanitizer) DirectoryName(raw string) string {
	return s.clean(raw, true)
}

// FileName sanitizes a file name. Trailing dots are kept so extensions
// survive, otherwise the rules match DirectoryName.
func (s *Sanitizer) FileName(raw string) string {
	return s.clean(raw, false)
}

func (s *Sanitizer) clean(raw string, trimDots bool) string {
	var b strings.Builder
	for _, r := range raw {
		if s.keep[r] {
			b.WriteRune(r)
		}
	}
	name := trim(b.String(), trimDots)
	if runes := []rune(name); len(runes) > s.maxLength {
		// Keep the tail, then trim again: the cut can expose a
		// leading space.
		name = trim(string(runes[len(runes)-s.maxLength:]), trimDots)
	}
	return name
}

func trim(name string, trimDots bool) string {
	name = strings.TrimLeft(name, " ")
	if trimDots {
		return strings.TrimRight(name, " .")
	}
	return strings.TrimRight(name, " ")
}
