// Package match decides which catalog sounds a transcript triggers.
package match

import (
	"strings"
	"unicode"

	"node.town/honk/catalog"
)

// Normalize drops whitespace, apostrophes, underscores and hyphens, and
// lowercases what remains.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		switch r {
		case '\'', '_', '-':
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// A Matcher compares an already normalized transcript and phrase.
type Matcher interface {
	Matches(transcript, phrase string) bool
}

type Substring struct{}

func (Substring) Matches(transcript, phrase string) bool {
	return strings.Contains(transcript, phrase)
}

// Triggered returns the names of entries with at least one pseudonym found
// in the transcript, in catalog order, each at most once.
func Triggered(m Matcher, transcript string, entries []catalog.SoundEntry) []string {
	text := Normalize(transcript)
	if text == "" {
		return nil
	}

	var names []string
	for _, entry := range entries {
		for _, pseudonym := range entry.Pseudonyms {
			phrase := Normalize(pseudonym)
			if phrase == "" {
				continue
			}
			if m.Matches(text, phrase) {
				names = append(names, entry.Name)
				break
			}
		}
	}
	return names
}

// New returns the matcher registered under name.
func New(name string, maxDistance int) (Matcher, bool) {
	switch name {
	case "", "substring":
		return Substring{}, true
	case "fuzzy":
		return Fuzzy{MaxDistance: maxDistance}, true
	}
	return nil, false
}
