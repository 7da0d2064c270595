package schedule

import (
	"fmt"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Classifier flags events whose text contains any configured priority
// keyword. Matching is a case-insensitive substring scan over the
// concatenated title and description, implemented as a single Aho-Corasick
// pass so the keyword list can grow without the check getting slower.
type Classifier struct {
	matcher *goahocorasick.Machine
}

func NewClassifier(keywords []string) (*Classifier, error) {
	patterns := make([][]rune, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		patterns = append(patterns, lowerRunes(kw))
	}
	if len(patterns) == 0 {
		return &Classifier{}, nil
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, fmt.Errorf("build keyword matcher: %w", err)
	}
	return &Classifier{matcher: m}, nil
}

// Classify reports whether the event text matches a priority keyword.
// Presence only: the first match decides, there is no ranking.
func (c *Classifier) Classify(title, description string) bool {
	if c == nil || c.matcher == nil {
		return false
	}
	text := title
	if description != "" {
		text = title + " " + description
	}
	if text == "" {
		return false
	}
	hits := c.matcher.MultiPatternSearch(lowerRunes(text), true)
	return len(hits) > 0
}

// Flag returns the events with IsPriority derived from their text.
func (c *Classifier) Flag(events []Event) []Event {
	out := make([]Event, len(events))
	for i, ev := range events {
		ev.IsPriority = c.Classify(ev.Title, ev.Description)
		out[i] = ev
	}
	return out
}

func lowerRunes(s string) []rune {
	runes := []rune(s)
	for i, r := range runes {
		runes[i] = unicode.ToLower(r)
	}
	return runes
}
