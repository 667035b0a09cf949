package jobs

import (
	"sort"
	"strings"
)

// KnownTags is the fixed tag vocabulary.
var KnownTags = []string{"it", "finance", "hr", "sales", "marketing", "walk-in", "remote", "fresher", "full-time", "internship"}

// Tags derives the tag set of a raw description.
// A tag applies whenever it occurs anywhere in the lower-cased text, so "hr" matches inside "chris".
// Tags are ordered by where they first appear in the text; ties keep vocabulary order.
func Tags(raw string) []string {
	lower := strings.ToLower(raw)
	type hit struct {
		tag      string
		position int
	}
	hits := make([]hit, 0, len(KnownTags))
	for _, tag := range KnownTags {
		if position := strings.Index(lower, tag); position >= 0 {
			hits = append(hits, hit{tag: tag, position: position})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].position < hits[j].position
	})
	tags := make([]string, 0, len(hits))
	for _, entry := range hits {
		tags = append(tags, entry.tag)
	}
	return tags
}
