package cache

// FavoriteSet is an insertion-ordered set of job ids.
type FavoriteSet []string

// Contains reports membership of id.
func (set FavoriteSet) Contains(id string) bool {
	for _, existing := range set {
		if existing == id {
			return true
		}
	}
	return false
}

// Toggle returns a copy with id removed when present, appended otherwise.
func (set FavoriteSet) Toggle(id string) FavoriteSet {
	next := make(FavoriteSet, 0, len(set)+1)
	removed := false
	for _, existing := range set {
		if existing == id {
			removed = true
			continue
		}
		next = append(next, existing)
	}
	if !removed {
		next = append(next, id)
	}
	return next
}

// IDs returns the members as a plain slice.
func (set FavoriteSet) IDs() []string {
	ids := make([]string, len(set))
	copy(ids, set)
	return ids
}

// Lookup returns the set as a map for membership tests.
func (set FavoriteSet) Lookup() map[string]bool {
	lookup := make(map[string]bool, len(set))
	for _, id := range set {
		lookup[id] = true
	}
	return lookup
}
