package queue

// Tags is a list of strings used to group jobs or filter a queue.
type Tags []string

// CoerceTags normalizes tag input: nil stays nil, a single string becomes
// a one-element list.
func CoerceTags(tags ...string) Tags {
	if len(tags) == 0 {
		return nil
	}
	return Tags(tags)
}

// Intersection returns the tags present in both sets.
func (t Tags) Intersection(other Tags) Tags {
	if t == nil || other == nil {
		return nil
	}
	otherSet := make(map[string]bool, len(other))
	for _, tag := range other {
		otherSet[tag] = true
	}
	var isect Tags
	for _, tag := range t {
		if otherSet[tag] {
			isect = append(isect, tag)
		}
	}
	return isect
}

// Intersects reports whether the two tag sets share any member.
func (t Tags) Intersects(other Tags) bool {
	return len(t.Intersection(other)) > 0
}
