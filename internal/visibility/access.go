package visibility

import (
	"chatcore/internal/domain"
	"chatcore/internal/membership"
)

// Access is what one user may see of one topic.
type Access struct {
	Topic  *domain.Topic
	UserID int64
	// Intervals is nil for direct topics, where every sequence id is visible.
	Intervals []membership.Interval
}

// Ranges clips r to the user's visible domain.
func (a *Access) Ranges(r membership.Range) []membership.Range {
	if !a.Topic.IsGroup() {
		if r.Empty() {
			return nil
		}
		return []membership.Range{r}
	}
	return membership.Intersect(a.Intervals, r)
}

func (a *Access) Visible(seq int64) bool {
	if !a.Topic.IsGroup() {
		return seq > 0
	}
	return membership.Contains(a.Intervals, seq)
}

// IsMember reports whether the user currently belongs to the topic.
func (a *Access) IsMember() bool {
	if !a.Topic.IsGroup() {
		return true
	}
	return membership.IsMember(a.Intervals)
}
