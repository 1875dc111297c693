package visibility

import "time"

// FirstOfDate flags every item whose calendar date in loc differs from the
// item before it. hint is the date of the item preceding the batch, if the
// caller knows it; without one the first item is always flagged.
func FirstOfDate(dates []time.Time, hint *time.Time, loc *time.Location) []bool {
	if loc == nil {
		loc = time.UTC
	}
	flags := make([]bool, len(dates))
	prev, havePrev := time.Time{}, hint != nil
	if hint != nil {
		prev = *hint
	}
	for i, d := range dates {
		flags[i] = !havePrev || !sameDate(prev, d, loc)
		prev, havePrev = d, true
	}
	return flags
}

func sameDate(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
