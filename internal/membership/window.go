package membership

// Range is a half-open sequence id range [From, To).
type Range struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

func (r Range) Empty() bool {
	return r.From >= r.To
}

// Everything covers every sequence id; it is the visible domain of a P2P
// topic.
var Everything = Range{From: 0, To: Unbounded}

// Intersect clips r to the visible domain of intervals and returns the
// pieces in ascending order.
func Intersect(intervals []Interval, r Range) []Range {
	var res []Range
	for _, iv := range intervals {
		piece := Range{From: max(r.From, iv.Start), To: min(r.To, iv.Upper())}
		if !piece.Empty() {
			res = append(res, piece)
		}
	}
	return res
}

// Before returns the visible pieces strictly below seq.
func Before(intervals []Interval, seq int64) []Range {
	return Intersect(intervals, Range{From: 0, To: seq})
}

// After returns the visible pieces strictly above seq.
func After(intervals []Interval, seq int64) []Range {
	if seq == Unbounded {
		return nil
	}
	return Intersect(intervals, Range{From: seq + 1, To: Unbounded})
}
