// Package membership turns a user's membership event history in a group into
// the sequence-id windows during which they were a member.
package membership

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Unbounded is the exclusive upper bound used for open intervals.
const Unbounded int64 = math.MaxInt64

// Interval is a membership window. Start is the sequence id of the entry
// event; End is the sequence id of the exit event, or nil while the
// membership is still open.
type Interval struct {
	Start int64  `json:"start"`
	End   *int64 `json:"end,omitempty"`
}

func Open(start int64) Interval {
	return Interval{Start: start}
}

func Closed(start, end int64) Interval {
	return Interval{Start: start, End: &end}
}

func (iv Interval) IsOpen() bool {
	return iv.End == nil
}

// Upper returns the exclusive upper bound of the visible range.
func (iv Interval) Upper() int64 {
	if iv.End == nil {
		return Unbounded
	}
	return *iv.End
}

// Contains reports whether seq falls in [Start, End).
func (iv Interval) Contains(seq int64) bool {
	return seq >= iv.Start && seq < iv.Upper()
}

func (iv Interval) String() string {
	if iv.End == nil {
		return fmt.Sprintf("[%d]", iv.Start)
	}
	return fmt.Sprintf("[%d,%d]", iv.Start, *iv.End)
}

// Reconstruct merges entry and exit sequence ids into ordered intervals.
//
// Both inputs are sorted (copies, the caller's slices are untouched). An exit
// that is not after the current entry is skipped as stale while a later exit
// exists; when it is the last exit the entry opens an interval instead.
// Entries left over once exits run out produce a single open interval.
// Without entries the result is empty.
func Reconstruct(entries, exits []int64) []Interval {
	if len(entries) == 0 {
		return nil
	}
	in := slices.Sorted(slices.Values(entries))
	out := slices.Sorted(slices.Values(exits))

	if len(out) == 0 {
		return []Interval{Open(in[0])}
	}

	var res []Interval
	i, j := 0, 0
	for i < len(in) && j < len(out) {
		e, x := in[i], out[j]
		switch {
		case x > e:
			res = append(res, Closed(e, x))
			i++
			j++
		case j == len(out)-1:
			res = append(res, Open(e))
			i++
		default:
			j++
		}
	}
	if i < len(in) {
		res = append(res, Open(in[i]))
	}
	return res
}

// ErrNotAlternating is returned by Validate for histories whose entries and
// exits do not strictly alternate.
var ErrNotAlternating = errors.New("membership entries and exits do not alternate")

// Validate checks that sorted entries and exits alternate as
// e1 < x1 < e2 < x2 < ... with at most one trailing entry.
func Validate(entries, exits []int64) error {
	in := slices.Sorted(slices.Values(entries))
	out := slices.Sorted(slices.Values(exits))

	if len(out) > len(in) || len(in) > len(out)+1 {
		return fmt.Errorf("%w: %d entries, %d exits", ErrNotAlternating, len(in), len(out))
	}
	prev := int64(math.MinInt64)
	for k := range in {
		if in[k] <= prev {
			return fmt.Errorf("%w: entry %d", ErrNotAlternating, in[k])
		}
		prev = in[k]
		if k < len(out) {
			if out[k] <= prev {
				return fmt.Errorf("%w: exit %d", ErrNotAlternating, out[k])
			}
			prev = out[k]
		}
	}
	return nil
}

// IsMember reports whether the last interval is still open.
func IsMember(intervals []Interval) bool {
	return len(intervals) > 0 && intervals[len(intervals)-1].IsOpen()
}

// Contains reports whether seq is inside any of the intervals.
func Contains(intervals []Interval, seq int64) bool {
	for _, iv := range intervals {
		if iv.Contains(seq) {
			return true
		}
	}
	return false
}
