// Package span implements half-open time interval arithmetic used by the
// archive index and the gap reconciler.
package span

import (
	"sort"
	"time"
)

// Span is the half-open interval [Start, End).
type Span struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New returns the span [start, end).
func New(start, end time.Time) Span {
	return Span{Start: start, End: end}
}

// Empty reports whether the span covers no time.
func (s Span) Empty() bool {
	return !s.End.After(s.Start)
}

// Duration returns End-Start, or zero for an empty span.
func (s Span) Duration() time.Duration {
	if s.Empty() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// Overlaps reports whether s and o share any instant.
func (s Span) Overlaps(o Span) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// Near reports whether s and o overlap or are separated by at most tol.
func (s Span) Near(o Span, tol time.Duration) bool {
	return !s.Start.After(o.End.Add(tol)) && !o.Start.After(s.End.Add(tol))
}

// Contains reports whether o lies fully inside s.
func (s Span) Contains(o Span) bool {
	return !o.Start.Before(s.Start) && !o.End.After(s.End)
}

// Union returns the smallest span covering both s and o.
func (s Span) Union(o Span) Span {
	out := s
	if o.Start.Before(out.Start) {
		out.Start = o.Start
	}
	if o.End.After(out.End) {
		out.End = o.End
	}
	return out
}

// Clip restricts s to bounds.
func (s Span) Clip(bounds Span) Span {
	out := s
	if out.Start.Before(bounds.Start) {
		out.Start = bounds.Start
	}
	if out.End.After(bounds.End) {
		out.End = bounds.End
	}
	return out
}

func (s Span) String() string {
	const layout = "2006-01-02T15:04:05.000Z"
	return "[" + s.Start.UTC().Format(layout) + ", " + s.End.UTC().Format(layout) + ")"
}

// Sort orders spans by start, then end.
func Sort(spans []Span) {
	sort.Slice(spans, func(i, j int) bool {
		if !spans[i].Start.Equal(spans[j].Start) {
			return spans[i].Start.Before(spans[j].Start)
		}
		return spans[i].End.Before(spans[j].End)
	})
}

// Merge sorts spans and joins any two that overlap or are separated by at
// most tol. The input slice is reordered.
func Merge(spans []Span, tol time.Duration) []Span {
	if len(spans) == 0 {
		return nil
	}
	Sort(spans)
	out := []Span{spans[0]}
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if !s.Start.After(last.End.Add(tol)) {
			if s.End.After(last.End) {
				last.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// Subtract returns the parts of req not covered by any of covered, in
// chronological order.
func Subtract(req Span, covered []Span) []Span {
	if req.Empty() {
		return nil
	}
	cs := make([]Span, len(covered))
	copy(cs, covered)
	Sort(cs)

	var out []Span
	cursor := req.Start
	for _, c := range cs {
		if !c.End.After(cursor) {
			continue
		}
		if !c.Start.Before(req.End) {
			break
		}
		if c.Start.After(cursor) {
			out = append(out, Span{Start: cursor, End: c.Start})
		}
		cursor = c.End
		if !cursor.Before(req.End) {
			return out
		}
	}
	if cursor.Before(req.End) {
		out = append(out, Span{Start: cursor, End: req.End})
	}
	return out
}
