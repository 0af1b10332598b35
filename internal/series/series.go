// Package series provides a bounded, time-ordered buffer of probability samples.
//
// A TimeSeries is append-only from the caller's point of view: points are pushed
// with the wall-clock time of the tick that produced them, so the buffer stays
// sorted ascending by timestamp by construction. Two independent bounds keep the
// buffer small: a maximum point count and a maximum age relative to the newest
// point. Both are applied on every push, age first.
//
// Lookups use binary search over the sorted backing slice.
//
// Thread Safety:
//   - A TimeSeries is not safe for concurrent use
//   - It is owned by a single goroutine (the service controller loop)
package series

import (
	"sort"
	"time"

	"delaycast/internal/model"
)

// Options configures the trimming policies of a TimeSeries.
type Options struct {
	// MaxPoints is the maximum number of points kept. Zero disables the bound.
	MaxPoints int

	// MaxAge drops points older than newest.T - MaxAge. Zero disables the bound.
	MaxAge time.Duration
}

// TimeSeries is an ordered, bounded buffer of PricePoint values.
type TimeSeries struct {
	points    []model.PricePoint
	maxPoints int
	maxAgeMs  int64
}

// New creates an empty TimeSeries with the given bounds.
func New(opts Options) *TimeSeries {
	ts := &TimeSeries{
		maxPoints: opts.MaxPoints,
		maxAgeMs:  opts.MaxAge.Milliseconds(),
	}
	if ts.maxPoints < 0 {
		ts.maxPoints = 0
	}
	if ts.maxAgeMs < 0 {
		ts.maxAgeMs = 0
	}
	return ts
}

// Push appends p and applies the age bound, then the count bound.
//
// The caller is expected to push non-decreasing timestamps and finite
// probabilities; neither is validated here.
func (ts *TimeSeries) Push(p model.PricePoint) {
	ts.points = append(ts.points, p)

	if ts.maxAgeMs > 0 {
		cutoff := p.T - ts.maxAgeMs
		if i := ts.lowerBound(cutoff); i > 0 {
			ts.dropFront(i)
		}
	}

	if ts.maxPoints > 0 && len(ts.points) > ts.maxPoints {
		ts.dropFront(len(ts.points) - ts.maxPoints)
	}
}

// dropFront removes the first n points. The backing array is compacted once
// the dead prefix outgrows the live data so it cannot grow without bound.
func (ts *TimeSeries) dropFront(n int) {
	ts.points = ts.points[n:]
	if cap(ts.points) > 2*len(ts.points)+64 {
		compact := make([]model.PricePoint, len(ts.points), 2*len(ts.points)+16)
		copy(compact, ts.points)
		ts.points = compact
	}
}

// lowerBound returns the index of the first point with T >= ts.
func (ts *TimeSeries) lowerBound(t int64) int {
	return sort.Search(len(ts.points), func(i int) bool {
		return ts.points[i].T >= t
	})
}

// IndexAtOrBefore returns the index of the last point with T <= t, or -1.
func (ts *TimeSeries) IndexAtOrBefore(t int64) int {
	// first index with T > t, minus one
	return sort.Search(len(ts.points), func(i int) bool {
		return ts.points[i].T > t
	}) - 1
}

// AtOrBefore returns the last point with T <= t.
func (ts *TimeSeries) AtOrBefore(t int64) (model.PricePoint, bool) {
	i := ts.IndexAtOrBefore(t)
	if i < 0 {
		return model.PricePoint{}, false
	}
	return ts.points[i], true
}

// Range returns a new slice holding every point with T >= from.
func (ts *TimeSeries) Range(from int64) []model.PricePoint {
	i := ts.lowerBound(from)
	out := make([]model.PricePoint, len(ts.points)-i)
	copy(out, ts.points[i:])
	return out
}

// UpTo returns the points with T <= t. The returned slice aliases the buffer
// and must be treated as read-only.
func (ts *TimeSeries) UpTo(t int64) []model.PricePoint {
	return ts.points[:ts.IndexAtOrBefore(t)+1]
}

// ToArray returns the full ordered buffer. The returned slice aliases the
// buffer and must be treated as read-only.
func (ts *TimeSeries) ToArray() []model.PricePoint {
	return ts.points
}

// Len returns the number of buffered points.
func (ts *TimeSeries) Len() int {
	return len(ts.points)
}

// First returns the oldest buffered point.
func (ts *TimeSeries) First() (model.PricePoint, bool) {
	if len(ts.points) == 0 {
		return model.PricePoint{}, false
	}
	return ts.points[0], true
}

// Last returns the newest buffered point.
func (ts *TimeSeries) Last() (model.PricePoint, bool) {
	if len(ts.points) == 0 {
		return model.PricePoint{}, false
	}
	return ts.points[len(ts.points)-1], true
}
