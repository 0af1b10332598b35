package series

import (
	"sort"
	"testing"
	"time"

	"delaycast/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pt(t int64, p float64) model.PricePoint {
	return model.PricePoint{T: t, P: p}
}

func fill(ts *TimeSeries, points ...model.PricePoint) {
	for _, p := range points {
		ts.Push(p)
	}
}

// Test_Push_KeepsOrder verifies the buffer stays sorted after every push.
func Test_Push_KeepsOrder(t *testing.T) {
	ts := New(Options{MaxPoints: 50, MaxAge: 30 * time.Millisecond})

	for i := int64(0); i < 200; i++ {
		// duplicate timestamps every other push
		ts.Push(pt(i/2*3, float64(i%10)/10))

		arr := ts.ToArray()
		require.True(t, sort.SliceIsSorted(arr, func(a, b int) bool { return arr[a].T < arr[b].T }),
			"buffer must stay sorted after push %d", i)
	}
}

// Test_Push_MaxPoints tests the count bound.
func Test_Push_MaxPoints(t *testing.T) {
	tests := []struct {
		name      string
		maxPoints int
		pushes    int
		wantLen   int
		wantFirst int64
	}{
		{name: "Under bound", maxPoints: 10, pushes: 5, wantLen: 5, wantFirst: 0},
		{name: "At bound", maxPoints: 10, pushes: 10, wantLen: 10, wantFirst: 0},
		{name: "Over bound keeps newest", maxPoints: 10, pushes: 25, wantLen: 10, wantFirst: 15},
		{name: "Unbounded", maxPoints: 0, pushes: 1000, wantLen: 1000, wantFirst: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := New(Options{MaxPoints: tt.maxPoints})
			for i := 0; i < tt.pushes; i++ {
				ts.Push(pt(int64(i), 0.5))
			}

			assert.Equal(t, tt.wantLen, ts.Len())
			first, ok := ts.First()
			require.True(t, ok)
			assert.Equal(t, tt.wantFirst, first.T)
			last, _ := ts.Last()
			assert.Equal(t, int64(tt.pushes-1), last.T, "newest point must survive trimming")
		})
	}
}

// Test_Push_MaxAge tests the age bound relative to the newest point.
func Test_Push_MaxAge(t *testing.T) {
	ts := New(Options{MaxAge: 1000 * time.Millisecond})
	fill(ts, pt(0, 0.1), pt(500, 0.2), pt(1000, 0.3), pt(1500, 0.4))

	// cutoff = 1500 - 1000 = 500; points at 500 and later survive
	assert.Equal(t, []model.PricePoint{pt(500, 0.2), pt(1000, 0.3), pt(1500, 0.4)}, ts.ToArray())

	ts.Push(pt(5000, 0.9))
	assert.Equal(t, []model.PricePoint{pt(5000, 0.9)}, ts.ToArray())
}

// Test_Push_AgeThenCount verifies both bounds apply, age first.
func Test_Push_AgeThenCount(t *testing.T) {
	ts := New(Options{MaxPoints: 2, MaxAge: 100 * time.Millisecond})
	fill(ts, pt(0, 0.1), pt(60, 0.2), pt(90, 0.3), pt(120, 0.4))

	// age trim removes t=0; count trim keeps the two newest
	assert.Equal(t, []model.PricePoint{pt(90, 0.3), pt(120, 0.4)}, ts.ToArray())
}

// Test_Push_LongRunCompacts exercises many trims to make sure the backing
// array does not keep growing.
func Test_Push_LongRunCompacts(t *testing.T) {
	ts := New(Options{MaxPoints: 100})
	for i := 0; i < 100000; i++ {
		ts.Push(pt(int64(i), 0.5))
	}
	assert.Equal(t, 100, ts.Len())
	assert.LessOrEqual(t, cap(ts.points), 2*100+64)
}

// Test_AtOrBefore covers exact hits, gaps and both ends of the buffer.
func Test_AtOrBefore(t *testing.T) {
	ts := New(Options{})
	fill(ts, pt(100, 0.1), pt(200, 0.2), pt(300, 0.3))

	tests := []struct {
		name    string
		query   int64
		want    model.PricePoint
		wantOK  bool
		wantIdx int
	}{
		{name: "Between points", query: 250, want: pt(200, 0.2), wantOK: true, wantIdx: 1},
		{name: "Before all points", query: 50, wantOK: false, wantIdx: -1},
		{name: "Exact match", query: 300, want: pt(300, 0.3), wantOK: true, wantIdx: 2},
		{name: "After all points", query: 10_000, want: pt(300, 0.3), wantOK: true, wantIdx: 2},
		{name: "Exact first", query: 100, want: pt(100, 0.1), wantOK: true, wantIdx: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ts.AtOrBefore(tt.query)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
			assert.Equal(t, tt.wantIdx, ts.IndexAtOrBefore(tt.query))
		})
	}
}

// Test_AtOrBefore_Duplicates checks that the latest push wins among equal timestamps.
func Test_AtOrBefore_Duplicates(t *testing.T) {
	ts := New(Options{})
	fill(ts, pt(100, 0.1), pt(100, 0.2), pt(100, 0.3), pt(200, 0.4))

	got, ok := ts.AtOrBefore(150)
	require.True(t, ok)
	assert.Equal(t, pt(100, 0.3), got)
}

// Test_AtOrBefore_Empty tests lookups on an empty buffer.
func Test_AtOrBefore_Empty(t *testing.T) {
	ts := New(Options{})

	_, ok := ts.AtOrBefore(1)
	assert.False(t, ok)
	assert.Equal(t, -1, ts.IndexAtOrBefore(1))
	assert.Empty(t, ts.Range(0))
	assert.Empty(t, ts.UpTo(100))

	_, ok = ts.First()
	assert.False(t, ok)
	_, ok = ts.Last()
	assert.False(t, ok)
}

// Test_Range tests lower-bound range materialization.
func Test_Range(t *testing.T) {
	ts := New(Options{})
	fill(ts, pt(100, 0.1), pt(200, 0.2), pt(200, 0.25), pt(300, 0.3))

	assert.Equal(t, []model.PricePoint{pt(200, 0.2), pt(200, 0.25), pt(300, 0.3)}, ts.Range(150))
	assert.Equal(t, []model.PricePoint{pt(200, 0.2), pt(200, 0.25), pt(300, 0.3)}, ts.Range(200))
	assert.Len(t, ts.Range(0), 4)
	assert.Empty(t, ts.Range(301))

	// the returned slice is a copy
	r := ts.Range(0)
	r[0] = pt(0, 0)
	first, _ := ts.First()
	assert.Equal(t, pt(100, 0.1), first)
}

// Test_UpTo tests the read-only prefix view used by the delayed view.
func Test_UpTo(t *testing.T) {
	ts := New(Options{})
	fill(ts, pt(100, 0.1), pt(200, 0.2), pt(300, 0.3))

	assert.Equal(t, []model.PricePoint{pt(100, 0.1), pt(200, 0.2)}, ts.UpTo(299))
	assert.Equal(t, ts.ToArray(), ts.UpTo(300))
	assert.Empty(t, ts.UpTo(99))
}
