// Package window computes which rows of a fixed-height list are visible so
// that only those rows are materialized.
package window

import "math"

// DefaultOverscan is the number of extra rows rendered on each side of the
// viewport.
const DefaultOverscan = 5

// Params describes the list geometry. All lengths share one unit (pixels).
type Params struct {
	Count          int
	ItemHeight     float64
	ScrollTop      float64
	ContainerTop   float64
	ViewportHeight float64
	Overscan       int
}

// Item is a materialized row and its absolute vertical offset.
type Item struct {
	Index  int     `json:"index"`
	Offset float64 `json:"offset"`
}

// Window is the contiguous index range [Start, End] to render. An empty
// window has End < Start.
type Window struct {
	Start       int     `json:"start"`
	End         int     `json:"end"`
	TotalHeight float64 `json:"totalHeight"`
	Items       []Item  `json:"items"`
}

var empty = Window{Start: 0, End: -1, Items: []Item{}}

// Compute returns the window for p. The cost depends only on the size of the
// returned range, never on Count.
func Compute(p Params) Window {
	if p.Count <= 0 || p.ItemHeight <= 0 {
		return empty
	}
	if p.Overscan < 0 {
		p.Overscan = 0
	}
	viewport := nonNegative(p.ViewportHeight)
	scroll := nonNegative(p.ScrollTop - p.ContainerTop)

	first := rowAt(scroll, p.ItemHeight, p.Count)
	last := rowAt(scroll+viewport, p.ItemHeight, p.Count)

	w := Window{
		Start:       clamp(first-p.Overscan, 0, p.Count-1),
		End:         clamp(last+p.Overscan, 0, p.Count-1),
		TotalHeight: float64(p.Count) * p.ItemHeight,
	}
	w.Items = make([]Item, 0, w.End-w.Start+1)
	for i := w.Start; i <= w.End; i++ {
		w.Items = append(w.Items, Item{Index: i, Offset: float64(i) * p.ItemHeight})
	}
	return w
}

// rowAt is the row under offset y, capped at count before the int
// conversion so huge offsets cannot overflow.
func rowAt(y, itemHeight float64, count int) int {
	r := y / itemHeight
	if math.IsNaN(r) || r <= 0 {
		return 0
	}
	return int(min(r, float64(count)))
}

// nonNegative maps NaN and negative lengths to zero.
func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Len is the number of rows in the window.
func (w Window) Len() int {
	if w.End < w.Start {
		return 0
	}
	return w.End - w.Start + 1
}

// Contains reports whether row i is materialized.
func (w Window) Contains(i int) bool {
	return i >= w.Start && i <= w.End
}

// Slice returns the rows of items covered by w.
func Slice[T any](items []T, w Window) []T {
	if w.Len() == 0 || w.Start >= len(items) {
		return nil
	}
	end := min(w.End+1, len(items))
	return items[w.Start:end]
}
