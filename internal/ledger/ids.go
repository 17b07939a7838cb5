package ledger

import (
	"strconv"
	"sync"
	"time"

	"spendlog/internal/core"
)

// IDGenerator issues millisecond-timestamp ids. Two ids requested within the
// same millisecond, or colliding with an id already in the target
// collection, are bumped forward until unique.
type IDGenerator struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now}
}

// Next returns a fresh id for which taken reports false. taken may be nil.
func (g *IDGenerator) Next(taken func(id string) bool) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.now().UnixMilli()
	if n <= g.last {
		n = g.last + 1
	}
	for taken != nil && taken(strconv.FormatInt(n, 10)) {
		n++
	}
	g.last = n
	return strconv.FormatInt(n, 10)
}

// CategoryID returns a fresh custom-category id not present in l.
func (g *IDGenerator) CategoryID(l *core.Ledger) string {
	return core.CustomCategoryPrefix + g.Next(func(id string) bool {
		return l.FindCategory(core.CustomCategoryPrefix+id) >= 0
	})
}

func tripIDTaken(l *core.Ledger) func(string) bool {
	return func(id string) bool { return l.FindTrip(id) >= 0 }
}

func expenseIDTaken(t *core.Trip) func(string) bool {
	return func(id string) bool { return t.FindExpense(id) >= 0 }
}
