package ledger

import (
	"strconv"
	"testing"
	"time"

	"spendlog/internal/core"
)

func TestIDGeneratorMonotonicWithinMillisecond(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	g := NewIDGenerator(func() time.Time { return fixed })

	seen := map[string]bool{}
	prev := int64(0)
	for i := 0; i < 100; i++ {
		id := g.Next(nil)
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			t.Fatal(err)
		}
		if n <= prev {
			t.Fatalf("ids not increasing: %d after %d", n, prev)
		}
		prev = n
	}
}

func TestIDGeneratorSkipsTakenIDs(t *testing.T) {
	fixed := time.UnixMilli(1000)
	g := NewIDGenerator(func() time.Time { return fixed })
	taken := map[string]bool{"1000": true, "1001": true}
	if id := g.Next(func(id string) bool { return taken[id] }); id != "1002" {
		t.Fatalf("expected 1002, got %s", id)
	}
	if id := g.Next(nil); id != "1003" {
		t.Fatalf("expected 1003 after bump, got %s", id)
	}
}

func TestIDGeneratorClockGoingBackwards(t *testing.T) {
	now := time.UnixMilli(5000)
	g := NewIDGenerator(func() time.Time { return now })
	g.Next(nil)
	now = time.UnixMilli(4000)
	if id := g.Next(nil); id != "5001" {
		t.Fatalf("expected 5001, got %s", id)
	}
}

func TestCategoryID(t *testing.T) {
	g := NewIDGenerator(func() time.Time { return time.UnixMilli(42) })
	l := core.DefaultLedger()
	l.Categories = append(l.Categories, core.Category{ID: "custom-cat-42", Name: "Musei"})
	if id := g.CategoryID(l); id != "custom-cat-43" {
		t.Fatalf("expected custom-cat-43, got %s", id)
	}
}
