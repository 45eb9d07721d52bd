package ring

import "testing"

func TestBuffer_PushWithinCapacity(t *testing.T) {
	b := New[int](3)
	b.Push(1)
	b.Push(2)

	if b.Len() != 2 {
		t.Fatalf("expected len 2, got %d", b.Len())
	}
	got := b.Items()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("unexpected items: %v", got)
	}
}

func TestBuffer_EvictsOldest(t *testing.T) {
	b := New[int](1000)
	for i := 0; i < 1001; i++ {
		b.Push(i)
	}

	if b.Len() != 1000 {
		t.Fatalf("expected len 1000, got %d", b.Len())
	}
	items := b.Items()
	if items[0] != 1 {
		t.Errorf("expected oldest item 1 after eviction, got %d", items[0])
	}
	if items[len(items)-1] != 1000 {
		t.Errorf("expected newest item 1000, got %d", items[len(items)-1])
	}
}

func TestBuffer_PushReportsEviction(t *testing.T) {
	b := New[string](2)
	if b.Push("a") || b.Push("b") {
		t.Error("no eviction expected below capacity")
	}
	if !b.Push("c") {
		t.Error("expected eviction at capacity")
	}
}

func TestBuffer_Last(t *testing.T) {
	b := New[int](5)
	for i := 1; i <= 7; i++ {
		b.Push(i)
	}

	got := b.Last(2)
	if len(got) != 2 || got[0] != 6 || got[1] != 7 {
		t.Errorf("expected [6 7], got %v", got)
	}
	if all := b.Last(100); len(all) != 5 {
		t.Errorf("expected 5 items when asking for more than len, got %d", len(all))
	}
	if none := b.Last(0); len(none) != 0 {
		t.Errorf("expected empty slice, got %v", none)
	}
}

func TestBuffer_EachNewestFirst(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 4; i++ {
		b.Push(i)
	}

	var seen []int
	b.Each(func(v int) bool {
		seen = append(seen, v)
		return len(seen) < 2
	})
	if len(seen) != 2 || seen[0] != 4 || seen[1] != 3 {
		t.Errorf("expected [4 3], got %v", seen)
	}
}

func TestBuffer_Clear(t *testing.T) {
	b := New[int](3)
	b.Push(1)
	b.Push(2)

	if n := b.Clear(); n != 2 {
		t.Errorf("expected 2 cleared, got %d", n)
	}
	if b.Len() != 0 {
		t.Errorf("expected empty buffer, got %d", b.Len())
	}
	b.Push(9)
	if got := b.Items(); len(got) != 1 || got[0] != 9 {
		t.Errorf("unexpected items after clear: %v", got)
	}
}

func TestNew_NonPositiveCapacity(t *testing.T) {
	b := New[int](0)
	if b.Cap() != 1 {
		t.Errorf("expected capacity 1, got %d", b.Cap())
	}
}
