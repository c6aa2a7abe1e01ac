package reorder

import "testing"

// TestMonotonicityAndBoundedMemory covers invariants 3 and 4: successive
// Next() calls return strictly increasing seq values, and stored item
// count never exceeds Capacity.
func TestMonotonicityAndBoundedMemory(t *testing.T) {
	b := New[int]()
	for _, seq := range []uint64{5, 1, 3, 2, 4} {
		b.Set(seq, int(seq))
		if b.Size() > Capacity {
			t.Fatalf("size %d exceeds capacity %d", b.Size(), Capacity)
		}
	}

	var last uint64
	first := true
	for {
		v, ok := b.Next()
		if !ok {
			break
		}
		seq := uint64(v)
		if !first && seq <= last {
			t.Fatalf("next() returned seq %d after %d, not increasing", seq, last)
		}
		first = false
		last = seq
	}
}

// TestScenarioS2Reorder matches spec scenario S2.
func TestScenarioS2Reorder(t *testing.T) {
	b := New[int]()
	b.Set(2, 2)
	b.Set(0, 0)
	b.Set(1, 1)

	for _, want := range []int{0, 1, 2} {
		got, ok := b.Next()
		if !ok {
			t.Fatalf("expected value %d, got none", want)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}

	if _, ok := b.Next(); ok {
		t.Fatalf("expected no more values")
	}
}

// TestScenarioS3Overflow matches spec scenario S3.
func TestScenarioS3Overflow(t *testing.T) {
	b := New[int]()
	b.Set(0, 0)
	b.Set(15, 15)

	if b.Head() != 6 {
		t.Fatalf("head = %d, want 6", b.Head())
	}

	got, ok := b.Next()
	if !ok {
		t.Fatalf("expected the seq=15 item")
	}
	if got != 15 {
		t.Fatalf("got %d, want 15", got)
	}

	if _, ok := b.Next(); ok {
		t.Fatalf("expected no more values until more arrive")
	}
}

// TestLivenessUnderOverflow covers invariant 5.
func TestLivenessUnderOverflow(t *testing.T) {
	b := New[int]()
	b.Set(0, 0)
	b.Set(23, 23)

	if b.Head() < 23-Capacity+1 {
		t.Fatalf("head %d did not advance enough after overflow insert", b.Head())
	}
}

// TestStaleInsertDropped ensures an insert behind head is silently ignored.
func TestStaleInsertDropped(t *testing.T) {
	b := New[int]()
	b.Set(20, 20)
	sizeBefore := b.Size()
	b.Set(0, 0)
	if b.Size() != sizeBefore {
		t.Fatalf("stale insert changed size: %d -> %d", sizeBefore, b.Size())
	}
}
