package site

import "testing"

func TestNewSeedsInitialValues(t *testing.T) {
	s := New(2, []string{"x1", "x2"})

	v, ok := s.SnapshotRead("x1", 0)
	if !ok || v != 10 {
		t.Fatalf("x1 snapshot at ts=0: got (%d, %v), want (10, true)", v, ok)
	}
	v, ok = s.SnapshotRead("x2", 0)
	if !ok || v != 20 {
		t.Fatalf("x2 snapshot at ts=0: got (%d, %v), want (20, true)", v, ok)
	}
}

func TestSnapshotReadUnhostedItem(t *testing.T) {
	s := New(1, []string{"x1"})
	if _, ok := s.SnapshotRead("x2", 100); ok {
		t.Fatal("expected unhosted item to report no value")
	}
}

func TestSnapshotReadRespectsTimestampOrdering(t *testing.T) {
	s := New(1, []string{"x1"})
	s.BufferWrite("T1", "x1", 101, 5)
	s.Persist("T1", 5)

	// Before the commit, readers still see the seed value.
	if v, ok := s.SnapshotRead("x1", 5); !ok || v != 10 {
		t.Fatalf("pre-commit snapshot: got (%d, %v), want (10, true)", v, ok)
	}
	// Strictly after the commit timestamp, readers see the new value.
	if v, ok := s.SnapshotRead("x1", 6); !ok || v != 101 {
		t.Fatalf("post-commit snapshot: got (%d, %v), want (101, true)", v, ok)
	}
}

func TestBufferWriteRejectsUnhostedItem(t *testing.T) {
	s := New(1, []string{"x1"})
	if s.BufferWrite("T1", "x2", 1, 1) {
		t.Fatal("expected BufferWrite to reject an unhosted item")
	}
}

func TestPersistUsesLatestBufferedWrite(t *testing.T) {
	s := New(1, []string{"x1"})
	s.BufferWrite("T1", "x1", 1, 1)
	s.BufferWrite("T1", "x1", 2, 2)
	s.Persist("T1", 3)

	if v, ok := s.SnapshotRead("x1", 100); !ok || v != 2 {
		t.Fatalf("expected latest buffered value to win, got (%d, %v)", v, ok)
	}
}

func TestPersistNoOpWithoutMatchingWrite(t *testing.T) {
	s := New(1, []string{"x1"})
	s.Persist("T1", 3)

	if v, ok := s.SnapshotRead("x1", 100); !ok || v != 10 {
		t.Fatalf("expected seed value to remain, got (%d, %v)", v, ok)
	}
}

func TestPersistDoesNotPromoteAbortedTransaction(t *testing.T) {
	s := New(1, []string{"x1"})
	s.BufferWrite("T1", "x1", 99, 1)
	// T1 aborts: nothing ever calls Persist("T1", ...). A later commit by
	// another transaction must not see T1's buffered write promoted.
	s.BufferWrite("T2", "x1", 55, 2)
	s.Persist("T2", 2)

	if v, ok := s.SnapshotRead("x1", 100); !ok || v != 55 {
		t.Fatalf("expected only T2's write to be committed, got (%d, %v)", v, ok)
	}
}

func TestDumpOrdersByItemIndex(t *testing.T) {
	s := New(2, []string{"x10", "x2", "x20"})
	got := s.Dump()
	want := "site 2 - x2: 20, x10: 100, x20: 200"
	if got != want {
		t.Fatalf("Dump() = %q, want %q", got, want)
	}
}

func TestItemIndex(t *testing.T) {
	cases := []struct {
		id   string
		want int
		ok   bool
	}{
		{"x1", 1, true},
		{"x20", 20, true},
		{"y1", 0, false},
		{"x", 0, false},
	}
	for _, c := range cases {
		got, ok := ItemIndex(c.id)
		if got != c.want || ok != c.ok {
			t.Errorf("ItemIndex(%q) = (%d, %v), want (%d, %v)", c.id, got, ok, c.want, c.ok)
		}
	}
}
