package txn

import (
	"testing"

	"github.com/SimonWaldherr/repcrec/internal/registry"
)

func newManager() (*Manager, *registry.Registry) {
	reg := registry.New(registry.DefaultConfig())
	return New(reg), reg
}

// Scenario 1 (spec.md §8): basic commit.
func TestBasicCommit(t *testing.T) {
	m, reg := newManager()

	if err := m.Begin("T1", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Write("T1", "x1", 101, 2, false); err != nil {
		t.Fatal(err)
	}
	res, err := m.End("T1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Committed {
		t.Fatalf("expected T1 to commit, got abort kind %v", res.AbortKind)
	}

	s, _ := reg.SiteByID(2)
	v, ok := s.SnapshotRead("x1", 100)
	if !ok || v != 101 {
		t.Fatalf("x1 at site 2 = (%d, %v), want (101, true)", v, ok)
	}
}

// Scenario 2: snapshot reads isolate later commits.
func TestSnapshotReadIsolatesCommits(t *testing.T) {
	m, _ := newManager()

	must(t, m.Begin("T1", 1))
	must(t, m.Begin("T2", 2))
	mustWrite(t, m, "T1", "x2", 202, 3)
	mustEndCommitted(t, m, "T1", 4)

	rr, err := m.Read("T2", "x2", 5, false)
	if err != nil {
		t.Fatal(err)
	}
	if !rr.Delivered || rr.Value != 20 {
		t.Fatalf("T2 should read the pre-commit snapshot (20), got %+v", rr)
	}
	mustEndCommitted(t, m, "T2", 6)
}

// Scenario 3: first-committer-wins.
func TestFirstCommitterWins(t *testing.T) {
	m, _ := newManager()

	must(t, m.Begin("T1", 1))
	must(t, m.Begin("T2", 2))
	mustWrite(t, m, "T1", "x4", 14, 3)
	mustWrite(t, m, "T2", "x4", 24, 4)
	mustEndCommitted(t, m, "T1", 5)

	res, err := m.End("T2", 6)
	if err != nil {
		t.Fatal(err)
	}
	if res.Committed || res.AbortKind != FirstCommitterWrite {
		t.Fatalf("expected T2 to abort with FIRST_COMMITTER_WRITE, got %+v", res)
	}
}

// Scenario 4: available-copies abort on a write-site failure before commit.
func TestAvailableCopiesAbortOnFailure(t *testing.T) {
	m, reg := newManager()

	must(t, m.Begin("T1", 1))
	mustWrite(t, m, "T1", "x6", 66, 2)
	reg.Fail(3, 3)

	res, err := m.End("T1", 4)
	if err != nil {
		t.Fatal(err)
	}
	if res.Committed || res.AbortKind != SiteFailure {
		t.Fatalf("expected T1 to abort with SITE_FAILURE, got %+v", res)
	}
}

// Scenario 5: impossible read when the only hosting site is down.
func TestImpossibleRead(t *testing.T) {
	m, reg := newManager()
	reg.Fail(2, 1)

	must(t, m.Begin("T1", 2))
	rr, err := m.Read("T1", "x1", 3, false)
	if err != nil {
		t.Fatal(err)
	}
	if !rr.Aborted || rr.AbortKind != ImpossibleRead {
		t.Fatalf("expected IMPOSSIBLE_READ, got %+v", rr)
	}
	txn, _ := m.Get("T1")
	if txn.Status != Aborted {
		t.Fatalf("transaction should be aborted, got %v", txn.Status)
	}
}

// Scenario 6: SSI dangerous structure — exactly one of T1/T2 survives.
func TestSSIDangerousStructure(t *testing.T) {
	m, _ := newManager()

	must(t, m.Begin("T1", 1))
	must(t, m.Begin("T2", 2))
	mustReadValue(t, m, "T1", "x2", 3, 20)
	mustReadValue(t, m, "T2", "x4", 4, 40)
	mustWrite(t, m, "T1", "x4", 40, 5)
	mustWrite(t, m, "T2", "x2", 20, 6)

	r1, err := m.End("T1", 7)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := m.End("T2", 8)
	if err != nil {
		t.Fatal(err)
	}

	if r1.Committed == r2.Committed {
		t.Fatalf("exactly one of T1/T2 must commit, got T1=%+v T2=%+v", r1, r2)
	}
	if r1.Committed && r2.AbortKind != ConsecutiveRWCycle {
		t.Fatalf("T2 should abort with CONSECUTIVE_RW_CYCLE, got %+v", r2)
	}
	if r2.Committed && r1.AbortKind != ConsecutiveRWCycle {
		t.Fatalf("T1 should abort with CONSECUTIVE_RW_CYCLE, got %+v", r1)
	}
}

func TestWriteQueuesWhenNoSiteAvailable(t *testing.T) {
	m, reg := newManager()
	reg.Fail(2, 1) // x1's only site

	must(t, m.Begin("T1", 2))
	res, err := m.Write("T1", "x1", 5, 3, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Queued {
		t.Fatalf("expected the write to queue, got %+v", res)
	}
	if got := reg.PendingWrites(2); len(got) != 1 {
		t.Fatalf("expected one pending write at site 2, got %v", got)
	}
}

func TestWriteProceedsOnPartialAvailability(t *testing.T) {
	m, reg := newManager()
	reg.Fail(1, 1) // x2 is even: replicated everywhere, one replica down

	must(t, m.Begin("T1", 2))
	res, err := m.Write("T1", "x2", 99, 3, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Queued {
		t.Fatal("a write with some sites up must proceed immediately, not queue")
	}
	for _, sid := range res.Sites {
		if sid == 1 {
			t.Fatal("the down site must not receive the write")
		}
	}
	// spec.md §9: the down site's write is simply never queued, even
	// though other replicas succeeded.
	if got := reg.PendingWrites(1); len(got) != 0 {
		t.Fatalf("down site must not have a pending write queued for it, got %v", got)
	}
}

func TestUnknownAndInactiveTransaction(t *testing.T) {
	m, _ := newManager()
	if _, err := m.Read("ghost", "x1", 1, false); err != ErrUnknownTransaction {
		t.Fatalf("expected ErrUnknownTransaction, got %v", err)
	}

	must(t, m.Begin("T1", 1))
	mustEndCommitted(t, m, "T1", 2)
	if _, err := m.Write("T1", "x1", 1, 3, false); err != ErrInactiveTransaction {
		t.Fatalf("expected ErrInactiveTransaction, got %v", err)
	}
}

func TestExecPendingRetriesQueuedWrite(t *testing.T) {
	m, reg := newManager()
	reg.Fail(2, 1)

	must(t, m.Begin("T1", 2))
	res, err := m.Write("T1", "x1", 5, 3, false)
	if err != nil || !res.Queued {
		t.Fatalf("expected write to queue, got %+v, err=%v", res, err)
	}

	reg.Recover(2, 4)
	m.ExecPending(2, 4)

	if got := reg.PendingWrites(2); len(got) != 0 {
		t.Fatalf("expected pending write to drain after recovery, got %v", got)
	}
	mustEndCommitted(t, m, "T1", 5)
	s, _ := reg.SiteByID(2)
	if v, ok := s.SnapshotRead("x1", 100); !ok || v != 5 {
		t.Fatalf("expected retried write to have committed, got (%d, %v)", v, ok)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func mustWrite(t *testing.T, m *Manager, tid, item string, value int, ts Timestamp) {
	t.Helper()
	res, err := m.Write(tid, item, value, ts, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Queued {
		t.Fatalf("write to %s unexpectedly queued", item)
	}
}

func mustReadValue(t *testing.T, m *Manager, tid, item string, ts Timestamp, want int) {
	t.Helper()
	rr, err := m.Read(tid, item, ts, false)
	if err != nil {
		t.Fatal(err)
	}
	if !rr.Delivered || rr.Value != want {
		t.Fatalf("Read(%s, %s) = %+v, want value %d", tid, item, rr, want)
	}
}

func mustEndCommitted(t *testing.T, m *Manager, tid string, ts Timestamp) {
	t.Helper()
	res, err := m.End(tid, ts)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Committed {
		t.Fatalf("expected %s to commit, got abort kind %v", tid, res.AbortKind)
	}
}
