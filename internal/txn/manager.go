// Package txn implements TransactionManager, the coordinator: the
// transaction table, the labeled serialization graph, the begin/read/
// write/end lifecycle, and the three-phase commit validator.
//
// What: routes reads and writes to whichever sites the available-copies
// algorithm says are ready, defers the ones that aren't by handing them to
// the registry's pending queues, and validates every commit against three
// independent criteria before letting it touch committed state.
// How: a flat map of live Transaction records plus one shared graph; every
// public method is a single pass over that state with no fixed point
// iteration, matching the single-threaded, lock-free execution model of
// spec.md §5.
// Why: keeping validation entirely inside end() — rather than rejecting
// reads/writes speculatively — is what lets the three checks be
// independent and order-insensitive except where spec.md says otherwise
// (Check A, B, C run strictly in that order, and C's three edge-label
// passes run WW, WR, RW in that order).
package txn

import (
	"fmt"
	"sort"

	"github.com/SimonWaldherr/repcrec/internal/registry"
	"github.com/SimonWaldherr/repcrec/internal/site"
)

// Timestamp re-exports the engine-wide logical clock type.
type Timestamp = site.Timestamp

// Status is a transaction's lifecycle state.
type Status int

const (
	Active Status = iota
	Committed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "?"
	}
}

// AbortKind names why a transaction aborted. NoAbort is the zero value for
// transactions that never abort.
type AbortKind int

const (
	NoAbort AbortKind = iota
	ImpossibleRead
	SiteFailure
	FirstCommitterWrite
	ConsecutiveRWCycle
)

func (k AbortKind) String() string {
	switch k {
	case NoAbort:
		return "NONE"
	case ImpossibleRead:
		return "IMPOSSIBLE_READ"
	case SiteFailure:
		return "SITE_FAILURE"
	case FirstCommitterWrite:
		return "FIRST_COMMITTER_WRITE"
	case ConsecutiveRWCycle:
		return "CONSECUTIVE_RW_CYCLE"
	default:
		return "?"
	}
}

// AccessOp distinguishes the two kinds of site contact a transaction can
// make.
type AccessOp int

const (
	OpRead AccessOp = iota
	OpWrite
)

func (o AccessOp) String() string {
	if o == OpWrite {
		return "WRITE"
	}
	return "READ"
}

// SiteAccess records one site contact a transaction actually made.
type SiteAccess struct {
	Site      int
	Op        AccessOp
	Timestamp Timestamp
}

// Transaction is the coordinator's record of one client transaction.
type Transaction struct {
	ID            string
	StartTime     Timestamp
	Status        Status
	Reads         map[string]struct{}
	Writes        map[string]struct{}
	IsReadOnly    bool
	CommitTime    Timestamp
	SitesAccessed []SiteAccess
	AbortReason   AbortKind
}

// Manager is the TransactionManager coordinator.
type Manager struct {
	registry *registry.Registry
	txns     map[string]*Transaction
	graph    *graph
}

// New creates a coordinator bound to reg.
func New(reg *registry.Registry) *Manager {
	return &Manager{
		registry: reg,
		txns:     make(map[string]*Transaction),
		graph:    newGraph(),
	}
}

// Errors reported by begin/read/write when the transaction id is invalid
// for the requested operation. These are plain Go errors, distinct from
// AbortKind: an abort is a normal terminal transaction outcome, an error
// here means the caller issued an instruction that made no sense.
var (
	ErrUnknownTransaction  = fmt.Errorf("unknown transaction")
	ErrInactiveTransaction = fmt.Errorf("transaction is not active")
	ErrTransactionExists   = fmt.Errorf("transaction already exists")
)

// Begin starts a new transaction.
func (m *Manager) Begin(tid string, ts Timestamp) error {
	if _, exists := m.txns[tid]; exists {
		return ErrTransactionExists
	}
	m.txns[tid] = &Transaction{
		ID:         tid,
		StartTime:  ts,
		Status:     Active,
		Reads:      make(map[string]struct{}),
		Writes:     make(map[string]struct{}),
		IsReadOnly: true,
		CommitTime: site.TInit,
	}
	m.graph.addNode(tid)
	return nil
}

func (m *Manager) activeTxn(tid string) (*Transaction, error) {
	t, ok := m.txns[tid]
	if !ok {
		return nil, ErrUnknownTransaction
	}
	if t.Status != Active {
		return nil, ErrInactiveTransaction
	}
	return t, nil
}

// ReadResult is the outcome of a Read call.
type ReadResult struct {
	Delivered bool
	Value     int
	Site      int
	Queued    bool
	Aborted   bool
	AbortKind AbortKind
}

// Read implements spec.md §4.3's read(tid, item, ts, is_retry).
func (m *Manager) Read(tid, item string, ts Timestamp, isRetry bool) (ReadResult, error) {
	t, err := m.activeTxn(tid)
	if err != nil {
		return ReadResult{}, err
	}

	prs := m.registry.PreviouslyRunningSites(item, t.StartTime)
	if len(prs) == 0 {
		m.abort(t, ImpossibleRead)
		return ReadResult{Aborted: true, AbortKind: ImpossibleRead}, nil
	}

	ready := intersect(prs, m.registry.AvailableSites(item))
	if len(ready) == 0 {
		for _, sid := range prs {
			m.registry.AddPendingRead(sid, tid, item)
		}
		return ReadResult{Queued: true}, nil
	}

	sort.Ints(ready)
	for _, sid := range ready {
		s, ok := m.registry.SiteByID(sid)
		if !ok {
			continue
		}
		value, ok := s.SnapshotRead(item, t.StartTime)
		if !ok {
			continue
		}
		t.Reads[item] = struct{}{}
		t.SitesAccessed = append(t.SitesAccessed, SiteAccess{Site: sid, Op: OpRead, Timestamp: ts})

		if isRetry {
			for _, r := range ready {
				m.registry.RemovePendingRead(r, tid, item)
			}
		}
		return ReadResult{Delivered: true, Value: value, Site: sid}, nil
	}

	// Every ready site lacks a version before start_time. The seed version
	// guarantees this cannot happen for a correctly placed item, but a
	// caller asking about an item this engine never seeded would land
	// here; treat it as undeliverable rather than panicking.
	return ReadResult{}, nil
}

// WriteResult is the outcome of a Write call.
type WriteResult struct {
	Sites   []int
	Queued  bool
	Aborted bool
}

// Write implements spec.md §4.3's write(tid, item, value, ts, is_retry).
func (m *Manager) Write(tid, item string, value int, ts Timestamp, isRetry bool) (WriteResult, error) {
	t, err := m.activeTxn(tid)
	if err != nil {
		return WriteResult{}, err
	}
	t.IsReadOnly = false

	avail := m.registry.AvailableSites(item)
	if len(avail) == 0 {
		for _, sid := range m.registry.Placement(item) {
			m.registry.AddPendingWrite(sid, tid, item, value)
		}
		return WriteResult{Queued: true}, nil
	}

	sort.Ints(avail)
	var touched []int
	for _, sid := range avail {
		s, ok := m.registry.SiteByID(sid)
		if !ok {
			continue
		}
		if s.BufferWrite(tid, item, value, ts) {
			t.SitesAccessed = append(t.SitesAccessed, SiteAccess{Site: sid, Op: OpWrite, Timestamp: ts})
			touched = append(touched, sid)
		}
	}
	t.Writes[item] = struct{}{}

	if isRetry {
		for _, sid := range m.registry.Placement(item) {
			m.registry.RemovePendingWrite(sid, tid, item)
		}
	}
	return WriteResult{Sites: touched}, nil
}

// EndResult is the outcome of an End call.
type EndResult struct {
	Committed bool
	AbortKind AbortKind
}

// End implements spec.md §4.3's end(tid, ts): the three-phase commit
// validator.
func (m *Manager) End(tid string, ts Timestamp) (EndResult, error) {
	t, err := m.activeTxn(tid)
	if err != nil {
		return EndResult{}, err
	}

	if kind, ok := m.checkAvailableCopies(t); !ok {
		m.abort(t, kind)
		return EndResult{AbortKind: kind}, nil
	}
	if kind, ok := m.checkFirstCommitterWins(t); !ok {
		m.abort(t, kind)
		return EndResult{AbortKind: kind}, nil
	}
	if ok := m.checkSerializationGraph(t, ts); !ok {
		return EndResult{AbortKind: ConsecutiveRWCycle}, nil
	}

	m.registry.Commit(tid, ts)
	t.Status = Committed
	t.CommitTime = ts
	return EndResult{Committed: true}, nil
}

// checkAvailableCopies is Check A: a read-write transaction aborts if any
// site it touched failed after that contact.
func (m *Manager) checkAvailableCopies(t *Transaction) (AbortKind, bool) {
	if t.IsReadOnly {
		return NoAbort, true
	}
	for _, acc := range t.SitesAccessed {
		if m.registry.LastFailTime(acc.Site) > acc.Timestamp {
			return SiteFailure, false
		}
	}
	return NoAbort, true
}

// checkFirstCommitterWins is Check B: a read-write transaction aborts if
// any item it wrote was committed by a different transaction after this
// one started. Per spec.md §9's resolution of the open question, this
// scans committed history (Site.History), not the uncommitted buffer.
func (m *Manager) checkFirstCommitterWins(t *Transaction) (AbortKind, bool) {
	if t.IsReadOnly {
		return NoAbort, true
	}
	for item := range t.Writes {
		for _, sid := range m.registry.AvailableSites(item) {
			s, ok := m.registry.SiteByID(sid)
			if !ok {
				continue
			}
			for _, v := range s.History(item) {
				if v.TxnID != t.ID && v.CommitTS > t.StartTime {
					return FirstCommitterWrite, false
				}
			}
		}
	}
	return NoAbort, true
}

// checkSerializationGraph is Check C. It adds WW, then WR, then RW edges
// from every other transaction into t, checking for a dangerous cycle
// after each of the three passes. On detecting one, t is removed from the
// graph (with its incident edges) and the transaction aborts.
func (m *Manager) checkSerializationGraph(t *Transaction, tsEnd Timestamp) bool {
	others := m.otherTransactions(t.ID)

	for _, other := range others {
		if other.Status == Committed && other.CommitTime < t.StartTime && intersects(other.Writes, t.Writes) {
			m.graph.addEdge(other.ID, t.ID, WW)
		}
	}
	if m.graph.hasDangerousCycle() {
		m.graph.removeNode(t.ID)
		m.abort(t, ConsecutiveRWCycle)
		return false
	}

	for _, other := range others {
		if other.Status == Committed && other.CommitTime < t.StartTime && intersects(other.Writes, t.Reads) {
			m.graph.addEdge(other.ID, t.ID, WR)
		}
	}
	if m.graph.hasDangerousCycle() {
		m.graph.removeNode(t.ID)
		m.abort(t, ConsecutiveRWCycle)
		return false
	}

	for _, other := range others {
		if other.StartTime < tsEnd && intersects(other.Reads, t.Writes) {
			m.graph.addEdge(other.ID, t.ID, RW)
		}
	}
	if m.graph.hasDangerousCycle() {
		m.graph.removeNode(t.ID)
		m.abort(t, ConsecutiveRWCycle)
		return false
	}

	return true
}

func (m *Manager) otherTransactions(exclude string) []*Transaction {
	ids := make([]string, 0, len(m.txns))
	for id := range m.txns {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]*Transaction, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.txns[id])
	}
	return out
}

func (m *Manager) abort(t *Transaction, kind AbortKind) {
	t.Status = Aborted
	t.AbortReason = kind
}

// ExecPending implements exec_pending(sid, ts): retries every queued read
// and write at sid after it has just recovered. Each retry is itself fully
// validated, so it may abort, re-enqueue, or succeed.
func (m *Manager) ExecPending(sid int, ts Timestamp) {
	reads := m.registry.PendingReads(sid)
	writes := m.registry.PendingWrites(sid)

	for _, r := range reads {
		if t, ok := m.txns[r.TID]; ok && t.Status == Active {
			m.Read(r.TID, r.Item, ts, true)
		}
	}
	for _, w := range writes {
		if t, ok := m.txns[w.TID]; ok && t.Status == Active {
			m.Write(w.TID, w.Item, w.Value, ts, true)
		}
	}
}

// Get returns the transaction tid, if it exists.
func (m *Manager) Get(tid string) (*Transaction, bool) {
	t, ok := m.txns[tid]
	return t, ok
}

// TransactionSnapshot is a read-only view used for introspection.
type TransactionSnapshot struct {
	ID         string
	Status     Status
	StartTime  Timestamp
	CommitTime Timestamp
	IsReadOnly bool
	Reads      []string
	Writes     []string
}

// Snapshot returns a point-in-time view of every known transaction,
// ordered by id.
func (m *Manager) Snapshot() []TransactionSnapshot {
	ids := make([]string, 0, len(m.txns))
	for id := range m.txns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]TransactionSnapshot, 0, len(ids))
	for _, id := range ids {
		t := m.txns[id]
		out = append(out, TransactionSnapshot{
			ID:         t.ID,
			Status:     t.Status,
			StartTime:  t.StartTime,
			CommitTime: t.CommitTime,
			IsReadOnly: t.IsReadOnly,
			Reads:      sortedKeys(t.Reads),
			Writes:     sortedKeys(t.Writes),
		})
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func intersect(a, b []int) []int {
	set := make(map[int]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	var out []int
	for _, v := range a {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

func intersects(a, b map[string]struct{}) bool {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for k := range small {
		if _, ok := large[k]; ok {
			return true
		}
	}
	return false
}
