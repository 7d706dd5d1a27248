// Package registry implements SiteRegistry: ownership of every Site, the
// up/down bookkeeping for each, the replica placement rule, and the
// pending-operation queues that back available-copies routing.
//
// What: resolves a data item to the sites that could host it and the
// subset currently up, tracks each site's failure history, and buffers
// reads/writes that can't be served right now until a recovery retries
// them.
// How: placement is computed once at construction from the even/odd
// indexing rule and never changes; status and pending queues are plain
// maps guarded by nothing, since the engine is single-threaded (spec.md
// §5 — no locks required).
// Why: separating "what sites could serve this item" (placement, fixed)
// from "what sites can serve it right now" (status, time-varying) is what
// lets the coordinator implement available-copies without the Site type
// knowing anything about replication.
package registry

import (
	"sort"
	"strconv"

	"github.com/SimonWaldherr/repcrec/internal/site"
)

// Timestamp re-exports site.Timestamp so callers outside this module
// don't need to import the site package just to pass a clock value.
type Timestamp = site.Timestamp

// StatusEvent is one entry in a site's up/down history.
type StatusEvent struct {
	Up        bool
	Timestamp Timestamp
}

// siteState tracks the mutable status of one site.
type siteState struct {
	up              bool
	lastFailureTime Timestamp
	log             []StatusEvent
}

// pendingRead is a queued (tid, item) read awaiting a site recovery.
type pendingRead struct {
	tid  string
	item string
}

// pendingWrite is a queued (tid, item, value) write awaiting a recovery.
type pendingWrite struct {
	tid   string
	item  string
	value int
}

// Config controls the shape of the simulated deployment. The zero value is
// not usable; use DefaultConfig.
type Config struct {
	SiteCount int
	ItemCount int
}

// DefaultConfig reproduces spec.md exactly: 10 sites, 20 items.
func DefaultConfig() Config {
	return Config{SiteCount: 10, ItemCount: 20}
}

// Registry owns every Site plus its status and pending queues.
type Registry struct {
	cfg       Config
	sites     map[int]*site.Site
	status    map[int]*siteState
	placement map[string][]int

	pendingReads  map[int][]pendingRead
	pendingWrites map[int][]pendingWrite
}

// New builds a registry of cfg.SiteCount sites hosting cfg.ItemCount items
// under the placement rule: even-indexed items are replicated at every
// site, odd-indexed item xi lives only at site (i mod SiteCount) + 1.
func New(cfg Config) *Registry {
	r := &Registry{
		cfg:           cfg,
		sites:         make(map[int]*site.Site, cfg.SiteCount),
		status:        make(map[int]*siteState, cfg.SiteCount),
		placement:     make(map[string][]int, cfg.ItemCount),
		pendingReads:  make(map[int][]pendingRead),
		pendingWrites: make(map[int][]pendingWrite),
	}

	hostedBySite := make(map[int][]string, cfg.SiteCount)
	for i := 1; i <= cfg.ItemCount; i++ {
		item := itemID(i)
		var sites []int
		if i%2 == 0 {
			for s := 1; s <= cfg.SiteCount; s++ {
				sites = append(sites, s)
			}
		} else {
			sites = []int{(i % cfg.SiteCount) + 1}
		}
		r.placement[item] = sites
		for _, s := range sites {
			hostedBySite[s] = append(hostedBySite[s], item)
		}
	}

	for s := 1; s <= cfg.SiteCount; s++ {
		r.sites[s] = site.New(s, hostedBySite[s])
		r.status[s] = &siteState{
			up:              true,
			lastFailureTime: site.TInit,
			log:             []StatusEvent{{Up: true, Timestamp: 0}},
		}
	}
	return r
}

// SiteIDs returns every site id in ascending order.
func (r *Registry) SiteIDs() []int {
	ids := make([]int, 0, len(r.sites))
	for id := range r.sites {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// SiteByID returns the Site for sid, if it exists.
func (r *Registry) SiteByID(sid int) (*site.Site, bool) {
	s, ok := r.sites[sid]
	return s, ok
}

// Placement returns the sites that could host item, ignoring status.
func (r *Registry) Placement(item string) []int {
	return append([]int(nil), r.placement[item]...)
}

// AvailableSites returns the subset of Placement(item) currently up.
func (r *Registry) AvailableSites(item string) []int {
	var out []int
	for _, sid := range r.placement[item] {
		if r.IsUp(sid) {
			out = append(out, sid)
		}
	}
	return out
}

// IsUp reports whether sid is currently up.
func (r *Registry) IsUp(sid int) bool {
	st, ok := r.status[sid]
	return ok && st.up
}

// LastFailTime returns the timestamp of sid's most recent failure, or
// site.TInit if it has never failed.
func (r *Registry) LastFailTime(sid int) Timestamp {
	st, ok := r.status[sid]
	if !ok {
		return site.TInit
	}
	return st.lastFailureTime
}

// Fail marks sid down at ts.
func (r *Registry) Fail(sid int, ts Timestamp) {
	st, ok := r.status[sid]
	if !ok {
		return
	}
	st.up = false
	st.lastFailureTime = ts
	st.log = append(st.log, StatusEvent{Up: false, Timestamp: ts})
}

// Recover marks sid up at ts. It does not retry any pending operation —
// the coordinator drives that via TransactionManager.ExecPending.
func (r *Registry) Recover(sid int, ts Timestamp) {
	st, ok := r.status[sid]
	if !ok {
		return
	}
	st.up = true
	st.log = append(st.log, StatusEvent{Up: true, Timestamp: ts})
}

// StatusLog returns sid's status history, oldest first.
func (r *Registry) StatusLog(sid int) []StatusEvent {
	st, ok := r.status[sid]
	if !ok {
		return nil
	}
	return append([]StatusEvent(nil), st.log...)
}

// PreviouslyRunningSites implements the available-copies read-ready
// predicate: a site qualifies if (a) it holds a committed version of item
// from strictly before txnStartTime, and (b) it has not gone down at any
// point between that version's commit and txnStartTime.
func (r *Registry) PreviouslyRunningSites(item string, txnStartTime Timestamp) []int {
	var out []int
	for _, sid := range r.placement[item] {
		s, ok := r.sites[sid]
		if !ok {
			continue
		}
		history := s.History(item)
		var lastPreStart *site.VersionRecord
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].CommitTS < txnStartTime {
				lastPreStart = &history[i]
				break
			}
		}
		if lastPreStart == nil {
			continue
		}
		if !r.failedBetween(sid, lastPreStart.CommitTS, txnStartTime) {
			out = append(out, sid)
		}
	}
	return out
}

// failedBetween reports whether sid has a (false, t) status event with
// from < t <= to.
func (r *Registry) failedBetween(sid int, from, to Timestamp) bool {
	st, ok := r.status[sid]
	if !ok {
		return true
	}
	for _, ev := range st.log {
		if !ev.Up && ev.Timestamp > from && ev.Timestamp <= to {
			return true
		}
	}
	return false
}

// Commit persists tid's buffered writes at every currently up site.
func (r *Registry) Commit(tid string, ts Timestamp) {
	for _, sid := range r.SiteIDs() {
		if r.IsUp(sid) {
			r.sites[sid].Persist(tid, ts)
		}
	}
}

// AddPendingRead enqueues (tid, item) at sid, ignoring duplicates.
func (r *Registry) AddPendingRead(sid int, tid, item string) {
	for _, p := range r.pendingReads[sid] {
		if p.tid == tid && p.item == item {
			return
		}
	}
	r.pendingReads[sid] = append(r.pendingReads[sid], pendingRead{tid: tid, item: item})
}

// RemovePendingRead removes (tid, item) from sid's queue, if present.
func (r *Registry) RemovePendingRead(sid int, tid, item string) {
	q := r.pendingReads[sid]
	for i, p := range q {
		if p.tid == tid && p.item == item {
			r.pendingReads[sid] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// PendingReads returns a snapshot of sid's queued reads, (tid, item) pairs
// in FIFO order.
func (r *Registry) PendingReads(sid int) []struct{ TID, Item string } {
	q := r.pendingReads[sid]
	out := make([]struct{ TID, Item string }, len(q))
	for i, p := range q {
		out[i] = struct{ TID, Item string }{p.tid, p.item}
	}
	return out
}

// AddPendingWrite enqueues (tid, item, value) at sid, ignoring duplicates.
func (r *Registry) AddPendingWrite(sid int, tid, item string, value int) {
	for _, p := range r.pendingWrites[sid] {
		if p.tid == tid && p.item == item && p.value == value {
			return
		}
	}
	r.pendingWrites[sid] = append(r.pendingWrites[sid], pendingWrite{tid: tid, item: item, value: value})
}

// RemovePendingWrite removes (tid, item) entries from sid's queue,
// regardless of value (a retry may carry a different value than the one
// that was queued if the transaction wrote the item again in the
// meantime; spec.md identifies writes by (tid, item) for removal).
func (r *Registry) RemovePendingWrite(sid int, tid, item string) {
	q := r.pendingWrites[sid]
	kept := q[:0]
	for _, p := range q {
		if p.tid == tid && p.item == item {
			continue
		}
		kept = append(kept, p)
	}
	r.pendingWrites[sid] = kept
}

// PendingWrites returns a snapshot of sid's queued writes in FIFO order.
func (r *Registry) PendingWrites(sid int) []struct {
	TID   string
	Item  string
	Value int
} {
	q := r.pendingWrites[sid]
	out := make([]struct {
		TID   string
		Item  string
		Value int
	}, len(q))
	for i, p := range q {
		out[i] = struct {
			TID   string
			Item  string
			Value int
		}{p.tid, p.item, p.value}
	}
	return out
}

// Dump renders every currently up site's Dump() output, in ascending site
// id order.
func (r *Registry) Dump() []string {
	var lines []string
	for _, sid := range r.SiteIDs() {
		if r.IsUp(sid) {
			lines = append(lines, r.sites[sid].Dump())
		}
	}
	return lines
}

// SiteSnapshot is a read-only view of one site's status, for
// introspection.
type SiteSnapshot struct {
	ID              int
	Up              bool
	LastFailureTime Timestamp
	PendingReads    int
	PendingWrites   int
}

// Snapshot returns a point-in-time view of every site's status.
func (r *Registry) Snapshot() []SiteSnapshot {
	out := make([]SiteSnapshot, 0, len(r.sites))
	for _, sid := range r.SiteIDs() {
		st := r.status[sid]
		out = append(out, SiteSnapshot{
			ID:              sid,
			Up:              st.up,
			LastFailureTime: st.lastFailureTime,
			PendingReads:    len(r.pendingReads[sid]),
			PendingWrites:   len(r.pendingWrites[sid]),
		})
	}
	return out
}

func itemID(i int) string {
	return "x" + strconv.Itoa(i)
}
