// Package site implements a single replicated data site.
//
// What: owns the multi-version history of the data items assigned to it by
// the placement rule, answers snapshot reads against that history, and
// buffers uncommitted writes until a commit asks it to persist them.
// How: each hosted item gets an append-only slice of committed
// VersionRecords (newest last) plus a separate append-only slice of
// UncommittedWrite entries, each tagged with the writing transaction.
// Why: keeping committed and uncommitted state in separate, append-only
// logs means a site never has to mutate or reorder history to answer a
// snapshot read — it only ever scans backwards for the first match.
package site

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Timestamp is the single logical clock used throughout the engine. It is
// supplied externally by the caller (one per processed instruction) and is
// strictly increasing across a run. TInit is the sentinel commit timestamp
// of the seed version written at startup; it must compare less than any
// timestamp a real instruction can carry.
type Timestamp int64

// TInit is the commit timestamp of the synthetic seed version.
const TInit Timestamp = -1

// InitTxnID names the synthetic transaction that seeds every item's history.
const InitTxnID = "T_init"

// VersionRecord is one committed version of a data item.
type VersionRecord struct {
	Value    int
	CommitTS Timestamp
	TxnID    string
}

// UncommittedWrite is a buffered write waiting for its transaction to
// either commit (and be persisted) or abort (and be left inert forever).
type UncommittedWrite struct {
	Value   int
	WriteTS Timestamp
	TxnID   string
}

// Site hosts a fixed subset of data items and answers reads/writes for
// exactly that subset.
type Site struct {
	id      int
	history map[string][]VersionRecord
	pending map[string][]UncommittedWrite
}

// New creates a site hosting the given items, each seeded with its initial
// value (10 * the item's numeric index) at TInit.
func New(id int, hostedItems []string) *Site {
	s := &Site{
		id:      id,
		history: make(map[string][]VersionRecord, len(hostedItems)),
		pending: make(map[string][]UncommittedWrite, len(hostedItems)),
	}
	for _, item := range hostedItems {
		idx, ok := ItemIndex(item)
		if !ok {
			continue
		}
		s.history[item] = []VersionRecord{{
			Value:    10 * idx,
			CommitTS: TInit,
			TxnID:    InitTxnID,
		}}
		s.pending[item] = nil
	}
	return s
}

// ID returns the site's numeric id.
func (s *Site) ID() int { return s.id }

// Hosts reports whether this site holds a copy of item.
func (s *Site) Hosts(item string) bool {
	_, ok := s.history[item]
	return ok
}

// SnapshotRead returns the value of the newest committed version of item
// whose commit timestamp is strictly before ts. The second return value is
// false if item isn't hosted here or no such version exists.
func (s *Site) SnapshotRead(item string, ts Timestamp) (int, bool) {
	versions, ok := s.history[item]
	if !ok {
		return 0, false
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].CommitTS < ts {
			return versions[i].Value, true
		}
	}
	return 0, false
}

// History returns the committed version list for item, oldest first. The
// caller must not mutate the returned slice.
func (s *Site) History(item string) []VersionRecord {
	return s.history[item]
}

// BufferWrite appends an uncommitted write for tid. It reports false
// without effect if item isn't hosted here.
func (s *Site) BufferWrite(tid, item string, value int, writeTS Timestamp) bool {
	if _, ok := s.history[item]; !ok {
		return false
	}
	s.pending[item] = append(s.pending[item], UncommittedWrite{
		Value:   value,
		WriteTS: writeTS,
		TxnID:   tid,
	})
	return true
}

// Persist looks at every item hosted here, finds the latest buffered write
// by tid (if any), and appends it as a new committed version. Uncommitted
// entries are never pruned; persist just ignores ones that aren't the
// newest for tid.
func (s *Site) Persist(tid string, commitTS Timestamp) {
	for item, writes := range s.pending {
		var latest *UncommittedWrite
		for i := range writes {
			if writes[i].TxnID == tid {
				latest = &writes[i]
			}
		}
		if latest == nil {
			continue
		}
		s.history[item] = append(s.history[item], VersionRecord{
			Value:    latest.Value,
			CommitTS: commitTS,
			TxnID:    tid,
		})
	}
}

// Dump renders the latest committed value of every hosted item, in
// ascending item-index order: "site {id} - x1: v1, x2: v2, …".
func (s *Site) Dump() string {
	items := make([]string, 0, len(s.history))
	for item := range s.history {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		a, _ := ItemIndex(items[i])
		b, _ := ItemIndex(items[j])
		return a < b
	})
	parts := make([]string, 0, len(items))
	for _, item := range items {
		versions := s.history[item]
		parts = append(parts, fmt.Sprintf("%s: %d", item, versions[len(versions)-1].Value))
	}
	return fmt.Sprintf("site %d - %s", s.id, strings.Join(parts, ", "))
}

// ItemIndex extracts the numeric index i out of an item id "xi". The
// second return value is false if id isn't of that form.
func ItemIndex(id string) (int, bool) {
	if len(id) < 2 || id[0] != 'x' {
		return 0, false
	}
	n, err := strconv.Atoi(id[1:])
	if err != nil {
		return 0, false
	}
	return n, true
}
