package events

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Journal is an append-only audit log backed by pebble. Records are keyed by
// a monotonic sequence number so ranged replay preserves emission order.
//
// keys: e:<8-byte-seq>
type Journal struct {
	mu   sync.Mutex
	db   *pebble.DB
	next uint64
}

func kEvent(seq uint64) []byte {
	b := make([]byte, 2+8)
	copy(b, "e:")
	binary.BigEndian.PutUint64(b[2:], seq)
	return b
}

// OpenJournal opens (or creates) a journal at path and recovers the next
// sequence number from the last stored record.
func OpenJournal(path string) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{db: db}

	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: kEvent(0),
		UpperBound: kEvent(^uint64(0)),
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if iter.Last() && iter.Valid() {
		j.next = binary.BigEndian.Uint64(iter.Key()[2:]) + 1
	}
	if err := iter.Close(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// Emit appends a record. The journal is the audit trail, so a write failure
// is fatal rather than silently dropped.
func (j *Journal) Emit(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	val, err := json.Marshal(e)
	if err != nil {
		panic(fmt.Errorf("journal: encode event: %w", err))
	}
	if err := j.db.Set(kEvent(j.next), val, pebble.NoSync); err != nil {
		panic(fmt.Errorf("journal: append event: %w", err))
	}
	j.next++
}

// Len returns the number of records appended so far.
func (j *Journal) Len() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.next
}

// ReadFrom returns up to limit records starting at sequence from.
func (j *Journal) ReadFrom(from uint64, limit int) ([]Event, error) {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: kEvent(from),
		UpperBound: kEvent(^uint64(0)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Event
	for iter.First(); iter.Valid() && len(out) < limit; iter.Next() {
		var e Event
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("journal: decode seq %x: %w", iter.Key(), err)
		}
		out = append(out, e)
	}
	return out, iter.Error()
}
