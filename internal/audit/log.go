// Package audit keeps an append-only record of API actions in LevelDB.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	DefaultTailLimit = 100
	MaxTailLimit     = 1000
)

var keyPrefix = []byte("audit/")

// Entry is one audited action.
type Entry struct {
	Seq       uint64         `json:"seq"`
	At        time.Time      `json:"at"`
	TenantID  string         `json:"tenant_id"`
	Action    string         `json:"action"`
	RequestID string         `json:"request_id"`
	Outcome   string         `json:"outcome"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Log is an append-only audit log. Keys are the prefix plus a big-endian
// sequence number, so iteration order is append order.
type Log struct {
	mu  sync.Mutex
	db  *leveldb.DB
	seq uint64
	now func() time.Time
}

// Open opens (or creates) the log at path.
func Open(path string) (*Log, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return newLog(db)
}

// OpenMemory opens a log that lives only in memory.
func OpenMemory() (*Log, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open in-memory audit log: %w", err)
	}
	return newLog(db)
}

func newLog(db *leveldb.DB) (*Log, error) {
	l := &Log{db: db, now: time.Now}
	it := db.NewIterator(util.BytesPrefix(keyPrefix), nil)
	defer it.Release()
	if it.Last() {
		l.seq = binary.BigEndian.Uint64(it.Key()[len(keyPrefix):])
	}
	if err := it.Error(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recover audit sequence: %w", err)
	}
	return l, nil
}

// Append assigns the next sequence number to e and stores it.
func (l *Log) Append(e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.Seq = l.seq + 1
	if e.At.IsZero() {
		e.At = l.now().UTC()
	}
	val, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("encode audit entry: %w", err)
	}
	if err := l.db.Put(key(e.Seq), val, nil); err != nil {
		return Entry{}, fmt.Errorf("write audit entry: %w", err)
	}
	l.seq = e.Seq
	return e, nil
}

// Tail returns the newest limit entries, oldest first. limit is clamped to
// [1, MaxTailLimit]; 0 means DefaultTailLimit.
func (l *Log) Tail(limit int) ([]Entry, error) {
	switch {
	case limit <= 0:
		limit = DefaultTailLimit
	case limit > MaxTailLimit:
		limit = MaxTailLimit
	}

	it := l.db.NewIterator(util.BytesPrefix(keyPrefix), nil)
	defer it.Release()

	out := make([]Entry, 0, limit)
	for ok := it.Last(); ok && len(out) < limit; ok = it.Prev() {
		var e Entry
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		out = append(out, e)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Len is the number of entries appended over the log's lifetime.
func (l *Log) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

func (l *Log) Close() error {
	return l.db.Close()
}

func key(seq uint64) []byte {
	k := make([]byte, len(keyPrefix)+8)
	copy(k, keyPrefix)
	binary.BigEndian.PutUint64(k[len(keyPrefix):], seq)
	return k
}
