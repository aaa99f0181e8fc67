// Package storage persists a local journal of submitted executes. The
// journal is diagnostic state, not a source of truth: the exchange owns the
// real order book. Its one load-bearing record is the nonce high-water mark,
// which seeds the nonce generator after a restart.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/Gaialynx/toadefi/pkg/vertex"
)

// Journal is a pebble-backed record of submitted executes.
type Journal struct {
	db *pebble.DB
}

// ExecuteRecord is the persisted form of one execute submission.
type ExecuteRecord struct {
	Method      string `json:"method"`
	ProductID   uint32 `json:"product_id"`
	Nonce       uint64 `json:"nonce"`
	Signature   string `json:"signature"`
	Status      string `json:"status"`
	SubmittedAt int64  `json:"submitted_at"` // unix milliseconds
}

func Open(path string) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// keys: x:<8-byte-be-nonce>, hw (nonce high-water)
func kExecute(nonce uint64) []byte {
	key := make([]byte, 2+8)
	copy(key, "x:")
	binary.BigEndian.PutUint64(key[2:], nonce)
	return key
}

func kHighWater() []byte { return []byte("hw") }

// Record implements vertex.ExecuteLog. It stores the record and advances the
// nonce high-water mark.
func (j *Journal) Record(entry vertex.ExecuteLogEntry) error {
	rec := ExecuteRecord{
		Method:      entry.Method,
		ProductID:   entry.ProductID,
		Nonce:       entry.Nonce,
		Signature:   entry.Signature,
		Status:      entry.Status,
		SubmittedAt: entry.SubmittedAt.UnixMilli(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal execute record: %w", err)
	}
	if err := j.db.Set(kExecute(rec.Nonce), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save execute record: %w", err)
	}

	if last, ok, err := j.LastNonce(); err != nil {
		return err
	} else if !ok || rec.Nonce > last {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], rec.Nonce)
		if err := j.db.Set(kHighWater(), buf[:], pebble.Sync); err != nil {
			return fmt.Errorf("failed to save nonce high-water: %w", err)
		}
	}
	return nil
}

// LastNonce returns the highest nonce ever journaled, if any.
func (j *Journal) LastNonce() (uint64, bool, error) {
	val, closer, err := j.db.Get(kHighWater())
	if err == pebble.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get nonce high-water: %w", err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, false, fmt.Errorf("corrupt nonce high-water: %d bytes", len(val))
	}
	return binary.BigEndian.Uint64(val), true, nil
}

// RecentExecutes returns up to limit records, most recent first.
func (j *Journal) RecentExecutes(limit int) ([]ExecuteRecord, error) {
	lower := []byte("x:")
	upper := []byte("x;") // 'x:' prefix upper bound
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal iterator: %w", err)
	}
	defer iter.Close()

	var records []ExecuteRecord
	for ok := iter.Last(); ok && len(records) < limit; ok = iter.Prev() {
		var rec ExecuteRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // skip corrupt entries
		}
		records = append(records, rec)
	}
	return records, nil
}

// SubmittedTime is a convenience decode of a record's timestamp.
func (r ExecuteRecord) SubmittedTime() time.Time {
	return time.UnixMilli(r.SubmittedAt)
}

var _ vertex.ExecuteLog = (*Journal)(nil)
