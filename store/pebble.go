package store

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

// Pebble is a Store backed by a pebble database. The compound primitives
// (SetIfAbsent, CompareAndSet) are serialized by a process-local mutex;
// pebble's directory lock guarantees a single process owns the data dir, so
// that is sufficient for per-primitive atomicity. All writes are synced.
type Pebble struct {
	mu  sync.Mutex
	db  *pebble.DB
	now func() time.Time
}

// OpenPebble opens (or creates) a pebble store at dir.
func OpenPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("store: opening pebble at %s: %w", dir, err)
	}
	return &Pebble{db: db, now: time.Now}, nil
}

// Get implements Store.
func (p *Pebble) Get(key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getLocked(key)
}

func (p *Pebble) getLocked(key string) ([]byte, bool, error) {
	raw, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	buf := append([]byte(nil), raw...)
	closer.Close()

	value, expiresAt, _, err := decodeEnvelope(buf)
	if err != nil {
		return nil, false, err
	}
	if !live(expiresAt, p.now()) {
		// Lazy expiry: drop the dead record.
		if err := p.db.Delete([]byte(key), pebble.Sync); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return value, true, nil
}

// Set implements Store.
func (p *Pebble) Set(key string, value []byte, opts Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	env := encodeEnvelope(value, expiryFromOpts(p.now(), opts), opts.DueAt)
	return p.db.Set([]byte(key), env, pebble.Sync)
}

// SetIfAbsent implements Store.
func (p *Pebble) SetIfAbsent(key string, value []byte, opts Options) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, present, err := p.getLocked(key); err != nil {
		return false, err
	} else if present {
		return false, nil
	}
	env := encodeEnvelope(value, expiryFromOpts(p.now(), opts), opts.DueAt)
	if err := p.db.Set([]byte(key), env, pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

// CompareAndSet implements Store.
func (p *Pebble) CompareAndSet(key string, expect, value []byte, opts Options) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, present, err := p.getLocked(key)
	if err != nil {
		return false, err
	}
	if !present || !bytes.Equal(current, expect) {
		return false, nil
	}
	env := encodeEnvelope(value, expiryFromOpts(p.now(), opts), opts.DueAt)
	if err := p.db.Set([]byte(key), env, pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

// Delete implements Store.
func (p *Pebble) Delete(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db.Delete([]byte(key), pebble.Sync)
}

// ScanDueBefore implements Store.
func (p *Pebble) ScanDueBefore(prefix string, cutoff time.Time) ([]Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	now := p.now()
	var out []Record
	for iter.First(); iter.Valid(); iter.Next() {
		value, expiresAt, dueAt, err := decodeEnvelope(iter.Value())
		if err != nil {
			return nil, err
		}
		if !live(expiresAt, now) || dueAt.IsZero() || dueAt.After(cutoff) {
			continue
		}
		out = append(out, Record{
			Key:   string(iter.Key()),
			Value: value,
			DueAt: dueAt,
		})
	}
	return out, iter.Error()
}

// Close implements Store.
func (p *Pebble) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db.Close()
}
