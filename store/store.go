// Package store provides the durable key-value primitives the job
// coordinator relies on: set-if-absent for locks and intent creation,
// compare-and-set for intent state transitions, TTL expiry for locks and
// cached receipts, and a due-time scan for the completion retry queue.
// Backends must make each primitive atomic; cross-key transactions are not
// required.
package store

import (
	"encoding/binary"
	"errors"
	"time"
)

// ErrCorruptRecord is returned when a stored value cannot be decoded.
var ErrCorruptRecord = errors.New("store: corrupt record")

// Options qualifies a write.
type Options struct {
	// TTL expires the record after the given duration. Zero means no expiry.
	TTL time.Duration

	// DueAt schedules the record for ScanDueBefore pickup. Zero means the
	// record is never due.
	DueAt time.Time
}

// Record is a scan result.
type Record struct {
	Key   string
	Value []byte
	DueAt time.Time
}

// Store is the durable backend contract. All methods are safe for
// concurrent use and each is atomic on its own.
type Store interface {
	// Get returns the value for key, reporting absence (including expiry)
	// via the second return.
	Get(key string) ([]byte, bool, error)

	// Set writes key unconditionally.
	Set(key string, value []byte, opts Options) error

	// SetIfAbsent writes key only when absent, reporting whether the write
	// happened.
	SetIfAbsent(key string, value []byte, opts Options) (bool, error)

	// CompareAndSet replaces the value only when the current value equals
	// expect byte-for-byte, reporting whether the swap happened. An absent
	// key never matches.
	CompareAndSet(key string, expect, value []byte, opts Options) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// ScanDueBefore returns all live records under prefix whose due time is
	// set and not after cutoff, in key order.
	ScanDueBefore(prefix string, cutoff time.Time) ([]Record, error)

	// Close releases the backend.
	Close() error
}

// envelope layout: 8-byte expiry unix-nano, 8-byte due unix-nano, payload.
// Zero marks "not set" for either timestamp.
const envelopeHeader = 16

func encodeEnvelope(value []byte, expiresAt, dueAt time.Time) []byte {
	buf := make([]byte, envelopeHeader+len(value))
	if !expiresAt.IsZero() {
		binary.BigEndian.PutUint64(buf[0:8], uint64(expiresAt.UnixNano()))
	}
	if !dueAt.IsZero() {
		binary.BigEndian.PutUint64(buf[8:16], uint64(dueAt.UnixNano()))
	}
	copy(buf[envelopeHeader:], value)
	return buf
}

func decodeEnvelope(buf []byte) (value []byte, expiresAt, dueAt time.Time, err error) {
	if len(buf) < envelopeHeader {
		return nil, time.Time{}, time.Time{}, ErrCorruptRecord
	}
	if nanos := binary.BigEndian.Uint64(buf[0:8]); nanos != 0 {
		expiresAt = time.Unix(0, int64(nanos))
	}
	if nanos := binary.BigEndian.Uint64(buf[8:16]); nanos != 0 {
		dueAt = time.Unix(0, int64(nanos))
	}
	value = append([]byte(nil), buf[envelopeHeader:]...)
	return value, expiresAt, dueAt, nil
}

// expiryFromOpts converts a TTL into an absolute expiry.
func expiryFromOpts(now time.Time, opts Options) time.Time {
	if opts.TTL <= 0 {
		return time.Time{}
	}
	return now.Add(opts.TTL)
}

// live reports whether a record with the given expiry is still valid at now.
func live(expiresAt, now time.Time) bool {
	return expiresAt.IsZero() || now.Before(expiresAt)
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil when no bound exists.
func prefixUpperBound(prefix string) []byte {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			out := append([]byte(nil), b[:i+1]...)
			out[i]++
			return out
		}
	}
	return nil
}
