package store

import (
	"bytes"
	"testing"
	"time"
)

// backends returns each Store implementation with a controllable clock.
func backends(t *testing.T) map[string]struct {
	store    Store
	setClock func(func() time.Time)
} {
	t.Helper()

	mem := NewMemory()

	peb, err := OpenPebble(t.TempDir())
	if err != nil {
		t.Fatalf("OpenPebble: %v", err)
	}
	t.Cleanup(func() { peb.Close() })

	return map[string]struct {
		store    Store
		setClock func(func() time.Time)
	}{
		"memory": {mem, mem.SetClock},
		"pebble": {peb, func(now func() time.Time) { peb.now = now }},
	}
}

func TestSetIfAbsent(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := b.store.SetIfAbsent("lock/a", []byte("one"), Options{})
			if err != nil || !ok {
				t.Fatalf("first SetIfAbsent = (%v, %v), want (true, nil)", ok, err)
			}
			ok, err = b.store.SetIfAbsent("lock/a", []byte("two"), Options{})
			if err != nil || ok {
				t.Fatalf("second SetIfAbsent = (%v, %v), want (false, nil)", ok, err)
			}
			got, present, err := b.store.Get("lock/a")
			if err != nil || !present || !bytes.Equal(got, []byte("one")) {
				t.Errorf("Get = (%q, %v, %v), want original value", got, present, err)
			}
		})
	}
}

func TestTTLExpiry(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now()
			clock := base
			b.setClock(func() time.Time { return clock })

			if _, err := b.store.SetIfAbsent("lock/ttl", []byte("held"), Options{TTL: time.Minute}); err != nil {
				t.Fatalf("SetIfAbsent: %v", err)
			}

			if _, present, _ := b.store.Get("lock/ttl"); !present {
				t.Fatal("record should be live before TTL")
			}

			clock = base.Add(2 * time.Minute)
			if _, present, _ := b.store.Get("lock/ttl"); present {
				t.Fatal("record should have expired")
			}

			// Expired record no longer blocks SetIfAbsent.
			ok, err := b.store.SetIfAbsent("lock/ttl", []byte("again"), Options{})
			if err != nil || !ok {
				t.Errorf("SetIfAbsent after expiry = (%v, %v), want (true, nil)", ok, err)
			}
		})
	}
}

func TestCompareAndSet(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := b.store.Set("intent/x", []byte("pending"), Options{}); err != nil {
				t.Fatalf("Set: %v", err)
			}

			ok, err := b.store.CompareAndSet("intent/x", []byte("wrong"), []byte("in_flight"), Options{})
			if err != nil || ok {
				t.Fatalf("CAS with stale expect = (%v, %v), want (false, nil)", ok, err)
			}
			ok, err = b.store.CompareAndSet("intent/x", []byte("pending"), []byte("in_flight"), Options{})
			if err != nil || !ok {
				t.Fatalf("CAS = (%v, %v), want (true, nil)", ok, err)
			}
			got, _, _ := b.store.Get("intent/x")
			if !bytes.Equal(got, []byte("in_flight")) {
				t.Errorf("value = %q, want in_flight", got)
			}

			ok, _ = b.store.CompareAndSet("intent/missing", []byte("pending"), []byte("x"), Options{})
			if ok {
				t.Error("CAS on absent key must fail")
			}
		})
	}
}

func TestDelete(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b.store.Set("k", []byte("v"), Options{})
			if err := b.store.Delete("k"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, present, _ := b.store.Get("k"); present {
				t.Error("deleted key still present")
			}
			if err := b.store.Delete("k"); err != nil {
				t.Errorf("deleting absent key: %v", err)
			}
		})
	}
}

func TestScanDueBefore(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now()

			b.store.Set("intent/due1", []byte("a"), Options{DueAt: now.Add(-time.Minute)})
			b.store.Set("intent/due2", []byte("b"), Options{DueAt: now.Add(-time.Second)})
			b.store.Set("intent/later", []byte("c"), Options{DueAt: now.Add(time.Hour)})
			b.store.Set("intent/nodue", []byte("d"), Options{})
			b.store.Set("result/due", []byte("e"), Options{DueAt: now.Add(-time.Minute)})

			recs, err := b.store.ScanDueBefore("intent/", now)
			if err != nil {
				t.Fatalf("ScanDueBefore: %v", err)
			}
			if len(recs) != 2 {
				t.Fatalf("got %d records, want 2", len(recs))
			}
			if recs[0].Key != "intent/due1" || recs[1].Key != "intent/due2" {
				t.Errorf("keys = %s, %s", recs[0].Key, recs[1].Key)
			}
			if recs[0].DueAt.After(now) {
				t.Error("record due time should be before cutoff")
			}
		})
	}
}

func TestPebblePersistence(t *testing.T) {
	dir := t.TempDir()

	p, err := OpenPebble(dir)
	if err != nil {
		t.Fatalf("OpenPebble: %v", err)
	}
	due := time.Now().Add(-time.Second)
	if err := p.Set("intent/persist", []byte("survives"), Options{DueAt: due}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: the record must still be there with its due time intact.
	p2, err := OpenPebble(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()

	recs, err := p2.ScanDueBefore("intent/", time.Now())
	if err != nil {
		t.Fatalf("ScanDueBefore: %v", err)
	}
	if len(recs) != 1 || !bytes.Equal(recs[0].Value, []byte("survives")) {
		t.Fatalf("persisted record not recovered: %+v", recs)
	}
}
