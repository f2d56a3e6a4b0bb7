package memkv

import (
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	s := New(Options{})
	if !s.Set("a", []byte("1"), 0) {
		t.Fatalf("first set should create")
	}
	if s.Set("a", []byte("2"), 0) {
		t.Fatalf("second set should overwrite, not create")
	}
	v, ok := s.Get("a")
	if !ok || string(v) != "2" {
		t.Fatalf("get = %q, %v", v, ok)
	}
	if !s.Delete("a") || s.Delete("a") {
		t.Fatalf("delete semantics wrong")
	}
	if _, ok := s.Get("a"); ok {
		t.Fatalf("deleted key still readable")
	}
}

func TestValuesAreCopied(t *testing.T) {
	s := New(Options{})
	buf := []byte("orig")
	s.Set("k", buf, 0)
	buf[0] = 'X'
	v, _ := s.Get("k")
	if string(v) != "orig" {
		t.Fatalf("store aliased caller buffer")
	}
	v[0] = 'Y'
	v2, _ := s.Get("k")
	if string(v2) != "orig" {
		t.Fatalf("get leaked internal buffer")
	}
}

func TestLazyTTLExpiry(t *testing.T) {
	s := New(Options{})
	now := time.Unix(1_700_000_000, 0)
	s.nowFn = func() time.Time { return now }
	s.Set("k", []byte("v"), time.Minute)
	if _, ok := s.Get("k"); !ok {
		t.Fatalf("fresh key missing")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := s.Get("k"); ok {
		t.Fatalf("expired key still readable")
	}
}

func TestSweepExpired(t *testing.T) {
	s := New(Options{Shards: 4})
	now := time.Unix(1_700_000_000, 0)
	s.nowFn = func() time.Time { return now }
	s.Set("a", []byte("1"), time.Minute)
	s.Set("b", []byte("2"), time.Hour)
	s.Set("c", []byte("3"), 0)
	now = now.Add(10 * time.Minute)
	if n := s.SweepExpired(); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, ok := s.Get("b"); !ok {
		t.Fatalf("unexpired key swept")
	}
	if _, ok := s.Get("c"); !ok {
		t.Fatalf("no-ttl key swept")
	}
}

func TestUpdateAtomicUpsert(t *testing.T) {
	s := New(Options{})
	s.Update("k", func(old []byte) []byte {
		if old != nil {
			t.Fatalf("expected nil old value")
		}
		return []byte("v1")
	})
	s.Update("k", func(old []byte) []byte {
		return append(old, '+')
	})
	v, _ := s.Get("k")
	if string(v) != "v1+" {
		t.Fatalf("update chain = %q", v)
	}
}

func TestExpireResetsTTL(t *testing.T) {
	s := New(Options{})
	now := time.Unix(1_700_000_000, 0)
	s.nowFn = func() time.Time { return now }
	s.Set("k", []byte("v"), time.Minute)
	if !s.Expire("k", time.Hour) {
		t.Fatalf("expire on live key failed")
	}
	now = now.Add(30 * time.Minute)
	if _, ok := s.Get("k"); !ok {
		t.Fatalf("key expired despite extended ttl")
	}
	if s.Expire("missing", time.Hour) {
		t.Fatalf("expire on missing key succeeded")
	}
}

func TestMetrics(t *testing.T) {
	s := New(Options{})
	s.Set("a", []byte("1"), 0)
	s.Get("a")
	s.Get("nope")
	m := s.Metrics()
	if m.Keys != 1 || m.Hits != 1 || m.Misses != 1 {
		t.Fatalf("metrics = %+v", m)
	}
}
