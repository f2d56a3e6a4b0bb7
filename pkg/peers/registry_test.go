package peers

import (
	"testing"
	"time"

	"dtumesh/pkg/channel"
	"dtumesh/pkg/memkv"
)

func newTestRegistry() (*Registry, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	r := NewRegistry(memkv.New(memkv.Options{}), "self-node")
	r.nowFn = func() time.Time { return now }
	return r, &now
}

func TestRegisterAndGet(t *testing.T) {
	r, _ := newTestRegistry()
	ok := r.Register(Peer{ID: "peer-a", Channels: []channel.Kind{channel.KindBluetoothLE}, Relay: true, Source: "beacon"})
	if !ok {
		t.Fatalf("register rejected")
	}
	p, found := r.Get("peer-a")
	if !found || !p.Relay || len(p.Channels) != 1 || p.Source != "beacon" {
		t.Fatalf("stored peer wrong: %+v", p)
	}
	if p.FirstSeen == 0 || p.LastSeen == 0 {
		t.Fatalf("timestamps not set")
	}
}

func TestNeverRegistersSelf(t *testing.T) {
	r, _ := newTestRegistry()
	if r.Register(Peer{ID: "self-node"}) {
		t.Fatalf("registered the local node")
	}
	if r.Register(Peer{}) {
		t.Fatalf("registered an empty id")
	}
	if r.Count() != 0 {
		t.Fatalf("registry not empty")
	}
}

func TestUpsertPreservesFirstSeen(t *testing.T) {
	r, now := newTestRegistry()
	r.Register(Peer{ID: "peer-a", Source: "beacon"})
	first, _ := r.Get("peer-a")
	*now = now.Add(30 * time.Minute)
	r.Register(Peer{ID: "peer-a", Relay: true, Source: "relay"})
	after, _ := r.Get("peer-a")
	if after.FirstSeen != first.FirstSeen {
		t.Fatalf("first-seen changed on upsert")
	}
	if after.LastSeen == first.LastSeen {
		t.Fatalf("last-seen not refreshed")
	}
	if !after.Relay || after.Source != "relay" {
		t.Fatalf("metadata not refreshed: %+v", after)
	}
	if after.Transmissions != 2 {
		t.Fatalf("transmissions = %d, want 2", after.Transmissions)
	}
}

func TestTouchUnknownIgnored(t *testing.T) {
	r, _ := newTestRegistry()
	r.Touch("ghost")
	if r.Count() != 0 {
		t.Fatalf("touch created a peer")
	}
}

func TestSweepStale(t *testing.T) {
	r, now := newTestRegistry()
	r.Register(Peer{ID: "old-peer"})
	*now = now.Add(150 * time.Minute) // old-peer now 2.5h silent
	r.Register(Peer{ID: "fresh-peer"})
	*now = now.Add(30 * time.Minute) // old: 3h, fresh: 30m

	if n := r.SweepStale(); n != 1 {
		t.Fatalf("swept %d peers, want 1", n)
	}
	if r.Known("old-peer") {
		t.Fatalf("3h-silent peer survived sweep")
	}
	if !r.Known("fresh-peer") {
		t.Fatalf("30m-silent peer was evicted")
	}
}

func TestListSnapshot(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register(Peer{ID: "a"})
	r.Register(Peer{ID: "b"})
	if got := len(r.List()); got != 2 {
		t.Fatalf("list returned %d peers", got)
	}
	r.Remove("a")
	if r.Known("a") || len(r.List()) != 1 {
		t.Fatalf("remove did not take effect")
	}
}
