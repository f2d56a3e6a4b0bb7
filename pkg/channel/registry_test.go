package channel

import (
	"testing"
	"time"
)

func TestSpecsTable(t *testing.T) {
	if len(Specs) != 7 {
		t.Fatalf("want 7 channel specs, got %d", len(Specs))
	}
	seen := map[Kind]bool{}
	for i, s := range Specs {
		if seen[s.Kind] {
			t.Fatalf("duplicate kind %v", s.Kind)
		}
		seen[s.Kind] = true
		if s.MaxPayload <= 0 {
			t.Fatalf("spec %v has no payload capacity", s.Kind)
		}
		if i > 0 && s.Priority <= Specs[i-1].Priority {
			t.Fatalf("specs not in ascending priority order at %v", s.Kind)
		}
	}
	if s, ok := SpecFor(KindLoRaMesh); !ok || s.MaxPayload != 242 {
		t.Fatalf("lora spec wrong: %+v", s)
	}
}

func TestRegistryAvailability(t *testing.T) {
	r := NewRegistry()
	if got := r.Available(); len(got) != 0 {
		t.Fatalf("fresh registry reports %d available channels", len(got))
	}
	r.Apply(map[Kind]bool{KindInternet: true, KindBluetoothLE: true})
	got := r.Available()
	if len(got) != 2 {
		t.Fatalf("want 2 available, got %d", len(got))
	}
	// Registry order: internet before ble.
	if got[0].Kind != KindInternet || got[1].Kind != KindBluetoothLE {
		t.Fatalf("snapshot out of registry order: %v, %v", got[0].Kind, got[1].Kind)
	}
	r.SetAvailable(KindInternet, false)
	if r.IsAvailable(KindInternet) {
		t.Fatalf("internet should be down")
	}
}

func TestRegistryRTT(t *testing.T) {
	r := NewRegistry()
	r.SetAvailable(KindInternet, true)
	r.RecordRTT(KindInternet, 30*time.Millisecond)
	r.RecordRTT(KindInternet, 0) // ignored
	got := r.Available()
	if len(got) != 1 || got[0].RTT != 30*time.Millisecond {
		t.Fatalf("rtt not recorded: %+v", got)
	}
}
