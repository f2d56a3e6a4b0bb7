package relay

import (
	"testing"
	"time"
)

func TestEnqueueKeepsPriorityOrder(t *testing.T) {
	q := New()
	q.Enqueue([]byte("bulk"), "peer-a", 6)
	q.Enqueue([]byte("urgent"), "peer-b", 0)
	q.Enqueue([]byte("normal"), "peer-c", 3)
	snap := q.Snapshot()
	if snap[0].Priority != 0 || snap[1].Priority != 3 || snap[2].Priority != 6 {
		t.Fatalf("queue not priority sorted: %v %v %v", snap[0].Priority, snap[1].Priority, snap[2].Priority)
	}
}

func TestEnqueueAtCapacityEvictsLowestPriority(t *testing.T) {
	q := New(WithCapacity(3))
	q.Enqueue([]byte("a"), "a", 1)
	q.Enqueue([]byte("b"), "b", 5) // the victim
	q.Enqueue([]byte("c"), "c", 2)
	q.Enqueue([]byte("d"), "d", 0)
	if q.Len() != 3 {
		t.Fatalf("queue depth %d, want cap 3", q.Len())
	}
	for _, e := range q.Snapshot() {
		if e.Destination == "b" {
			t.Fatalf("lowest-priority entry survived eviction")
		}
	}
	if q.Metrics().Evicted != 1 {
		t.Fatalf("eviction not counted")
	}
}

func TestSweepExpiresOldEntries(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	q := New(WithClock(func() time.Time { return now }))
	q.Enqueue([]byte("x"), "peer-a", 3)
	now = now.Add(25 * time.Hour)
	expired, delivered := q.Sweep(func(string) bool { return false }, nil)
	if expired != 1 || delivered != 0 {
		t.Fatalf("sweep = (%d,%d), want (1,0)", expired, delivered)
	}
	if q.Len() != 0 {
		t.Fatalf("expired entry still queued")
	}
}

func TestSweepDeliversToKnownPeer(t *testing.T) {
	q := New()
	q.Enqueue([]byte("x"), "peer-a", 3)
	q.Enqueue([]byte("y"), "peer-b", 3)
	known := map[string]bool{"peer-a": true}
	var sent []string
	_, delivered := q.Sweep(
		func(d string) bool { return known[d] },
		func(e Entry) (bool, bool) { sent = append(sent, e.Destination); return true, true },
	)
	if delivered != 1 || len(sent) != 1 || sent[0] != "peer-a" {
		t.Fatalf("delivered %d to %v", delivered, sent)
	}
	if q.Len() != 1 {
		t.Fatalf("unreachable entry should remain queued")
	}
}

func TestSweepDeliversBroadcastAlways(t *testing.T) {
	q := New()
	q.Enqueue([]byte("x"), Broadcast, 2)
	_, delivered := q.Sweep(func(string) bool { return false }, func(Entry) (bool, bool) { return true, true })
	if delivered != 1 || q.Len() != 0 {
		t.Fatalf("broadcast entry not delivered")
	}
}

func TestUnattemptedDeliveryKeepsBudget(t *testing.T) {
	q := New()
	q.Enqueue([]byte("x"), Broadcast, 2)
	// All channels down: the sweep runs but nothing can be tried.
	for i := 0; i < 3*DefaultMaxAttempts; i++ {
		q.Sweep(func(string) bool { return false }, func(Entry) (bool, bool) { return false, false })
	}
	if q.Len() != 1 {
		t.Fatalf("entry dropped without a single real attempt")
	}
	if got := q.Snapshot()[0].Attempts; got != 0 {
		t.Fatalf("attempts burned while untried: %d", got)
	}
	// One real try that fails does count.
	q.Sweep(func(string) bool { return false }, func(Entry) (bool, bool) { return true, false })
	if got := q.Snapshot()[0].Attempts; got != 1 {
		t.Fatalf("failed attempt not recorded: %d", got)
	}
}

func TestFailedDeliveryRequeuesUntilExhausted(t *testing.T) {
	q := New()
	q.Enqueue([]byte("x"), "peer-a", 3)
	reach := func(string) bool { return true }
	fail := func(Entry) (bool, bool) { return true, false }
	for i := 0; i < DefaultMaxAttempts-1; i++ {
		q.Sweep(reach, fail)
		if q.Len() != 1 {
			t.Fatalf("entry dropped early at attempt %d", i+1)
		}
	}
	q.Sweep(reach, fail)
	if q.Len() != 0 {
		t.Fatalf("entry survived past max attempts")
	}
	m := q.Metrics()
	if m.Exhausted != 1 || m.Delivered != 0 {
		t.Fatalf("metrics = %+v", m)
	}
}
