package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dtumesh/pkg/channel"
	"dtumesh/pkg/routing"
)

func components(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{byte(i)}
	}
	return out
}

func engineWith(kinds ...channel.Kind) *routing.Engine {
	reg := channel.NewRegistry()
	for _, k := range kinds {
		reg.SetAvailable(k, true)
	}
	return routing.New(reg)
}

func TestInitiateCompleted(t *testing.T) {
	sent := 0
	m := NewManager(engineWith(channel.KindInternet, channel.KindBluetoothLE),
		func(ctx context.Context, dest string, c []byte, ch channel.Kind, spec channel.Spec) error {
			sent++
			return nil
		})
	tr := m.Initiate(context.Background(), components(6), "peer-a")
	if tr.State != StateCompleted || tr.Sent != 6 || tr.Failed != 0 {
		t.Fatalf("transfer = %+v", tr)
	}
	if sent != 6 {
		t.Fatalf("sender called %d times", sent)
	}
	if tr.CompletedAt.Before(tr.StartedAt) {
		t.Fatalf("timestamps inverted")
	}
}

func TestInitiatePartial(t *testing.T) {
	i := 0
	m := NewManager(engineWith(channel.KindInternet),
		func(ctx context.Context, dest string, c []byte, ch channel.Kind, spec channel.Spec) error {
			i++
			if i%2 == 0 {
				return errors.New("link dropped")
			}
			return nil
		})
	tr := m.Initiate(context.Background(), components(4), "peer-a")
	if tr.State != StatePartial || tr.Sent != 2 || tr.Failed != 2 {
		t.Fatalf("transfer = %+v", tr)
	}
}

func TestInitiateFailedNoChannels(t *testing.T) {
	m := NewManager(engineWith(), func(ctx context.Context, dest string, c []byte, ch channel.Kind, spec channel.Spec) error {
		t.Fatalf("sender must not be called with an empty plan")
		return nil
	})
	tr := m.Initiate(context.Background(), components(3), "peer-a")
	if tr.State != StateFailed || tr.Sent != 0 {
		t.Fatalf("transfer = %+v", tr)
	}
}

func TestStateIsTerminal(t *testing.T) {
	m := NewManager(engineWith(channel.KindInternet),
		func(ctx context.Context, dest string, c []byte, ch channel.Kind, spec channel.Spec) error { return nil })
	tr := m.Initiate(context.Background(), components(2), "peer-a")
	got, ok := m.Get(tr.ID)
	if !ok || got.State != StateCompleted {
		t.Fatalf("stored state %v", got.State)
	}
	// Retry means a new id, never a mutation of the old record.
	tr2 := m.Initiate(context.Background(), components(2), "peer-a")
	if tr2.ID == tr.ID {
		t.Fatalf("transfer id reused")
	}
}

// Readers (Get, Active, PruneTerminal) run off the heartbeat while Initiate
// is mid-flight; the record must stay consistent under the race detector.
func TestInitiateConcurrentWithMaintenance(t *testing.T) {
	m := NewManager(engineWith(channel.KindInternet),
		func(ctx context.Context, dest string, c []byte, ch channel.Kind, spec channel.Spec) error {
			time.Sleep(time.Millisecond)
			return nil
		})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				m.PruneTerminal()
				m.Active()
			}
		}
	}()

	tr := m.Initiate(context.Background(), components(50), "peer-a")
	close(done)
	wg.Wait()

	if tr.State != StateCompleted || tr.Sent != 50 {
		t.Fatalf("transfer = %+v", tr)
	}
	// An in-flight transfer must never be pruned; only its terminal record.
	if got, ok := m.Get(tr.ID); ok && got.State == StateInProgress {
		t.Fatalf("stored record still in progress after Initiate returned")
	}
}

func TestPruneTerminal(t *testing.T) {
	m := NewManager(engineWith(channel.KindInternet),
		func(ctx context.Context, dest string, c []byte, ch channel.Kind, spec channel.Spec) error { return nil })
	m.Initiate(context.Background(), components(1), "peer-a")
	m.Initiate(context.Background(), components(1), "peer-b")
	if m.Active() != 2 {
		t.Fatalf("active = %d", m.Active())
	}
	if n := m.PruneTerminal(); n != 2 {
		t.Fatalf("pruned %d", n)
	}
	if m.Active() != 0 {
		t.Fatalf("terminal transfers survived prune")
	}
}
