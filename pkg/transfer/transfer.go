// Package transfer coordinates named multi-component transfers across a
// multi-path distribution plan.
package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dtumesh/pkg/channel"
	"dtumesh/pkg/routing"
)

// State of a transfer. Everything except StateInProgress is terminal: a
// partially-failed transfer is retried by initiating a new transfer id, not
// by resuming this one.
type State string

const (
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StatePartial    State = "partial"
	StateFailed     State = "failed"
)

// Transfer tracks one multi-component send.
type Transfer struct {
	ID          string
	Destination string
	Total       int
	Plan        routing.Plan
	Sent        int
	Failed      int
	State       State
	StartedAt   time.Time
	CompletedAt time.Time
}

// SendFunc transmits one component over an assigned channel. Implemented by
// the node; must honor ctx cancellation since a real medium may block.
type SendFunc func(ctx context.Context, destination string, component []byte, ch channel.Kind, spec channel.Spec) error

// Manager plans and executes transfers.
type Manager struct {
	eng   *routing.Engine
	send  SendFunc
	nowFn func() time.Time

	mu        sync.Mutex
	transfers map[string]*Transfer
}

func NewManager(eng *routing.Engine, send SendFunc) *Manager {
	return &Manager{eng: eng, send: send, nowFn: time.Now, transfers: make(map[string]*Transfer)}
}

// Initiate computes a multi-path plan for the components and attempts to
// send each one along its assigned path. The final state is decided once,
// at the end of this call: completed when every component went out, partial
// when some did, failed when none did (including when no channel is up).
func (m *Manager) Initiate(ctx context.Context, components [][]byte, destination string) Transfer {
	plan := m.eng.PlanMultiPath(len(components))
	t := &Transfer{
		ID:          uuid.NewString(),
		Destination: destination,
		Total:       len(components),
		Plan:        plan,
		State:       StateInProgress,
		StartedAt:   m.nowFn(),
	}
	m.mu.Lock()
	m.transfers[t.ID] = t
	m.mu.Unlock()

	zap.L().Info("transfer initiated",
		zap.String("transfer", t.ID), zap.String("dest", destination),
		zap.Int("components", t.Total), zap.Int("paths", len(plan.Paths)))

	// Progress accumulates locally; the shared record is only written back
	// under the lock once, when the transfer reaches its terminal state.
	sent, failed := 0, 0
	for _, path := range plan.Paths {
		for _, idx := range path.Components {
			if err := m.send(ctx, destination, components[idx], path.Channel, path.Spec); err != nil {
				failed++
				zap.L().Warn("transfer component failed",
					zap.String("transfer", t.ID), zap.Int("component", idx),
					zap.Stringer("channel", path.Channel), zap.Error(err))
				continue
			}
			sent++
		}
	}

	m.mu.Lock()
	t.Sent = sent
	t.Failed = failed
	t.CompletedAt = m.nowFn()
	switch {
	case t.Total > 0 && sent == t.Total:
		t.State = StateCompleted
	case sent > 0:
		t.State = StatePartial
	default:
		t.State = StateFailed
	}
	out := *t
	m.mu.Unlock()

	zap.L().Info("transfer finished",
		zap.String("transfer", out.ID), zap.String("state", string(out.State)),
		zap.Int("sent", out.Sent), zap.Int("failed", out.Failed))
	return out
}

// Get returns a transfer snapshot.
func (m *Manager) Get(id string) (Transfer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return Transfer{}, false
	}
	return *t, true
}

// Active reports how many transfers are tracked.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transfers)
}

// PruneTerminal drops transfers that reached a terminal state; called from
// the heartbeat so finished records do not accumulate.
func (m *Manager) PruneTerminal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.transfers {
		if t.State != StateInProgress {
			delete(m.transfers, id)
			n++
		}
	}
	if n > 0 {
		zap.L().Debug("terminal transfers pruned", zap.Int("count", n))
	}
	return n
}
