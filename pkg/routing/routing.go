// Package routing scores available channels against payload size, proximity
// and priority to pick a primary channel, and plans multi-path distribution
// for large decomposable transfers.
package routing

import (
	"time"

	"go.uber.org/zap"

	"dtumesh/pkg/channel"
	"dtumesh/pkg/fragment"
)

// Proximity is a caller-supplied hint about where the destination likely is.
type Proximity string

const (
	ProximityLocal   Proximity = "local"
	ProximityNearby  Proximity = "nearby"
	ProximityRemote  Proximity = "remote"
	ProximityUnknown Proximity = "unknown"
)

// fastRTT is the latency threshold below which a channel earns a bonus.
const fastRTT = 50 * time.Millisecond

// Decision is the outcome of SelectRoute. When StoreForward is set no channel
// was reachable and the packet belongs on the relay queue; this is not an
// error to the caller.
type Decision struct {
	StoreForward bool
	Channel      channel.Kind
	Spec         channel.Spec
	Score        int
	Fragmented   bool
	EstFragments int
}

// Engine selects routes from the live channel registry.
type Engine struct {
	reg *channel.Registry
}

func New(reg *channel.Registry) *Engine { return &Engine{reg: reg} }

// SelectRoute picks the highest-scoring available channel for a payload.
// Ties break toward registry order (the earlier channel wins).
func (e *Engine) SelectRoute(payloadBytes int, hint Proximity, priorityClass uint8) Decision {
	avail := e.reg.Available()
	if len(avail) == 0 {
		zap.L().Debug("no channels available, deferring to store-and-forward",
			zap.Int("bytes", payloadBytes))
		return Decision{StoreForward: true}
	}

	best := avail[0]
	bestScore := score(avail[0], payloadBytes, hint, priorityClass)
	for _, st := range avail[1:] {
		if s := score(st, payloadBytes, hint, priorityClass); s > bestScore {
			best, bestScore = st, s
		}
	}

	d := Decision{
		Channel:      best.Kind,
		Spec:         best.Spec,
		Score:        bestScore,
		Fragmented:   fragment.NeedsSplit(payloadBytes, best.MaxPayload),
		EstFragments: fragment.Count(payloadBytes, best.MaxPayload),
	}
	zap.L().Debug("route selected",
		zap.Stringer("channel", d.Channel), zap.Int("score", d.Score),
		zap.Int("bytes", payloadBytes), zap.String("proximity", string(hint)),
		zap.Bool("fragmented", d.Fragmented), zap.Int("est_fragments", d.EstFragments))
	return d
}

func score(st channel.Status, payloadBytes int, hint Proximity, priorityClass uint8) int {
	s := 100 - st.Priority*10

	switch hint {
	case ProximityLocal:
		if st.Kind == channel.KindBluetoothLE || st.Kind == channel.KindProximity {
			s += 50
		}
	case ProximityNearby:
		if st.Kind == channel.KindWifiDirect {
			s += 30
		}
	}

	if payloadBytes > st.MaxPayload {
		s -= 20 // fragmentation required
	}

	if priorityClass == 0 {
		switch st.Speed {
		case channel.BandwidthHigh:
			s += 20
		case channel.BandwidthMedium:
			s += 10
		}
	}

	if st.RTT > 0 && st.RTT < fastRTT {
		s += 15
	}
	return s
}

// Path assigns a set of transfer component indices to one channel.
type Path struct {
	Channel    channel.Kind
	Spec       channel.Spec
	Components []int
}

// Plan is a multi-path distribution of component indices over channels.
type Plan struct {
	Paths []Path
}

// Assigned returns the total number of components the plan covers.
func (p *Plan) Assigned() int {
	n := 0
	for _, pt := range p.Paths {
		n += len(pt.Components)
	}
	return n
}

func weight(b channel.Bandwidth) int {
	switch b {
	case channel.BandwidthHigh:
		return 3
	case channel.BandwidthMedium:
		return 2
	default:
		return 1
	}
}

// PlanMultiPath distributes `components` independent parts across all
// currently-available channels, proportionally to bandwidth class. Any
// remainder lands on the highest-bandwidth path. An empty plan means no
// channel is reachable.
func (e *Engine) PlanMultiPath(components int) Plan {
	avail := e.reg.Available()
	if len(avail) == 0 || components <= 0 {
		return Plan{}
	}

	totalWeight := 0
	for _, st := range avail {
		totalWeight += weight(st.Speed)
	}

	plan := Plan{Paths: make([]Path, len(avail))}
	next := 0
	for i, st := range avail {
		n := components * weight(st.Speed) / totalWeight
		plan.Paths[i] = Path{Channel: st.Kind, Spec: st.Spec}
		for j := 0; j < n && next < components; j++ {
			plan.Paths[i].Components = append(plan.Paths[i].Components, next)
			next++
		}
	}

	// Remainder goes to the highest-bandwidth path (registry order breaks ties).
	if next < components {
		bestIdx := 0
		for i, st := range avail {
			if weight(st.Speed) > weight(avail[bestIdx].Speed) {
				bestIdx = i
			}
		}
		for ; next < components; next++ {
			plan.Paths[bestIdx].Components = append(plan.Paths[bestIdx].Components, next)
		}
	}

	zap.L().Debug("multipath plan computed",
		zap.Int("components", components), zap.Int("paths", len(plan.Paths)))
	return plan
}
