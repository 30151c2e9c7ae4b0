// Package consensus implements the rolling, outlier-resistant aggregation
// of swarm syntropy readings. The engine is pure with respect to the
// transport: each cycle it takes the local state and a point-in-time copy
// of the peer table and produces one updated snapshot. It owns nothing
// but its own smoothing history.
package consensus

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/driftlabs/syntroswarm/pkg/swarm"
)

// Mode is the engine's operating mode, re-evaluated fresh every cycle.
type Mode string

const (
	// ModeQuorate means enough fresh GREEN samples existed to aggregate.
	ModeQuorate Mode = "QUORATE"
	// ModeDegraded means the node fell back to its own reading with a
	// fixed low-confidence weight.
	ModeDegraded Mode = "DEGRADED"
)

const (
	// degradedWeight is the fixed confidence reported while isolated.
	degradedWeight = 0.3
	// weightFloor/weightSpan bound consensus weight to [0.2, 1.0].
	weightFloor = 0.2
	weightSpan  = 0.8
	// minTotalWeight floors the aggregation denominator.
	minTotalWeight = 1e-9
)

// Config tunes the aggregation. Zero values fall back to the defaults
// from the wire protocol they were calibrated against.
type Config struct {
	// QuorumWindow is the maximum sample age eligible for aggregation.
	QuorumWindow time.Duration
	// MinQuorum is the sample count below which the engine degrades.
	MinQuorum int
	// EMAAlpha is the base smoothing rate.
	EMAAlpha float64
	// OutlierThreshold caps any sample's residual against the weighted mean.
	OutlierThreshold float64
	// RecencyHalfLife controls the exponential age decay of sample weights.
	RecencyHalfLife time.Duration
	// HistoryLen bounds the FIFO of recent smoothed values.
	HistoryLen int
}

func (c *Config) applyDefaults() {
	if c.QuorumWindow <= 0 {
		c.QuorumWindow = 2 * time.Second
	}
	if c.MinQuorum < 1 {
		c.MinQuorum = 1
	}
	if c.EMAAlpha <= 0 {
		c.EMAAlpha = 0.15
	}
	if c.OutlierThreshold <= 0 {
		c.OutlierThreshold = 0.20
	}
	if c.RecencyHalfLife <= 0 {
		c.RecencyHalfLife = time.Second
	}
	if c.HistoryLen <= 0 {
		c.HistoryLen = 50
	}
}

// Snapshot is the externally readable result of the latest cycle. It is
// always a copy; callers can hold it without racing the engine.
type Snapshot struct {
	LastUpdate      time.Time `json:"last_update"`
	ConsensusWeight float64   `json:"consensus_weight"`
	GlobalSyntropy  float64   `json:"global_syntropy"`
	HistoryLen      int       `json:"history_length"`
	Mode            Mode      `json:"mode"`
}

type sample struct {
	syntropy float64
	recency  float64
	safety   swarm.Safety
}

// Engine computes the swarm's global syntropy estimate. Safe for
// concurrent use: Update runs under the engine lock, and readers only
// ever see a completed cycle.
type Engine struct {
	cfg Config

	mu         sync.Mutex
	weight     float64
	global     float64
	lastUpdate time.Time
	mode       Mode
	history    []float64 // bounded FIFO of smoothed values, oldest first
}

// New returns an engine with cfg applied over the defaults.
func New(cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{cfg: cfg, weight: 1.0, mode: ModeDegraded}
}

// Update runs one aggregation cycle over the local state and a peer
// table snapshot, as of now. It returns the resulting snapshot.
func (e *Engine) Update(local swarm.NodeState, peers map[string]swarm.PeerState, now time.Time) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUpdate = now

	samples := make([]sample, 0, len(peers)+1)
	if local.Safety == swarm.SafetyGreen {
		samples = append(samples, sample{syntropy: local.Syntropy, recency: 1.0, safety: local.Safety})
	}
	for _, p := range peers {
		age := now.Sub(p.LastSeen)
		if age < 0 {
			age = 0
		}
		if age > e.cfg.QuorumWindow || p.Safety != swarm.SafetyGreen {
			continue
		}
		samples = append(samples, sample{syntropy: p.Syntropy, recency: e.recencyWeight(age), safety: p.Safety})
	}

	if len(samples) < e.cfg.MinQuorum {
		// Degraded mode: isolated node reports its own reading with a
		// fixed low confidence. Defined behavior even under local RED.
		e.global = swarm.Clamp01(local.Syntropy)
		e.weight = degradedWeight
		e.mode = ModeDegraded
		e.pushHistory(e.global)
		return e.snapshotLocked()
	}

	var weightedSum, totalWeight float64
	for _, s := range samples {
		weightedSum += s.syntropy * s.recency
		totalWeight += s.recency
	}
	if totalWeight < minTotalWeight {
		totalWeight = minTotalWeight
	}
	mean := weightedSum / totalWeight

	// Huber-style dampening: no single extreme reading moves the refined
	// mean more than OutlierThreshold, regardless of its raw weight.
	var refinedSum float64
	for _, s := range samples {
		refinedSum += (mean + e.dampen(s.syntropy-mean)) * s.recency
	}
	refined := refinedSum / totalWeight

	countFactor := math.Min(1, float64(len(samples))/float64(len(peers)+1))
	recencies := make([]float64, len(samples))
	for i, s := range samples {
		recencies[i] = s.recency
	}
	sort.Float64s(recencies)
	medianRecency := recencies[len(recencies)/2]
	// Always 1.0 today given the GREEN-only sample filter; kept as a
	// multiplier should non-GREEN samples ever be admitted.
	green := 0
	for _, s := range samples {
		if s.safety == swarm.SafetyGreen {
			green++
		}
	}
	greenFraction := float64(green) / float64(len(samples))

	reliability := countFactor * medianRecency * greenFraction
	e.weight = weightFloor + weightSpan*math.Pow(reliability, 0.75)

	prev := refined
	if len(e.history) > 0 {
		prev = e.history[len(e.history)-1]
	}
	// The smoothing rate itself rises when the estimate diverges sharply
	// from the previous one, trading stability for shock response.
	alpha := e.cfg.EMAAlpha * (0.5 + 0.5*math.Abs(refined-prev))
	e.global = swarm.Clamp01(prev + alpha*(refined-prev))
	e.mode = ModeQuorate
	e.pushHistory(e.global)
	return e.snapshotLocked()
}

// WeightedSyntropy blends the caller's local reading with the global
// estimate by the current consensus weight, so a node that distrusts the
// swarm leans toward its own signal when confidence is low.
func (e *Engine) WeightedSyntropy(localSyntropy float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return swarm.Clamp01(localSyntropy*(1-e.weight) + e.global*e.weight)
}

// Snapshot returns the result of the most recent cycle.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		LastUpdate:      e.lastUpdate,
		ConsensusWeight: e.weight,
		GlobalSyntropy:  e.global,
		HistoryLen:      len(e.history),
		Mode:            e.mode,
	}
}

func (e *Engine) recencyWeight(age time.Duration) float64 {
	return math.Pow(0.5, age.Seconds()/e.cfg.RecencyHalfLife.Seconds())
}

func (e *Engine) dampen(residual float64) float64 {
	if math.Abs(residual) <= e.cfg.OutlierThreshold {
		return residual
	}
	return math.Copysign(e.cfg.OutlierThreshold, residual)
}

func (e *Engine) pushHistory(v float64) {
	if len(e.history) >= e.cfg.HistoryLen {
		e.history = e.history[1:]
	}
	e.history = append(e.history, v)
}
