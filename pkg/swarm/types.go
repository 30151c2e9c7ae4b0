// Package swarm defines the state records shared by the gossip transport
// and the consensus engine, plus their compact JSON wire encoding.
package swarm

import (
	"fmt"
	"time"
)

// Safety gates whether a node's reading may influence the aggregate.
type Safety string

const (
	SafetyGreen Safety = "GREEN"
	SafetyRed   Safety = "RED"
)

// ParseSafety validates a wire-level safety flag value.
func ParseSafety(s string) (Safety, error) {
	switch Safety(s) {
	case SafetyGreen, SafetyRed:
		return Safety(s), nil
	}
	return "", fmt.Errorf("unknown safety flag %q", s)
}

// NodeState is the value record a node publishes each broadcast cycle.
// It is ephemeral: built once per publish and never persisted.
type NodeState struct {
	ID       string
	Syntropy float64 // normalized [0,1] health signal from the analytics feed
	Safety   Safety
	Seq      uint64 // per-node publish counter, ordering/debugging only
	SentAt   time.Time
}

// PeerState is the last known reading from a peer.
//
// LastSeen is receiver-clock arrival time and drives aging and pruning.
// SentAt is the sender's claimed publish time; it is only used for the
// freshness fence and for last-write-wins upserts, so cross-host clock
// drift never corrupts liveness tracking.
type PeerState struct {
	Syntropy float64
	Safety   Safety
	Seq      uint64
	LastSeen time.Time
	SentAt   time.Time
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
