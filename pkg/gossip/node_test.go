package gossip

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/driftlabs/syntroswarm/pkg/consensus"
	"github.com/driftlabs/syntroswarm/pkg/swarm"
)

func newTestNode(t *testing.T, hub *Hub, id string, signal float64) *Node {
	t.Helper()
	n, err := New(Config{
		NodeID:            id,
		Transport:         hub.Transport(),
		BroadcastInterval: 50 * time.Millisecond,
		ConsensusInterval: 50 * time.Millisecond,
		PruneInterval:     100 * time.Millisecond,
		FreshnessWindow:   250 * time.Millisecond,
		PeerTimeout:       500 * time.Millisecond,
		Consensus:         consensus.Config{MinQuorum: 2},
	})
	if err != nil {
		t.Fatalf("New(%s): %v", id, err)
	}
	n.UpdateLocalSignal(signal, swarm.SafetyGreen)
	return n
}

func TestNewRequiresTransport(t *testing.T) {
	if _, err := New(Config{NodeID: "x"}); err == nil {
		t.Fatal("expected error without transport")
	}
}

func TestSelfBroadcastNeverEnteredInPeerTable(t *testing.T) {
	hub := NewHub()
	n := newTestNode(t, hub, "solo", 0.5)
	n.Start()
	defer n.Stop()

	// The hub loops every broadcast back to the sender, like multicast
	// loopback; the self-filter must still keep the table empty.
	time.Sleep(400 * time.Millisecond)
	if got := n.Snapshot().LocalPeers; got != 0 {
		t.Fatalf("own datagrams reached the peer table: %d peers", got)
	}
}

func TestFreshnessFenceRejectsOldTimestamps(t *testing.T) {
	hub := NewHub()
	n := newTestNode(t, hub, "receiver", 0.5)
	n.Start()
	defer n.Stop()

	sender := hub.Transport()
	defer sender.Close()

	stale, err := swarm.EncodeState(swarm.NodeState{
		ID: "replayer", Syntropy: 0.9, Safety: swarm.SafetyGreen, Seq: 1,
		SentAt: time.Now().Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	sender.Send(stale)

	time.Sleep(200 * time.Millisecond)
	if got := n.Snapshot().LocalPeers; got != 0 {
		t.Fatalf("stale datagram updated the table: %d peers", got)
	}

	fresh, err := swarm.EncodeState(swarm.NodeState{
		ID: "live-peer", Syntropy: 0.6, Safety: swarm.SafetyGreen, Seq: 1,
		SentAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	sender.Send(fresh)

	time.Sleep(200 * time.Millisecond)
	if got := n.Snapshot().LocalPeers; got != 1 {
		t.Fatalf("fresh datagram did not land: %d peers", got)
	}
}

func TestMalformedDatagramIsDroppedNotFatal(t *testing.T) {
	hub := NewHub()
	n := newTestNode(t, hub, "receiver", 0.5)
	n.Start()
	defer n.Stop()

	sender := hub.Transport()
	defer sender.Close()
	sender.Send([]byte(`{"id": "broken`))

	time.Sleep(200 * time.Millisecond)
	if got := n.Snapshot().LocalPeers; got != 0 {
		t.Fatalf("malformed datagram landed: %d peers", got)
	}
	// The receive loop must still be alive afterwards.
	fresh, _ := swarm.EncodeState(swarm.NodeState{
		ID: "p1", Syntropy: 0.6, Safety: swarm.SafetyGreen, SentAt: time.Now(),
	})
	sender.Send(fresh)
	time.Sleep(200 * time.Millisecond)
	if got := n.Snapshot().LocalPeers; got != 1 {
		t.Fatalf("receive loop died after malformed datagram: %d peers", got)
	}
}

func TestThreeNodeConvergence(t *testing.T) {
	hub := NewHub()
	signals := map[string]float64{"a": 0.4, "b": 0.5, "c": 0.9}
	nodes := make([]*Node, 0, len(signals))
	for id, sig := range signals {
		n := newTestNode(t, hub, id, sig)
		n.Start()
		defer n.Stop()
		nodes = append(nodes, n)
	}

	time.Sleep(1500 * time.Millisecond)

	var min, max float64 = 2, -1
	for _, n := range nodes {
		snap := n.Snapshot()
		if snap.LocalPeers != 2 {
			t.Fatalf("node %s sees %d peers, want 2", snap.NodeID, snap.LocalPeers)
		}
		if snap.Mode != consensus.ModeQuorate {
			t.Fatalf("node %s mode = %s, want QUORATE", snap.NodeID, snap.Mode)
		}
		if snap.GlobalSyntropy > 0.85 {
			t.Fatalf("node %s mirrors the 0.9 outlier: global = %v", snap.NodeID, snap.GlobalSyntropy)
		}
		if snap.GlobalSyntropy < min {
			min = snap.GlobalSyntropy
		}
		if snap.GlobalSyntropy > max {
			max = snap.GlobalSyntropy
		}
	}
	// Raw locals span 0.5; the smoothed globals must sit much closer.
	if spread := max - min; spread >= 0.25 {
		t.Fatalf("globals did not converge: spread = %v", spread)
	}
}

func TestPeerEvictedAfterSilence(t *testing.T) {
	hub := NewHub()
	a := newTestNode(t, hub, "a", 0.5)
	b := newTestNode(t, hub, "b", 0.6)
	a.Start()
	defer a.Stop()
	b.Start()

	time.Sleep(400 * time.Millisecond)
	if got := a.Snapshot().LocalPeers; got != 1 {
		t.Fatalf("a should see b before silence: %d peers", got)
	}

	if err := b.Stop(); err != nil {
		t.Fatalf("stop b: %v", err)
	}
	// PeerTimeout 500ms + prune interval 100ms, with slack.
	time.Sleep(900 * time.Millisecond)

	snap := a.Snapshot()
	if snap.LocalPeers != 0 {
		t.Fatalf("silent peer not evicted: %d peers", snap.LocalPeers)
	}
	if snap.Mode != consensus.ModeDegraded {
		t.Fatalf("isolated node mode = %s, want DEGRADED", snap.Mode)
	}
	if snap.ConsensusWeight != 0.3 {
		t.Fatalf("isolated node weight = %v, want 0.3", snap.ConsensusWeight)
	}
}

func TestStopJoinsWorkersAndIsIdempotent(t *testing.T) {
	hub := NewHub()
	n := newTestNode(t, hub, "stopper", 0.5)
	tr := n.transport

	n.Start()
	time.Sleep(150 * time.Millisecond)

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Transport must be closed once workers are joined.
	if err := tr.Send([]byte("x")); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("transport still open after Stop: %v", err)
	}
	if err := n.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestUpdateLocalSignalClampsAndFlowsToSnapshot(t *testing.T) {
	hub := NewHub()
	n := newTestNode(t, hub, "clamp", 0.5)

	n.UpdateLocalSignal(1.7, swarm.SafetyRed)
	snap := n.Snapshot()
	if snap.LocalSyntropy != 1.0 {
		t.Fatalf("local syntropy not clamped: %v", snap.LocalSyntropy)
	}
	if snap.LocalSafety != swarm.SafetyRed {
		t.Fatalf("local safety = %s, want RED", snap.LocalSafety)
	}
}
