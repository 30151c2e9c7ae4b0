package gossip

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/driftlabs/syntroswarm/internal/telemetry"
	"github.com/driftlabs/syntroswarm/pkg/consensus"
	"github.com/driftlabs/syntroswarm/pkg/swarm"
)

// Config wires a Node. Transport is required; everything else defaults
// to the wire protocol's calibrated values.
type Config struct {
	// NodeID identifies this node on the wire. Generated when empty.
	NodeID string
	// Transport carries state datagrams to and from the swarm.
	Transport Transport
	// Logger defaults to a nop logger.
	Logger *zap.Logger

	// BroadcastInterval is the publish cadence.
	BroadcastInterval time.Duration
	// ConsensusInterval is the aggregation cadence.
	ConsensusInterval time.Duration
	// PruneInterval is the liveness sweep cadence.
	PruneInterval time.Duration
	// FreshnessWindow rejects datagrams whose sender timestamp is older
	// than this against the receiver's clock.
	FreshnessWindow time.Duration
	// PeerTimeout evicts peers silent for longer than this.
	PeerTimeout time.Duration
	// MaxPeers bounds the peer table.
	MaxPeers int
	// StopTimeout bounds how long Stop waits for workers to exit.
	StopTimeout time.Duration

	// Consensus tunes the aggregation engine. QuorumWindow defaults to
	// PeerTimeout when zero.
	Consensus consensus.Config
}

func (c *Config) applyDefaults() {
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()[:8]
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = 250 * time.Millisecond
	}
	if c.ConsensusInterval <= 0 {
		c.ConsensusInterval = 250 * time.Millisecond
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = time.Second
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = 250 * time.Millisecond
	}
	if c.PeerTimeout <= 0 {
		c.PeerTimeout = 2 * time.Second
	}
	if c.MaxPeers <= 0 {
		c.MaxPeers = 1024
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	if c.Consensus.QuorumWindow <= 0 {
		c.Consensus.QuorumWindow = c.PeerTimeout
	}
}

// Status is the read-only view served to snapshot consumers. Reading it
// never touches engine internals beyond taking copies.
type Status struct {
	NodeID           string         `json:"id"`
	LastUpdate       time.Time      `json:"last_update"`
	ConsensusWeight  float64        `json:"consensus_weight"`
	GlobalSyntropy   float64        `json:"global_syntropy"`
	WeightedSyntropy float64        `json:"weighted_syntropy"`
	HistoryLen       int            `json:"history_length"`
	Mode             consensus.Mode `json:"mode"`
	LocalPeers       int            `json:"local_peer_count"`
	LocalSyntropy    float64        `json:"local_syntropy"`
	LocalSafety      swarm.Safety   `json:"local_safety"`
}

// Node runs the four gossip workers (broadcast, receive, prune,
// consensus) over a shared peer table and local-state holder.
type Node struct {
	cfg       Config
	log       *zap.Logger
	transport Transport
	peers     *PeerTable
	engine    *consensus.Engine

	seq atomic.Uint64

	mu    sync.RWMutex // guards local, running
	local swarm.NodeState
	state lifecycle

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type lifecycle int

const (
	lifecycleNew lifecycle = iota
	lifecycleRunning
	lifecycleStopped
)

// New builds a node. The local signal starts at 0.5/GREEN until the
// analytics provider pushes a real reading.
func New(cfg Config) (*Node, error) {
	if cfg.Transport == nil {
		return nil, errors.New("gossip: transport is required")
	}
	cfg.applyDefaults()
	return &Node{
		cfg:       cfg,
		log:       cfg.Logger.Named("gossip"),
		transport: cfg.Transport,
		peers:     NewPeerTable(cfg.MaxPeers),
		engine:    consensus.New(cfg.Consensus),
		local: swarm.NodeState{
			ID:       cfg.NodeID,
			Syntropy: 0.5,
			Safety:   swarm.SafetyGreen,
		},
	}, nil
}

// ID returns the node's wire identifier.
func (n *Node) ID() string { return n.cfg.NodeID }

// Start launches the broadcast, receive, prune and consensus workers.
// Calling Start on a running or stopped node is a no-op.
func (n *Node) Start() {
	n.mu.Lock()
	if n.state != lifecycleNew {
		n.mu.Unlock()
		return
	}
	n.state = lifecycleRunning
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.mu.Unlock()

	n.wg.Add(4)
	go n.broadcastLoop(ctx)
	go n.receiveLoop(ctx)
	go n.pruneLoop(ctx)
	go n.consensusLoop(ctx)

	n.log.Info("node online", zap.String("id", n.cfg.NodeID))
}

// Stop signals all workers, waits for them up to StopTimeout, and closes
// the transport. It is idempotent and must not return with a worker
// still running.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.state != lifecycleRunning {
		n.mu.Unlock()
		return nil
	}
	n.state = lifecycleStopped
	n.mu.Unlock()

	n.cancel()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(n.cfg.StopTimeout):
		err = errors.New("gossip: workers did not exit before deadline")
	}
	err = multierr.Append(err, n.transport.Close())

	n.log.Info("node offline", zap.String("id", n.cfg.NodeID))
	return err
}

// UpdateLocalSignal feeds the node's health reading from the external
// analytics provider. The value is clamped to [0,1].
func (n *Node) UpdateLocalSignal(value float64, safety swarm.Safety) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.local.Syntropy = swarm.Clamp01(value)
	n.local.Safety = safety
}

// Snapshot returns the current consensus state plus the local view.
func (n *Node) Snapshot() Status {
	local := n.localState()
	snap := n.engine.Snapshot()
	return Status{
		NodeID:           n.cfg.NodeID,
		LastUpdate:       snap.LastUpdate,
		ConsensusWeight:  snap.ConsensusWeight,
		GlobalSyntropy:   snap.GlobalSyntropy,
		WeightedSyntropy: n.engine.WeightedSyntropy(local.Syntropy),
		HistoryLen:       snap.HistoryLen,
		Mode:             snap.Mode,
		LocalPeers:       n.peers.Len(),
		LocalSyntropy:    local.Syntropy,
		LocalSafety:      local.Safety,
	}
}

// WeightedSyntropy blends the local reading with the global estimate by
// the current consensus weight.
func (n *Node) WeightedSyntropy() float64 {
	return n.engine.WeightedSyntropy(n.localState().Syntropy)
}

// Peers returns a point-in-time copy of the peer table.
func (n *Node) Peers() map[string]swarm.PeerState {
	return n.peers.Snapshot()
}

func (n *Node) localState() swarm.NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.local
}

func (n *Node) broadcastLoop(ctx context.Context) {
	defer n.wg.Done()
	log := n.log.Named("broadcast")

	t := time.NewTicker(n.cfg.BroadcastInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			state := n.localState()
			state.Seq = n.seq.Add(1)
			state.SentAt = time.Now()

			payload, err := swarm.EncodeState(state)
			if err != nil {
				log.Error("encode state", zap.Error(err))
				continue
			}
			// Best effort: failures are retried on the next tick.
			if err := n.transport.Send(payload); err != nil {
				log.Warn("broadcast failed", zap.Error(err))
				continue
			}
			telemetry.DatagramsSent.Inc()
		}
	}
}

func (n *Node) receiveLoop(ctx context.Context) {
	defer n.wg.Done()
	log := n.log.Named("recv")

	buf := make([]byte, 64<<10)
	for {
		if ctx.Err() != nil {
			return
		}
		nr, err := n.transport.Recv(buf)
		if err != nil {
			switch {
			case errors.Is(err, ErrTimeout):
				// idle poll, loop to observe shutdown
			case errors.Is(err, net.ErrClosed) || ctx.Err() != nil:
				return
			default:
				log.Warn("receive failed", zap.Error(err))
			}
			continue
		}
		n.ingest(buf[:nr], time.Now(), log)
	}
}

// ingest applies the protocol filters to one inbound payload and upserts
// the peer table. Filtered datagrams are counted, never fatal.
func (n *Node) ingest(payload []byte, now time.Time, log *zap.Logger) {
	state, err := swarm.DecodeState(payload)
	if err != nil {
		telemetry.DatagramsDropped.WithLabelValues(telemetry.DropMalformed).Inc()
		log.Debug("dropped malformed datagram", zap.Error(err))
		return
	}
	telemetry.DatagramsReceived.Inc()

	// Freshness fence: replayed or heavily delayed packets never reach
	// the table.
	if now.Sub(state.SentAt) > n.cfg.FreshnessWindow {
		telemetry.DatagramsDropped.WithLabelValues(telemetry.DropStale).Inc()
		return
	}
	// Own broadcast loopback.
	if state.ID == n.cfg.NodeID {
		telemetry.DatagramsDropped.WithLabelValues(telemetry.DropSelf).Inc()
		return
	}

	res := n.peers.Upsert(state.ID, swarm.PeerState{
		Syntropy: state.Syntropy,
		Safety:   state.Safety,
		Seq:      state.Seq,
		LastSeen: now,
		SentAt:   state.SentAt,
	})
	switch res {
	case UpsertApplied:
		telemetry.LivePeers.Set(float64(n.peers.Len()))
	case UpsertOutOfOrder:
		telemetry.DatagramsDropped.WithLabelValues(telemetry.DropOutOfOrder).Inc()
	case UpsertTableFull:
		telemetry.DatagramsDropped.WithLabelValues(telemetry.DropTableFull).Inc()
		log.Warn("peer table full, dropping new peer", zap.String("peer", state.ID))
	}
}

func (n *Node) pruneLoop(ctx context.Context) {
	defer n.wg.Done()
	log := n.log.Named("prune")

	t := time.NewTicker(n.cfg.PruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			dead := n.peers.Prune(time.Now(), n.cfg.PeerTimeout)
			for _, id := range dead {
				log.Debug("peer timed out", zap.String("peer", id))
			}
			if len(dead) > 0 {
				telemetry.PeersPruned.Add(float64(len(dead)))
			}
			telemetry.LivePeers.Set(float64(n.peers.Len()))
		}
	}
}

func (n *Node) consensusLoop(ctx context.Context) {
	defer n.wg.Done()
	log := n.log.Named("consensus")

	t := time.NewTicker(n.cfg.ConsensusInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.runConsensusCycle(log)
		}
	}
}

// runConsensusCycle executes one aggregation pass. A panicking cycle is
// logged and skipped; the previous snapshot stays in place.
func (n *Node) runConsensusCycle(log *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("consensus cycle panicked, keeping previous snapshot", zap.Any("panic", r))
		}
	}()

	start := time.Now()
	snap := n.engine.Update(n.localState(), n.peers.Snapshot(), start)
	telemetry.ConsensusCycleSeconds.Observe(time.Since(start).Seconds())

	telemetry.GlobalSyntropy.Set(snap.GlobalSyntropy)
	telemetry.ConsensusWeight.Set(snap.ConsensusWeight)
	if snap.Mode == consensus.ModeDegraded {
		telemetry.DegradedMode.Set(1)
	} else {
		telemetry.DegradedMode.Set(0)
	}
}
