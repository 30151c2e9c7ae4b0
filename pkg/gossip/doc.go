// Package gossip implements the peer-to-peer syntropy consensus node.
// Nodes share a local health signal over periodic unreliable multicast,
// track peer liveness in a bounded table, and continuously re-compute an
// outlier-resistant global estimate via the consensus engine. There is
// no coordinator and no delivery guarantee; absence of a peer is inferred
// only by elapsed time.
//
// Typical usage:
//
//	t, _ := gossip.NewUDPTransport(gossip.UDPConfig{Group: "224.1.1.1:5007"})
//	n, _ := gossip.New(gossip.Config{NodeID: "node1", Transport: t})
//	n.Start()
//	defer n.Stop()
//	n.UpdateLocalSignal(0.8, swarm.SafetyGreen)
//
// Transports are pluggable: UDP multicast for deployments, an in-process
// channel hub for tests and simulation.
package gossip
