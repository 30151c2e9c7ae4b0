// swarmsim runs an in-process swarm over the channel transport and
// prints each node's consensus snapshot once a second. Useful for
// watching convergence without touching real sockets.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/driftlabs/syntroswarm/pkg/consensus"
	"github.com/driftlabs/syntroswarm/pkg/gossip"
	"github.com/driftlabs/syntroswarm/pkg/swarm"
)

func main() {
	count := flag.Int("nodes", 3, "swarm size")
	duration := flag.Duration("duration", 30*time.Second, "how long to run")
	jitter := flag.Float64("jitter", 0.1, "signal jitter amplitude")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	hub := gossip.NewHub()
	nodes := make([]*gossip.Node, 0, *count)
	for i := 0; i < *count; i++ {
		id := fmt.Sprintf("sim-%d", i)
		n, err := gossip.New(gossip.Config{
			NodeID:    id,
			Transport: hub.Transport(),
			Logger:    logger,
			Consensus: consensus.Config{MinQuorum: 2},
		})
		if err != nil {
			logger.Fatal("init node", zap.String("id", id), zap.Error(err))
		}
		n.Start()
		nodes = append(nodes, n)
	}

	// Per-node jittered analytics feed, bases spread across [0.3, 0.9].
	stop := make(chan struct{})
	amp := *jitter
	for i, n := range nodes {
		base := 0.3 + 0.6*float64(i)/float64(max(1, *count-1))
		go func(n *gossip.Node, base float64) {
			t := time.NewTicker(time.Second)
			defer t.Stop()
			for {
				select {
				case <-stop:
					return
				case <-t.C:
					n.UpdateLocalSignal(base+(rand.Float64()*2-1)*amp, swarm.SafetyGreen)
				}
			}
		}(n, base)
	}

	report := time.NewTicker(time.Second)
	defer report.Stop()
	deadline := time.After(*duration)

loop:
	for {
		select {
		case <-deadline:
			break loop
		case <-report.C:
			for _, n := range nodes {
				s := n.Snapshot()
				fmt.Printf("%-8s local=%.3f global=%.3f weighted=%.3f weight=%.2f peers=%d mode=%s\n",
					s.NodeID, s.LocalSyntropy, s.GlobalSyntropy, s.WeightedSyntropy,
					s.ConsensusWeight, s.LocalPeers, s.Mode)
			}
			fmt.Println()
		}
	}

	close(stop)
	for _, n := range nodes {
		if err := n.Stop(); err != nil {
			logger.Warn("stop node", zap.String("id", n.ID()), zap.Error(err))
		}
	}
}
