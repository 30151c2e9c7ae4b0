// Package registry publishes node presence to etcd so operators can
// enumerate a swarm without joining the multicast group. Gossip itself
// never depends on it: a node with no registry configured behaves
// identically on the wire.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const prefix = "/syntroswarm/nodes/"

// NewClient dials the etcd cluster.
func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// RegisterNode advertises id -> addr under a TTL lease and keeps the
// lease alive until the returned cancel func is called. After cancel the
// entry expires within the TTL.
func RegisterNode(cli *clientv3.Client, id, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(context.Background(), ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}
	key := prefix + id
	if _, err := cli.Put(context.Background(), key, addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("register %s: %w", key, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keepalive: %w", err)
	}
	go func() {
		// Drain keepalive responses until cancel; the channel closes when
		// the context ends or the lease is lost.
		for range ch {
		}
	}()

	return lease.ID, cancel, nil
}

// GetPeers returns the currently registered id -> addr map.
func GetPeers(ctx context.Context, cli *clientv3.Client) (map[string]string, error) {
	resp, err := cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	peers := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		peers[strings.TrimPrefix(string(kv.Key), prefix)] = string(kv.Value)
	}
	return peers, nil
}

// WatchPeers invokes cb with the full id -> addr map after every change
// under the registry prefix, until ctx ends.
func WatchPeers(ctx context.Context, cli *clientv3.Client, cb func(peers map[string]string)) {
	go func() {
		wch := cli.Watch(ctx, prefix, clientv3.WithPrefix())
		for range wch {
			peers, err := GetPeers(ctx, cli)
			if err != nil {
				continue
			}
			cb(peers)
		}
	}()
}
