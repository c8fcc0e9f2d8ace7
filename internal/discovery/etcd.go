// Package discovery treats etcd strictly as a bootstrap seed list: it
// hands swimnode a set of addresses to seed on startup and on change,
// but the swim Instance, not etcd, is the authoritative membership
// view from that point on.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// NewClient dials etcd with a fixed connect timeout.
func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// RegisterNode publishes id -> addr under namespace with a
// self-renewing lease, returning the lease ID and a cancel func that
// stops the keep-alive goroutine.
func RegisterNode(ctx context.Context, cli *clientv3.Client, namespace, id, addr string, ttlSeconds int64) (clientv3.LeaseID, func(), error) {
	lease, err := cli.Grant(ctx, ttlSeconds)
	if err != nil {
		return 0, nil, fmt.Errorf("discovery: grant lease: %w", err)
	}

	key := fmt.Sprintf("%s/%s", strings.TrimSuffix(namespace, "/"), id)
	if _, err := cli.Put(ctx, key, addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("discovery: register %s: %w", key, err)
	}

	keepAliveCtx, cancel := context.WithCancel(ctx)
	ch, err := cli.KeepAlive(keepAliveCtx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("discovery: keepalive: %w", err)
	}
	go func() {
		for range ch {
			// drain; etcd's client renews the lease as long as this
			// channel is read.
		}
	}()

	return lease.ID, cancel, nil
}

// GetPeers returns every id -> addr currently registered under
// namespace, for the one-time bootstrap read on startup.
func GetPeers(ctx context.Context, cli *clientv3.Client, namespace string) (map[string]string, error) {
	prefix := strings.TrimSuffix(namespace, "/") + "/"
	resp, err := cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("discovery: get peers: %w", err)
	}
	peers := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), prefix)
		peers[id] = string(kv.Value)
	}
	return peers, nil
}

// WatchPeers streams the live peer set under namespace to onUpdate,
// recomputing the full map on every event rather than trying to
// reconstruct incremental adds/deletes — the set is small and this
// keeps the callback contract simple.
func WatchPeers(ctx context.Context, cli *clientv3.Client, namespace string, onUpdate func(map[string]string)) {
	prefix := strings.TrimSuffix(namespace, "/") + "/"
	watch := cli.Watch(ctx, prefix, clientv3.WithPrefix())
	go func() {
		for resp := range watch {
			if resp.Err() != nil {
				continue
			}
			peers, err := GetPeers(ctx, cli, namespace)
			if err != nil {
				continue
			}
			onUpdate(peers)
		}
	}()
}
