package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/swimhealth/internal/config"
	"github.com/ryandielhenn/swimhealth/internal/discovery"
	"github.com/ryandielhenn/swimhealth/internal/swim"
	"github.com/ryandielhenn/swimhealth/internal/swimnet"
	"github.com/ryandielhenn/swimhealth/internal/telemetry"
	"github.com/ryandielhenn/swimhealth/pkg/kv"
	"github.com/ryandielhenn/swimhealth/pkg/node"
	"github.com/ryandielhenn/swimhealth/pkg/ring"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		panic(err)
	}

	log, err := telemetry.NewLogger(false)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log = log.With(zap.String("self_id", cfg.SelfID))

	// 1. Initialize this node with its routing ring and key/value store.
	store := kv.NewStore(64 << 20) // 64MB default cap for MVP
	r := ring.New(128, ring.FNV32a)
	n := node.NewNodeRF(store, r, cfg.SelfAddr, cfg.ReplicationFactor)

	// 2. etcd is bootstrap-seed-only: it hands us an initial peer list
	// and live updates to that list, but membership liveness is decided
	// entirely by the swim Instance below.
	log.Info("connecting to etcd", zap.Strings("endpoints", cfg.EtcdEndpoints))
	cli, err := discovery.NewClient(cfg.EtcdEndpoints)
	if err != nil {
		log.Fatal("etcd client", zap.Error(err))
	}
	defer cli.Close()

	self := swim.Node{Addr: cfg.SelfAddr, UID: swim.NewUID()}
	inst := swim.NewInstance(self, cfg.Swim, swim.SystemClock{}, rand.New(rand.NewSource(time.Now().UnixNano())))

	observer := swimnet.NewRingObserver(n, log)
	shell, err := swimnet.NewShell(inst, self, cfg.Swim, cfg.SelfAddr, observer, log)
	if err != nil {
		log.Fatal("swimnet shell", zap.Error(err))
	}
	defer shell.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bootCtx, bootCancel := context.WithTimeout(ctx, 5*time.Second)
	peers, err := discovery.GetPeers(bootCtx, cli, cfg.EtcdNamespace)
	bootCancel()
	if err != nil {
		log.Warn("bootstrap peer list", zap.Error(err))
	}
	for id, addr := range peers {
		if id == cfg.SelfID {
			continue
		}
		log.Info("bootstrap peer", zap.String("id", id), zap.String("addr", addr))
		hp := node.NormalizeHostPort(addr, "8080")
		n.AddPeer(id, hp)
		inst.SeedMember(swim.Node{Addr: hp})
	}

	// 3. Register this node under its lease and keep the peer list live.
	_, leaseCancel, err := discovery.RegisterNode(ctx, cli, cfg.EtcdNamespace, cfg.SelfID, cfg.SelfAddr, int64(cfg.EtcdLeaseTTL.Seconds()))
	if err != nil {
		log.Fatal("register with etcd", zap.Error(err))
	}
	defer leaseCancel()

	discovery.WatchPeers(ctx, cli, cfg.EtcdNamespace, func(peers map[string]string) {
		for id, addr := range peers {
			if id == cfg.SelfID {
				continue
			}
			n.AddPeer(id, node.NormalizeHostPort(addr, "8080"))
		}
	})

	// 4. Run the SWIM protocol loop in the background.
	go shell.Run()

	// 4b. Periodic consistency backstop: rebuild the ring wholesale from
	// a full Instance.Members() snapshot, independent of whatever
	// individual MembershipChanged directives RingObserver has already
	// applied. Catches anything a dropped directive or a restart of
	// RingObserver's bookkeeping would otherwise leave stale.
	go pollMembership(ctx, inst, n, cfg.Swim.ProbeInterval*10)

	// 5. Wire up HTTP endpoints (KV surface + health + metrics).
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", n.Healthz)
	mux.HandleFunc("/info", n.Info)
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.HandleFunc("/kv/", func(w http.ResponseWriter, req *http.Request) {
		op := methodToOp(req.Method)
		telemetry.Instrument(op, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPut, http.MethodPost:
				n.Put(w, r)
			case http.MethodGet:
				n.Get(w, r)
			case http.MethodDelete:
				n.Del(w, r)
			default:
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			}
		})).ServeHTTP(w, req)
	})

	addr := ":8080"
	fmt.Println("swimhealth node listening on", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal("http server", zap.Error(err))
	}
}

func pollMembership(ctx context.Context, inst *swim.Instance, n *node.Node, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := make(map[string]node.MemberView)
			for _, m := range inst.Members() {
				switch m.Status.(type) {
				case swim.Alive, swim.Suspect:
					snapshot[m.Peer.String()] = node.MemberView{Addr: m.Peer.Addr, Reachable: true}
				default:
					snapshot[m.Peer.String()] = node.MemberView{Addr: m.Peer.Addr, Reachable: false}
				}
			}
			n.ApplyMembership(snapshot)
		}
	}
}

func methodToOp(m string) string {
	switch m {
	case http.MethodGet:
		return "get"
	case http.MethodPut:
		return "put"
	case http.MethodPost:
		return "post"
	case http.MethodDelete:
		return "delete"
	default:
		return "other"
	}
}
