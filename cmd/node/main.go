// cmd/node is the entrypoint for a single cluster node. It wires the KV
// store, the cluster manager, the replicator, the command handler, the
// shared TCP listener, and the admin HTTP side-channel, then blocks until
// SHUTDOWN or a signal.
//
// Example — canonical 3-node cluster (spec §6):
//
//	./node serve --node-id node1 --port 6379 --primary \
//	  --peers node2=127.0.0.1:6380,node3=127.0.0.1:6381
//	./node serve --node-id node2 --port 6380 \
//	  --peers node1=127.0.0.1:6379,node3=127.0.0.1:6381
//	./node serve --node-id node3 --port 6381 \
//	  --peers node1=127.0.0.1:6379,node2=127.0.0.1:6380
//
// Flag parsing moves from the teacher's stdlib flag (cmd/server) to
// cobra, matching the teacher's own cmd/client preference for cobra-driven
// CLIs rather than mixing flag styles across the two binaries in a repo.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"replikv/internal/admin"
	"replikv/internal/cluster"
	"replikv/internal/clusterhandler"
	"replikv/internal/kvstore"
	"replikv/internal/logging"
	"replikv/internal/peerclient"
	"replikv/internal/session"
)

var (
	nodeID      string
	port        int
	primary     bool
	peersFlag   string
	logLevel    string
	logFormat   string
	metricsAddr string
)

// canonicalPeers is the three-node cluster from spec §6, used whenever
// --peers is left empty.
const canonicalPeers = "node1=127.0.0.1:6379,node2=127.0.0.1:6380,node3=127.0.0.1:6381"

func main() {
	root := &cobra.Command{Use: "node", Short: "A node in a replicated in-memory KV cluster"}
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run this node and join the cluster",
		RunE:  runServe,
	}

	cmd.Flags().StringVar(&nodeID, "node-id", "", "unique node identifier (required)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port; host is always 127.0.0.1 (required)")
	cmd.Flags().BoolVar(&primary, "primary", false, "bootstrap as PRIMARY (term-based election may demote this later)")
	cmd.Flags().StringVar(&peersFlag, "peers", "", "comma-separated id=host:port peer list; defaults to the canonical 3-node cluster")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	cmd.Flags().StringVar(&logFormat, "log-format", "console", "console|json")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9100", "admin/metrics HTTP listen address")

	cmd.MarkFlagRequired("node-id")
	cmd.MarkFlagRequired("port")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logging.New(logLevel, logFormat)
	defer log.Sync()

	peers, err := parsePeers(peersFlag)
	if err != nil {
		return err
	}

	store := kvstore.New(0)

	bootstrapRole := cluster.RoleSecondary
	if primary {
		bootstrapRole = cluster.RolePrimary
	}

	client := peerclient.New(0)

	var manager *cluster.Manager
	manager = cluster.NewManager(cluster.Config{
		SelfID:        nodeID,
		Host:          "127.0.0.1",
		Port:          port,
		Peers:         peers,
		BootstrapRole: bootstrapRole,
		PeerClient:    client,
		Logger:        log,
		OnCatchUp: func(peerID string) {
			catchUp(store, manager, client, log, peerID)
		},
	})
	replicator := cluster.NewReplicator(manager, client, log)

	var listener *session.Listener
	shutdownRequested := make(chan struct{})
	handler := clusterhandler.New(store, manager, replicator, log, func() {
		log.Infow("shutdown requested", "node_id", nodeID)
		close(shutdownRequested)
		listener.Close()
	})

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	listener = session.New(addr, handler, log)

	manager.Start()
	defer manager.Shutdown()

	if err := listener.Start(); err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	adminErrCh := make(chan error, 1)
	adminSrv := admin.New(metricsAddr, store, manager, log)
	adminSrv.Start(adminErrCh)
	defer adminSrv.Shutdown()

	log.Infow("node started",
		"node_id", nodeID, "addr", addr, "role", bootstrapRole,
		"peers", len(peers), "metrics_addr", metricsAddr)

	select {
	case <-shutdownRequested:
		listener.Wait()
		return nil
	case err := <-adminErrCh:
		return fmt.Errorf("admin server: %w", err)
	case sig := <-signalChan():
		log.Infow("signal received, shutting down", "signal", sig.String())
		listener.Close()
		listener.Wait()
		return nil
	}
}

func parsePeers(raw string) ([]cluster.NodeInfo, error) {
	if strings.TrimSpace(raw) == "" {
		raw = canonicalPeers
	}

	var peers []cluster.NodeInfo
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idHost := strings.SplitN(entry, "=", 2)
		if len(idHost) != 2 {
			return nil, fmt.Errorf("invalid peer entry %q: expected id=host:port", entry)
		}
		hostPort := strings.SplitN(idHost[1], ":", 2)
		if len(hostPort) != 2 {
			return nil, fmt.Errorf("invalid peer address %q: expected host:port", idHost[1])
		}
		p, err := strconv.Atoi(hostPort[1])
		if err != nil {
			return nil, fmt.Errorf("invalid peer port %q: %w", hostPort[1], err)
		}
		if idHost[0] == nodeID {
			continue
		}
		peers = append(peers, cluster.NodeInfo{NodeID: idHost[0], Host: hostPort[0], Port: p, Role: cluster.RoleSecondary})
	}
	return peers, nil
}

// catchUp asks peerID for every replication log entry it has recorded
// and applies them locally via ApplyReplication. It is the SYNC trigger
// side of the catch-up feature: HandleHeartbeat fires OnCatchUp the first
// time a heartbeat arrives after a missed window, and this is what that
// callback does with it. since_timestamp is always 0 — this node has no
// way to know how much of the peer's log it already has, and replaying
// an already-applied SET/DELETE is idempotent.
func catchUp(store *kvstore.Store, manager *cluster.Manager, client *peerclient.Client, log *zap.SugaredLogger, peerID string) {
	var addr string
	for _, p := range manager.PeersSnapshot() {
		if p.NodeID == peerID {
			addr = p.Address()
			break
		}
	}
	if addr == "" {
		return
	}

	resp, err := client.Send(addr, map[string]any{
		"type":            "SYNC",
		"from_node":       manager.SelfID(),
		"since_timestamp": 0,
	})
	if err != nil {
		log.Debugw("catch-up SYNC failed", "peer", peerID, "err", err)
		return
	}

	rawEntries, ok := resp["entries"].([]any)
	if !ok {
		return
	}

	applied := 0
	for _, raw := range rawEntries {
		fields, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		key, _ := fields["key"].(string)
		operation, _ := fields["operation"].(string)
		store.ApplyReplication(kvstore.LogEntry{
			Operation: kvstore.Op(operation),
			Key:       key,
			Value:     fields["value"],
		})
		applied++
	}
	log.Infow("caught up after missed heartbeat window", "peer", peerID, "entries", applied)
}

func signalChan() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return ch
}
