package cluster

import (
	"go.uber.org/zap"

	"replikv/internal/kvstore"
	"replikv/internal/metrics"
)

// Replicator fans a PRIMARY's writes out to every known peer. It is
// invoked synchronously from the command handler right after a successful
// local mutation, but the outbound RPCs themselves always run in the
// background — Dispatch returns before any peer has been contacted, so a
// slow or unreachable SECONDARY can never add latency to the client's
// response (spec §4.4).
type Replicator struct {
	manager    *Manager
	peerClient PeerSender
	logger     *zap.SugaredLogger
}

// NewReplicator creates a Replicator bound to manager's peer table.
func NewReplicator(manager *Manager, peerClient PeerSender, logger *zap.SugaredLogger) *Replicator {
	return &Replicator{manager: manager, peerClient: peerClient, logger: logger}
}

// Dispatch fans entry out to every peer this node currently knows about.
// Every peer is contacted — the peer table has no reliable way to learn a
// peer's role ahead of replicating (a peer only reports its own role via
// STATUS, which this node does not poll on the write path), so in the
// normal case of one PRIMARY and N-1 SECONDARIES this is equivalent to
// "every known SECONDARY" per spec wording. A peer that is actually
// PRIMARY (stale view, split-brain window) simply rejects the REPLICATE
// per its own admission rule and the failure is swallowed here like any
// other PeerUnreachable outcome.
func (r *Replicator) Dispatch(entry kvstore.LogEntry) {
	peers := r.manager.PeersSnapshot()
	if len(peers) == 0 {
		return
	}

	msg := map[string]any{
		"type":      "REPLICATE",
		"operation": string(entry.Operation),
		"key":       entry.Key,
		"value":     entry.Value,
	}

	go func() {
		for _, p := range peers {
			go func(p NodeInfo) {
				resp, err := r.peerClient.Send(p.Address(), msg)
				if err != nil {
					metrics.ReplicationTotal.WithLabelValues("failure").Inc()
					r.logger.Debugw("replicate failed", "peer", p.NodeID, "key", entry.Key, "err", err)
					return
				}
				if resp["status"] != "OK" {
					metrics.ReplicationTotal.WithLabelValues("rejected").Inc()
					return
				}
				metrics.ReplicationTotal.WithLabelValues("success").Inc()
			}(p)
		}
	}()
}
