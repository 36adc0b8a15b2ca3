// Package clusterhandler is the Command Handler from the spec (§4.3): it
// classifies each decoded line as a client command or a peer message,
// enforces PRIMARY-only admission on client mutations and reads, applies
// the local store operation, triggers replication, and renders the JSON
// response envelope.
//
// Grounded on the teacher's internal/api layer (ppriyankuu-godkv), which
// plays the same role of translating transport input into store calls,
// generalized from gin JSON handlers to the line-protocol Handle method
// internal/session.Listener expects.
package clusterhandler

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"replikv/internal/cluster"
	"replikv/internal/kvstore"
	"replikv/internal/metrics"
	"replikv/internal/wire"
)

// Handler implements session.Handler against a node's store and cluster
// state.
type Handler struct {
	store      *kvstore.Store
	manager    *cluster.Manager
	replicator *cluster.Replicator
	logger     *zap.SugaredLogger

	onShutdown   func()
	shutdownOnce sync.Once
}

// New creates a Handler. onShutdown is invoked once, after the SHUTDOWN
// response is rendered, to let the caller stop the listener and exit.
func New(store *kvstore.Store, manager *cluster.Manager, replicator *cluster.Replicator, logger *zap.SugaredLogger, onShutdown func()) *Handler {
	return &Handler{store: store, manager: manager, replicator: replicator, logger: logger, onShutdown: onShutdown}
}

// Handle decodes one request line and returns the response line to write
// back. It never panics on malformed input — parse failures become an
// ERROR response per spec §4.2/§7, and the caller's session continues.
func (h *Handler) Handle(line string) (response string, shutdown bool) {
	if wire.IsPeerMessage(line) {
		return h.handlePeerMessage(line)
	}
	return h.handleClientCommand(line)
}

func (h *Handler) handleClientCommand(line string) (string, bool) {
	cmd, err := wire.ParseClientCommand(line)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues("unknown", "error").Inc()
		return h.render(wire.Err(err.Error()))
	}

	switch cmd.Verb {
	case "SET":
		return h.handleSet(cmd)
	case "GET":
		return h.handleGet(cmd)
	case "DELETE":
		return h.handleDelete(cmd)
	case "PING":
		metrics.CommandsTotal.WithLabelValues("PING", "ok").Inc()
		return h.render(wire.OKMessage("PONG"))
	case "STATUS":
		return h.handleStatus()
	case "SHUTDOWN":
		metrics.CommandsTotal.WithLabelValues("SHUTDOWN", "ok").Inc()
		resp, _ := h.render(wire.OKMessage("Server shutting down"))
		if h.onShutdown != nil {
			h.shutdownOnce.Do(h.onShutdown)
		}
		return resp, true
	case "FLUSH", "SNAPSHOT":
		metrics.CommandsTotal.WithLabelValues(cmd.Verb, "ok").Inc()
		return h.render(wire.OKMessage("No persistence enabled"))
	default:
		metrics.CommandsTotal.WithLabelValues("unknown", "error").Inc()
		return h.render(wire.Err("unknown command"))
	}
}

func (h *Handler) handleSet(cmd wire.ClientCommand) (string, bool) {
	if h.manager.Role() != cluster.RolePrimary {
		metrics.CommandsTotal.WithLabelValues("SET", "not_primary").Inc()
		return h.render(wire.Err("This node is not primary. Writes are not accepted."))
	}

	value := wire.DecodeValue(cmd.RawValue)
	entry := h.store.Set(cmd.Key, value)
	metrics.CommandsTotal.WithLabelValues("SET", "ok").Inc()
	metrics.StoreKeys.Set(float64(h.store.Len()))

	h.replicator.Dispatch(entry)

	return h.render(wire.OKMessage("Key '" + cmd.Key + "' set"))
}

func (h *Handler) handleGet(cmd wire.ClientCommand) (string, bool) {
	if h.manager.Role() != cluster.RolePrimary {
		metrics.CommandsTotal.WithLabelValues("GET", "not_primary").Inc()
		return h.render(wire.Err("This node is not primary. Reads are not accepted."))
	}

	value, ok := h.store.Get(cmd.Key)
	if !ok {
		metrics.CommandsTotal.WithLabelValues("GET", "not_found").Inc()
		return h.render(wire.Err("Key '" + cmd.Key + "' not found"))
	}

	metrics.CommandsTotal.WithLabelValues("GET", "ok").Inc()
	resp := wire.OK()
	resp["value"] = value
	return h.render(resp)
}

func (h *Handler) handleDelete(cmd wire.ClientCommand) (string, bool) {
	if h.manager.Role() != cluster.RolePrimary {
		metrics.CommandsTotal.WithLabelValues("DELETE", "not_primary").Inc()
		return h.render(wire.Err("This node is not primary. Writes are not accepted."))
	}

	deleted, entry := h.store.Delete(cmd.Key)
	if !deleted {
		metrics.CommandsTotal.WithLabelValues("DELETE", "not_found").Inc()
		return h.render(wire.Err("Key '" + cmd.Key + "' not found"))
	}

	metrics.CommandsTotal.WithLabelValues("DELETE", "ok").Inc()
	metrics.StoreKeys.Set(float64(h.store.Len()))
	h.replicator.Dispatch(entry)
	return h.render(wire.OK())
}

func (h *Handler) handleStatus() (string, bool) {
	role, term := h.manager.Status()
	metrics.CommandsTotal.WithLabelValues("STATUS", "ok").Inc()
	resp := wire.OK()
	resp["node_id"] = h.manager.SelfID()
	resp["role"] = string(role)
	resp["election_term"] = term
	return h.render(resp)
}

func (h *Handler) handlePeerMessage(line string) (string, bool) {
	msg, err := wire.ParsePeerMessage(line)
	if err != nil {
		return h.render(wire.Err(err.Error()))
	}

	switch msg.Type {
	case "REGISTER_NODE":
		return h.handleRegisterNode(msg)
	case "REPLICATE":
		return h.handleReplicate(msg)
	case "HEARTBEAT":
		return h.handleHeartbeat(msg)
	case "ELECTION":
		return h.handleElection(msg)
	case "SYNC":
		return h.handleSync(msg)
	default:
		return h.render(wire.Err("unknown peer message type"))
	}
}

func (h *Handler) handleRegisterNode(msg wire.PeerMessage) (string, bool) {
	nodeID, _ := msg.Fields["node_id"].(string)
	host, _ := msg.Fields["host"].(string)
	port, _ := msg.Fields["port"].(float64)
	role, _ := msg.Fields["role"].(string)
	if nodeID == "" || host == "" {
		return h.render(wire.Err("REGISTER_NODE requires node_id and host"))
	}

	h.manager.RegisterNode(cluster.NodeInfo{
		NodeID: nodeID,
		Host:   host,
		Port:   int(port),
		Role:   cluster.Role(role),
	})
	return h.render(wire.OK())
}

// handleReplicate applies an inbound REPLICATE only when this node
// currently believes itself SECONDARY (spec §4.3). A PRIMARY receiving
// REPLICATE means a stale or split-brain sender; reject rather than
// mutate.
func (h *Handler) handleReplicate(msg wire.PeerMessage) (string, bool) {
	if h.manager.Role() != cluster.RoleSecondary {
		metrics.CommandsTotal.WithLabelValues("REPLICATE", "rejected").Inc()
		return h.render(wire.Err("not a replication target"))
	}

	operation, _ := msg.Fields["operation"].(string)
	key, _ := msg.Fields["key"].(string)
	value := msg.Fields["value"]

	entry := kvstore.LogEntry{
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Operation: kvstore.Op(operation),
		Key:       key,
		Value:     value,
	}
	h.store.ApplyReplication(entry)
	metrics.CommandsTotal.WithLabelValues("REPLICATE", "ok").Inc()
	metrics.StoreKeys.Set(float64(h.store.Len()))
	return h.render(wire.OK())
}

func (h *Handler) handleHeartbeat(msg wire.PeerMessage) (string, bool) {
	fromNode, _ := msg.Fields["from_node"].(string)
	termF, _ := msg.Fields["term"].(float64)
	h.manager.HandleHeartbeat(fromNode, int64(termF))
	return h.render(wire.OK())
}

func (h *Handler) handleElection(msg wire.PeerMessage) (string, bool) {
	candidateID, _ := msg.Fields["candidate_id"].(string)
	termF, _ := msg.Fields["term"].(float64)

	granted, message, term := h.manager.HandleElection(candidateID, int64(termF))
	resp := wire.Response{"term": term}
	if granted {
		resp["status"] = "OK"
		resp["message"] = message
	} else {
		resp["status"] = "ERROR"
		resp["message"] = message
	}
	return h.render(resp)
}

// handleSync answers a SECONDARY's catch-up request with every log entry
// strictly newer than since_timestamp, in append order.
func (h *Handler) handleSync(msg wire.PeerMessage) (string, bool) {
	sinceF, _ := msg.Fields["since_timestamp"].(float64)
	entries := h.store.Since(sinceF)

	resp := wire.OK()
	resp["entries"] = entries
	return h.render(resp)
}

func (h *Handler) render(resp wire.Response) (string, bool) {
	encoded, err := resp.Encode()
	if err != nil {
		h.logger.Errorw("failed to encode response", "err", err)
		return `{"status":"ERROR","message":"internal encoding error"}`, false
	}
	return encoded, false
}
