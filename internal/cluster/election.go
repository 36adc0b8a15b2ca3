package cluster

import (
	"sync"
	"time"

	"replikv/internal/metrics"
)

// heartbeatLoop is the PRIMARY's heartbeat emitter: every heartbeatEvery it
// checks its own role and, only while PRIMARY, sends HEARTBEAT to every
// known peer, non-blocking and best-effort (spec rule 1). It runs for the
// node's entire lifetime; on a SECONDARY tick it is simply a no-op.
func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.emitHeartbeats()
		}
	}
}

func (m *Manager) emitHeartbeats() {
	m.mu.Lock()
	if m.role != RolePrimary {
		m.mu.Unlock()
		return
	}
	self := m.selfID
	term := m.currentTerm
	peers := make([]NodeInfo, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, *p)
	}
	m.mu.Unlock()

	msg := map[string]any{"type": "HEARTBEAT", "from_node": self, "term": term}
	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p NodeInfo) {
			defer wg.Done()
			if _, err := m.peerClient.Send(p.Address(), msg); err != nil {
				m.logger.Debugw("heartbeat to peer failed", "peer", p.NodeID, "err", err)
			}
		}(p)
	}
	wg.Wait()
}

// electionLoop is the SECONDARY's election-timeout monitor: it polls at
// monitorInterval and, whenever this node is a SECONDARY whose election
// deadline has passed, starts an election (spec rule 3). The poll interval
// only bounds how quickly a timeout is noticed, not the timeout itself.
func (m *Manager) electionLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.maybeStartElection()
		}
	}
}

func (m *Manager) maybeStartElection() {
	m.mu.Lock()
	if m.role != RoleSecondary || time.Now().Before(m.deadline) {
		m.mu.Unlock()
		return
	}

	m.currentTerm++
	m.votedFor = m.selfID
	term := m.currentTerm
	quorum := m.quorumLocked()
	peers := make([]NodeInfo, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, *p)
	}
	m.resetElectionDeadlineLocked()
	m.reportMetricsLocked()
	m.mu.Unlock()

	metrics.ElectionsStarted.Inc()
	m.logger.Infow("starting election", "term", term, "quorum", quorum, "peers", len(peers))

	votes := 1 // self
	if len(peers) > 0 {
		results := make(chan bool, len(peers))
		msg := map[string]any{"type": "ELECTION", "candidate_id": m.selfID, "term": term}

		for _, p := range peers {
			go func(p NodeInfo) {
				resp, err := m.peerClient.Send(p.Address(), msg)
				if err != nil {
					results <- false
					return
				}
				results <- resp["status"] == "OK"
			}(p)
		}
		for i := 0; i < len(peers); i++ {
			if <-results {
				votes++
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// The term may have moved on while votes were being collected (e.g. we
	// heard from a higher-term peer via ELECTION/HEARTBEAT); only act on
	// the outcome of the election we actually started.
	if m.currentTerm != term || m.role != RoleSecondary {
		return
	}

	if votes >= quorum {
		m.logger.Infow("election won", "term", term, "votes", votes, "quorum", quorum)
		m.role = RolePrimary
		metrics.ElectionsWon.Inc()
		m.reportMetricsLocked()
		return
	}

	m.logger.Infow("election lost, remaining secondary", "term", term, "votes", votes, "quorum", quorum)
	m.resetElectionDeadlineLocked()
}
