// Package cluster owns everything the spec calls the Cluster Manager and
// the Replicator: role, current term, vote record, peer table, the
// heartbeat emitter, and the election-timeout monitor (manager.go), plus
// fanning writes out to SECONDARIES (replicator.go).
//
// All cluster state — role, term, vote, peer table, election deadline — is
// owned by one Manager value, guarded by one mutex. It is never held
// across network I/O: outbound peer calls are always dispatched against a
// snapshot taken under the lock and released before dialing out, mirroring
// the rule the teacher's Replicator/Membership split already followed for
// the store lock.
package cluster

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"replikv/internal/metrics"
)

// PeerSender is the outbound side of the peer protocol: dial a peer, send
// one JSON message, get one JSON response. *peerclient.Client satisfies
// this; tests substitute an in-memory fake so the election/heartbeat state
// machine can be exercised without real sockets.
type PeerSender interface {
	Send(addr string, msg map[string]any) (map[string]any, error)
}

// Timing constants from the spec (§4.5): a 2s heartbeat interval for the
// PRIMARY, and a randomized 5-8s election timeout redrawn every time it is
// reset.
const (
	DefaultHeartbeatInterval  = 2 * time.Second
	DefaultElectionTimeoutMin = 5 * time.Second
	DefaultElectionTimeoutMax = 8 * time.Second
	DefaultMonitorInterval    = 100 * time.Millisecond
	DefaultRPCTimeout         = 2 * time.Second
)

// Config seeds a Manager's identity, initial membership, and timing. Zero
// values for the timing fields select the spec's defaults.
type Config struct {
	SelfID          string
	Host            string
	Port            int
	Peers           []NodeInfo // the rest of the static cluster, excluding self
	BootstrapRole   Role       // RolePrimary if --primary was given, else RoleSecondary
	PeerClient      PeerSender
	Logger          *zap.SugaredLogger
	HeartbeatEvery  time.Duration
	ElectionMin     time.Duration
	ElectionMax     time.Duration
	MonitorInterval time.Duration

	// OnCatchUp, if set, is called (off the Manager's lock, in its own
	// goroutine) with a peer's node ID whenever a heartbeat from that peer
	// arrives after this node's election deadline had already passed.
	OnCatchUp func(peerID string)
}

// Manager implements the election and heartbeat state machine described in
// spec §4.5.
type Manager struct {
	mu sync.Mutex

	selfID string
	host   string
	port   int

	role        Role
	currentTerm int64
	votedFor    string // "" means no vote recorded for currentTerm
	deadline    time.Time

	peers map[string]*NodeInfo // nodeID -> peer, excludes self

	peerClient PeerSender
	logger     *zap.SugaredLogger
	rng        *rand.Rand
	onCatchUp  func(peerID string)

	heartbeatEvery  time.Duration
	electionMin     time.Duration
	electionMax     time.Duration
	monitorInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager constructs a Manager in the bootstrap role given by cfg. Per
// the spec's re-architecture note (§9), "--primary" is only ever a
// bootstrap hint: this node starts at term 0 and will defer to any higher
// term it later observes.
func NewManager(cfg Config) *Manager {
	peers := make(map[string]*NodeInfo, len(cfg.Peers))
	for _, p := range cfg.Peers {
		cp := p
		cp.Role = RoleSecondary // unknown in general, but harmless as a prior
		peers[cp.NodeID] = &cp
	}

	m := &Manager{
		selfID:          cfg.SelfID,
		host:            cfg.Host,
		port:            cfg.Port,
		role:            cfg.BootstrapRole,
		peers:           peers,
		peerClient:      cfg.PeerClient,
		logger:          cfg.Logger,
		onCatchUp:       cfg.OnCatchUp,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		heartbeatEvery:  orDefault(cfg.HeartbeatEvery, DefaultHeartbeatInterval),
		electionMin:     orDefault(cfg.ElectionMin, DefaultElectionTimeoutMin),
		electionMax:     orDefault(cfg.ElectionMax, DefaultElectionTimeoutMax),
		monitorInterval: orDefault(cfg.MonitorInterval, DefaultMonitorInterval),
		stopCh:          make(chan struct{}),
	}
	if m.role == "" {
		m.role = RoleSecondary
	}
	m.deadline = time.Now().Add(m.randomElectionTimeout())
	m.reportMetricsLocked()
	return m
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Start launches the two long-lived background tasks: the heartbeat
// emitter and the election-timeout monitor. Both run for the node's
// lifetime and check role on every tick rather than being started/stopped
// across role transitions — exactly the guard-by-role-check model the spec
// calls for in §5.
func (m *Manager) Start() {
	m.wg.Add(2)
	go m.heartbeatLoop()
	go m.electionLoop()
}

// Shutdown stops both background tasks. It does not drain in-flight peer
// RPCs — the spec does not claim durability across SHUTDOWN.
func (m *Manager) Shutdown() {
	close(m.stopCh)
	m.wg.Wait()
}

// Role returns the node's current role.
func (m *Manager) Role() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

// Term returns the node's current election term.
func (m *Manager) Term() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTerm
}

// SelfID returns this node's id.
func (m *Manager) SelfID() string {
	return m.selfID
}

// Status returns role and term together, for STATUS (§4.3), which may
// observe transient values during an election — that's expected, not a bug.
func (m *Manager) Status() (Role, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role, m.currentTerm
}

// RegisterNode inserts or updates an entry in the peer table.
func (m *Manager) RegisterNode(info NodeInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info.NodeID == m.selfID {
		return
	}
	existing, ok := m.peers[info.NodeID]
	if ok {
		info.LastHeartbeat = existing.LastHeartbeat
	}
	m.peers[info.NodeID] = &info
}

// PeersSnapshot returns a copy of every known peer (excluding self), safe
// to range over without holding the Manager's lock.
func (m *Manager) PeersSnapshot() []NodeInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NodeInfo, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, *p)
	}
	return out
}

// clusterSizeLocked is the total configured cluster size including self.
// Caller must hold m.mu.
func (m *Manager) clusterSizeLocked() int {
	return len(m.peers) + 1
}

// quorumLocked is the strict majority required to win an election:
// ceil((N+1)/2), per spec §4.5 (2 of 3 for the canonical cluster). Caller
// must hold m.mu.
func (m *Manager) quorumLocked() int {
	n := m.clusterSizeLocked()
	return (n + 2) / 2 // ceil((n+1)/2), integer arithmetic
}

// HandleHeartbeat processes an inbound HEARTBEAT {from_node, term}: it
// marks the sender as recently seen and extends this node's own election
// deadline, exactly as spec rule 2 describes. It always succeeds.
//
// A heartbeat carrying a higher term than this node currently holds is
// treated the same as a higher-term ELECTION (rule 4): this node adopts
// the term and, if it believed itself PRIMARY, steps down. This is what
// lets a node that restarted with --primary (bootstrapping at term 0)
// discover a since-elected PRIMARY's higher term and demote itself even
// though it never becomes a candidate and never receives an ELECTION —
// without it, a restarted PRIMARY whose SECONDARY peers are all getting
// healthy heartbeats would stay PRIMARY forever (spec §8 scenario 5).
//
// If this node's own deadline had already passed when the heartbeat
// arrived, it missed at least one heartbeat window (GC pause, network
// blip, just having lost an election it didn't win). OnCatchUp, if set,
// is notified once so the caller can issue a SYNC to fromNode and pick up
// any writes it missed — the spec describes SYNC's wire shape but leaves
// its trigger unspecified.
func (m *Manager) HandleHeartbeat(fromNode string, term int64) {
	m.mu.Lock()

	missedWindow := time.Now().After(m.deadline)
	if p, ok := m.peers[fromNode]; ok {
		p.LastHeartbeat = time.Now()
	}

	if term > m.currentTerm {
		m.currentTerm = term
		m.votedFor = ""
		if m.role == RolePrimary {
			m.logger.Infow("stepping down: observed higher-term heartbeat", "term", term, "from", fromNode)
			m.role = RoleSecondary
		}
		m.reportMetricsLocked()
	}

	m.resetElectionDeadlineLocked()
	onCatchUp := m.onCatchUp

	m.mu.Unlock()

	if missedWindow && onCatchUp != nil {
		go onCatchUp(fromNode)
	}
}

// HandleElection processes an inbound ELECTION {candidate, term} per spec
// rule 4, returning the vote decision the command handler should report.
func (m *Manager) HandleElection(candidateID string, term int64) (granted bool, message string, responseTerm int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if term < m.currentTerm {
		return false, "Stale term", m.currentTerm
	}

	if term > m.currentTerm {
		m.currentTerm = term
		m.votedFor = ""
		if m.role == RolePrimary {
			m.logger.Infow("stepping down: observed higher term", "term", term, "candidate", candidateID)
			m.role = RoleSecondary
		}
		m.reportMetricsLocked()
	}

	if m.votedFor == "" || m.votedFor == candidateID {
		m.votedFor = candidateID
		m.resetElectionDeadlineLocked()
		return true, "Vote granted", m.currentTerm
	}
	return false, "Already voted", m.currentTerm
}

// resetElectionDeadlineLocked draws a fresh randomized election timeout.
// Caller must hold m.mu.
func (m *Manager) resetElectionDeadlineLocked() {
	m.deadline = time.Now().Add(m.randomElectionTimeout())
}

func (m *Manager) randomElectionTimeout() time.Duration {
	span := m.electionMax - m.electionMin
	if span <= 0 {
		return m.electionMin
	}
	return m.electionMin + time.Duration(m.rng.Int63n(int64(span)))
}

func (m *Manager) reportMetricsLocked() {
	metrics.CurrentTerm.Set(float64(m.currentTerm))
	if m.role == RolePrimary {
		metrics.IsPrimary.Set(1)
	} else {
		metrics.IsPrimary.Set(0)
	}
}
