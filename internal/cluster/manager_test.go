package cluster

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSender is a PeerSender that answers from a table of canned
// responses keyed by address, so the election/heartbeat state machine can
// be driven without real sockets.
type fakeSender struct {
	mu        sync.Mutex
	responses map[string]map[string]any
	errs      map[string]error
	calls     []string
}

func newFakeSender() *fakeSender {
	return &fakeSender{responses: map[string]map[string]any{}, errs: map[string]error{}}
}

func (f *fakeSender) Send(addr string, msg map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, addr)
	if err, ok := f.errs[addr]; ok {
		return nil, err
	}
	if resp, ok := f.responses[addr]; ok {
		return resp, nil
	}
	return map[string]any{"status": "ERROR"}, nil
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func newTestManager(t *testing.T, role Role, peers []NodeInfo, sender PeerSender) *Manager {
	t.Helper()
	return NewManager(Config{
		SelfID:        "self",
		Host:          "127.0.0.1",
		Port:          6379,
		Peers:         peers,
		BootstrapRole: role,
		PeerClient:    sender,
		Logger:        testLogger(),
	})
}

func TestQuorumCanonicalThreeNodeCluster(t *testing.T) {
	m := newTestManager(t, RoleSecondary, []NodeInfo{
		{NodeID: "n2", Host: "127.0.0.1", Port: 6380},
		{NodeID: "n3", Host: "127.0.0.1", Port: 6381},
	}, newFakeSender())

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 3, m.clusterSizeLocked())
	assert.Equal(t, 2, m.quorumLocked())
}

func TestQuorumVariousClusterSizes(t *testing.T) {
	cases := []struct {
		totalPeers int
		wantQuorum int
	}{
		{0, 1}, // single-node cluster: self is the only voter
		{1, 2},
		{2, 2},
		{3, 3},
		{4, 3},
	}
	for _, tc := range cases {
		peers := make([]NodeInfo, tc.totalPeers)
		for i := range peers {
			peers[i] = NodeInfo{NodeID: fmt.Sprintf("p%d", i), Port: 6000 + i}
		}
		m := newTestManager(t, RoleSecondary, peers, newFakeSender())
		m.mu.Lock()
		got := m.quorumLocked()
		m.mu.Unlock()
		assert.Equal(t, tc.wantQuorum, got, "peers=%d", tc.totalPeers)
	}
}

func TestHandleElectionGrantsVoteWhenUnvoted(t *testing.T) {
	m := newTestManager(t, RoleSecondary, nil, newFakeSender())

	granted, message, term := m.HandleElection("candidate1", 1)
	assert.True(t, granted)
	assert.Equal(t, "Vote granted", message)
	assert.Equal(t, int64(1), term)
	assert.Equal(t, int64(1), m.Term())
}

func TestHandleElectionRejectsStaleTerm(t *testing.T) {
	m := newTestManager(t, RoleSecondary, nil, newFakeSender())
	m.HandleElection("candidate1", 5)

	granted, message, term := m.HandleElection("candidate2", 3)
	assert.False(t, granted)
	assert.Equal(t, "Stale term", message)
	assert.Equal(t, int64(5), term)
}

func TestHandleElectionRejectsAlreadyVotedSameTerm(t *testing.T) {
	m := newTestManager(t, RoleSecondary, nil, newFakeSender())
	granted, _, _ := m.HandleElection("candidate1", 1)
	require.True(t, granted)

	granted, message, _ := m.HandleElection("candidate2", 1)
	assert.False(t, granted)
	assert.Equal(t, "Already voted", message)
}

func TestHandleElectionSameCandidateSameTermIsIdempotent(t *testing.T) {
	m := newTestManager(t, RoleSecondary, nil, newFakeSender())
	m.HandleElection("candidate1", 1)

	granted, _, _ := m.HandleElection("candidate1", 1)
	assert.True(t, granted)
}

func TestHandleElectionHigherTermDemotesPrimary(t *testing.T) {
	m := newTestManager(t, RolePrimary, nil, newFakeSender())
	m.currentTerm = 2

	granted, _, term := m.HandleElection("candidate1", 5)
	assert.True(t, granted)
	assert.Equal(t, int64(5), term)
	assert.Equal(t, RoleSecondary, m.Role())
}

func TestHandleHeartbeatResetsDeadline(t *testing.T) {
	m := newTestManager(t, RoleSecondary, []NodeInfo{{NodeID: "n2", Port: 6380}}, newFakeSender())

	m.mu.Lock()
	m.deadline = time.Now().Add(-time.Second)
	m.mu.Unlock()

	m.HandleHeartbeat("n2", 0)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.True(t, m.deadline.After(time.Now()))
	assert.False(t, m.peers["n2"].LastHeartbeat.IsZero())
}

func TestHandleHeartbeatHigherTermDemotesPrimary(t *testing.T) {
	m := newTestManager(t, RolePrimary, []NodeInfo{{NodeID: "n2", Port: 6380}}, newFakeSender())
	m.currentTerm = 1

	m.HandleHeartbeat("n2", 5)

	assert.Equal(t, RoleSecondary, m.Role())
	assert.Equal(t, int64(5), m.Term())
}

func TestHandleHeartbeatSameOrLowerTermDoesNotDemotePrimary(t *testing.T) {
	m := newTestManager(t, RolePrimary, []NodeInfo{{NodeID: "n2", Port: 6380}}, newFakeSender())
	m.currentTerm = 5

	m.HandleHeartbeat("n2", 5)
	assert.Equal(t, RolePrimary, m.Role())

	m.HandleHeartbeat("n2", 3)
	assert.Equal(t, RolePrimary, m.Role())
	assert.Equal(t, int64(5), m.Term())
}

func TestHandleHeartbeatTriggersCatchUpOnlyAfterMissedWindow(t *testing.T) {
	var caughtUp []string
	var mu sync.Mutex
	done := make(chan struct{}, 1)

	m := NewManager(Config{
		SelfID:        "self",
		BootstrapRole: RoleSecondary,
		Peers:         []NodeInfo{{NodeID: "n2", Port: 6380}},
		PeerClient:    newFakeSender(),
		Logger:        testLogger(),
		OnCatchUp: func(peerID string) {
			mu.Lock()
			caughtUp = append(caughtUp, peerID)
			mu.Unlock()
			done <- struct{}{}
		},
	})

	// Deadline still in the future: an on-time heartbeat, no catch-up.
	m.HandleHeartbeat("n2", 0)
	select {
	case <-done:
		t.Fatal("catch-up fired for an on-time heartbeat")
	case <-time.After(50 * time.Millisecond):
	}

	// Force the deadline into the past, then simulate a late heartbeat.
	m.mu.Lock()
	m.deadline = time.Now().Add(-time.Second)
	m.mu.Unlock()
	m.HandleHeartbeat("n2", 0)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected catch-up callback after missed window")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"n2"}, caughtUp)
}

func TestRegisterNodeIgnoresSelf(t *testing.T) {
	m := newTestManager(t, RoleSecondary, nil, newFakeSender())
	m.RegisterNode(NodeInfo{NodeID: "self", Host: "x", Port: 1})
	assert.Empty(t, m.PeersSnapshot())
}

func TestRegisterNodePreservesLastHeartbeatOnUpdate(t *testing.T) {
	m := newTestManager(t, RoleSecondary, nil, newFakeSender())
	m.RegisterNode(NodeInfo{NodeID: "n2", Host: "127.0.0.1", Port: 6380})
	m.HandleHeartbeat("n2", 0)

	m.mu.Lock()
	before := m.peers["n2"].LastHeartbeat
	m.mu.Unlock()
	require.False(t, before.IsZero())

	m.RegisterNode(NodeInfo{NodeID: "n2", Host: "127.0.0.1", Port: 6390, Role: RolePrimary})

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, before, m.peers["n2"].LastHeartbeat)
	assert.Equal(t, 6390, m.peers["n2"].Port)
}

func TestMaybeStartElectionWinsWithQuorum(t *testing.T) {
	sender := newFakeSender()
	sender.responses["127.0.0.1:6380"] = map[string]any{"status": "OK", "message": "Vote granted"}
	sender.responses["127.0.0.1:6381"] = map[string]any{"status": "OK", "message": "Vote granted"}

	m := newTestManager(t, RoleSecondary, []NodeInfo{
		{NodeID: "n2", Host: "127.0.0.1", Port: 6380},
		{NodeID: "n3", Host: "127.0.0.1", Port: 6381},
	}, sender)
	m.mu.Lock()
	m.deadline = time.Now().Add(-time.Second)
	m.mu.Unlock()

	m.maybeStartElection()

	assert.Equal(t, RolePrimary, m.Role())
	assert.Equal(t, int64(1), m.Term())
}

func TestMaybeStartElectionLosesWithoutQuorum(t *testing.T) {
	sender := newFakeSender()
	sender.responses["127.0.0.1:6380"] = map[string]any{"status": "ERROR", "message": "Already voted"}
	sender.responses["127.0.0.1:6381"] = map[string]any{"status": "ERROR", "message": "Already voted"}

	m := newTestManager(t, RoleSecondary, []NodeInfo{
		{NodeID: "n2", Host: "127.0.0.1", Port: 6380},
		{NodeID: "n3", Host: "127.0.0.1", Port: 6381},
	}, sender)
	m.mu.Lock()
	m.deadline = time.Now().Add(-time.Second)
	m.mu.Unlock()

	m.maybeStartElection()

	assert.Equal(t, RoleSecondary, m.Role())
	assert.Equal(t, int64(1), m.Term())
}

func TestMaybeStartElectionNoopWhenDeadlineNotReached(t *testing.T) {
	m := newTestManager(t, RoleSecondary, []NodeInfo{{NodeID: "n2", Port: 6380}}, newFakeSender())
	m.maybeStartElection()
	assert.Equal(t, RoleSecondary, m.Role())
	assert.Equal(t, int64(0), m.Term())
}
