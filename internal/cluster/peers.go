package cluster

import (
	"fmt"
	"time"
)

// Role is a node's current position in the cluster: PRIMARY serves all
// client reads/writes, SECONDARY only replicates.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// NodeInfo is one entry in a node's peer table: static identity (from
// config) plus the mutable bookkeeping the Manager maintains about it.
type NodeInfo struct {
	NodeID        string    `json:"node_id"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	Role          Role      `json:"role"`
	LastHeartbeat time.Time `json:"-"`
}

// Address returns the host:port dial target for this peer.
func (n NodeInfo) Address() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}
