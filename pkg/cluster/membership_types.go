package cluster

import (
	"fmt"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/store"
)

// NodeState is the lifecycle state of a cluster node
type NodeState int

const (
	// StateNone means the node is not part of the roster
	StateNone NodeState = iota
	// StateWaitForStartup is the state right after InitNode
	StateWaitForStartup
	// StateStartup is a node that is bringing up its services
	StateStartup
	// StateRunning is a fully started node; only running nodes take part in
	// confirmation
	StateRunning
	// StateShutdown is a node on its way out of the roster
	StateShutdown
)

var nodeStateNames = map[NodeState]string{
	StateNone:           "",
	StateWaitForStartup: "WAIT_FOR_STARTUP",
	StateStartup:        "STARTUP",
	StateRunning:        "RUNNING",
	StateShutdown:       "SHUTDOWN",
}

// String returns the persisted name of the state
func (s NodeState) String() string {
	if name, ok := nodeStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("NodeState(%d)", int(s))
}

// ParseNodeState converts a persisted state name
func ParseNodeState(name string) (NodeState, error) {
	for state, n := range nodeStateNames {
		if state != StateNone && n == name {
			return state, nil
		}
	}
	return StateNone, fmt.Errorf("unknown node state %q", name)
}

// MarshalText implements encoding.TextMarshaler
func (s NodeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *NodeState) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = StateNone
		return nil
	}
	state, err := ParseNodeState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// NodeInfo is a snapshot of one roster row
type NodeInfo struct {
	ID           int64     `json:"id"`
	State        NodeState `json:"state"`
	LifeSign     time.Time `json:"life_sign"`
	ConfirmedSeq *int64    `json:"confirmed_seq,omitempty"`
}

func nodeInfoFromRow(row store.NodeRow) NodeInfo {
	// Unknown states written by a newer peer show up as StateNone
	state, _ := ParseNodeState(row.State)
	info := NodeInfo{
		ID:       row.ID,
		State:    state,
		LifeSign: time.UnixMilli(row.LifeSign),
	}
	if row.ConfirmedSeq != nil {
		info.ConfirmedSeq = store.Int64Ptr(*row.ConfirmedSeq)
	}
	return info
}

// IsExpired reports whether the next housekeeping pass at now will reap
// this node
func (n *NodeInfo) IsExpired(now time.Time, cfg Config) bool {
	age := now.Sub(n.LifeSign)
	if n.State == StateRunning && age > cfg.TimeoutRunningNode {
		return true
	}
	return age > cfg.TimeoutOtherNode
}
