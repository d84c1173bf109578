package opsapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-coord/pkg/cluster"
)

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// NodeResponse describes the node this process runs
type NodeResponse struct {
	ID          int64             `json:"id,omitempty"`
	Joined      bool              `json:"joined"`
	State       cluster.NodeState `json:"state"`
	Instance    uuid.UUID         `json:"instance"`
	ClusterMode bool              `json:"cluster_mode"`
	Active      bool              `json:"active"`
}

// RosterEntry is one row of the node roster as seen at Now
type RosterEntry struct {
	cluster.NodeInfo
	Expired bool `json:"expired"`
	Self    bool `json:"self"`
}

// RosterResponse is the node roster snapshot
type RosterResponse struct {
	Now   time.Time     `json:"now"`
	Nodes []RosterEntry `json:"nodes"`
}

// PropertyResponse is one cached property with its confirmation status
type PropertyResponse struct {
	cluster.PropertyInfo
	Confirmed bool `json:"confirmed"`
}

// PropertiesResponse lists the cached properties
type PropertiesResponse struct {
	Properties []cluster.PropertyInfo `json:"properties"`
}

// StateRequest changes the state of this node
type StateRequest struct {
	State string `json:"state" validate:"required,oneof=WAIT_FOR_STARTUP STARTUP RUNNING SHUTDOWN"`
}
