package handler

import (
	"time"

	"github.com/yndnr/meshstore/internal/datatree"
	"github.com/yndnr/meshstore/internal/shard"
	"github.com/yndnr/meshstore/internal/storage/snapshot"
)

// Response is the JSON envelope of every endpoint except /metrics.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// Error codes.
const (
	CodeOK             = "OK"
	CodeBadRequest     = "MS-ARG-4000"
	CodeNotFound       = "MS-DS-4040"
	CodeNotReady       = "MS-DS-5030"
	CodeBackupDisabled = "MS-BK-4040"
	CodeInternal       = "MS-SYS-5000"
)

func newResponse(requestID, code, message string, data any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// HealthResponse is the body of /healthz and /readyz.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Datastores map[string]string `json:"datastores"`
}

// RestoreResponse is the body of /restore/pending.
type RestoreResponse struct {
	Path    string         `json:"path"`
	Pending []string       `json:"pending"`
	Backup  *snapshot.Info `json:"backup,omitempty"`
}

// DatastoreResponse describes one datastore domain.
type DatastoreResponse struct {
	Type     string          `json:"type"`
	Restored bool            `json:"restored"`
	Shards   []ShardResponse `json:"shards"`
}

// ShardResponse describes one shard replica.
type ShardResponse struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	Leader       bool   `json:"leader"`
	Term         uint64 `json:"term"`
	LastIndex    uint64 `json:"last_index"`
	AppliedIndex uint64 `json:"applied_index"`
}

func shardResponse(st shard.Status) ShardResponse {
	return ShardResponse{
		Name:         st.Name,
		State:        st.State,
		Leader:       st.Leader,
		Term:         st.Term,
		LastIndex:    st.LastIndex,
		AppliedIndex: st.AppliedIndex,
	}
}

// NodeResponse is a subtree read from a datastore.
type NodeResponse struct {
	Path string         `json:"path"`
	Node *datatree.Node `json:"node"`
}
