// Package gateway implements the WebSocket/JSON client for the database
// gateway in front of Db2 for i: pool lifecycle, statement execution,
// cursor continuation and TLS certificate retrieval.
package gateway

import (
	"encoding/json"
	"fmt"
)

// DefaultFetchSize is the row batch size used when a caller does not pick one.
const DefaultFetchSize = 300

// ConnectionConfig carries everything needed to reach one gateway endpoint.
type ConnectionConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	IgnoreUnauthorized bool

	// RootCA is the PEM-encoded certificate to verify the gateway with.
	// Ignored when IgnoreUnauthorized is set.
	RootCA []byte
}

// Endpoint returns the host:port address of the gateway.
func (c ConnectionConfig) Endpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Column describes one result column as reported by the gateway.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Label       string `json:"label,omitempty"`
	DisplaySize int    `json:"display_size,omitempty"`
}

// Result is one gateway response to an execute or fetch-more request.
type Result struct {
	Success       bool                     `json:"success"`
	IsDone        bool                     `json:"is_done"`
	HasResults    bool                     `json:"has_results"`
	Data          []map[string]interface{} `json:"data"`
	Columns       []Column                 `json:"columns"`
	SQLReturnCode int                      `json:"sql_rc"`
	SQLState      string                   `json:"sql_state"`
	ExecutionTime float64                  `json:"execution_time"`
	UpdateCount   int                      `json:"update_count"`
	JobID         string                   `json:"job_id"`
	Error         string                   `json:"error,omitempty"`
}

// request is the wire envelope for every client-to-gateway message.
type request struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	SQL        string        `json:"sql,omitempty"`
	Parameters []interface{} `json:"parameters,omitempty"`
	Rows       int           `json:"rows,omitempty"`
	ContinueID string        `json:"cont_id,omitempty"`
	Technique  string        `json:"technique,omitempty"`
}

// Message types accepted by the gateway.
const (
	typeConnect  = "connect"
	typeSQL      = "sql"
	typeSQLMore  = "sqlmore"
	typeSQLClose = "sqlclose"
)

// response is the wire envelope for gateway replies. Result fields are
// embedded flat; the correlation id and continuation id travel alongside.
type response struct {
	ID         string `json:"id"`
	ContinueID string `json:"cont_id,omitempty"`
	Result
	Metadata *responseMetadata `json:"metadata,omitempty"`
}

// responseMetadata carries column descriptions on the first batch.
type responseMetadata struct {
	ColumnCount int      `json:"column_count"`
	Columns     []Column `json:"columns"`
	Job         string   `json:"job"`
}

func decodeResponse(raw []byte) (*response, error) {
	resp := &response{}
	if err := json.Unmarshal(raw, resp); err != nil {
		return nil, fmt.Errorf("malformed gateway response: %w", err)
	}
	if resp.Metadata != nil && len(resp.Columns) == 0 {
		resp.Columns = resp.Metadata.Columns
	}
	if resp.JobID == "" && resp.Metadata != nil {
		resp.JobID = resp.Metadata.Job
	}
	return resp, nil
}
