// Package contracts holds the structured payload exchanged between the tool
// handlers and the response formatters, mirroring each tool's output schema.
package contracts

// Column describes one result column for formatting and metadata.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// BindingMetadata describes how a statement's parameters were bound.
type BindingMetadata struct {
	Mode                string   `json:"parameterMode"`
	Count               int      `json:"parameterCount"`
	ProcessedParameters []string `json:"processedParameters,omitempty"`
}

// OutputMetadata accompanies every successful tool result.
type OutputMetadata struct {
	ExecutionTime       float64                `json:"executionTime"`
	RowCount            int                    `json:"rowCount"`
	AffectedRows        int                    `json:"affectedRows"`
	Columns             []Column               `json:"columns,omitempty"`
	ParameterMode       string                 `json:"parameterMode,omitempty"`
	ParameterCount      int                    `json:"parameterCount"`
	ProcessedParameters []string               `json:"processedParameters,omitempty"`
	ToolName            string                 `json:"toolName"`
	SQLStatement        string                 `json:"sqlStatement,omitempty"`
	Parameters          map[string]interface{} `json:"parameters,omitempty"`
}

// OutputPayload is the structured content of every tool call reply, success
// or failure.
type OutputPayload struct {
	Success      bool                     `json:"success"`
	Data         []map[string]interface{} `json:"data,omitempty"`
	Metadata     *OutputMetadata          `json:"metadata,omitempty"`
	Error        string                   `json:"error,omitempty"`
	ErrorCode    string                   `json:"errorCode,omitempty"`
	ErrorDetails map[string]interface{}   `json:"errorDetails,omitempty"`
}
