package domain

// Connection is a directed edge between an output port and an input port.
// Condition, when present, is evaluated at traversal time and gates whether
// the edge is followed.
type Connection struct {
	ID         string `json:"id"`
	SourceNode string `json:"source_node"`
	SourcePort string `json:"source_port"`
	TargetNode string `json:"target_node"`
	TargetPort string `json:"target_port"`
	Enabled    bool   `json:"enabled"`
	Condition  *Rule  `json:"condition,omitempty"`
}
