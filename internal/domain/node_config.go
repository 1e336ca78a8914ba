package domain

// Typed configuration variants, one per node type. The executor and the
// validator decode Node.Config into these via DecodeConfig.

type CommandTriggerConfig struct {
	Pattern       string   `json:"pattern"`
	Platforms     []string `json:"platforms"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
}

type EventTriggerConfig struct {
	EventType string                 `json:"event_type"`
	Filters   map[string]interface{} `json:"filters,omitempty"`
}

type WebhookTriggerConfig struct {
	Token      string   `json:"token"`
	AllowedIPs []string `json:"allowed_ips,omitempty"`
	RateLimit  int      `json:"rate_limit,omitempty"`
}

type ScheduleTriggerConfig struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone,omitempty"`
}

type IfConfig struct {
	Rules []Rule `json:"rules"`
}

type SwitchConfig struct {
	Variable string `json:"variable"`
	// Cases maps a matched value to the output port to route through.
	Cases       map[string]string `json:"cases"`
	DefaultPort string            `json:"default_port,omitempty"`
}

type FilterConfig struct {
	InputVariable  string `json:"input_variable"`
	OutputVariable string `json:"output_variable"`
	// Rules are evaluated per element with the element bound to "item".
	Rules []Rule `json:"rules"`
}

type ModuleActionConfig struct {
	Name           string            `json:"name"`
	Version        string            `json:"version,omitempty"`
	InputMapping   map[string]string `json:"input_mapping,omitempty"`
	OutputMapping  map[string]string `json:"output_mapping,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

type WebhookActionConfig struct {
	URL            string            `json:"url"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	RetryCount     int               `json:"retry_count,omitempty"`
	OutputVariable string            `json:"output_variable,omitempty"`
}

type ChatMessageConfig struct {
	Template string `json:"template"`
	Channel  string `json:"channel"`
}

type BrowserSourceConfig struct {
	Action     string `json:"action"`
	Content    string `json:"content"`
	DurationMs int    `json:"duration_ms,omitempty"`
	Priority   int    `json:"priority,omitempty"`
}

type DelayConfig struct {
	DurationMs int `json:"duration_ms,omitempty"`
	// DurationVariable, when set, supplies the delay from a context variable
	// and takes precedence over DurationMs.
	DurationVariable string `json:"duration_variable,omitempty"`
}

type TransformConfig struct {
	// Expressions maps output variable names to sandboxed expressions.
	Expressions map[string]string `json:"expressions"`
}

type VariableSetConfig struct {
	Name  string        `json:"name"`
	Value interface{}   `json:"value"`
	Scope VariableScope `json:"scope,omitempty"`
}

type VariableGetConfig struct {
	Name           string        `json:"name"`
	Scope          VariableScope `json:"scope,omitempty"`
	OutputVariable string        `json:"output_variable,omitempty"`
	Default        interface{}   `json:"default,omitempty"`
}

type ForeachConfig struct {
	ArrayVariable string `json:"array_variable"`
	ItemVariable  string `json:"item_variable,omitempty"`
	IndexVariable string `json:"index_variable,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

type WhileConfig struct {
	Rules         []Rule `json:"rules"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

type BreakConfig struct {
	// Rules optionally gate the break; an empty set breaks unconditionally.
	Rules []Rule `json:"rules,omitempty"`
	// LoopNodeID targets a specific enclosing loop; empty means innermost.
	LoopNodeID string `json:"loop_node_id,omitempty"`
}

type MergeMode string

const (
	MergeModeAll   MergeMode = "all"
	MergeModeCount MergeMode = "count"
)

type MergeConfig struct {
	Mode  MergeMode `json:"mode,omitempty"`
	Count int       `json:"count,omitempty"`
}

type ParallelMode string

const (
	ParallelModeAll   ParallelMode = "all"
	ParallelModeFirst ParallelMode = "first"
)

type ParallelConfig struct {
	Mode           ParallelMode `json:"mode,omitempty"`
	TimeoutSeconds int          `json:"timeout_seconds,omitempty"`
}

type EndConfig struct {
	OutputVariable string `json:"output_variable,omitempty"`
}
