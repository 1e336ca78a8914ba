package domain

import (
	"github.com/goccy/go-json"
)

type NodeType string

const (
	NodeTypeCommandTrigger  NodeType = "trigger.command"
	NodeTypeEventTrigger    NodeType = "trigger.event"
	NodeTypeWebhookTrigger  NodeType = "trigger.webhook"
	NodeTypeScheduleTrigger NodeType = "trigger.schedule"

	NodeTypeIf     NodeType = "condition.if"
	NodeTypeSwitch NodeType = "condition.switch"
	NodeTypeFilter NodeType = "condition.filter"

	NodeTypeModuleAction  NodeType = "action.module"
	NodeTypeWebhookAction NodeType = "action.webhook"
	NodeTypeChatMessage   NodeType = "action.chat_message"
	NodeTypeBrowserSource NodeType = "action.browser_source"
	NodeTypeDelay         NodeType = "action.delay"

	NodeTypeTransform   NodeType = "data.transform"
	NodeTypeVariableSet NodeType = "data.variable_set"
	NodeTypeVariableGet NodeType = "data.variable_get"

	NodeTypeForeach NodeType = "loop.foreach"
	NodeTypeWhile   NodeType = "loop.while"
	NodeTypeBreak   NodeType = "loop.break"

	NodeTypeMerge    NodeType = "flow.merge"
	NodeTypeParallel NodeType = "flow.parallel"
	NodeTypeEnd      NodeType = "flow.end"
)

type NodeCategory string

const (
	CategoryTrigger   NodeCategory = "trigger"
	CategoryCondition NodeCategory = "condition"
	CategoryAction    NodeCategory = "action"
	CategoryData      NodeCategory = "data"
	CategoryLoop      NodeCategory = "loop"
	CategoryFlow      NodeCategory = "flow"
	CategoryUnknown   NodeCategory = "unknown"
)

var nodeCategories = map[NodeType]NodeCategory{
	NodeTypeCommandTrigger:  CategoryTrigger,
	NodeTypeEventTrigger:    CategoryTrigger,
	NodeTypeWebhookTrigger:  CategoryTrigger,
	NodeTypeScheduleTrigger: CategoryTrigger,
	NodeTypeIf:              CategoryCondition,
	NodeTypeSwitch:          CategoryCondition,
	NodeTypeFilter:          CategoryCondition,
	NodeTypeModuleAction:    CategoryAction,
	NodeTypeWebhookAction:   CategoryAction,
	NodeTypeChatMessage:     CategoryAction,
	NodeTypeBrowserSource:   CategoryAction,
	NodeTypeDelay:           CategoryAction,
	NodeTypeTransform:       CategoryData,
	NodeTypeVariableSet:     CategoryData,
	NodeTypeVariableGet:     CategoryData,
	NodeTypeForeach:         CategoryLoop,
	NodeTypeWhile:           CategoryLoop,
	NodeTypeBreak:           CategoryLoop,
	NodeTypeMerge:           CategoryFlow,
	NodeTypeParallel:        CategoryFlow,
	NodeTypeEnd:             CategoryFlow,
}

func (t NodeType) Category() NodeCategory {
	if cat, ok := nodeCategories[t]; ok {
		return cat
	}
	return CategoryUnknown
}

func (t NodeType) IsTrigger() bool {
	return t.Category() == CategoryTrigger
}

func (t NodeType) IsLoop() bool {
	return t.Category() == CategoryLoop
}

func (t NodeType) Known() bool {
	_, ok := nodeCategories[t]
	return ok
}

func KnownNodeTypes() []NodeType {
	types := make([]NodeType, 0, len(nodeCategories))
	for t := range nodeCategories {
		types = append(types, t)
	}
	return types
}

type PortDirection string

const (
	PortInput  PortDirection = "input"
	PortOutput PortDirection = "output"
)

type PortKind string

const (
	PortKindString  PortKind = "string"
	PortKindNumber  PortKind = "number"
	PortKindBoolean PortKind = "boolean"
	PortKindObject  PortKind = "object"
	PortKindArray   PortKind = "array"
	PortKindDate    PortKind = "date"
	PortKindAny     PortKind = "any"
)

// Port is an immutable connection point on a node. Name is unique within
// the node and direction.
type Port struct {
	Name          string        `json:"name"`
	Direction     PortDirection `json:"direction"`
	Kind          PortKind      `json:"kind"`
	Required      bool          `json:"required,omitempty"`
	Default       interface{}   `json:"default,omitempty"`
	AllowMultiple bool          `json:"allow_multiple,omitempty"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one step in a workflow graph. Config carries the raw type-specific
// configuration and is decoded into a typed variant by the executor and the
// validator via DecodeConfig.
type Node struct {
	ID       string                 `json:"id"`
	Type     NodeType               `json:"type"`
	Label    string                 `json:"label,omitempty"`
	Position Position               `json:"position"`
	Enabled  bool                   `json:"enabled"`
	Inputs   []Port                 `json:"inputs,omitempty"`
	Outputs  []Port                 `json:"outputs,omitempty"`
	Config   map[string]interface{} `json:"config,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (n *Node) InputPort(name string) (Port, bool) {
	for _, p := range n.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

func (n *Node) OutputPort(name string) (Port, bool) {
	for _, p := range n.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// DecodeConfig unmarshals the node's raw config map into a typed config
// struct. It round-trips through JSON so numeric and nested values land in
// the target's declared types.
func DecodeConfig(node *Node, target interface{}) error {
	data, err := json.Marshal(node.Config)
	if err != nil {
		return Error{
			Type:    ErrorTypeInternal,
			Message: "failed to marshal node config",
			Details: map[string]interface{}{
				"node_id": node.ID,
				"error":   err.Error(),
			},
		}
	}

	if err := json.Unmarshal(data, target); err != nil {
		return Error{
			Type:    ErrorTypeValidation,
			Message: "node config does not match expected shape",
			Details: map[string]interface{}{
				"node_id":   node.ID,
				"node_type": string(node.Type),
				"error":     err.Error(),
			},
		}
	}

	return nil
}
