package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/weft-io/weft/internal/adapters/expr"
	"github.com/weft-io/weft/internal/domain"
)

// deniedConstructs match dynamic code evaluation, process/file/network
// primitives and reflection into runtime internals. A match in any embedded
// expression is a hard error, never silently stripped.
var deniedConstructs = []*regexp.Regexp{
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`\bFunction\s*\(`),
	regexp.MustCompile(`\brequire\s*\(`),
	regexp.MustCompile(`\bimport\s*\(`),
	regexp.MustCompile(`\bprocess\s*\.`),
	regexp.MustCompile(`\bchild_process\b`),
	regexp.MustCompile(`\b(?:fs|os|syscall|unsafe|reflect)\s*\.`),
	regexp.MustCompile(`\bopen\s*\(`),
	regexp.MustCompile(`\b(?:fetch|XMLHttpRequest|WebSocket)\s*\(`),
	regexp.MustCompile(`\bsocket\s*\(`),
	regexp.MustCompile(`__proto__`),
	regexp.MustCompile(`\bconstructor\s*\[`),
	regexp.MustCompile(`\bglobalThis\b`),
	regexp.MustCompile("`"),
	regexp.MustCompile(`\$\(`),
}

// scanExpressions collects every embedded expression and templated string in
// the graph and checks it against the deny list. Transform expressions are
// additionally parsed so malformed bodies fail validation, not execution.
func (v *Validator) scanExpressions(g *domain.WorkflowGraph, result *Result) {
	for _, node := range g.Nodes {
		for field, text := range embeddedExpressions(node) {
			v.scanText(node.ID, field, text, result)
		}

		if node.Type == domain.NodeTypeTransform {
			var cfg domain.TransformConfig
			if err := domain.DecodeConfig(node, &cfg); err != nil {
				continue
			}
			for name, body := range cfg.Expressions {
				if _, err := expr.Parse(body); err != nil {
					result.addError(Finding{
						Code:    "expression.parse",
						NodeID:  node.ID,
						Field:   "expressions." + name,
						Message: fmt.Sprintf("expression does not parse: %v", err),
					})
				}
			}
		}
	}

	for _, c := range g.Connections {
		if c.Condition != nil {
			for field, text := range ruleStrings("condition", *c.Condition) {
				v.scanText(c.SourceNode, field, text, result)
			}
		}
	}
}

func (v *Validator) scanText(nodeID, field, text string, result *Result) {
	for _, denied := range deniedConstructs {
		if loc := denied.FindString(text); loc != "" {
			result.addError(Finding{
				Code:    "security.denied_construct",
				NodeID:  nodeID,
				Field:   field,
				Message: fmt.Sprintf("disallowed construct %q", strings.TrimSpace(loc)),
			})
		}
	}
}

// embeddedExpressions returns every user-supplied expression or template in
// a node, keyed by config field for error reporting.
func embeddedExpressions(node *domain.Node) map[string]string {
	out := map[string]string{}

	switch node.Type {
	case domain.NodeTypeTransform:
		var cfg domain.TransformConfig
		if domain.DecodeConfig(node, &cfg) == nil {
			for name, body := range cfg.Expressions {
				out["expressions."+name] = body
			}
		}

	case domain.NodeTypeWebhookAction:
		var cfg domain.WebhookActionConfig
		if domain.DecodeConfig(node, &cfg) == nil {
			out["url"] = cfg.URL
			out["body"] = cfg.Body
			for name, val := range cfg.Headers {
				out["headers."+name] = val
			}
		}

	case domain.NodeTypeChatMessage:
		var cfg domain.ChatMessageConfig
		if domain.DecodeConfig(node, &cfg) == nil {
			out["template"] = cfg.Template
		}

	case domain.NodeTypeBrowserSource:
		var cfg domain.BrowserSourceConfig
		if domain.DecodeConfig(node, &cfg) == nil {
			out["content"] = cfg.Content
		}

	case domain.NodeTypeIf:
		var cfg domain.IfConfig
		if domain.DecodeConfig(node, &cfg) == nil {
			for i, rule := range cfg.Rules {
				for field, text := range ruleStrings(fmt.Sprintf("rules[%d]", i), rule) {
					out[field] = text
				}
			}
		}

	case domain.NodeTypeWhile:
		var cfg domain.WhileConfig
		if domain.DecodeConfig(node, &cfg) == nil {
			for i, rule := range cfg.Rules {
				for field, text := range ruleStrings(fmt.Sprintf("rules[%d]", i), rule) {
					out[field] = text
				}
			}
		}

	case domain.NodeTypeFilter:
		var cfg domain.FilterConfig
		if domain.DecodeConfig(node, &cfg) == nil {
			for i, rule := range cfg.Rules {
				for field, text := range ruleStrings(fmt.Sprintf("rules[%d]", i), rule) {
					out[field] = text
				}
			}
		}
	}

	return out
}

func ruleStrings(prefix string, rule domain.Rule) map[string]string {
	out := map[string]string{}
	if s, ok := rule.Value.(string); ok {
		out[prefix+".value"] = s
	}
	for i, child := range rule.Children {
		for field, text := range ruleStrings(fmt.Sprintf("%s.children[%d]", prefix, i), child) {
			out[field] = text
		}
	}
	return out
}
