package validator

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/weft-io/weft/internal/domain"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var allowedHTTPMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true, "HEAD": true,
}

// checkNodes runs the per-type rule set for every node.
func (v *Validator) checkNodes(g *domain.WorkflowGraph, result *Result) {
	for id, node := range g.Nodes {
		if node.ID != id {
			result.addError(Finding{
				Code:    "node.id_mismatch",
				NodeID:  id,
				Message: fmt.Sprintf("node map key %q does not match node id %q", id, node.ID),
			})
		}
		if !node.Type.Known() {
			result.addError(Finding{
				Code:    "node.unknown_type",
				NodeID:  id,
				Message: fmt.Sprintf("unknown node type %q", node.Type),
			})
			continue
		}

		v.checkNodeConfig(node, result)
	}
}

func (v *Validator) checkNodeConfig(node *domain.Node, result *Result) {
	fail := func(field, msg string) {
		result.addError(Finding{Code: "node.config", NodeID: node.ID, Field: field, Message: msg})
	}
	warn := func(field, msg string) {
		result.addWarning(Finding{Code: "node.config", NodeID: node.ID, Field: field, Message: msg})
	}

	switch node.Type {
	case domain.NodeTypeCommandTrigger:
		var cfg domain.CommandTriggerConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		if strings.TrimSpace(cfg.Pattern) == "" {
			fail("pattern", "command trigger requires a non-empty pattern")
		}
		if len(cfg.Platforms) == 0 {
			fail("platforms", "command trigger requires at least one target platform")
		}

	case domain.NodeTypeEventTrigger:
		var cfg domain.EventTriggerConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		if strings.TrimSpace(cfg.EventType) == "" {
			fail("event_type", "event trigger requires an event type")
		}

	case domain.NodeTypeWebhookTrigger:
		var cfg domain.WebhookTriggerConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		if strings.TrimSpace(cfg.Token) == "" {
			fail("token", "webhook trigger requires a shared-secret token")
		}
		if cfg.RateLimit < 0 {
			fail("rate_limit", "rate limit cannot be negative")
		}

	case domain.NodeTypeScheduleTrigger:
		var cfg domain.ScheduleTriggerConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		if _, err := cronParser.Parse(cfg.Cron); err != nil {
			fail("cron", fmt.Sprintf("invalid cron expression %q: %v", cfg.Cron, err))
		}
		if cfg.Timezone != "" {
			if _, err := time.LoadLocation(cfg.Timezone); err != nil {
				fail("timezone", fmt.Sprintf("unknown timezone %q", cfg.Timezone))
			}
		}

	case domain.NodeTypeIf:
		var cfg domain.IfConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		if len(cfg.Rules) == 0 {
			fail("rules", "if node requires at least one rule")
		}
		v.checkRules(node.ID, "rules", cfg.Rules, result)

	case domain.NodeTypeSwitch:
		var cfg domain.SwitchConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		if strings.TrimSpace(cfg.Variable) == "" {
			fail("variable", "switch node requires a variable to match on")
		}
		if len(cfg.Cases) == 0 {
			fail("cases", "switch node requires at least one case")
		}

	case domain.NodeTypeFilter:
		var cfg domain.FilterConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		if strings.TrimSpace(cfg.InputVariable) == "" {
			fail("input_variable", "filter node requires an input variable")
		}
		if strings.TrimSpace(cfg.OutputVariable) == "" {
			fail("output_variable", "filter node requires an output variable")
		}
		if len(cfg.Rules) == 0 {
			fail("rules", "filter node requires at least one rule")
		}
		v.checkRules(node.ID, "rules", cfg.Rules, result)

	case domain.NodeTypeModuleAction:
		var cfg domain.ModuleActionConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		if strings.TrimSpace(cfg.Name) == "" {
			fail("name", "module action requires a capability name")
		}
		if cfg.TimeoutSeconds < 0 {
			fail("timeout_seconds", "timeout cannot be negative")
		}

	case domain.NodeTypeWebhookAction:
		var cfg domain.WebhookActionConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		v.checkWebhookURL(node.ID, cfg.URL, result)
		if cfg.Method != "" && !allowedHTTPMethods[strings.ToUpper(cfg.Method)] {
			fail("method", fmt.Sprintf("unsupported HTTP method %q", cfg.Method))
		}
		if cfg.TimeoutSeconds < 0 {
			fail("timeout_seconds", "timeout cannot be negative")
		}
		if cfg.RetryCount < 0 {
			fail("retry_count", "retry count cannot be negative")
		}
		if cfg.RetryCount > 5 {
			warn("retry_count", "retry counts above 5 produce long backoff tails")
		}

	case domain.NodeTypeChatMessage:
		var cfg domain.ChatMessageConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		if strings.TrimSpace(cfg.Template) == "" {
			fail("template", "chat message requires a template")
		}
		if strings.TrimSpace(cfg.Channel) == "" {
			fail("channel", "chat message requires a destination channel")
		}

	case domain.NodeTypeBrowserSource:
		var cfg domain.BrowserSourceConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		switch cfg.Action {
		case "show", "update", "hide":
		default:
			fail("action", fmt.Sprintf("unsupported browser source action %q", cfg.Action))
		}
		if cfg.DurationMs < 0 {
			fail("duration_ms", "duration cannot be negative")
		}

	case domain.NodeTypeDelay:
		var cfg domain.DelayConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		if cfg.DurationVariable == "" && cfg.DurationMs < 0 {
			fail("duration_ms", "delay cannot be negative")
		}
		if cfg.DurationMs > int((5 * time.Minute).Milliseconds()) {
			warn("duration_ms", "delay will be capped at 5 minutes at run time")
		}

	case domain.NodeTypeTransform:
		var cfg domain.TransformConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		if len(cfg.Expressions) == 0 {
			fail("expressions", "transform node requires at least one expression")
		}

	case domain.NodeTypeVariableSet:
		var cfg domain.VariableSetConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		if strings.TrimSpace(cfg.Name) == "" {
			fail("name", "variable-set requires a variable name")
		}
		v.checkScope(node.ID, cfg.Scope, result)

	case domain.NodeTypeVariableGet:
		var cfg domain.VariableGetConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		if strings.TrimSpace(cfg.Name) == "" {
			fail("name", "variable-get requires a variable name")
		}
		v.checkScope(node.ID, cfg.Scope, result)

	case domain.NodeTypeForeach:
		var cfg domain.ForeachConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		if strings.TrimSpace(cfg.ArrayVariable) == "" {
			fail("array_variable", "foreach requires an array variable")
		}
		if cfg.MaxIterations < 0 {
			fail("max_iterations", "iteration ceiling cannot be negative")
		}

	case domain.NodeTypeWhile:
		var cfg domain.WhileConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		if len(cfg.Rules) == 0 {
			fail("rules", "while node requires a condition rule set")
		}
		if cfg.MaxIterations < 0 {
			fail("max_iterations", "iteration ceiling cannot be negative")
		}
		v.checkRules(node.ID, "rules", cfg.Rules, result)

	case domain.NodeTypeBreak:
		var cfg domain.BreakConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		v.checkRules(node.ID, "rules", cfg.Rules, result)

	case domain.NodeTypeMerge:
		var cfg domain.MergeConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		switch cfg.Mode {
		case "", domain.MergeModeAll:
		case domain.MergeModeCount:
			if cfg.Count <= 0 {
				fail("count", "merge count must be positive when mode is count")
			}
		default:
			fail("mode", fmt.Sprintf("unsupported merge mode %q", cfg.Mode))
		}

	case domain.NodeTypeParallel:
		var cfg domain.ParallelConfig
		if err := domain.DecodeConfig(node, &cfg); err != nil {
			fail("config", err.Error())
			return
		}
		switch cfg.Mode {
		case "", domain.ParallelModeAll, domain.ParallelModeFirst:
		default:
			fail("mode", fmt.Sprintf("unsupported parallel mode %q", cfg.Mode))
		}
		if cfg.TimeoutSeconds < 0 {
			fail("timeout_seconds", "timeout cannot be negative")
		}

	case domain.NodeTypeEnd:
		// Nothing to check.
	}
}

func (v *Validator) checkScope(nodeID string, scope domain.VariableScope, result *Result) {
	switch scope {
	case "", domain.ScopeLocal, domain.ScopeWorkflow, domain.ScopeGlobal:
	default:
		result.addError(Finding{
			Code:    "node.config",
			NodeID:  nodeID,
			Field:   "scope",
			Message: fmt.Sprintf("unknown variable scope %q", scope),
		})
	}
}

func (v *Validator) checkRules(nodeID, field string, rules []domain.Rule, result *Result) {
	for i, rule := range rules {
		v.checkRule(nodeID, fmt.Sprintf("%s[%d]", field, i), rule, result, 0)
	}
}

const maxRuleNesting = 10

func (v *Validator) checkRule(nodeID, field string, rule domain.Rule, result *Result, depth int) {
	fail := func(msg string) {
		result.addError(Finding{Code: "node.rule", NodeID: nodeID, Field: field, Message: msg})
	}

	if depth > maxRuleNesting {
		fail("rule nesting too deep")
		return
	}
	if !rule.Operator.Known() {
		fail(fmt.Sprintf("unknown rule operator %q", rule.Operator))
		return
	}

	if rule.Operator.IsComposite() {
		if len(rule.Children) == 0 {
			fail(fmt.Sprintf("%s rule requires child rules", rule.Operator))
		}
		if rule.Operator == domain.OpNot && len(rule.Children) != 1 {
			fail("not rule requires exactly one child")
		}
		for i, child := range rule.Children {
			v.checkRule(nodeID, fmt.Sprintf("%s.children[%d]", field, i), child, result, depth+1)
		}
		return
	}

	if strings.TrimSpace(rule.Variable) == "" {
		fail("comparison rule requires a variable")
	}
	if rule.Operator == domain.OpRegexMatch {
		pattern, ok := rule.Value.(string)
		if !ok {
			fail("regex rule requires a string pattern")
			return
		}
		if _, err := regexp.Compile(pattern); err != nil {
			fail(fmt.Sprintf("invalid regex pattern: %v", err))
		}
	}
}

func (v *Validator) checkWebhookURL(nodeID, raw string, result *Result) {
	if strings.TrimSpace(raw) == "" {
		result.addError(Finding{
			Code: "node.config", NodeID: nodeID, Field: "url",
			Message: "webhook action requires a URL",
		})
		return
	}

	// Templated URLs are resolved at run time; substitute a placeholder so
	// the shape of the rest of the URL is still checked.
	probe := templatePlaceholder.ReplaceAllString(raw, "x")
	u, err := url.Parse(probe)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		result.addError(Finding{
			Code: "node.config", NodeID: nodeID, Field: "url",
			Message: fmt.Sprintf("malformed webhook URL %q", raw),
		})
	}
}

var templatePlaceholder = regexp.MustCompile(`\{\{\s*[a-zA-Z_][a-zA-Z0-9_.]*\s*\}\}`)
