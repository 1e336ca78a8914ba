package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/weft-io/weft/internal/domain"
	"github.com/weft-io/weft/internal/ports"
)

const maxWebhookResponseBytes = 1 << 20

func runModuleAction(ctx context.Context, ex *execution, node *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	var cfg domain.ModuleActionConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	moduleInput := make(map[string]interface{}, len(cfg.InputMapping))
	for key, tmpl := range cfg.InputMapping {
		moduleInput[key] = resolveValue(tmpl, ex.execCtx)
	}

	if ex.execCtx.DryRun {
		ex.traceEntry(node.ID, "module.invoke", map[string]interface{}{
			"name":    cfg.Name,
			"version": cfg.Version,
			"input":   moduleInput,
		})
		state.Output = input
		return routeAll(input), nil
	}

	timeout := ex.engine.config.DefaultActionTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := ex.engine.router.InvokeCapability(callCtx, cfg.Name, cfg.Version, moduleInput)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, domain.NewTimeoutError(fmt.Sprintf("module %s", cfg.Name))
		}
		return nil, domain.NewNodeFailureError(node.ID, err)
	}

	for resultKey, varName := range cfg.OutputMapping {
		if v, ok := result[resultKey]; ok {
			ex.execCtx.SetVariable(varName, v, domain.ScopeLocal)
		}
	}

	out, err := mergeInto(input, result)
	if err != nil {
		return nil, err
	}
	state.Output = out
	return routeAll(out), nil
}

// runWebhookAction posts to an external URL with retry. Attempt N waits
// 2^(N-1) seconds before firing, so retries back off at 1s, 2s, 4s and so
// on. Responses in the 4xx range are not retried; the request was heard and
// rejected.
func runWebhookAction(ctx context.Context, ex *execution, node *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	var cfg domain.WebhookActionConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	url := renderTemplate(cfg.URL, ex.execCtx)
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}
	body := renderTemplate(cfg.Body, ex.execCtx)
	headers := renderTemplateMap(cfg.Headers, ex.execCtx)

	if ex.execCtx.DryRun {
		ex.traceEntry(node.ID, "http.request", map[string]interface{}{
			"url":    url,
			"method": method,
			"body":   body,
		})
		state.Output = input
		return routeAll(input), nil
	}

	timeout := ex.engine.config.DefaultActionTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.RetryCount; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			state.AppendLog(fmt.Sprintf("retry %d after %s: %v", attempt, backoff, lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, domain.Error{
					Type:    domain.ErrorTypeCancelled,
					Message: "webhook retry interrupted",
					Cause:   ctx.Err(),
				}
			}
		}

		result, retryable, err := ex.engine.doHTTPRequest(ctx, method, url, body, headers, timeout)
		if err == nil {
			state.RetryCount = attempt
			if cfg.OutputVariable != "" {
				ex.execCtx.SetVariable(cfg.OutputVariable, result, domain.ScopeLocal)
			}
			out, merr := mergeInto(input, map[string]interface{}{"response": result})
			if merr != nil {
				return nil, merr
			}
			state.Output = out
			return routeAll(out), nil
		}

		lastErr = err
		if !retryable {
			break
		}
	}

	state.RetryCount = cfg.RetryCount
	return nil, domain.Error{
		Type:    domain.ErrorTypeNodeFailure,
		Message: fmt.Sprintf("webhook call failed after %d attempts", cfg.RetryCount+1),
		Details: map[string]interface{}{"node_id": node.ID, "url": url},
		Cause:   lastErr,
	}
}

// doHTTPRequest performs one attempt and reports whether a failure is worth
// retrying. Network errors and 5xx responses are; 4xx responses are not.
func (e *Engine) doHTTPRequest(ctx context.Context, method, url, body string, headers map[string]string, timeout time.Duration) (map[string]interface{}, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, reader)
	if err != nil {
		return nil, false, err
	}
	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponseBytes))
	if err != nil {
		return nil, true, err
	}

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var parsed interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		parsed = string(raw)
	}

	return map[string]interface{}{
		"status": resp.StatusCode,
		"body":   parsed,
	}, false, nil
}

func runChatMessage(ctx context.Context, ex *execution, node *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	var cfg domain.ChatMessageConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	message := renderTemplate(cfg.Template, ex.execCtx)

	if ex.execCtx.DryRun {
		ex.traceEntry(node.ID, "chat.message", map[string]interface{}{
			"channel": cfg.Channel,
			"message": message,
		})
		state.Output = input
		return routeAll(input), nil
	}

	if err := ex.engine.router.SendChatMessage(ctx, cfg.Channel, message); err != nil {
		return nil, domain.NewNodeFailureError(node.ID, err)
	}
	state.AppendLog(fmt.Sprintf("sent %d characters to %s", len(message), cfg.Channel))
	state.Output = input
	return routeAll(input), nil
}

func runBrowserSource(ctx context.Context, ex *execution, node *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	var cfg domain.BrowserSourceConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	update := ports.BrowserSourceUpdate{
		Action:     cfg.Action,
		Content:    renderTemplate(cfg.Content, ex.execCtx),
		DurationMs: cfg.DurationMs,
		Priority:   cfg.Priority,
	}

	if ex.execCtx.DryRun {
		ex.traceEntry(node.ID, "browser_source.update", map[string]interface{}{
			"action":  update.Action,
			"content": update.Content,
		})
		state.Output = input
		return routeAll(input), nil
	}

	if err := ex.engine.router.UpdateBrowserSource(ctx, update); err != nil {
		return nil, domain.NewNodeFailureError(node.ID, err)
	}
	state.Output = input
	return routeAll(input), nil
}

// runDelay pauses the branch. The wait respects cancellation and is capped
// so a bad template cannot park an execution for hours.
func runDelay(ctx context.Context, ex *execution, node *domain.Node, state *domain.NodeExecutionState, input map[string]interface{}) (*routing, error) {
	var cfg domain.DelayConfig
	if err := domain.DecodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	ms := cfg.DurationMs
	if cfg.DurationVariable != "" {
		if raw, ok := ex.execCtx.GetVariable(cfg.DurationVariable); ok {
			if f, ok := toFloat(raw); ok {
				ms = int(f)
			}
		}
	}
	if ms < 0 {
		return nil, domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "delay duration is negative",
			Details: map[string]interface{}{"node_id": node.ID, "duration_ms": ms},
		}
	}

	wait := time.Duration(ms) * time.Millisecond
	if max := ex.engine.config.MaxDelay; wait > max {
		state.AppendLog(fmt.Sprintf("delay clamped from %s to %s", wait, max))
		wait = max
	}

	if ex.execCtx.DryRun {
		ex.traceEntry(node.ID, "delay", map[string]interface{}{"duration_ms": int(wait / time.Millisecond)})
		state.Output = input
		return routeAll(input), nil
	}

	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return nil, domain.Error{
			Type:    domain.ErrorTypeCancelled,
			Message: "delay interrupted",
			Cause:   ctx.Err(),
		}
	}
	state.Output = input
	return routeAll(input), nil
}
