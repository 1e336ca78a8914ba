// Package router provides the default capability router for standalone
// deployments. It satisfies ports.CapabilityRouter without a platform
// attached: chat and browser-source calls are logged and acknowledged,
// module invocations fail until a real router is wired in.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weft-io/weft/internal/ports"
)

type Standalone struct {
	logger *slog.Logger
}

func NewStandalone(logger *slog.Logger) *Standalone {
	return &Standalone{logger: logger.With("component", "router")}
}

func (r *Standalone) InvokeCapability(ctx context.Context, name, version string, input map[string]interface{}) (map[string]interface{}, error) {
	r.logger.Warn("module invocation with no platform attached",
		"module", name,
		"version", version)
	return nil, fmt.Errorf("no capability provider registered for module %s", name)
}

func (r *Standalone) SendChatMessage(ctx context.Context, channel, message string) error {
	r.logger.Info("chat message",
		"channel", channel,
		"length", len(message))
	return nil
}

func (r *Standalone) UpdateBrowserSource(ctx context.Context, update ports.BrowserSourceUpdate) error {
	r.logger.Info("browser source update",
		"action", update.Action,
		"duration_ms", update.DurationMs)
	return nil
}
