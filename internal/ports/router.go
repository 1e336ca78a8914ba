package ports

import "context"

// CapabilityRouter dispatches module actions and outbound messages to the
// platform. Calls may suspend; implementations honor the context deadline.
type CapabilityRouter interface {
	InvokeCapability(ctx context.Context, name, version string, input map[string]interface{}) (map[string]interface{}, error)
	SendChatMessage(ctx context.Context, channel, message string) error
	UpdateBrowserSource(ctx context.Context, update BrowserSourceUpdate) error
}

type BrowserSourceUpdate struct {
	Action     string `json:"action"`
	Content    string `json:"content"`
	DurationMs int    `json:"duration_ms,omitempty"`
	Priority   int    `json:"priority,omitempty"`
}
