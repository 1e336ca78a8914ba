package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/weft-io/weft/internal/domain"
)

// signatureHeader carries the hex HMAC-SHA256 of the request body keyed by
// the trigger's shared token.
const signatureHeader = "X-Weft-Signature"

// webhookGuard keeps one rate limiter per workflow hook.
type webhookGuard struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newWebhookGuard() *webhookGuard {
	return &webhookGuard{limiters: make(map[string]*rate.Limiter)}
}

// allow enforces a per-minute request budget for one hook.
func (g *webhookGuard) allow(workflowID string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}

	g.mu.Lock()
	limiter, ok := g.limiters[workflowID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		g.limiters[workflowID] = limiter
	}
	g.mu.Unlock()

	return limiter.Allow()
}

// webhookTrigger is the public entry point for webhook trigger nodes. The
// caller proves knowledge of the trigger token by signing the body; no
// operator credentials are involved.
func (s *Server) webhookTrigger(c echo.Context) error {
	ctx := c.Request().Context()
	graph, err := s.storage.LoadGraph(ctx, c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	if graph.Status != domain.WorkflowStatusActive {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no active hook"})
	}

	var trigger *domain.Node
	for _, node := range graph.TriggerNodes() {
		if node.Type == domain.NodeTypeWebhookTrigger && node.Enabled {
			trigger = node
			break
		}
	}
	if trigger == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no active hook"})
	}

	var cfg domain.WebhookTriggerConfig
	if err := domain.DecodeConfig(trigger, &cfg); err != nil {
		return s.fail(c, err)
	}

	if !ipAllowed(c.RealIP(), cfg.AllowedIPs) {
		s.logger.Warn("webhook from disallowed source",
			"workflow_id", graph.ID,
			"remote_ip", c.RealIP())
		return c.JSON(http.StatusForbidden, map[string]string{"error": "source not allowed"})
	}

	if !s.hooks.allow(graph.ID, cfg.RateLimit) {
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
	}

	body, err := readBody(c)
	if err != nil {
		return s.fail(c, err)
	}

	if !verifySignature(cfg.Token, body, c.Request().Header.Get(signatureHeader)) {
		s.logger.Warn("webhook signature mismatch", "workflow_id", graph.ID)
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	}

	var payload map[string]interface{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return s.fail(c, domain.Error{
				Type:    domain.ErrorTypeValidation,
				Message: "webhook body is not a JSON object",
				Cause:   err,
			})
		}
	}

	executionID, err := s.manager.Start(ctx, graph, domain.TriggerInput{
		TriggerNodeID: trigger.ID,
		Data:          payload,
	})
	if err != nil {
		return s.fail(c, err)
	}

	s.logger.Info("webhook fired", "workflow_id", graph.ID, "execution_id", executionID)
	return c.JSON(http.StatusAccepted, map[string]string{"execution_id": executionID})
}

func verifySignature(token string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write([]byte(token))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}

// ipAllowed accepts exact addresses and CIDR ranges. An empty allowlist
// admits everyone.
func ipAllowed(remote string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}

	ip := net.ParseIP(remote)
	for _, entry := range allowed {
		if entry == remote {
			return true
		}
		if _, cidr, err := net.ParseCIDR(entry); err == nil && ip != nil && cidr.Contains(ip) {
			return true
		}
	}
	return false
}
