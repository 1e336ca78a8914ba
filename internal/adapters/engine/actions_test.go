package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-io/weft/internal/domain"
)

func webhookGraph(url string, retries int) *domain.WorkflowGraph {
	return buildGraph(
		[]*domain.Node{
			node("start", domain.NodeTypeEventTrigger, map[string]interface{}{"event_type": "tick"}),
			node("hook", domain.NodeTypeWebhookAction, map[string]interface{}{
				"url":             url,
				"method":          "POST",
				"body":            `{"user":"{{user}}"}`,
				"retry_count":     retries,
				"output_variable": "hook_result",
			}),
			node("end", domain.NodeTypeEnd, map[string]interface{}{}),
		},
		[]domain.Connection{
			conn("start", "out", "hook"),
			conn("hook", "out", "end"),
		},
	)
}

func TestWebhookAction_RetriesServerErrorsWithBackoff(t *testing.T) {
	var calls atomic.Int32
	var delays []time.Duration
	last := time.Now()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delays = append(delays, time.Since(last))
		last = time.Now()
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	router := &recordingRouter{}
	e := testEngine(router)

	result, err := e.Execute(context.Background(), webhookGraph(srv.URL, 3), domain.TriggerInput{
		Data: map[string]interface{}{"user": "ada"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, result.NodeStates["hook"].RetryCount)

	// First retry backs off one second, the second two.
	require.Len(t, delays, 3)
	assert.GreaterOrEqual(t, delays[1], 1*time.Second)
	assert.GreaterOrEqual(t, delays[2], 2*time.Second)
}

func TestWebhookAction_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	router := &recordingRouter{}
	e := testEngine(router)

	result, err := e.Execute(context.Background(), webhookGraph(srv.URL, 4), domain.TriggerInput{})
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionStatusFailed, result.Status)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, domain.NodeStatusFailed, result.NodeStates["hook"].Status)
}

func TestWebhookAction_RendersTemplatesAndStoresResponse(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":42}`))
	}))
	defer srv.Close()

	router := &recordingRouter{}
	e := testEngine(router)

	result, err := e.Execute(context.Background(), webhookGraph(srv.URL, 0), domain.TriggerInput{
		Data: map[string]interface{}{"user": "ada"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, `{"user":"ada"}`, gotBody)

	hookOutput := result.NodeStates["hook"].Output
	require.NotNil(t, hookOutput)
	response, ok := hookOutput["response"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 200, response["status"])
}

func TestWebhookAction_DryRunSkipsTheCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	router := &recordingRouter{}
	e := testEngine(router)

	result, err := e.DryRun(context.Background(), webhookGraph(srv.URL, 0), domain.TriggerInput{})
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, int32(0), calls.Load())

	var traced bool
	for _, entry := range result.Trace {
		if entry.NodeID == "hook" && entry.Action == "http.request" {
			traced = true
		}
	}
	assert.True(t, traced)
}

func TestModuleAction_MapsInputAndOutput(t *testing.T) {
	router := &recordingRouter{
		invokeResult: map[string]interface{}{"audio_url": "https://cdn.example/clip.mp3"},
	}
	e := testEngine(router)

	g := buildGraph(
		[]*domain.Node{
			node("start", domain.NodeTypeEventTrigger, map[string]interface{}{"event_type": "tick"}),
			node("tts", domain.NodeTypeModuleAction, map[string]interface{}{
				"name":    "tts",
				"version": "v2",
				"input_mapping": map[string]interface{}{
					"text": "say {{user}}",
				},
				"output_mapping": map[string]interface{}{
					"audio_url": "clip",
				},
			}),
			node("say", domain.NodeTypeChatMessage, chatConfig("{{clip}}")),
		},
		[]domain.Connection{
			conn("start", "out", "tts"),
			conn("tts", "out", "say"),
		},
	)

	result, err := e.Execute(context.Background(), g, domain.TriggerInput{
		Data: map[string]interface{}{"user": "ada"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, []string{"tts@v2"}, router.invocations)
	assert.Equal(t, []string{"https://cdn.example/clip.mp3"}, router.sentMessages())
}

func TestDelay_NegativeDurationFails(t *testing.T) {
	router := &recordingRouter{}
	e := testEngine(router)

	g := buildGraph(
		[]*domain.Node{
			node("start", domain.NodeTypeEventTrigger, map[string]interface{}{"event_type": "tick"}),
			node("wait", domain.NodeTypeDelay, map[string]interface{}{"duration_variable": "pause"}),
		},
		[]domain.Connection{
			conn("start", "out", "wait"),
		},
	)

	result, err := e.Execute(context.Background(), g, domain.TriggerInput{
		Data: map[string]interface{}{"pause": -50},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionStatusFailed, result.Status)
	assert.Equal(t, domain.ErrorTypeValidation.String(), result.ErrorType)
}
