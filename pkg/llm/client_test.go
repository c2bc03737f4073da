package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecoach-server/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*OpenAIClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	os.Setenv("OPENAI_API_KEY", "test-key")
	t.Cleanup(func() { os.Unsetenv("OPENAI_API_KEY") })

	config := DefaultClientConfig()
	config.APIURL = server.URL
	config.MaxRetries = 1

	client := NewOpenAIClient(logrus.New(), config)
	require.NoError(t, client.Initialize())
	return client, server
}

func completionResponse(content interface{}) []byte {
	inner, _ := json.Marshal(content)
	body, _ := json.Marshal(map[string]interface{}{
		"id":    "cmpl-1",
		"model": "gpt-4o-mini",
		"choices": []map[string]interface{}{
			{"index": 0, "finish_reason": "stop", "message": map[string]string{
				"role":    "assistant",
				"content": string(inner),
			}},
		},
	})
	return body
}

func TestGenerateTipDecodesStructuredResult(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatCompletionsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)

		w.Write(completionResponse(map[string]interface{}{
			"tip":              "Ask about their timeline",
			"suggested_script": "When would you like to go live?",
			"urgency":          "medium",
			"reasoning":        "Customer mentioned urgency",
			"sentiment":        "neutral",
		}))
	})

	result, err := client.GenerateTip(context.Background(), &TipRequest{
		LatestCustomerUtterance: "I need this fast",
	})
	require.NoError(t, err)
	assert.Equal(t, "Ask about their timeline", result.Tip)
	assert.Equal(t, "medium", result.Urgency)
}

func TestExtractRequirementsEmptyList(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(completionResponse(map[string]interface{}{"requirements": []interface{}{}}))
	})

	candidates, err := client.ExtractRequirements(context.Background(), &ExtractionRequest{})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestCompleteRetriesOnServerError(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write(completionResponse(map[string]interface{}{
			"objective":            "Close the deal",
			"recommended_approach": "Lead with ROI",
			"focus_areas":          []string{"pricing"},
			"risk_factors":         []string{},
			"opportunities":        []string{},
			"next_steps":           []string{"Send proposal"},
			"confidence":           0.8,
		}))
	})

	result, err := client.GenerateStrategy(context.Background(), &StrategyRequest{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "Close the deal", result.Objective)
}

func TestCompleteDoesNotRetryClientError(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	_, err := client.GenerateTip(context.Background(), &TipRequest{})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestMalformedAnswerSurfacesSentinel(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]interface{}{
			"id": "cmpl-2",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "not json"}},
			},
		})
		w.Write(body)
	})

	_, err := client.GenerateFeedback(context.Background(), &FeedbackRequest{})
	assert.True(t, errors.Is(err, errors.ErrMalformedResponse))
}

func TestSystemPromptsExistForAllKinds(t *testing.T) {
	for _, kind := range []PromptKind{PromptTip, PromptExtraction, PromptStrategy, PromptFeedback, PromptReconciliation} {
		prompt, ok := SystemPrompt(kind)
		assert.True(t, ok)
		assert.NotEmpty(t, prompt)
	}
}
