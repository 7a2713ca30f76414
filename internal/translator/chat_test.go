package translator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lawchat-gateway/internal/models"
	"lawchat-gateway/internal/reconcile"
)

func TestChatRequestToOptions(t *testing.T) {
	var req ChatRequest
	require.NoError(t, json.Unmarshal([]byte(`{"question":"  租約提前終止？ ","enableSearch":true,"showThinking":true}`), &req))

	assert.Equal(t, "租約提前終止？", req.TrimmedQuestion())
	assert.Equal(t, reconcile.Options{ShowReferences: true, ShowThinking: true}, req.ToOptions())
	assert.Equal(t, reconcile.Options{}, ChatRequest{Question: "q"}.ToOptions())
}

func TestFromReconciled(t *testing.T) {
	thinking := "先確認法條"
	ans := &models.ReconciledAnswer{
		Text:          "回答[1]",
		AnnotatedText: `回答<sup><a href="#ref-1">[1]</a></sup>`,
		Thinking:      &thinking,
		References:    []models.Reference{{ID: 1, Title: "民法", URL: "https://law.moj.gov.tw"}},
		Response: &models.CompletionResponse{
			Candidates:    []models.Candidate{{Content: &models.Content{Parts: []models.Part{{Text: "回答[1]"}}}}},
			UsageMetadata: &models.Usage{TotalTokenCount: 42},
		},
	}

	data, err := json.Marshal(FromReconciled(ans))
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "先確認法條", body["reconciledThinking"])
	assert.Len(t, body["candidates"], 1)
	assert.EqualValues(t, 42, body["usageMetadata"].(map[string]any)["totalTokenCount"])

	answer := body["answer"].(map[string]any)
	assert.Equal(t, "回答[1]", answer["text"])
	assert.Len(t, answer["references"], 1)
}

func TestFromReconciledEmptyFields(t *testing.T) {
	data, err := json.Marshal(FromReconciled(&models.ReconciledAnswer{Text: "a", AnnotatedText: "a"}))
	require.NoError(t, err)

	assert.JSONEq(t, `{"candidates":[],"answer":{"text":"a","annotatedText":"a","references":[]}}`, string(data))
}
