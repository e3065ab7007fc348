package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/voiceflow/types"
)

func TestSarvamGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("api-subscription-key"))

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sarvam-m", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.Equal(t, "what is the weather", req.Messages[1].Content)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "Sunny today."}},
			},
			"usage": map[string]any{"prompt_tokens": 20, "completion_tokens": 5},
			"model": "sarvam-m",
		})
	}))
	defer srv.Close()

	client := NewSarvamClient(srv.URL, "test-key")
	resp, err := client.Generate(context.Background(), &GenerateRequest{
		SystemPrompt: "You are a helpful AI assistant.",
		UserText:     "what is the weather",
		Temperature:  0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Sunny today.", resp.Text)
	assert.Equal(t, int64(20), resp.InputTokens)
	assert.Equal(t, int64(5), resp.OutputTokens)
	assert.Equal(t, "sarvam-m", resp.Model)
}

func TestSarvamGeneratePassesMaxTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, float64(50), req["max_tokens"])

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "short"}},
			},
		})
	}))
	defer srv.Close()

	maxTokens := 50
	client := NewSarvamClient(srv.URL, "k")
	_, err := client.Generate(context.Background(), &GenerateRequest{
		UserText:  "hi",
		MaxTokens: &maxTokens,
	})
	require.NoError(t, err)
}

func TestSarvamGenerateEstimatesMissingUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "a reasonably long answer with several words"}},
			},
		})
	}))
	defer srv.Close()

	client := NewSarvamClient(srv.URL, "k")
	resp, err := client.Generate(context.Background(), &GenerateRequest{
		SystemPrompt: "system",
		UserText:     "question",
	})
	require.NoError(t, err)
	assert.Greater(t, resp.InputTokens, int64(0))
	assert.Greater(t, resp.OutputTokens, int64(0))
}

func TestSarvamGenerateRejectsEmptyText(t *testing.T) {
	client := NewSarvamClient("http://unused", "k")
	_, err := client.Generate(context.Background(), &GenerateRequest{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestSarvamGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewSarvamClient(srv.URL, "k")
	_, err := client.Generate(context.Background(), &GenerateRequest{UserText: "hi"})
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
}

func TestSarvamGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	client := NewSarvamClient(srv.URL, "k")
	_, err := client.Generate(context.Background(), &GenerateRequest{UserText: "hi"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrProviderFailure))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Greater(t, EstimateTokens("hello world"), 0)
	// 更长的文本应产生更多 token
	short := EstimateTokens("hi")
	long := EstimateTokens("this is a considerably longer sentence with many more words in it")
	assert.Greater(t, long, short)
}
