package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	ollama := DefaultConfig("ollama")
	assert.Equal(t, "http://127.0.0.1:11434", ollama.Endpoint)
	assert.NotEmpty(t, ollama.Model)
	assert.Equal(t, 30*time.Second, ollama.Timeout)

	openai := DefaultConfig("openai")
	assert.Equal(t, "https://api.openai.com/v1", openai.Endpoint)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(&ProviderConfig{Name: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())

	p, err = NewProvider(&ProviderConfig{Name: "openai", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.True(t, p.Available())

	_, err = NewProvider(&ProviderConfig{Name: "mystery"})
	assert.Error(t, err)

	_, err = NewProvider(nil)
	assert.Error(t, err)
}

func TestOllamaChat(t *testing.T) {
	var gotReq ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:           gotReq.Model,
			Message:         ollamaMessage{Role: "assistant", Content: `{"command":"email_list"}`},
			Done:            true,
			PromptEvalCount: 40,
			EvalCount:       12,
		})
	}))
	defer server.Close()

	p := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL})
	resp, err := p.Chat(context.Background(), &ChatRequest{
		SystemPrompt: "You map utterances to commands.",
		Messages:     []Message{{Role: "user", Content: "check my email"}},
		JSONMode:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"command":"email_list"}`, resp.Content)
	assert.Equal(t, 52, resp.TokensUsed)
	assert.False(t, gotReq.Stream)
	assert.Equal(t, "json", gotReq.Format)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
}

func TestOllamaChatTemperature(t *testing.T) {
	var gotReq ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: "ok"},
			Done:    true,
		})
	}))
	defer server.Close()

	p := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL, Temperature: 0.2})

	// An explicit zero must reach the backend untouched.
	_, err := p.Chat(context.Background(), &ChatRequest{
		Messages:    []Message{{Role: "user", Content: "hi"}},
		Temperature: Temp(0),
	})
	require.NoError(t, err)
	assert.Zero(t, gotReq.Options.Temperature)

	// Unset falls back to the configured default.
	_, err = p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.2, gotReq.Options.Temperature)
}

func TestOllamaChatErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	p := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL})
	_, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestOllamaChatContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL})
	_, err := p.Chat(ctx, &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	assert.Error(t, err)
}

func TestOpenAIChat(t *testing.T) {
	var gotAuth string
	var gotReq openaiChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		resp := openaiChatResponse{Model: gotReq.Model}
		resp.Choices = []struct {
			Message      openaiMessage `json:"message"`
			FinishReason string        `json:"finish_reason"`
		}{
			{Message: openaiMessage{Role: "assistant", Content: "done"}, FinishReason: "stop"},
		}
		resp.Usage.TotalTokens = 20
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewOpenAIProvider(&ProviderConfig{Endpoint: server.URL, APIKey: "sk-test", Temperature: 0.3})
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages:    []Message{{Role: "user", Content: "hello"}},
		JSONMode:    true,
		Temperature: Temp(0),
	})
	require.NoError(t, err)

	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, 20, resp.TokensUsed)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Zero(t, gotReq.Temperature, "explicit zero temperature reaches the backend")
	require.NotNil(t, gotReq.ResponseFormat)
	assert.Equal(t, "json_object", gotReq.ResponseFormat.Type)
}

func TestOpenAIAvailableRequiresKey(t *testing.T) {
	assert.False(t, NewOpenAIProvider(&ProviderConfig{}).Available())
	assert.True(t, NewOpenAIProvider(&ProviderConfig{APIKey: "sk-x"}).Available())
}
