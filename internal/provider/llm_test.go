package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/encnetwork/doctrans/internal/document"
	"github.com/encnetwork/doctrans/internal/llm"
)

func newTestTranslator(t *testing.T, apiURL string) *LLMTranslator {
	t.Helper()
	client, err := llm.NewClient(&llm.Config{
		APIKey:      "test-key",
		APIURL:      apiURL,
		Model:       "gpt-4.1",
		MaxTokens:   1000,
		Temperature: 0.1,
		Timeout:     5,
	})
	require.NoError(t, err)
	translator, err := NewLLMTranslator(client)
	require.NoError(t, err)
	return translator
}

func chatReply(content string) string {
	reply := map[string]any{
		"id":     "resp-1",
		"object": "chat.completion",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	}
	data, _ := json.Marshal(reply)
	return string(data)
}

func TestTranslateBatch_RoundTrip(t *testing.T) {
	var gotRequest llm.ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))

		fmt.Fprint(w, chatReply(`{"translations": [
			{"id": "u0", "translated_text": "hallo"},
			{"id": "u1", "translated_text": "welt"}
		]}`))
	}))
	defer server.Close()

	translator := newTestTranslator(t, server.URL)
	units := []document.TranslationUnit{
		{ID: "u0", Text: "hello", Scope: "Sheet1!A1"},
		{ID: "u1", Text: "world", Scope: "Sheet1!A2"},
	}

	got, err := translator.TranslateBatch(context.Background(), units, "en", "de")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"u0": "hallo", "u1": "welt"}, got)

	require.NotNil(t, gotRequest.ResponseFormat)
	assert.Equal(t, "json_schema", gotRequest.ResponseFormat.Type)
	require.Len(t, gotRequest.Messages, 2)
	assert.Equal(t, "system", gotRequest.Messages[0].Role)
	assert.Contains(t, gotRequest.Messages[1].Content, "Sheet1!A1")
}

func TestTranslateBatch_EmptyInput(t *testing.T) {
	translator := newTestTranslator(t, "http://localhost:1")

	got, err := translator.TranslateBatch(context.Background(), nil, "en", "de")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTranslateBatch_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "rate limited", "type": "rate_limit"}}`)
	}))
	defer server.Close()

	translator := newTestTranslator(t, server.URL)
	_, err := translator.TranslateBatch(context.Background(), []document.TranslationUnit{{ID: "u0", Text: "hi"}}, "en", "de")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestParseResponse_UnwrapsCodeFence(t *testing.T) {
	translator := newTestTranslator(t, "http://localhost:1")
	units := []document.TranslationUnit{{ID: "u0", Text: "hello"}}

	content := "```json\n{\"translations\": [{\"id\": \"u0\", \"translated_text\": \"hallo\"}]}\n```"
	got, err := translator.parseResponse(content, units)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"u0": "hallo"}, got)
}

func TestParseResponse_DropsUnknownIDs(t *testing.T) {
	translator := newTestTranslator(t, "http://localhost:1")
	units := []document.TranslationUnit{{ID: "u0", Text: "hello"}}

	got, err := translator.parseResponse(`{"translations": [
		{"id": "u0", "translated_text": "hallo"},
		{"id": "u99", "translated_text": "ghost"}
	]}`, units)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"u0": "hallo"}, got)
}

func TestParseResponse_RejectsInvalidJSON(t *testing.T) {
	translator := newTestTranslator(t, "http://localhost:1")

	_, err := translator.parseResponse("not json at all", nil)
	require.Error(t, err)
}

func TestParseResponse_RejectsWrongShape(t *testing.T) {
	translator := newTestTranslator(t, "http://localhost:1")

	_, err := translator.parseResponse(`{"translations": [{"id": "u0"}]}`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestDetectLanguage(t *testing.T) {
	got := detectLanguage([]string{
		"The quick brown fox jumps over the lazy dog.",
		"This is a longer English sentence to make detection reliable.",
	})
	assert.Equal(t, "en", got)

	assert.Equal(t, "", detectLanguage([]string{"   "}))
}

func TestLanguageName(t *testing.T) {
	assert.Equal(t, "German", languageName("de"))
	assert.Equal(t, "??", languageName("??"))
}
