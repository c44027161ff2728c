package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/encnetwork/doctrans/internal/document"
	"github.com/encnetwork/doctrans/internal/llm"
	"github.com/encnetwork/doctrans/pkg/log"
)

// responseSchema constrains the provider output to the exact shape the
// parser expects: one translated_text per submitted id.
const responseSchema = `{
	"type": "object",
	"properties": {
		"translations": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"translated_text": {"type": "string"}
				},
				"required": ["id", "translated_text"],
				"additionalProperties": false
			}
		}
	},
	"required": ["translations"],
	"additionalProperties": false
}`

const systemPrompt = `You are a professional document translator. You translate text fragments extracted from office documents.

Rules:
- Translate each fragment from the source language to the target language.
- Preserve placeholders, numbers, formatting markers and whitespace exactly.
- Do not merge, split, reorder or omit fragments.
- Keep proper nouns, product names and code identifiers untranslated.
- Return every fragment id you were given, each exactly once.`

type batchRequest struct {
	SourceLanguage string                     `json:"source_language"`
	TargetLanguage string                     `json:"target_language"`
	Fragments      []document.TranslationUnit `json:"fragments"`
}

type batchResponse struct {
	Translations []struct {
		ID             string `json:"id"`
		TranslatedText string `json:"translated_text"`
	} `json:"translations"`
}

// LLMTranslator implements Client on top of an OpenAI-compatible chat
// API, asking for structured output and validating what comes back.
type LLMTranslator struct {
	client *llm.Client
	schema *jsonschema.Schema
}

func NewLLMTranslator(client *llm.Client) (*LLMTranslator, error) {
	schema, err := jsonschema.CompileString("translations.json", responseSchema)
	if err != nil {
		return nil, fmt.Errorf("compile response schema: %w", err)
	}
	return &LLMTranslator{client: client, schema: schema}, nil
}

func (t *LLMTranslator) TranslateBatch(ctx context.Context, units []document.TranslationUnit, sourceLang, targetLang string) (map[string]string, error) {
	if len(units) == 0 {
		return map[string]string{}, nil
	}

	source := sourceLang
	if source == AutoDetect {
		texts := make([]string, 0, len(units))
		for _, unit := range units {
			texts = append(texts, unit.Text)
		}
		if detected := detectLanguage(texts); detected != "" {
			source = detected
			log.Debug("Detected source language %q for batch of %d units", detected, len(units))
		}
	}

	userPrompt, err := buildUserPrompt(source, targetLang, units)
	if err != nil {
		return nil, err
	}

	format := &llm.ResponseFormat{
		Type: "json_schema",
		JSONSchema: &llm.JSONSchema{
			Name:   "translations",
			Strict: true,
			Schema: json.RawMessage(responseSchema),
		},
	}
	response, err := t.client.ChatCompletion(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}, format)
	if err != nil {
		return nil, err
	}
	content, err := response.Content()
	if err != nil {
		return nil, err
	}
	return t.parseResponse(content, units)
}

func buildUserPrompt(sourceLang, targetLang string, units []document.TranslationUnit) (string, error) {
	request := batchRequest{
		SourceLanguage: describeLang(sourceLang),
		TargetLanguage: describeLang(targetLang),
		Fragments:      units,
	}
	payload, err := json.MarshalIndent(request, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode batch request: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Translate the fragments below from %s to %s.\n\n", request.SourceLanguage, request.TargetLanguage)
	b.WriteString(string(payload))
	return b.String(), nil
}

func describeLang(code string) string {
	if code == AutoDetect || code == "" {
		return "the detected source language"
	}
	name := languageName(code)
	if name == code {
		return code
	}
	return fmt.Sprintf("%s (%s)", name, code)
}

// parseResponse validates the model output against the schema and maps
// it back onto the submitted ids. Ids the model invented are dropped
// with a warning instead of poisoning the result.
func (t *LLMTranslator) parseResponse(content string, units []document.TranslationUnit) (map[string]string, error) {
	content = stripCodeFence(content)

	var raw interface{}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("provider returned invalid JSON: %w", err)
	}
	if err := t.schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("provider response failed schema validation: %w", err)
	}

	var parsed batchResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}

	known := make(map[string]bool, len(units))
	for _, unit := range units {
		known[unit.ID] = true
	}

	result := make(map[string]string, len(parsed.Translations))
	for _, item := range parsed.Translations {
		if !known[item.ID] {
			log.Warn("Provider returned unknown fragment id %q, dropping", item.ID)
			continue
		}
		result[item.ID] = item.TranslatedText
	}
	return result, nil
}

// stripCodeFence unwraps a ```json ... ``` block if the model added one
// despite the structured output request.
func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
