// Package openai implements llm.Classifier against an OpenAI-compatible
// chat completions endpoint.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mailsift/mailsift/internal/llm"
)

const (
	providerName = "openai"

	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"

	chatEndpoint = "/chat/completions"
)

var _ llm.Classifier = (*Classifier)(nil)

// Classifier classifies email threads via chat completions with a JSON
// response contract.
type Classifier struct {
	config     llm.Config
	httpClient *llm.HTTPClient
}

// New creates a new OpenAI classifier.
func New(cfg llm.Config) (*Classifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api key is required", providerName)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &Classifier{
		config:     cfg,
		httpClient: llm.NewHTTPClient(cfg),
	}, nil
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify submits one batch and returns the validated result.
func (c *Classifier) Classify(ctx context.Context, batch []llm.Thread, topics llm.Topics) (llm.Result, error) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return llm.Result{}, llm.WrapError(providerName, fmt.Errorf("failed to encode batch: %w", err))
	}

	req := chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(topics)},
			{Role: "user", Content: string(payload)},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return llm.Result{}, llm.WrapError(providerName, err)
	}

	respBody, err := c.httpClient.Do(ctx, c.config.BaseURL+chatEndpoint, body, map[string]string{
		"Authorization": "Bearer " + c.config.APIKey,
	})
	if err != nil {
		return llm.Result{}, llm.WrapError(providerName, err)
	}
	defer func() { _ = respBody.Close() }()

	var resp chatResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return llm.Result{}, llm.WrapError(providerName, fmt.Errorf("failed to decode response: %w", err))
	}
	if len(resp.Choices) == 0 {
		return llm.Result{}, llm.WrapError(providerName, fmt.Errorf("no choices in response"))
	}

	return ParseResult(resp.Choices[0].Message.Content)
}

// ParseResult decodes and structurally validates the model output.
func ParseResult(content string) (llm.Result, error) {
	var raw struct {
		MustDo   *[]llm.Finding `json:"mustDo"`
		MustKnow *[]llm.Finding `json:"mustKnow"`
	}
	dec := json.NewDecoder(strings.NewReader(content))
	if err := dec.Decode(&raw); err != nil {
		return llm.Result{}, fmt.Errorf("%w: %v", llm.ErrMalformedResult, err)
	}
	if raw.MustDo == nil || raw.MustKnow == nil {
		return llm.Result{}, fmt.Errorf("%w: missing mustDo or mustKnow array", llm.ErrMalformedResult)
	}

	result := llm.Result{MustDo: *raw.MustDo, MustKnow: *raw.MustKnow}
	for _, f := range result.MustDo {
		if f.EmailID == "" || f.Topic == "" {
			return llm.Result{}, fmt.Errorf("%w: mustDo finding missing emailId or topic", llm.ErrMalformedResult)
		}
	}
	for _, f := range result.MustKnow {
		if f.EmailID == "" || f.Topic == "" {
			return llm.Result{}, fmt.Errorf("%w: mustKnow finding missing emailId or topic", llm.ErrMalformedResult)
		}
	}
	return result, nil
}

func systemPrompt(topics llm.Topics) string {
	var b strings.Builder
	b.WriteString("You triage email threads for a single user. ")
	b.WriteString("Classify each email into at most one of two buckets.\n\n")

	b.WriteString("MUST DO topics (emails requiring an action by the user):\n")
	writeTopics(&b, topics.MustDo)
	if topics.MustDoOther {
		b.WriteString("- other: any email clearly requiring user action outside the listed topics\n")
	}

	b.WriteString("\nMUST KNOW topics (emails with information the user needs):\n")
	writeTopics(&b, topics.MustKnow)
	if topics.MustKnowOther {
		b.WriteString("- other: any email with clearly important information outside the listed topics\n")
	}

	b.WriteString(`
Respond with a single JSON object of shape
{"mustDo": [{"emailId", "rfc822Id", "subject", "sender", "topic", "keyAction", "date"}],
 "mustKnow": [{"emailId", "rfc822Id", "subject", "sender", "topic", "keyKnowledge", "date"}]}.
Both arrays are required and may be empty. Every finding must carry the
emailId of the classified email and the matched topic. keyAction is a
one-sentence action statement; keyKnowledge is a one-sentence summary.
Emails matching no topic are omitted entirely.`)
	return b.String()
}

func writeTopics(b *strings.Builder, topics []string) {
	if len(topics) == 0 {
		b.WriteString("- (none configured)\n")
		return
	}
	for _, t := range topics {
		b.WriteString("- " + t + "\n")
	}
}
