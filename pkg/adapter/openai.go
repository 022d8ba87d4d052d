package adapter

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// OpenAIClient implements LLM on the OpenAI chat completions API.
// Structured output uses JSON mode with the schema embedded in the
// prompt, since the API has no native schema parameter.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

type OpenAIOption func(*OpenAIClient)

func WithOpenAIModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.model = model
	}
}

func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  "gpt-4o-mini",
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *OpenAIClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to create chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", goerr.New("empty model response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal response schema")
	}

	fullPrompt := prompt +
		"\n\nRespond with a single JSON object conforming to this schema, with no other text:\n" +
		string(schemaJSON)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fullPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to create chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", goerr.New("empty model response")
	}
	return resp.Choices[0].Message.Content, nil
}
