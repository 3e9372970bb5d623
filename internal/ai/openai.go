// Package ai wraps the OpenAI API behind the narrow collaborator contracts
// the pipeline consumes: query generation, humanization, chart planning, and
// audio transcription.
package ai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"insightbot/internal/model"
)

// completionAPI is the slice of the OpenAI client the package uses.
// *openai.Client satisfies it; tests substitute a fake.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// SchemaProvider exposes the current table layout for prompt building. The
// dataset engine implements it; the schema can change on CSV reload.
type SchemaProvider interface {
	Schema() (table string, columns []string)
}

type Client struct {
	api    completionAPI
	cfg    model.OpenAIConfig
	schema SchemaProvider
}

func NewClient(cfg model.OpenAIConfig, schema SchemaProvider) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key not configured")
	}
	return &Client{
		api:    openai.NewClient(cfg.APIKey),
		cfg:    cfg,
		schema: schema,
	}, nil
}

// SetAPI overrides the OpenAI client for testing.
func (c *Client) SetAPI(api completionAPI) {
	c.api = api
}

// GenerateQuery turns the user's question into a SQL query. An empty SQL
// string means the model could not map the question onto the dataset.
func (c *Client) GenerateQuery(ctx context.Context, userText string) (model.Query, error) {
	table, columns := c.schema.Schema()
	prompt := buildQueryPrompt(table, columns, userText)

	raw, err := c.complete(ctx, c.cfg.QueryModel, prompt)
	if err != nil {
		return model.Query{}, fmt.Errorf("generate query: %w", err)
	}

	return model.Query{
		SQL:    sanitizeQuery(raw),
		Params: map[string]any{},
	}, nil
}

// Humanize converts raw result rows into a natural-language reply.
func (c *Client) Humanize(ctx context.Context, userText, data, query string) (string, error) {
	prompt := buildHumanPrompt(userText, data, query)

	reply, err := c.complete(ctx, c.cfg.HumanizerModel, prompt)
	if err != nil {
		return "", fmt.Errorf("humanize: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

// ChartSpecJSON asks the model to pick a chart for the data and returns the
// raw JSON spec; the chart renderer parses and draws it.
func (c *Client) ChartSpecJSON(ctx context.Context, userText, data string) (string, error) {
	prompt := buildChartPrompt(userText, data)

	raw, err := c.complete(ctx, c.cfg.ChartModel, prompt)
	if err != nil {
		return "", fmt.Errorf("plan chart: %w", err)
	}
	return stripFences(raw), nil
}

// Transcribe converts a local WAV file into text.
func (c *Client) Transcribe(ctx context.Context, audioFilePath string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.TranscribeModel,
		FilePath: audioFilePath,
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe audio: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (c *Client) complete(ctx context.Context, modelName, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       modelName,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// sanitizeQuery normalizes a model response into a bare SELECT statement.
// Anything that does not start with SELECT after cleanup is treated as
// "could not understand" and mapped to the empty query.
func sanitizeQuery(raw string) string {
	q := stripFences(raw)
	q = strings.TrimSuffix(q, ";")
	q = strings.TrimSpace(q)
	if !strings.HasPrefix(strings.ToUpper(q), "SELECT") {
		return ""
	}
	return q
}

// stripFences removes markdown code fences models sometimes wrap output in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
