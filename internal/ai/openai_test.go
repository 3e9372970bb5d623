package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightbot/internal/model"
)

// fakeAPI implements completionAPI, replaying canned responses.
type fakeAPI struct {
	reply      string
	transcript string
	err        error
	lastPrompt string
	lastModel  string
}

func (f *fakeAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastModel = req.Model
	if len(req.Messages) > 0 {
		f.lastPrompt = req.Messages[len(req.Messages)-1].Content
	}
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

func (f *fakeAPI) CreateTranscription(_ context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	if f.err != nil {
		return openai.AudioResponse{}, f.err
	}
	return openai.AudioResponse{Text: f.transcript}, nil
}

type staticSchema struct{}

func (staticSchema) Schema() (string, []string) {
	return "dataset", []string{"data", "regiao", "vendas"}
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	c, err := NewClient(model.OpenAIConfig{
		APIKey:          "test-key",
		QueryModel:      "gpt-4o-mini",
		HumanizerModel:  "gpt-4o-mini",
		TranscribeModel: "gpt-4o-transcribe",
		ChartModel:      "gpt-4o-mini",
	}, staticSchema{})
	require.NoError(t, err)
	c.SetAPI(api)
	return c
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(model.OpenAIConfig{}, staticSchema{})
	assert.Error(t, err)
}

func TestGenerateQuery(t *testing.T) {
	api := &fakeAPI{reply: "SELECT SUM(vendas) FROM dataset WHERE data >= '2023-01-01';"}
	c := newTestClient(t, api)

	q, err := c.GenerateQuery(context.Background(), "total sales 2023")
	require.NoError(t, err)

	assert.Equal(t, "SELECT SUM(vendas) FROM dataset WHERE data >= '2023-01-01'", q.SQL)
	assert.Empty(t, q.Params)
	assert.Contains(t, api.lastPrompt, "total sales 2023")
	assert.Contains(t, api.lastPrompt, "- regiao", "schema columns must reach the prompt")
}

func TestGenerateQuery_NotUnderstood(t *testing.T) {
	for _, reply := range []string{
		"I cannot answer that question.",
		"DROP TABLE dataset",
		"",
	} {
		api := &fakeAPI{reply: reply}
		c := newTestClient(t, api)

		q, err := c.GenerateQuery(context.Background(), "what?")
		require.NoError(t, err)
		assert.Empty(t, q.SQL, "reply %q must map to the empty query", reply)
	}
}

func TestGenerateQuery_APIError(t *testing.T) {
	api := &fakeAPI{err: errors.New("rate limited")}
	c := newTestClient(t, api)

	_, err := c.GenerateQuery(context.Background(), "total sales")
	assert.Error(t, err)
}

func TestHumanize(t *testing.T) {
	api := &fakeAPI{reply: "  Total sales in 2023 were 4200.  \n"}
	c := newTestClient(t, api)

	got, err := c.Humanize(context.Background(), "total sales 2023", `{"sum":4200}`, "SELECT SUM(vendas) FROM dataset")
	require.NoError(t, err)
	assert.Equal(t, "Total sales in 2023 were 4200.", got)
}

func TestChartSpecJSON_StripsFences(t *testing.T) {
	api := &fakeAPI{reply: "```json\n{\"title\":\"Sales\",\"kind\":\"bar\",\"labels\":[\"a\"],\"values\":[1]}\n```"}
	c := newTestClient(t, api)

	got, err := c.ChartSpecJSON(context.Background(), "sales by region", "data")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "{"), "fences must be stripped, got %q", got)
	assert.True(t, strings.HasSuffix(got, "}"), "fences must be stripped, got %q", got)
}

func TestTranscribe(t *testing.T) {
	api := &fakeAPI{transcript: "total sales last year\n"}
	c := newTestClient(t, api)

	got, err := c.Transcribe(context.Background(), "/tmp/audio.wav")
	require.NoError(t, err)
	assert.Equal(t, "total sales last year", got)
}

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "SELECT 1", "SELECT 1"},
		{"lowercase", "select * from dataset", "select * from dataset"},
		{"semicolon", "SELECT 1;", "SELECT 1"},
		{"fenced", "```sql\nSELECT 1\n```", "SELECT 1"},
		{"whitespace", "  SELECT 1  ", "SELECT 1"},
		{"refusal", "Sorry, I cannot help.", ""},
		{"non select", "UPDATE dataset SET x=1", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeQuery(tt.in); got != tt.want {
				t.Errorf("sanitizeQuery(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
