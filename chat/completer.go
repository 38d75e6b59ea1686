package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
)

// Completer turns a prompt into an answer
type Completer interface {
	// Complete returns the whole answer
	Complete(ctx context.Context, prompt string) (string, error)
	// Stream calls onToken for every token as it arrives and returns the
	// joined answer. An error from onToken aborts the stream.
	Stream(ctx context.Context, prompt string, onToken func(token string) error) (string, error)
}

// LangchainCompleter completes through any langchaingo model
type LangchainCompleter struct {
	model llms.Model
	opts  []llms.CallOption
}

// NewLangchainCompleter creates a completer over model. opts are passed on
// every call, e.g. llms.WithTemperature.
func NewLangchainCompleter(model llms.Model, opts ...llms.CallOption) *LangchainCompleter {
	return &LangchainCompleter{model: model, opts: opts}
}

func (c *LangchainCompleter) messages(prompt string) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
}

func (c *LangchainCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, c.messages(prompt), c.opts...)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from model")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func (c *LangchainCompleter) Stream(ctx context.Context, prompt string, onToken func(string) error) (string, error) {
	var answer strings.Builder
	streamingFunc := func(_ context.Context, chunk []byte) error {
		answer.Write(chunk)
		return onToken(string(chunk))
	}

	opts := append(append([]llms.CallOption{}, c.opts...), llms.WithStreamingFunc(streamingFunc))
	if _, err := c.model.GenerateContent(ctx, c.messages(prompt), opts...); err != nil {
		return answer.String(), fmt.Errorf("failed to stream content: %w", err)
	}
	return answer.String(), nil
}

// OpenAICompleter talks to the OpenAI chat completions API directly
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float32
}

// OpenAIOptions configures an OpenAICompleter
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string // Optional, for compatible endpoints
	Model       string // Default "gpt-3.5-turbo"
	Temperature float32
}

// NewOpenAICompleter creates a completer from options
func NewOpenAICompleter(opts OpenAIOptions) *OpenAICompleter {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: opts.Temperature,
	}
}

func (c *OpenAICompleter) request(prompt string, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
		Stream:      stream,
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.request(prompt, false))
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from model")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *OpenAICompleter) Stream(ctx context.Context, prompt string, onToken func(string) error) (string, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(prompt, true))
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion stream: %w", err)
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return answer.String(), nil
		}
		if err != nil {
			return answer.String(), fmt.Errorf("failed to receive stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		token := resp.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		answer.WriteString(token)
		if err := onToken(token); err != nil {
			return answer.String(), err
		}
	}
}
