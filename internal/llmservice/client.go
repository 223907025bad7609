package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"rag-corpus/internal/config"
)

const tokenizerModel = "gpt-3.5-turbo"

var (
	ErrEmptyResponse = errors.New("llm returned no choices")

	thinkTag = regexp.MustCompile(`(?s)<think>.*?</think>`)
)

// NewLLM creates the chat model named in the config
func NewLLM(llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("type", llmConfig.Type).Str("base_url", llmConfig.BaseURL).Str("model", llmConfig.Model).Msg("Creating llm client")
	switch llmConfig.Type {
	case "openai":
		llm, err := openai.New(
			openai.WithBaseURL(llmConfig.BaseURL),
			openai.WithToken(strings.TrimPrefix(llmConfig.APIKey(), "Bearer ")),
			openai.WithModel(llmConfig.Model),
		)
		if err != nil {
			return nil, err
		}
		return llm, nil
	case "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
		if err != nil {
			return nil, err
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownProvider, llmConfig.Type)
	}
}

// call llm
func GenerateContent(ctx context.Context, llm llms.Model, tools []llms.Tool, messages []llms.MessageContent) (*llms.ContentResponse, error) {
	if len(tools) > 0 {
		return llm.GenerateContent(ctx, messages, llms.WithTools(tools))
	}
	return llm.GenerateContent(ctx, messages)
}

// Complete sends a system and a user message and returns the cleaned answer
func Complete(ctx context.Context, llm llms.Model, system, prompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	res, err := GenerateContent(ctx, llm, nil, messages)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	if res == nil || len(res.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return CleanResponse(res.Choices[0].Content), nil
}

// CleanResponse drops <think> blocks emitted by reasoning models
func CleanResponse(s string) string {
	return strings.TrimSpace(thinkTag.ReplaceAllString(s, ""))
}

// CountTokens approximates the prompt size with the cl100k tokenizer
func CountTokens(text string) (int, error) {
	enc, err := tiktoken.EncodingForModel(tokenizerModel)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}
