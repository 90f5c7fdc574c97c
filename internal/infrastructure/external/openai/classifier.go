package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/garyjia/expense-workflow/internal/application/port"
)

// ClassifierConfig configures the chat-completion receipt classifier.
// BaseURL may point at any OpenAI-compatible endpoint, such as Ollama's /v1.
type ClassifierConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	RatePerSecond float64
	Burst         int
}

// Classifier implements port.Classifier with a chat completion call
type Classifier struct {
	client  *openai.Client
	prompts *PromptConfig
	model   string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClassifier creates a new receipt classifier
func NewClassifier(cfg ClassifierConfig, prompts *PromptConfig, logger *zap.Logger) *Classifier {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if prompts == nil {
		prompts = DefaultPrompts()
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Classifier{
		client:  openai.NewClientWithConfig(clientCfg),
		prompts: prompts,
		model:   cfg.Model,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

type promptData struct {
	Metadata    string
	ReceiptText string
}

// Classify asks the model for a verdict. The caller owns the timeout.
func (c *Classifier) Classify(ctx context.Context, req *port.ClassifierRequest) (*port.ClassifierResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("classifier rate limit: %w", err)
	}

	spec := c.prompts.ReceiptCheck
	metadata, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	text := req.ReceiptText
	if spec.MaxTextChars > 0 {
		if runes := []rune(text); len(runes) > spec.MaxTextChars {
			text = string(runes[:spec.MaxTextChars])
		}
	}

	prompt, err := renderTemplate(spec.UserTemplate, promptData{Metadata: string(metadata), ReceiptText: text})
	if err != nil {
		return nil, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: spec.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		c.logger.Error("Classifier API call failed", zap.String("model", c.model), zap.Error(err))
		return nil, fmt.Errorf("classifier API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no response from classifier")
	}

	content := resp.Choices[0].Message.Content
	result, err := parseVerdict(content)
	if err != nil {
		c.logger.Error("Failed to parse classifier response",
			zap.Error(err),
			zap.String("content", content))
		return nil, err
	}

	c.logger.Info("Receipt classified",
		zap.String("model", c.model),
		zap.String("decision", result.Decision),
		zap.String("risk_level", result.RiskLevel),
		zap.Int("reasons", len(result.Reasons)))
	return result, nil
}

// parseVerdict accepts bare JSON or JSON wrapped in prose or a code fence
func parseVerdict(content string) (*port.ClassifierResponse, error) {
	var result port.ClassifierResponse
	err := json.Unmarshal([]byte(content), &result)
	if err == nil {
		return &result, nil
	}

	if jsonStr := extractJSON(content); jsonStr != "" {
		if err := json.Unmarshal([]byte(jsonStr), &result); err == nil {
			return &result, nil
		}
	}
	return nil, fmt.Errorf("failed to parse response: %w", err)
}

// extractJSON returns the first balanced JSON object in content
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}
	end := findJSONEnd(content, start)
	if end <= start {
		return ""
	}
	return content[start:end]
}

// findJSONEnd finds the end of JSON content starting at a given position
func findJSONEnd(content string, start int) int {
	if start < 0 || start >= len(content) || content[start] != '{' {
		return -1
	}

	braceCount := 0
	inString := false
	escapeNext := false

	for i := start; i < len(content); i++ {
		char := content[i]

		if escapeNext {
			escapeNext = false
			continue
		}
		if char == '\\' {
			escapeNext = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch char {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				return i + 1
			}
		}
	}

	return -1
}

var _ port.Classifier = (*Classifier)(nil)
