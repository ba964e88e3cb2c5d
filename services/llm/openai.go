package llm

import (
	"context"
	"fmt"

	"coursebot/models"

	"github.com/samber/lo"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// OpenAIClient speaks the OpenAI chat-completions protocol through
// langchaingo. A token-bucket limiter smooths concurrent turns so bursts of
// requests do not hit the provider all at once.
type OpenAIClient struct {
	llm     *openai.LLM
	limiter *rate.Limiter
}

func NewOpenAIClient(apiKey, model string) (*OpenAIClient, error) {
	llm, err := openai.New(
		openai.WithModel(model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	return &OpenAIClient{
		llm:     llm,
		limiter: rate.NewLimiter(rate.Limit(10), 30),
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []models.Message, tools []models.ToolSpec, choice ToolChoice, temperature float64) (*Completion, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	resp, err := c.llm.GenerateContent(ctx, toLangchainMessages(messages),
		llms.WithTools(toLangchainTools(tools)),
		llms.WithToolChoice(toLangchainToolChoice(choice)),
		llms.WithTemperature(temperature))
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}
	chosen := resp.Choices[0]

	msg := models.Message{Role: models.RoleAssistant, Content: chosen.Content}
	for _, tc := range chosen.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		args := tc.FunctionCall.Arguments
		if args == "" {
			args = "{}"
		}
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: args,
		})
	}

	return &Completion{Message: msg, Usage: usageFromGenerationInfo(chosen.GenerationInfo)}, nil
}

func (c *OpenAIClient) StreamComplete(ctx context.Context, messages []models.Message, tools []models.ToolSpec, temperature float64, emit func(chunk string) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	_, err := c.llm.GenerateContent(ctx, toLangchainMessages(messages),
		llms.WithTools(toLangchainTools(tools)),
		llms.WithToolChoice("none"),
		llms.WithTemperature(temperature),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return emit(string(chunk))
		}))
	if err != nil {
		return fmt.Errorf("streaming completion failed: %w", err)
	}

	return nil
}

func toLangchainMessages(messages []models.Message) []llms.MessageContent {
	history := make([]llms.MessageContent, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			history = append(history, llms.TextParts(llms.ChatMessageTypeSystem, msg.Content))
		case models.RoleUser:
			history = append(history, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))
		case models.RoleAssistant:
			content := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if msg.Content != "" {
				content.Parts = append(content.Parts, llms.TextContent{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				content.Parts = append(content.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			history = append(history, content)
		case models.RoleTool:
			history = append(history, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: msg.ToolCallID,
					Content:    msg.Content,
				}},
			})
		}
	}

	return history
}

func toLangchainTools(tools []models.ToolSpec) []llms.Tool {
	return lo.Map(tools, func(spec models.ToolSpec, _ int) llms.Tool {
		return llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		}
	})
}

func toLangchainToolChoice(choice ToolChoice) any {
	switch choice.Mode {
	case ToolChoiceNone:
		return "none"
	case ToolChoiceForced:
		return llms.ToolChoice{
			Type:     "function",
			Function: &llms.FunctionReference{Name: choice.Name},
		}
	default:
		return "auto"
	}
}

func usageFromGenerationInfo(info map[string]any) models.Usage {
	var usage models.Usage
	if info == nil {
		return usage
	}
	if v, ok := info["PromptTokens"].(int); ok {
		usage.PromptTokens = v
	}
	if v, ok := info["CompletionTokens"].(int); ok {
		usage.CompletionTokens = v
	}
	if v, ok := info["TotalTokens"].(int); ok {
		usage.TotalTokens = v
	}
	return usage
}
