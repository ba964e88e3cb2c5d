package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"coursebot/models"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

const anthropicMaxTokens = 4096

// AnthropicClient adapts the Anthropic Messages API to the neutral Client
// interface. System messages travel in the dedicated system field; tool
// results travel as user-role tool_result blocks.
type AnthropicClient struct {
	client  *anthropic.Client
	model   anthropic.Model
	limiter *rate.Limiter
}

func NewAnthropicClient(apiKey, model string) (*AnthropicClient, error) {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &AnthropicClient{
		client:  &client,
		model:   anthropic.Model(model),
		limiter: rate.NewLimiter(rate.Limit(10), 30),
	}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, messages []models.Message, tools []models.ToolSpec, choice ToolChoice, temperature float64) (*Completion, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	params := c.buildParams(messages, tools, temperature)
	params.ToolChoice = toAnthropicToolChoice(choice)

	response, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}

	msg := models.Message{Role: models.RoleAssistant}
	for _, block := range response.Content {
		switch block := block.AsAny().(type) {
		case anthropic.TextBlock:
			msg.Content += block.Text
		case anthropic.ToolUseBlock:
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}

	usage := models.Usage{
		PromptTokens:     int(response.Usage.InputTokens),
		CompletionTokens: int(response.Usage.OutputTokens),
		TotalTokens:      int(response.Usage.InputTokens + response.Usage.OutputTokens),
	}

	return &Completion{Message: msg, Usage: usage}, nil
}

func (c *AnthropicClient) StreamComplete(ctx context.Context, messages []models.Message, tools []models.ToolSpec, temperature float64, emit func(chunk string) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	params := c.buildParams(messages, tools, temperature)
	params.ToolChoice = anthropic.ToolChoiceUnionParam{
		OfNone: &anthropic.ToolChoiceNoneParam{},
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	for stream.Next() {
		event := stream.Current()
		switch event := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := event.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				if err := emit(delta.Text); err != nil {
					return err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("streaming completion failed: %w", err)
	}

	return nil
}

func (c *AnthropicClient) buildParams(messages []models.Message, tools []models.ToolSpec, temperature float64) anthropic.MessageNewParams {
	var system string
	var converted []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			system += msg.Content
		case models.RoleUser:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfText: &anthropic.TextBlockParam{Text: msg.Content},
				})
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]interface{}
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: input,
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			converted = append(converted, anthropic.NewAssistantMessage(blocks...))
		case models.RoleTool:
			converted = append(converted, anthropic.NewUserMessage(anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: msg.ToolCallID,
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: msg.Content}},
					},
				},
			}))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   anthropicMaxTokens,
		Messages:    converted,
		Tools:       toAnthropicTools(tools),
		Temperature: anthropic.Float(temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	return params
}

func toAnthropicTools(tools []models.ToolSpec) []anthropic.ToolUnionParam {
	var specs []anthropic.ToolUnionParam
	for _, tool := range tools {
		specs = append(specs, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Parameters["properties"],
				},
			},
		})
	}
	return specs
}

func toAnthropicToolChoice(choice ToolChoice) anthropic.ToolChoiceUnionParam {
	switch choice.Mode {
	case ToolChoiceNone:
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	case ToolChoiceForced:
		return anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: choice.Name}}
	default:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}
}
