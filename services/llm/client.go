package llm

import (
	"context"

	"coursebot/models"
)

type ToolChoiceMode int

const (
	// ToolChoiceAuto lets the model decide whether to call a tool.
	ToolChoiceAuto ToolChoiceMode = iota
	// ToolChoiceNone disables tool calls for the request.
	ToolChoiceNone
	// ToolChoiceForced compels the model to call one named tool.
	ToolChoiceForced
)

type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

func AutoTools() ToolChoice {
	return ToolChoice{Mode: ToolChoiceAuto}
}

func NoTools() ToolChoice {
	return ToolChoice{Mode: ToolChoiceNone}
}

func ForceTool(name string) ToolChoice {
	return ToolChoice{Mode: ToolChoiceForced, Name: name}
}

type Completion struct {
	Message models.Message
	Usage   models.Usage
}

// Client is the completion capability the orchestrator depends on. Any
// provider offering these two operations is substitutable.
//
// Complete requests one assistant message, possibly carrying tool calls.
// StreamComplete requests the final answer with tool calls disabled and
// pushes text increments into emit in arrival order; emit returning an error
// stops the stream.
type Client interface {
	Complete(ctx context.Context, messages []models.Message, tools []models.ToolSpec, choice ToolChoice, temperature float64) (*Completion, error)
	StreamComplete(ctx context.Context, messages []models.Message, tools []models.ToolSpec, temperature float64, emit func(chunk string) error) error
}
