package tools

import (
	"context"
	"encoding/json"

	"coursebot/models"

	"github.com/invopop/jsonschema"
	"github.com/samber/lo"
)

// ChatTool is a named operation the model may request during a turn. Call
// decodes the provider-supplied argument JSON and returns a typed result;
// the result is serialized exactly once, when the tool message is built.
// Returned errors are transport-level failures the orchestrator folds back
// into the turn as error payloads.
type ChatTool interface {
	Name() string
	Description() string
	Schema() map[string]interface{}
	Call(ctx context.Context, arguments string) (any, error)
}

// ToolError is the structured payload for failures that are data, not
// faults, such as an unknown tool name or an unreachable provider.
type ToolError struct {
	Error string `json:"error"`
}

// Registry is the fixed name-to-tool mapping built at startup. Spec order
// follows registration order.
type Registry struct {
	tools []ChatTool
	index map[string]ChatTool
}

func NewRegistry(chatTools ...ChatTool) *Registry {
	index := make(map[string]ChatTool, len(chatTools))
	for _, t := range chatTools {
		index[t.Name()] = t
	}
	return &Registry{tools: chatTools, index: index}
}

func (r *Registry) Lookup(name string) (ChatTool, bool) {
	t, ok := r.index[name]
	return t, ok
}

func (r *Registry) Specs() []models.ToolSpec {
	return lo.Map(r.tools, func(t ChatTool, _ int) models.ToolSpec {
		return models.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		}
	})
}

func (r *Registry) Names() []string {
	return lo.Map(r.tools, func(t ChatTool, _ int) string {
		return t.Name()
	})
}

func generateSchema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	return map[string]interface{}{
		"type":       "object",
		"properties": schema.Properties,
		"required":   schema.Required,
	}
}

// decodeParams maps malformed argument JSON to the zero parameter struct so
// a bad model response degrades instead of aborting the turn.
func decodeParams[T any](arguments string) T {
	var params T
	if arguments == "" {
		return params
	}
	if err := json.Unmarshal([]byte(arguments), &params); err != nil {
		var zero T
		return zero
	}
	return params
}
