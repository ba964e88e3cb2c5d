package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"coursebot/models"
	"coursebot/services"
	"coursebot/services/llm"
	"coursebot/services/ltm"
	"coursebot/services/tools"
)

const (
	finalAnswerInstruction = "Please answer the last user message. If tool results are above, use them."
	gradingAverageNudge    = "If the user asked for the average of the three grading percentages, compute (60+30+10)/3 = 33.33% and include it."
	factSearchLimit        = 3
)

// ErrRateLimited is returned before anything is written to the sink, so the
// transport layer can still reject the request with a status code.
var ErrRateLimited = errors.New("rate limit exceeded")

// Service runs one conversational turn end to end: policy screening, the
// tool decision round, server-side tool execution, and the streamed final
// answer. Text increments are pushed to a caller-supplied sink in arrival
// order; the stream ends with a latency annotation, or an error annotation
// when a model call fails.
type Service struct {
	llm           llm.Client
	registry      *tools.Registry
	conversations *services.ConversationService
	policy        *services.PolicyService
	router        *services.ToolRouterService
	limiter       *services.RateLimiterService
	metrics       *services.MetricsService
	facts         ltm.FactStore
	temperature   float64
	now           func() time.Time
}

// NewService wires the turn pipeline. facts may be nil; long-term memory is
// skipped entirely in that case.
func NewService(
	client llm.Client,
	registry *tools.Registry,
	conversations *services.ConversationService,
	policy *services.PolicyService,
	router *services.ToolRouterService,
	limiter *services.RateLimiterService,
	metrics *services.MetricsService,
	facts ltm.FactStore,
	temperature float64,
) *Service {
	return &Service{
		llm:           client,
		registry:      registry,
		conversations: conversations,
		policy:        policy,
		router:        router,
		limiter:       limiter,
		metrics:       metrics,
		facts:         facts,
		temperature:   temperature,
		now:           time.Now,
	}
}

// Respond handles one request. Policy verdicts short-circuit with a canned
// reply before the rate limiter is charged and before any history mutation.
// evalMode disables only the guess-refusal filter.
func (s *Service) Respond(ctx context.Context, conversationID, userMessage, clientKey string, evalMode bool, sink func(chunk string) error) error {
	verdict := s.policy.Classify(userMessage)
	if evalMode && verdict == services.PolicyGuessRefusal {
		verdict = services.PolicyNone
	}
	if verdict != services.PolicyNone {
		return sink(s.policy.Response(verdict))
	}

	if !s.limiter.Allow(clientKey) {
		return ErrRateLimited
	}

	return s.streamTurn(ctx, conversationID, userMessage, sink)
}

func (s *Service) streamTurn(ctx context.Context, conversationID, userMessage string, sink func(chunk string) error) error {
	start := s.now()

	userText := s.policy.Redact(userMessage)

	extraSystem := ""
	if s.facts != nil {
		facts, err := s.facts.SearchFacts(ctx, conversationID, userText, factSearchLimit)
		if err != nil {
			log.Printf("[ERROR] Fact search failed for conversation %s: %v", conversationID, err)
		} else if len(facts) > 0 {
			extraSystem = "Known facts about this user:\n- " + strings.Join(facts, "\n- ")
		}
	}

	if err := s.conversations.AppendUserMessage(conversationID, userText); err != nil {
		return err
	}

	prompt, err := s.conversations.PromptMessages(conversationID, extraSystem)
	if err != nil {
		return err
	}

	forced := s.router.ChooseForcedTool(userText)
	if forced != "" {
		log.Printf("[INFO] Forcing tool %s for conversation %s", forced, conversationID)
	}

	working, toolsUsed, usage, err := s.runToolRound(ctx, prompt, forced)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		log.Printf("[ERROR] Tool round failed for conversation %s: %v", conversationID, err)
		return sink(errorAnnotation(err))
	}

	instruction := finalAnswerInstruction
	if wantsGradingAverage(userText) {
		instruction += " " + gradingAverageNudge
	}
	working = append(working, models.Message{Role: models.RoleUser, Content: instruction})

	var answer strings.Builder
	var sinkErr error
	err = s.llm.StreamComplete(ctx, working, s.registry.Specs(), s.temperature, func(chunk string) error {
		answer.WriteString(chunk)
		if err := sink(chunk); err != nil {
			sinkErr = err
			return err
		}
		return nil
	})
	if err != nil {
		if sinkErr != nil {
			return sinkErr
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		log.Printf("[ERROR] Answer stream failed for conversation %s: %v", conversationID, err)
		return sink(errorAnnotation(err))
	}

	finalText := strings.TrimSpace(answer.String())
	if finalText != "" {
		if err := s.conversations.AppendAssistantMessage(conversationID, finalText); err != nil {
			log.Printf("[ERROR] Assistant message for conversation %s was not persisted: %v", conversationID, err)
		}
	}

	if s.facts != nil && s.router.IsProfileStatement(userText) {
		if err := s.facts.AddFact(ctx, conversationID, userText); err != nil {
			log.Printf("[ERROR] Failed to store fact for conversation %s: %v", conversationID, err)
		}
	}

	latencyMs := s.now().Sub(start).Milliseconds()

	record := models.MetricsRecord{
		Ts:             float64(s.now().UnixNano()) / 1e9,
		ConversationID: conversationID,
		LatencyMs:      latencyMs,
		ToolCalls:      toolsUsed,
		Usage:          usage,
	}
	if err := s.metrics.Record(record); err != nil {
		log.Printf("[ERROR] Failed to write metrics record: %v", err)
	}

	return sink(fmt.Sprintf("\n\n[latency_ms=%d]", latencyMs))
}

// runToolRound asks the model for tool calls (forced or auto), executes them
// server-side in request order, and appends one tool message per call. The
// assistant message is kept even when it carries no calls.
func (s *Service) runToolRound(ctx context.Context, messages []models.Message, forcedTool string) ([]models.Message, []string, models.Usage, error) {
	choice := llm.AutoTools()
	if forcedTool != "" {
		choice = llm.ForceTool(forcedTool)
	}

	completion, err := s.llm.Complete(ctx, messages, s.registry.Specs(), choice, s.temperature)
	if err != nil {
		return nil, nil, models.Usage{}, err
	}

	messages = append(messages, completion.Message)

	toolsUsed := []string{}
	for _, call := range completion.Message.ToolCalls {
		result := s.executeTool(ctx, call)

		payload, err := json.Marshal(result)
		if err != nil {
			payload, _ = json.Marshal(tools.ToolError{Error: fmt.Sprintf("unserializable result from %s: %v", call.Name, err)})
		}

		toolsUsed = append(toolsUsed, call.Name)
		messages = append(messages, models.Message{
			Role:       models.RoleTool,
			Content:    string(payload),
			ToolCallID: call.ID,
		})
	}

	return messages, toolsUsed, completion.Usage, nil
}

// executeTool resolves and runs one requested call. Failures come back as
// ToolError payloads the model can read; they never abort the turn.
func (s *Service) executeTool(ctx context.Context, call models.ToolCall) any {
	tool, ok := s.registry.Lookup(call.Name)
	if !ok {
		return tools.ToolError{Error: fmt.Sprintf("unknown tool: %s", call.Name)}
	}

	log.Printf("[INFO] Executing tool %s", call.Name)
	result, err := tool.Call(ctx, call.Arguments)
	if err != nil {
		log.Printf("[ERROR] Tool %s failed: %v", call.Name, err)
		return tools.ToolError{Error: err.Error()}
	}
	return result
}

func wantsGradingAverage(userText string) bool {
	lt := strings.ToLower(userText)
	return (strings.Contains(lt, "grading") || strings.Contains(lt, "percent")) && strings.Contains(lt, "average")
}

func errorAnnotation(err error) string {
	return fmt.Sprintf("\n\n[error=%s: %v]", errorKind(err), err)
}

// errorKind labels the annotation with the innermost error's type name so
// operators can tell provider failures from transport ones.
func errorKind(err error) string {
	inner := err
	for unwrapped := errors.Unwrap(inner); unwrapped != nil; unwrapped = errors.Unwrap(unwrapped) {
		inner = unwrapped
	}

	name := strings.TrimPrefix(fmt.Sprintf("%T", inner), "*")
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	switch name {
	case "", "errorString", "wrapError":
		return "Error"
	}
	return name
}
