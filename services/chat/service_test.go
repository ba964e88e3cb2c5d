package chat

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"coursebot/db"
	"coursebot/models"
	"coursebot/services"
	"coursebot/services/llm"
	"coursebot/services/ltm"
	"coursebot/services/tools"
)

type completeCall struct {
	messages []models.Message
	choice   llm.ToolChoice
}

// fakeLLM replays queued completions and stream chunks, recording every call
// so tests can inspect the exact prompts the pipeline built.
type fakeLLM struct {
	completions   []*llm.Completion
	completeErr   error
	streams       [][]string
	streamErr     error
	completeCalls []completeCall
	streamCalls   [][]models.Message
}

func (f *fakeLLM) Complete(ctx context.Context, messages []models.Message, specs []models.ToolSpec, choice llm.ToolChoice, temperature float64) (*llm.Completion, error) {
	f.completeCalls = append(f.completeCalls, completeCall{messages: messages, choice: choice})
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	if len(f.completions) == 0 {
		return &llm.Completion{Message: models.Message{Role: models.RoleAssistant}}, nil
	}
	next := f.completions[0]
	f.completions = f.completions[1:]
	return next, nil
}

func (f *fakeLLM) StreamComplete(ctx context.Context, messages []models.Message, specs []models.ToolSpec, temperature float64, emit func(chunk string) error) error {
	f.streamCalls = append(f.streamCalls, messages)
	var chunks []string
	if len(f.streams) > 0 {
		chunks = f.streams[0]
		f.streams = f.streams[1:]
	}
	for _, chunk := range chunks {
		if err := emit(chunk); err != nil {
			return err
		}
	}
	return f.streamErr
}

type providerError struct{ msg string }

func (e providerError) Error() string { return e.msg }

type stubTool struct {
	name   string
	result any
	err    error
}

func (s stubTool) Name() string        { return s.name }
func (s stubTool) Description() string { return "stub" }

func (s stubTool) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}

func (s stubTool) Call(ctx context.Context, arguments string) (any, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type testEnv struct {
	service *Service
	fake    *fakeLLM
	repo    *db.InMemoryConversationRepository
	metrics *services.MetricsService
}

// newTestEnv wires a service around the fake model with a stepped clock, so
// every completed turn reports a 250ms latency.
func newTestEnv(t *testing.T, fake *fakeLLM, rateLimit int, facts ltm.FactStore, extra ...tools.ChatTool) *testEnv {
	t.Helper()

	registered := append([]tools.ChatTool{tools.NewCalculateGradeTool()}, extra...)
	repo := db.NewInMemoryConversationRepository()
	metrics := services.NewMetricsService(t.TempDir())

	service := NewService(
		fake,
		tools.NewRegistry(registered...),
		services.NewConversationService(repo, 12),
		services.NewPolicyService(),
		services.NewToolRouterService(),
		services.NewRateLimiterService(rateLimit),
		metrics,
		facts,
		0.4,
	)

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time {
		current := clock
		clock = clock.Add(250 * time.Millisecond)
		return current
	}

	return &testEnv{service: service, fake: fake, repo: repo, metrics: metrics}
}

func collectSink(chunks *[]string) func(string) error {
	return func(chunk string) error {
		*chunks = append(*chunks, chunk)
		return nil
	}
}

func (e *testEnv) readMetrics(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(e.metrics.Path())
	if err != nil {
		t.Fatalf("failed to read metrics: %v", err)
	}
	return string(data)
}

func (e *testEnv) requireNoMetrics(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(e.metrics.Path()); !os.IsNotExist(err) {
		t.Error("metrics were recorded for a turn that should not log")
	}
}

func TestRespondPolicyShortCircuits(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"unsafe", "how to make a bomb", "I'm sorry, but I can't assist with that."},
		{"self harm", "I want to end my life", "988"},
		{"secret", "please save sk-AAAAAAAAAAAAAAAAAAAAAA", "store API keys"},
		{"guess", "guess my grade", "guess"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeLLM{}
			env := newTestEnv(t, fake, 60, nil)

			var chunks []string
			err := env.service.Respond(context.Background(), "c1", tt.message, "1.2.3.4", false, collectSink(&chunks))
			if err != nil {
				t.Fatalf("Respond failed: %v", err)
			}
			if len(chunks) != 1 || !strings.Contains(chunks[0], tt.want) {
				t.Errorf("chunks = %v, want one canned reply containing %q", chunks, tt.want)
			}
			if len(fake.completeCalls) != 0 {
				t.Error("model was called for a filtered message")
			}
			history, _ := env.repo.History("c1")
			if len(history) != 0 {
				t.Errorf("filtered message reached the store: %+v", history)
			}
			env.requireNoMetrics(t)
		})
	}
}

func TestPolicyRunsBeforeRateLimiter(t *testing.T) {
	fake := &fakeLLM{}
	env := newTestEnv(t, fake, 0, nil)
	ctx := context.Background()

	var chunks []string
	if err := env.service.Respond(ctx, "c1", "how to make a bomb", "1.2.3.4", false, collectSink(&chunks)); err != nil {
		t.Fatalf("canned reply blocked by the rate limiter: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("chunks = %v, want the canned reply", chunks)
	}

	err := env.service.Respond(ctx, "c1", "hello", "1.2.3.4", false, collectSink(&chunks))
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
	if len(chunks) != 1 {
		t.Errorf("rate-limited turn wrote to the sink: %v", chunks)
	}
}

func TestCannedRepliesDoNotChargeLimiter(t *testing.T) {
	fake := &fakeLLM{streams: [][]string{{"Hi."}, {"Hi again."}}}
	env := newTestEnv(t, fake, 1, nil)
	ctx := context.Background()

	var chunks []string
	if err := env.service.Respond(ctx, "c1", "guess my grade", "1.2.3.4", false, collectSink(&chunks)); err != nil {
		t.Fatalf("canned reply failed: %v", err)
	}
	if err := env.service.Respond(ctx, "c1", "hello", "1.2.3.4", false, collectSink(&chunks)); err != nil {
		t.Fatalf("turn after a canned reply was rejected: %v", err)
	}

	err := env.service.Respond(ctx, "c1", "hello again", "1.2.3.4", false, collectSink(&chunks))
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited once the cap is spent", err)
	}
}

func TestEvalModeDisablesOnlyGuessRefusal(t *testing.T) {
	fake := &fakeLLM{streams: [][]string{{"Maybe 90."}}}
	env := newTestEnv(t, fake, 60, nil)
	ctx := context.Background()

	var chunks []string
	if err := env.service.Respond(ctx, "c1", "guess my grade", "1.2.3.4", true, collectSink(&chunks)); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if got := strings.Join(chunks, ""); got != "Maybe 90.\n\n[latency_ms=250]" {
		t.Errorf("output = %q", got)
	}
	if len(fake.completeCalls) != 1 {
		t.Errorf("model calls = %d, want the guess prompt to reach the model", len(fake.completeCalls))
	}

	chunks = nil
	if err := env.service.Respond(ctx, "c1", "how to make a bomb", "1.2.3.4", true, collectSink(&chunks)); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "I'm sorry, but I can't assist with that." {
		t.Errorf("unsafe message slipped past the filter in eval mode: %v", chunks)
	}
	if len(fake.completeCalls) != 1 {
		t.Error("unsafe message reached the model in eval mode")
	}
}

func TestForcedToolTurn(t *testing.T) {
	fake := &fakeLLM{
		completions: []*llm.Completion{{
			Message: models.Message{
				Role: models.RoleAssistant,
				ToolCalls: []models.ToolCall{{
					ID:        "call_1",
					Name:      "calculate_grade",
					Arguments: `{"project": 90, "exams": 90, "participation": 90}`,
				}},
			},
			Usage: models.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}},
		streams: [][]string{{"Your final grade is ", "90%."}},
	}
	env := newTestEnv(t, fake, 60, nil)

	userMessage := "I scored 90 on projects, 90 on exams and 90 on participation"
	var chunks []string
	err := env.service.Respond(context.Background(), "c1", userMessage, "1.2.3.4", false, collectSink(&chunks))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	if got := strings.Join(chunks, ""); got != "Your final grade is 90%.\n\n[latency_ms=250]" {
		t.Errorf("output = %q", got)
	}

	if len(fake.completeCalls) != 1 {
		t.Fatalf("model complete calls = %d, want 1", len(fake.completeCalls))
	}
	choice := fake.completeCalls[0].choice
	if choice.Mode != llm.ToolChoiceForced || choice.Name != "calculate_grade" {
		t.Errorf("tool choice = %+v, want forced calculate_grade", choice)
	}
	prompt := fake.completeCalls[0].messages
	if prompt[0].Role != models.RoleSystem {
		t.Errorf("first prompt message role = %q", prompt[0].Role)
	}
	if last := prompt[len(prompt)-1]; last.Role != models.RoleUser || last.Content != userMessage {
		t.Errorf("last prompt message = %+v", last)
	}

	if len(fake.streamCalls) != 1 {
		t.Fatalf("stream calls = %d, want 1", len(fake.streamCalls))
	}
	streamed := fake.streamCalls[0]
	if len(streamed) != 5 {
		t.Fatalf("streamed prompt has %d messages, want 5", len(streamed))
	}
	if streamed[2].Role != models.RoleAssistant || len(streamed[2].ToolCalls) != 1 {
		t.Errorf("tool-call message = %+v", streamed[2])
	}
	toolMsg := streamed[3]
	if toolMsg.Role != models.RoleTool || toolMsg.ToolCallID != "call_1" {
		t.Errorf("tool message = %+v", toolMsg)
	}
	if !strings.Contains(toolMsg.Content, `"final_percentage":90`) {
		t.Errorf("tool payload = %q", toolMsg.Content)
	}
	if final := streamed[4]; final.Role != models.RoleUser || final.Content != finalAnswerInstruction {
		t.Errorf("final instruction = %+v", final)
	}

	history, _ := env.repo.History("c1")
	if len(history) != 2 {
		t.Fatalf("history has %d messages, want user and assistant only", len(history))
	}
	if history[1].Role != models.RoleAssistant || history[1].Content != "Your final grade is 90%." {
		t.Errorf("persisted assistant message = %+v", history[1])
	}

	metrics := env.readMetrics(t)
	for _, want := range []string{
		`"conversation_id":"c1"`,
		`"latency_ms":250`,
		`"tool_calls":["calculate_grade"]`,
		`"total_tokens":15`,
	} {
		if !strings.Contains(metrics, want) {
			t.Errorf("metrics line %q missing %q", metrics, want)
		}
	}
}

func TestUnknownToolBecomesErrorPayload(t *testing.T) {
	fake := &fakeLLM{
		completions: []*llm.Completion{{
			Message: models.Message{
				Role:      models.RoleAssistant,
				ToolCalls: []models.ToolCall{{ID: "call_9", Name: "send_email", Arguments: "{}"}},
			},
		}},
		streams: [][]string{{"I could not send that."}},
	}
	env := newTestEnv(t, fake, 60, nil)

	var chunks []string
	err := env.service.Respond(context.Background(), "c1", "email my grade to me", "1.2.3.4", false, collectSink(&chunks))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	toolMsg := fake.streamCalls[0][3]
	if toolMsg.Content != `{"error":"unknown tool: send_email"}` {
		t.Errorf("tool payload = %q", toolMsg.Content)
	}
	if !strings.HasSuffix(strings.Join(chunks, ""), "\n\n[latency_ms=250]") {
		t.Errorf("turn did not complete: %v", chunks)
	}
	if metrics := env.readMetrics(t); !strings.Contains(metrics, `"tool_calls":["send_email"]`) {
		t.Errorf("metrics = %q, want the unknown tool recorded", metrics)
	}
}

func TestFailingToolContinuesTurn(t *testing.T) {
	fake := &fakeLLM{
		completions: []*llm.Completion{{
			Message: models.Message{
				Role:      models.RoleAssistant,
				ToolCalls: []models.ToolCall{{ID: "call_2", Name: "flaky_lookup", Arguments: "{}"}},
			},
		}},
		streams: [][]string{{"The lookup is unavailable right now."}},
	}
	env := newTestEnv(t, fake, 60, nil, stubTool{name: "flaky_lookup", err: errors.New("upstream 500")})

	var chunks []string
	err := env.service.Respond(context.Background(), "c1", "look something up", "1.2.3.4", false, collectSink(&chunks))
	if err != nil {
		t.Fatalf("a failing tool aborted the turn: %v", err)
	}

	toolMsg := fake.streamCalls[0][3]
	if toolMsg.Content != `{"error":"upstream 500"}` {
		t.Errorf("tool payload = %q", toolMsg.Content)
	}
	if !strings.HasSuffix(strings.Join(chunks, ""), "\n\n[latency_ms=250]") {
		t.Errorf("turn did not complete: %v", chunks)
	}
}

func TestToolRoundFailureAnnotatesAndStops(t *testing.T) {
	fake := &fakeLLM{completeErr: providerError{msg: "boom"}}
	env := newTestEnv(t, fake, 60, nil)

	var chunks []string
	err := env.service.Respond(context.Background(), "c1", "hello", "1.2.3.4", false, collectSink(&chunks))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	if len(chunks) != 1 || chunks[0] != "\n\n[error=providerError: boom]" {
		t.Errorf("chunks = %v, want only the error annotation", chunks)
	}
	if len(fake.streamCalls) != 0 {
		t.Error("final answer was streamed after the tool round failed")
	}
	history, _ := env.repo.History("c1")
	if len(history) != 1 || history[0].Role != models.RoleUser {
		t.Errorf("history = %+v, want the user message only", history)
	}
	env.requireNoMetrics(t)
}

func TestStreamFailureAnnotatesAndStops(t *testing.T) {
	fake := &fakeLLM{
		streams:   [][]string{{"partial "}},
		streamErr: providerError{msg: "stream broke"},
	}
	env := newTestEnv(t, fake, 60, nil)

	var chunks []string
	err := env.service.Respond(context.Background(), "c1", "hello", "1.2.3.4", false, collectSink(&chunks))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	want := []string{"partial ", "\n\n[error=providerError: stream broke]"}
	if len(chunks) != 2 || chunks[0] != want[0] || chunks[1] != want[1] {
		t.Errorf("chunks = %v, want %v", chunks, want)
	}

	// Partial text is never persisted and the turn logs nothing.
	history, _ := env.repo.History("c1")
	if len(history) != 1 {
		t.Errorf("history = %+v, want the user message only", history)
	}
	env.requireNoMetrics(t)
}

func TestClientDisconnectStopsTurn(t *testing.T) {
	fake := &fakeLLM{streams: [][]string{{"one", "two"}}}
	env := newTestEnv(t, fake, 60, nil)

	sinkFailure := errors.New("client went away")
	var chunks []string
	sink := func(chunk string) error {
		if len(chunks) == 1 {
			return sinkFailure
		}
		chunks = append(chunks, chunk)
		return nil
	}

	err := env.service.Respond(context.Background(), "c1", "hello", "1.2.3.4", false, sink)
	if !errors.Is(err, sinkFailure) {
		t.Errorf("err = %v, want the sink failure", err)
	}
	if len(chunks) != 1 {
		t.Errorf("chunks = %v, want delivery to stop at the failure", chunks)
	}
	history, _ := env.repo.History("c1")
	if len(history) != 1 {
		t.Errorf("history = %+v, want the user message only", history)
	}
	env.requireNoMetrics(t)
}

func TestGradingAverageNudge(t *testing.T) {
	fake := &fakeLLM{streams: [][]string{{"The average is 33.33%."}}}
	env := newTestEnv(t, fake, 60, nil)

	var chunks []string
	err := env.service.Respond(context.Background(), "c1", "What's the average of the grading percentages?", "1.2.3.4", false, collectSink(&chunks))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	choice := fake.completeCalls[0].choice
	if choice.Mode != llm.ToolChoiceForced || choice.Name != "kb_search" {
		t.Errorf("tool choice = %+v, want forced kb_search", choice)
	}

	streamed := fake.streamCalls[0]
	final := streamed[len(streamed)-1]
	want := finalAnswerInstruction + " " + gradingAverageNudge
	if final.Content != want {
		t.Errorf("final instruction = %q, want %q", final.Content, want)
	}
}

func TestDirectAnswerTurn(t *testing.T) {
	fake := &fakeLLM{streams: [][]string{{"Hi! How can I help?"}}}
	env := newTestEnv(t, fake, 60, nil)

	var chunks []string
	err := env.service.Respond(context.Background(), "c1", "hello there", "1.2.3.4", false, collectSink(&chunks))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	if choice := fake.completeCalls[0].choice; choice.Mode != llm.ToolChoiceAuto {
		t.Errorf("tool choice = %+v, want auto", choice)
	}
	if got := strings.Join(chunks, ""); got != "Hi! How can I help?\n\n[latency_ms=250]" {
		t.Errorf("output = %q", got)
	}
	if metrics := env.readMetrics(t); !strings.Contains(metrics, `"tool_calls":[]`) {
		t.Errorf("metrics = %q, want an empty tool list", metrics)
	}
}

func TestEmptyAnswerIsNotPersisted(t *testing.T) {
	fake := &fakeLLM{streams: [][]string{{"  ", "\n"}}}
	env := newTestEnv(t, fake, 60, nil)

	var chunks []string
	err := env.service.Respond(context.Background(), "c1", "hello", "1.2.3.4", false, collectSink(&chunks))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	history, _ := env.repo.History("c1")
	if len(history) != 1 {
		t.Errorf("history = %+v, want no assistant entry for a blank answer", history)
	}
	if !strings.HasSuffix(strings.Join(chunks, ""), "\n\n[latency_ms=250]") {
		t.Errorf("turn did not complete: %v", chunks)
	}
}

func TestConversationMemoryAcrossTurns(t *testing.T) {
	fake := &fakeLLM{streams: [][]string{{"Got it."}, {"Your name is Sam."}}}
	env := newTestEnv(t, fake, 60, nil)
	ctx := context.Background()

	var chunks []string
	if err := env.service.Respond(ctx, "c1", "Remember my name is Sam.", "1.2.3.4", false, collectSink(&chunks)); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if err := env.service.Respond(ctx, "c1", "What is my name?", "1.2.3.4", false, collectSink(&chunks)); err != nil {
		t.Fatalf("second turn failed: %v", err)
	}

	if len(fake.completeCalls) != 2 {
		t.Fatalf("complete calls = %d, want 2", len(fake.completeCalls))
	}
	secondPrompt := fake.completeCalls[1].messages

	var sawStatement, sawReply bool
	for _, msg := range secondPrompt {
		if msg.Role == models.RoleUser && msg.Content == "Remember my name is Sam." {
			sawStatement = true
		}
		if msg.Role == models.RoleAssistant && msg.Content == "Got it." {
			sawReply = true
		}
	}
	if !sawStatement || !sawReply {
		t.Errorf("second prompt lost earlier turns: %+v", secondPrompt)
	}

	history, _ := env.repo.History("c1")
	if len(history) != 4 {
		t.Errorf("history has %d messages, want 4", len(history))
	}
}

func TestFactStoreRoundTrip(t *testing.T) {
	fake := &fakeLLM{streams: [][]string{{"Noted."}, {"You are Sam."}}}
	env := newTestEnv(t, fake, 60, ltm.NewLocalStore())
	ctx := context.Background()

	var chunks []string
	if err := env.service.Respond(ctx, "c1", "Remember my name is Sam.", "1.2.3.4", false, collectSink(&chunks)); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if err := env.service.Respond(ctx, "c1", "What is my name?", "1.2.3.4", false, collectSink(&chunks)); err != nil {
		t.Fatalf("second turn failed: %v", err)
	}

	firstSystem := fake.completeCalls[0].messages[0].Content
	if strings.Contains(firstSystem, "Known facts about this user") {
		t.Error("facts appeared before any were stored")
	}

	secondSystem := fake.completeCalls[1].messages[0].Content
	if !strings.Contains(secondSystem, "Known facts about this user") {
		t.Errorf("second turn system message has no fact block: %q", secondSystem)
	}
	if !strings.Contains(secondSystem, "Remember my name is Sam.") {
		t.Errorf("stored fact missing from system message: %q", secondSystem)
	}
}
