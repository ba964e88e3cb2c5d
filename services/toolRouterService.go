package services

import (
	"regexp"
	"strings"
)

var (
	profileSetRe  = regexp.MustCompile(`(?i)\b(remember|my name is|i am|i'm|call me|my major is|i major in|my major)\b`)
	noToolsRe     = regexp.MustCompile(`(?i)\b(without tools|no tools|guess)\b`)
	weatherRe     = regexp.MustCompile(`(?i)\b(weather|temperature|forecast)\b`)
	kbRe          = regexp.MustCompile(`(?i)\b(office hours|office|grading|grades?|percent|percentage|rubric|points|weight|weights)\b`)
	questionishRe = regexp.MustCompile(`(?i)\?\s*$|\b(what|when|where|who|how|can you|could you|tell me)\b`)
	kbTopicRe     = regexp.MustCompile(`(?i)\b(what|when|where|hours|percent|percentage|rubric|grading)\b`)
	scoreWordsRe  = regexp.MustCompile(`(?i)\b(project|projects|exam|exams|participation)\b`)
	digitRe       = regexp.MustCompile(`\d`)
	currentFactRe = regexp.MustCompile(`(?i)\b(current|today|latest|who is|president|prime minister|secretary of state)\b`)
)

// ToolRouterService maps user text to a tool the model will be forced to
// call, removing model nondeterminism for high-confidence intents. An empty
// result leaves the choice to the model.
type ToolRouterService struct{}

func NewToolRouterService() *ToolRouterService {
	return &ToolRouterService{}
}

// ChooseForcedTool is a first-match-wins decision list. Personal-memory
// statements and "don't guess" requests always return "" so the model keeps
// control of those turns.
func (s *ToolRouterService) ChooseForcedTool(userText string) string {
	text := strings.TrimSpace(userText)
	if text == "" {
		return ""
	}

	if profileSetRe.MatchString(text) {
		return ""
	}

	if noToolsRe.MatchString(text) {
		return ""
	}

	if weatherRe.MatchString(text) {
		return "get_weather"
	}

	if kbRe.MatchString(text) && (questionishRe.MatchString(text) || kbTopicRe.MatchString(text)) {
		return "kb_search"
	}

	if scoreWordsRe.MatchString(text) && digitRe.MatchString(text) {
		return "calculate_grade"
	}

	if currentFactRe.MatchString(text) {
		return "web_lookup"
	}

	return ""
}

// IsProfileStatement reports whether the user is sharing a personal fact
// ("my name is...", "remember that...") worth writing to long-term memory.
func (s *ToolRouterService) IsProfileStatement(userText string) bool {
	return profileSetRe.MatchString(strings.TrimSpace(userText))
}
