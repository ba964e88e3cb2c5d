package services

import (
	"regexp"
)

type PolicyVerdict int

const (
	PolicyNone PolicyVerdict = iota
	PolicySelfHarm
	PolicyUnsafe
	PolicySecretLeak
	PolicyGuessRefusal
)

const (
	selfHarmResponse = "I'm really sorry you're feeling this way. You deserve support right now.\n\n" +
		"If you're in the U.S., you can call or text 988 (Suicide & Crisis Lifeline). " +
		"If you're outside the U.S., tell me your country and I can point you to a local number.\n\n" +
		"If you're in immediate danger, please call your local emergency number right now."

	unsafeResponse = "I'm sorry, but I can't assist with that."

	secretResponse = "I can’t store API keys or secrets. Please remove it from the message (and rotate it if it was real)."

	guessResponse = "I can’t guess that without using tools or the knowledge base.\n" +
		"If you want, ask normally (e.g., “What are our office hours?”) and I’ll look it up."
)

const redactedPlaceholder = "[REDACTED_SECRET]"

// PolicyService classifies raw user input before it reaches the model.
// Classification never mutates state; callers short-circuit the turn on any
// verdict other than PolicyNone.
type PolicyService struct {
	selfHarmPatterns []*regexp.Regexp
	unsafePatterns   []*regexp.Regexp
	secretPatterns   []*regexp.Regexp
	guessPattern     *regexp.Regexp
}

func NewPolicyService() *PolicyService {
	return &PolicyService{
		selfHarmPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(suicide|kill myself|self-harm|end my life)\b`),
		},
		unsafePatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bhow to (make|build)\b.*\b(bomb|explosive)\b`),
		},
		secretPatterns: []*regexp.Regexp{
			regexp.MustCompile(`sk-[A-Za-z0-9_\-]{20,}`),
		},
		guessPattern: regexp.MustCompile(`(?i)\b(without tools|no tools|guess)\b`),
	}
}

// Classify checks the raw (unredacted) text, highest-severity first.
func (s *PolicyService) Classify(rawText string) PolicyVerdict {
	if matchesAny(s.selfHarmPatterns, rawText) {
		return PolicySelfHarm
	}
	if matchesAny(s.unsafePatterns, rawText) {
		return PolicyUnsafe
	}
	if matchesAny(s.secretPatterns, rawText) {
		return PolicySecretLeak
	}
	if s.guessPattern.MatchString(rawText) {
		return PolicyGuessRefusal
	}
	return PolicyNone
}

// Redact replaces secret-shaped tokens so they never reach the model, the
// conversation store, or the metrics log.
func (s *PolicyService) Redact(text string) string {
	for _, pattern := range s.secretPatterns {
		text = pattern.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}

// Response returns the canned message for a violation verdict, or "" for
// PolicyNone.
func (s *PolicyService) Response(verdict PolicyVerdict) string {
	switch verdict {
	case PolicySelfHarm:
		return selfHarmResponse
	case PolicyUnsafe:
		return unsafeResponse
	case PolicySecretLeak:
		return secretResponse
	case PolicyGuessRefusal:
		return guessResponse
	}
	return ""
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
