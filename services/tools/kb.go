package tools

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
)

type KBSearchInput struct {
	Query string `json:"query" jsonschema:"required,description=Topic to look up (office hours / grading policy / percentages)"`
}

type KBSearchResult struct {
	Results any    `json:"results"`
	KBPath  string `json:"kb_path,omitempty"`
}

type KBNote struct {
	Note string `json:"note"`
}

var (
	gradingTopicRe = regexp.MustCompile(`(?i)\b(grades?|grading|percent|percentage|rubric|points|weight|weights)\b`)
	officeTopicRe  = regexp.MustCompile(`(?i)\b(office hours|office)\b|\bhours\b`)
)

// KBSearchTool does substring search over a markdown document split into
// "##" sections. A missing document is a reportable result, not an error.
type KBSearchTool struct {
	kbPath string
}

func NewKBSearchTool(kbPath string) KBSearchTool {
	return KBSearchTool{kbPath: kbPath}
}

func (t KBSearchTool) Name() string {
	return "kb_search"
}

func (t KBSearchTool) Description() string {
	return "Search kb.md for office hours / grading policy / percentages."
}

func (t KBSearchTool) Schema() map[string]interface{} {
	return generateSchema[KBSearchInput]()
}

func (t KBSearchTool) Call(ctx context.Context, arguments string) (any, error) {
	params := decodeParams[KBSearchInput](arguments)

	data, err := os.ReadFile(t.kbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return KBSearchResult{
				Results: ToolError{Error: fmt.Sprintf("kb.md not found at %s", t.kbPath)},
			}, nil
		}
		return nil, fmt.Errorf("failed to read knowledge base: %w", err)
	}

	query := normalizeKBQuery(params.Query)

	hits := make(map[string]string)
	for _, section := range strings.Split(string(data), "##")[1:] {
		title, body, ok := splitSection(section)
		if !ok {
			continue
		}
		blob := strings.ToLower(title + "\n" + body)
		if strings.Contains(blob, query) {
			hits[title] = body
		}
	}

	if len(hits) == 0 {
		return KBSearchResult{Results: KBNote{Note: "no match"}, KBPath: t.kbPath}, nil
	}
	return KBSearchResult{Results: hits, KBPath: t.kbPath}, nil
}

// normalizeKBQuery collapses recognizable vocabulary onto a canonical topic
// token so phrasing variations hit the same section.
func normalizeKBQuery(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	if gradingTopicRe.MatchString(q) {
		return "grading"
	}
	if officeTopicRe.MatchString(q) {
		return "office hours"
	}
	return q
}

func splitSection(section string) (title, body string, ok bool) {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(section), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "", "", false
	}
	return lines[0], strings.TrimSpace(strings.Join(lines[1:], "\n")), true
}
