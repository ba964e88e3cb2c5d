package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"
)

type WebLookupInput struct {
	Query string `json:"query" jsonschema:"required,description=Fact to look up on the live web"`
}

type WebSource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type WebLookupResult struct {
	Query   string      `json:"query"`
	Answer  string      `json:"answer"`
	Sources []WebSource `json:"sources"`
	Note    string      `json:"note,omitempty"`
	Error   string      `json:"error,omitempty"`
}

var (
	presidentQueryRe = regexp.MustCompile(`(?i)\b(current|who is)\b.*\bpresident\b.*\b(united states|usa|u\.s\.)\b`)
	presidentNameRe  = regexp.MustCompile(`(?i)current president of the United States is\s+([A-Z][A-Za-z .'\-]+)\.`)
	swornInRe        = regexp.MustCompile(`(?i)sworn into office on\s+([A-Za-z]+\s+\d{1,2},\s+\d{4})`)
)

// WebLookupTool answers live-fact queries. The current-US-president question
// is parsed out of the USA.gov presidents page; everything else goes through
// the DuckDuckGo instant-answer API, whose nested related-topic groups are
// flattened into at most five sources.
type WebLookupTool struct {
	client    *http.Client
	ddgURL    string
	usaGovURL string
}

func NewWebLookupTool() WebLookupTool {
	return WebLookupTool{
		client:    &http.Client{Timeout: 15 * time.Second},
		ddgURL:    "https://api.duckduckgo.com/",
		usaGovURL: "https://www.usa.gov/presidents",
	}
}

func (t WebLookupTool) Name() string {
	return "web_lookup"
}

func (t WebLookupTool) Description() string {
	return "Look up live facts (special-case US president via USA.gov). Returns answer + sources."
}

func (t WebLookupTool) Schema() map[string]interface{} {
	return generateSchema[WebLookupInput]()
}

func (t WebLookupTool) Call(ctx context.Context, arguments string) (any, error) {
	params := decodeParams[WebLookupInput](arguments)
	query := strings.TrimSpace(params.Query)

	if presidentQueryRe.MatchString(query) {
		return t.lookupUSPresident(ctx)
	}

	return t.lookupInstantAnswer(ctx, query)
}

func (t WebLookupTool) lookupUSPresident(ctx context.Context) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.usaGovURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build USA.gov request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("USA.gov request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read USA.gov response: %w", err)
	}
	html := string(body)

	sources := []WebSource{{Title: "USA.gov Presidents", URL: t.usaGovURL}}

	var name string
	if m := presidentNameRe.FindStringSubmatch(html); m != nil {
		name = strings.TrimSpace(m[1])
	}
	if name == "" {
		return WebLookupResult{
			Query:   "current president of the United States",
			Answer:  "",
			Sources: sources,
			Error:   "Could not parse president name from USA.gov.",
		}, nil
	}

	answer := fmt.Sprintf("The current president of the United States is %s.", name)
	if m := swornInRe.FindStringSubmatch(html); m != nil {
		answer += fmt.Sprintf(" Sworn into office on %s.", strings.TrimSpace(m[1]))
	}

	return WebLookupResult{
		Query:   "current president of the United States",
		Answer:  answer,
		Sources: sources,
	}, nil
}

type ddgTopic struct {
	FirstURL string     `json:"FirstURL"`
	Text     string     `json:"Text"`
	Topics   []ddgTopic `json:"Topics"`
}

func (t WebLookupTool) lookupInstantAnswer(ctx context.Context, query string) (any, error) {
	values := url.Values{
		"q":             {query},
		"format":        {"json"},
		"no_html":       {"1"},
		"no_redirect":   {"1"},
		"skip_disambig": {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.ddgURL+"?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build DuckDuckGo request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("DuckDuckGo request failed: %w", err)
	}
	defer resp.Body.Close()

	var data struct {
		Heading       string     `json:"Heading"`
		AbstractURL   string     `json:"AbstractURL"`
		AbstractText  string     `json:"AbstractText"`
		Answer        string     `json:"Answer"`
		Results       []ddgTopic `json:"Results"`
		RelatedTopics []ddgTopic `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return WebLookupResult{
			Query:   query,
			Answer:  "",
			Sources: []WebSource{},
			Error:   "Non-JSON response from DuckDuckGo.",
		}, nil
	}

	var sources []WebSource
	if data.AbstractURL != "" {
		title := data.Heading
		if title == "" {
			title = "Abstract source"
		}
		sources = append(sources, WebSource{Title: title, URL: data.AbstractURL})
	}

	direct := data.Results
	if len(direct) > 3 {
		direct = direct[:3]
	}
	for _, item := range lo.Filter(direct, func(item ddgTopic, _ int) bool {
		return item.FirstURL != "" && item.Text != ""
	}) {
		sources = append(sources, WebSource{Title: item.Text, URL: item.FirstURL})
	}

	related := flattenTopics(data.RelatedTopics)
	if len(related) > 3 {
		related = related[:3]
	}
	sources = append(sources, related...)

	if len(sources) > 5 {
		sources = sources[:5]
	}
	if sources == nil {
		sources = []WebSource{}
	}

	answer := strings.TrimSpace(data.Answer)
	if answer == "" {
		answer = strings.TrimSpace(data.AbstractText)
	}

	return WebLookupResult{
		Query:   query,
		Answer:  answer,
		Sources: sources,
		Note:    "If answer is empty, use the sources or say you can't verify.",
	}, nil
}

// flattenTopics walks arbitrarily nested topic groups depth-first, keeping
// entries that carry both a URL and a label.
func flattenTopics(topics []ddgTopic) []WebSource {
	var out []WebSource
	for _, topic := range topics {
		if topic.FirstURL != "" && topic.Text != "" {
			out = append(out, WebSource{Title: topic.Text, URL: topic.FirstURL})
		}
		if len(topic.Topics) > 0 {
			out = append(out, flattenTopics(topic.Topics)...)
		}
	}
	return out
}
