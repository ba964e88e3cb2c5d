package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"
	"time"
)

func newWebLookupTestTool(ddgBody, usaGovBody string, gotDDGQuery *url.Values, gotUserAgent *string) (WebLookupTool, func()) {
	ddg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotDDGQuery != nil {
			*gotDDGQuery = r.URL.Query()
		}
		fmt.Fprint(w, ddgBody)
	}))
	usaGov := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotUserAgent != nil {
			*gotUserAgent = r.Header.Get("User-Agent")
		}
		fmt.Fprint(w, usaGovBody)
	}))

	tool := WebLookupTool{
		client:    &http.Client{Timeout: 5 * time.Second},
		ddgURL:    ddg.URL,
		usaGovURL: usaGov.URL,
	}
	return tool, func() {
		ddg.Close()
		usaGov.Close()
	}
}

func TestWebLookupInstantAnswerSources(t *testing.T) {
	body := `{
		"Heading": "Go",
		"AbstractURL": "https://example.com/go",
		"AbstractText": "Go is a programming language.",
		"Answer": "",
		"Results": [
			{"FirstURL": "https://r1", "Text": "R1"},
			{"FirstURL": "https://r2", "Text": ""},
			{"FirstURL": "https://r3", "Text": "R3"},
			{"FirstURL": "https://r4", "Text": "R4"}
		],
		"RelatedTopics": [
			{"FirstURL": "https://t1", "Text": "T1"},
			{"Topics": [
				{"FirstURL": "https://t2", "Text": "T2"},
				{"FirstURL": "https://t3", "Text": "T3"}
			]}
		]
	}`

	var gotQuery url.Values
	tool, cleanup := newWebLookupTestTool(body, "", &gotQuery, nil)
	defer cleanup()

	result, err := tool.Call(context.Background(), `{"query": "what is go"}`)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}

	lookup, ok := result.(WebLookupResult)
	if !ok {
		t.Fatalf("unexpected result type %T", result)
	}
	if gotQuery.Get("q") != "what is go" || gotQuery.Get("format") != "json" {
		t.Errorf("request query = %v", gotQuery)
	}
	if lookup.Query != "what is go" {
		t.Errorf("query = %q", lookup.Query)
	}
	if lookup.Answer != "Go is a programming language." {
		t.Errorf("answer = %q", lookup.Answer)
	}

	want := []WebSource{
		{Title: "Go", URL: "https://example.com/go"},
		{Title: "R1", URL: "https://r1"},
		{Title: "R3", URL: "https://r3"},
		{Title: "T1", URL: "https://t1"},
		{Title: "T2", URL: "https://t2"},
	}
	if !reflect.DeepEqual(lookup.Sources, want) {
		t.Errorf("sources = %v, want %v", lookup.Sources, want)
	}
	if lookup.Note != "If answer is empty, use the sources or say you can't verify." {
		t.Errorf("note = %q", lookup.Note)
	}
	if lookup.Error != "" {
		t.Errorf("error = %q, want empty", lookup.Error)
	}
}

func TestWebLookupDirectAnswerWins(t *testing.T) {
	tool, cleanup := newWebLookupTestTool(
		`{"Answer": "42", "AbstractText": "an abstract", "Results": [], "RelatedTopics": []}`,
		"", nil, nil,
	)
	defer cleanup()

	result, err := tool.Call(context.Background(), `{"query": "meaning of life"}`)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}

	lookup := result.(WebLookupResult)
	if lookup.Answer != "42" {
		t.Errorf("answer = %q, want %q", lookup.Answer, "42")
	}
	if len(lookup.Sources) != 0 {
		t.Errorf("sources = %v, want none", lookup.Sources)
	}
}

func TestWebLookupNonJSONResponse(t *testing.T) {
	tool, cleanup := newWebLookupTestTool("<html>rate limited</html>", "", nil, nil)
	defer cleanup()

	result, err := tool.Call(context.Background(), `{"query": "anything"}`)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}

	lookup := result.(WebLookupResult)
	if lookup.Error != "Non-JSON response from DuckDuckGo." {
		t.Errorf("error = %q", lookup.Error)
	}
	if lookup.Answer != "" {
		t.Errorf("answer = %q, want empty", lookup.Answer)
	}
	if lookup.Sources == nil || len(lookup.Sources) != 0 {
		t.Errorf("sources = %v, want empty slice", lookup.Sources)
	}
}

func TestWebLookupUSPresident(t *testing.T) {
	html := `<p>The current president of the United States is John Example.
He was sworn into office on January 20, 2025.</p>`

	var gotUserAgent string
	tool, cleanup := newWebLookupTestTool("{}", html, nil, &gotUserAgent)
	defer cleanup()

	result, err := tool.Call(context.Background(), `{"query": "Who is the current president of the United States?"}`)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}

	lookup := result.(WebLookupResult)
	if gotUserAgent != "Mozilla/5.0" {
		t.Errorf("user agent = %q", gotUserAgent)
	}
	if lookup.Query != "current president of the United States" {
		t.Errorf("query = %q", lookup.Query)
	}
	want := "The current president of the United States is John Example. Sworn into office on January 20, 2025."
	if lookup.Answer != want {
		t.Errorf("answer = %q, want %q", lookup.Answer, want)
	}
	if len(lookup.Sources) != 1 || lookup.Sources[0].Title != "USA.gov Presidents" {
		t.Errorf("sources = %v", lookup.Sources)
	}
}

func TestWebLookupUSPresidentParseFailure(t *testing.T) {
	tool, cleanup := newWebLookupTestTool("{}", "<p>nothing useful here</p>", nil, nil)
	defer cleanup()

	result, err := tool.Call(context.Background(), `{"query": "current president of the usa"}`)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}

	lookup := result.(WebLookupResult)
	if lookup.Error != "Could not parse president name from USA.gov." {
		t.Errorf("error = %q", lookup.Error)
	}
	if lookup.Answer != "" {
		t.Errorf("answer = %q, want empty", lookup.Answer)
	}
	if len(lookup.Sources) != 1 {
		t.Errorf("sources = %v, want the USA.gov page", lookup.Sources)
	}
}
