package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"coursebot/models"

	"github.com/samber/lo"
)

var latencyAnnotationRe = regexp.MustCompile(`\[latency_ms=(\d+)\]`)

func main() {
	apiURL := flag.String("api-url", envOr("EVAL_API_URL", "http://127.0.0.1:8000/chat"), "chat endpoint to evaluate")
	promptsFile := flag.String("prompts-file", envOr("EVAL_PROMPTS_FILE", "eval_prompts.json"), "prompts JSON file")
	evalMode := flag.String("eval-mode", "", `optional X-Eval-Mode header: "on" or "off"`)
	flag.Parse()

	var headers map[string]string
	switch *evalMode {
	case "on":
		headers = map[string]string{"X-Eval-Mode": "1"}
	case "off":
		headers = map[string]string{"X-Eval-Mode": "0"}
	case "":
	default:
		log.Fatalf("Invalid -eval-mode value %q (want on or off)", *evalMode)
	}

	data, err := os.ReadFile(*promptsFile)
	if err != nil {
		log.Fatalf("Failed to read prompts file: %v", err)
	}

	var promptSet models.EvalPromptsFile
	if err := json.Unmarshal(data, &promptSet); err != nil {
		log.Fatalf("Failed to parse prompts file: %v", err)
	}

	cid := promptSet.ConversationID
	prompts := promptSet.Prompts

	if err := os.MkdirAll(filepath.Join("results", "transcripts"), 0755); err != nil {
		log.Fatalf("Failed to create transcripts directory: %v", err)
	}
	if err := os.MkdirAll(filepath.Join("results", "eval_runs"), 0755); err != nil {
		log.Fatalf("Failed to create eval_runs directory: %v", err)
	}

	transcriptPath := filepath.Join("results", "transcripts", cid+".txt")
	resultsPath := filepath.Join("results", "eval_runs", cid+".json")

	transcript, err := os.Create(transcriptPath)
	if err != nil {
		log.Fatalf("Failed to create transcript file: %v", err)
	}
	defer transcript.Close()

	fmt.Fprintf(transcript, "=== Evaluation run: %s ===\n", cid)
	fmt.Fprintf(transcript, "API: %s\n", *apiURL)
	if len(headers) > 0 {
		fmt.Fprintf(transcript, "Headers: %v\n", headers)
	}
	fmt.Fprintln(transcript)

	// Streamed answers can take a while; prompts are sent strictly in order
	// so the server sees one coherent conversation.
	client := &http.Client{}

	results := []models.EvalResult{}
	for idx, p := range prompts {
		pid := p.ID
		if pid == "" {
			pid = strconv.Itoa(idx + 1)
		}

		fmt.Printf("Running prompt %d/%d (id=%s)...\n", idx+1, len(prompts), pid)
		fmt.Printf("  Sending: %q\n", p.Text)

		fmt.Fprintf(transcript, "\n\nPROMPT %s: %s\n", pid, p.Text)
		fmt.Fprintf(transcript, "BOT:\n")

		start := time.Now()
		output, status, err := postPrompt(client, *apiURL, cid, p.Text, headers)
		elapsedMs := time.Since(start).Milliseconds()

		switch {
		case err != nil:
			fmt.Fprintf(transcript, "[EXCEPTION] %v\n", err)
			fmt.Fprintf(transcript, "\n[client_elapsed_ms=%d]\n", elapsedMs)
			results = append(results, models.EvalResult{
				ID:              pid,
				Prompt:          p.Text,
				OK:              false,
				Error:           err.Error(),
				ClientElapsedMs: &elapsedMs,
			})
		case status != http.StatusOK:
			errText := strings.TrimSpace(output)
			fmt.Fprintf(transcript, "[ERROR status=%d] %s\n", status, errText)
			fmt.Fprintf(transcript, "\n[client_elapsed_ms=%d]\n", elapsedMs)
			statusCopy := status
			results = append(results, models.EvalResult{
				ID:              pid,
				Prompt:          p.Text,
				OK:              false,
				Status:          &statusCopy,
				Error:           errText,
				ClientElapsedMs: &elapsedMs,
			})
		default:
			botText := strings.TrimSpace(output)
			fmt.Fprintf(transcript, "%s\n", botText)
			fmt.Fprintf(transcript, "\n[client_elapsed_ms=%d]\n", elapsedMs)
			statusCopy := status
			results = append(results, models.EvalResult{
				ID:              pid,
				Prompt:          p.Text,
				OK:              true,
				Status:          &statusCopy,
				Output:          botText,
				ClientElapsedMs: &elapsedMs,
				ServerLatencyMs: extractServerLatencyMs(botText),
			})
		}
	}

	successes := lo.CountBy(results, func(r models.EvalResult) bool { return r.OK })

	denom := len(prompts)
	if denom == 0 {
		denom = 1
	}

	run := models.EvalRun{
		ConversationID: cid,
		APIURL:         *apiURL,
		PromptsFile:    *promptsFile,
		EvalMode:       *evalMode,
		RunTs:          float64(time.Now().UnixNano()) / 1e9,
		TotalPrompts:   len(prompts),
		Successes:      successes,
		Failures:       len(results) - successes,
		TsPercent:      math.Round(100.0*float64(successes)/float64(denom)*100) / 100,
		Results:        results,
	}

	encoded, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode results: %v", err)
	}
	if err := os.WriteFile(resultsPath, encoded, 0644); err != nil {
		log.Fatalf("Failed to write results file: %v", err)
	}

	fmt.Printf("\nDone. Transcript saved to: %s\n", transcriptPath)
	fmt.Printf("Structured results saved to: %s\n", resultsPath)
	fmt.Println("Server-side metrics are still saved in results/metrics.jsonl")
}

// postPrompt sends one chat request and reads the full streamed body. The
// returned error covers transport failures only; HTTP error statuses come
// back as (body, status, nil).
func postPrompt(client *http.Client, apiURL, conversationID, text string, headers map[string]string) (string, int, error) {
	payload, err := json.Marshal(models.ChatRequest{ConversationID: conversationID, UserMessage: text})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequest(http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, err
	}
	return string(body), resp.StatusCode, nil
}

func extractServerLatencyMs(text string) *int64 {
	m := latencyAnnotationRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
