package models

type EvalPrompt struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type EvalPromptsFile struct {
	ConversationID string       `json:"conversation_id"`
	Prompts        []EvalPrompt `json:"prompts"`
}

// EvalResult mirrors one prompt/response exchange. Status and the latency
// fields are pointers because transport failures leave them unset, and the
// report reader must treat absent and zero differently.
type EvalResult struct {
	ID              string `json:"id"`
	Prompt          string `json:"prompt"`
	OK              bool   `json:"ok"`
	Status          *int   `json:"status"`
	Error           string `json:"error"`
	Output          string `json:"output"`
	ClientElapsedMs *int64 `json:"client_elapsed_ms"`
	ServerLatencyMs *int64 `json:"server_latency_ms"`
}

type EvalRun struct {
	ConversationID string       `json:"conversation_id"`
	APIURL         string       `json:"api_url"`
	PromptsFile    string       `json:"prompts_file"`
	EvalMode       string       `json:"eval_mode,omitempty"`
	RunTs          float64      `json:"run_ts"`
	TotalPrompts   int          `json:"total_prompts"`
	Successes      int          `json:"successes"`
	Failures       int          `json:"failures"`
	TsPercent      float64      `json:"ts_percent"`
	Results        []EvalResult `json:"results"`
}
