package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LLM_PROVIDER", "TEMPERATURE", "MEMORY_WINDOW",
		"RATE_LIMIT_RPM", "LOG_DIR", "KB_PATH", "EVAL_MODE", "LTM_ENABLED",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != "8000" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.LLMProvider != "openai" {
		t.Errorf("LLMProvider = %q", cfg.LLMProvider)
	}
	if cfg.Temperature != 0.4 {
		t.Errorf("Temperature = %v", cfg.Temperature)
	}
	if cfg.MemoryWindow != 12 {
		t.Errorf("MemoryWindow = %d", cfg.MemoryWindow)
	}
	if cfg.RateLimitRPM != 60 {
		t.Errorf("RateLimitRPM = %d", cfg.RateLimitRPM)
	}
	if cfg.LogDir != "results" {
		t.Errorf("LogDir = %q", cfg.LogDir)
	}
	if cfg.KBPath != "kb.md" {
		t.Errorf("KBPath = %q", cfg.KBPath)
	}
	if cfg.EvalMode || cfg.LTMEnabled {
		t.Errorf("EvalMode = %v, LTMEnabled = %v, want both off", cfg.EvalMode, cfg.LTMEnabled)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LLM_PROVIDER", "Anthropic")
	t.Setenv("TEMPERATURE", "0.7")
	t.Setenv("MEMORY_WINDOW", "6")
	t.Setenv("EVAL_MODE", "on")

	cfg := Load()

	if cfg.Port != "9000" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.LLMProvider != "anthropic" {
		t.Errorf("LLMProvider = %q, want provider names lowercased", cfg.LLMProvider)
	}
	if cfg.Temperature != 0.7 {
		t.Errorf("Temperature = %v", cfg.Temperature)
	}
	if cfg.MemoryWindow != 6 {
		t.Errorf("MemoryWindow = %d", cfg.MemoryWindow)
	}
	if !cfg.EvalMode {
		t.Error("EvalMode = false, want on")
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("MEMORY_WINDOW", "a dozen")
	t.Setenv("TEMPERATURE", "warm")
	t.Setenv("EVAL_MODE", "maybe")

	cfg := Load()

	if cfg.MemoryWindow != 12 {
		t.Errorf("MemoryWindow = %d, want the default", cfg.MemoryWindow)
	}
	if cfg.Temperature != 0.4 {
		t.Errorf("Temperature = %v, want the default", cfg.Temperature)
	}
	if cfg.EvalMode {
		t.Error("EvalMode = true, want the default")
	}
}
