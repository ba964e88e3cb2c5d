package main

import (
	"fmt"
	"log"
	"net/http"

	"coursebot/config"
	"coursebot/db"
	"coursebot/handlers"
	"coursebot/services"
	"coursebot/services/chat"
	"coursebot/services/llm"
	"coursebot/services/ltm"
	"coursebot/services/tools"

	"github.com/gorilla/mux"
)

func main() {
	cfg := config.Load()

	client, err := newLLMClient(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	var repo db.ConversationRepository
	if cfg.DatabaseURL != "" {
		pgRepo, err := db.NewPostgresConversationRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize conversation database: %v", err)
		}
		defer pgRepo.Close()
		repo = pgRepo
		log.Printf("[INFO] Conversation archive enabled (Postgres)")
	} else {
		repo = db.NewInMemoryConversationRepository()
	}

	facts, err := newFactStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize fact store: %v", err)
	}

	registry := tools.NewRegistry(
		tools.NewGetWeatherTool(),
		tools.NewKBSearchTool(cfg.KBPath),
		tools.NewCalculateGradeTool(),
		tools.NewWebLookupTool(),
	)

	chatService := chat.NewService(
		client,
		registry,
		services.NewConversationService(repo, cfg.MemoryWindow),
		services.NewPolicyService(),
		services.NewToolRouterService(),
		services.NewRateLimiterService(cfg.RateLimitRPM),
		services.NewMetricsService(cfg.LogDir),
		facts,
		cfg.Temperature,
	)
	chatHandler := handlers.NewChatHandler(chatService, cfg.EvalMode)

	router := mux.NewRouter()

	router.Use(corsMiddleware)

	router.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("OPTIONS")

	chatHandler.RegisterRoutes(router)

	router.HandleFunc("/health", healthCheckHandler).Methods("GET")

	addr := ":" + cfg.Port
	fmt.Printf("Server starting on port %s\n", cfg.Port)

	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

func newLLMClient(cfg config.Config) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is required")
		}
		return llm.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
		}
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER: %s", cfg.LLMProvider)
	}
}

// newFactStore returns nil when long-term memory is disabled; the chat
// service skips the feature entirely in that case.
func newFactStore(cfg config.Config) (ltm.FactStore, error) {
	if !cfg.LTMEnabled {
		return nil, nil
	}
	if cfg.PineconeAPIKey != "" {
		return ltm.NewPineconeStore(cfg.PineconeAPIKey, cfg.OpenAIAPIKey, cfg.PineconeIndex)
	}
	log.Printf("[INFO] PINECONE_API_KEY not set, using in-memory fact store")
	return ltm.NewLocalStore(), nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Expose-Headers", "*")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}
