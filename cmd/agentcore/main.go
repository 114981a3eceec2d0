// Command agentcore runs the per-user agent HTTP service: chat, tool
// invocation, and exported-artifact retrieval behind an Echo v5 gateway.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/nebula-assistant/agent-core/pkg/agent"
	"github.com/nebula-assistant/agent-core/pkg/api"
	"github.com/nebula-assistant/agent-core/pkg/auth"
	"github.com/nebula-assistant/agent-core/pkg/config"
	"github.com/nebula-assistant/agent-core/pkg/database"
	"github.com/nebula-assistant/agent-core/pkg/export"
	"github.com/nebula-assistant/agent-core/pkg/llm"
	"github.com/nebula-assistant/agent-core/pkg/memory"
	"github.com/nebula-assistant/agent-core/pkg/ratelimit"
	"github.com/nebula-assistant/agent-core/pkg/tool"
	"github.com/nebula-assistant/agent-core/pkg/vectorindex"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to a .env file to load before reading configuration")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("warning: could not load %s: %v", *envFile, err)
		log.Printf("continuing with existing environment variables")
	} else {
		log.Printf("loaded environment from %s", *envFile)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	log.Printf("starting agentcore (env=%s)", cfg.Env)

	ctx := context.Background()

	var dbClient *database.Client
	if cfg.DatabaseEnabled {
		dbClient, err = database.NewClient(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				log.Printf("error closing database client: %v", err)
			}
		}()
		log.Println("connected to PostgreSQL database")
	} else {
		log.Println("persistence disabled: DB_HOST not set, memory and durability features are off")
	}

	authn, err := auth.New(cfg.Auth)
	if err != nil {
		log.Fatalf("failed to initialize authenticator: %v", err)
	}

	var index vectorindex.Index
	if cfg.VectorIndexURL != "" {
		index = vectorindex.NewHTTPIndex(cfg.VectorIndexURL, cfg.VectorIndexKey)
		log.Println("vector index configured")
	}

	var embedder memory.Embedder
	if cfg.OpenAIAPIKey != "" {
		embedder = llm.NewEmbedClientFromAPIKey(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
		log.Println("embedding client configured")
	}

	chatClient := llm.NewChatClientFromAPIKey(cfg.AnthropicAPIKey, cfg.ChatModel, cfg.ChatMaxTokens)

	toolExec, err := tool.NewExecutor(cfg.BackendURL)
	if err != nil {
		log.Fatalf("failed to initialize tool executor: %v", err)
	}

	var store agent.Store
	if dbClient != nil {
		store = dbClient
	}

	var recaller *memory.Recaller
	if store != nil {
		recaller = memory.NewRecaller(store, index, embedder)
	}

	router := agent.NewRouter(func(userID string) *agent.Actor {
		return agent.NewActor(userID, store, recaller, chatClient, embedder, index, toolExec)
	})

	var objectStore export.ObjectStore
	if cfg.ObjectStoreURL != "" {
		objectStore = export.NewHTTPObjectStore(cfg.ObjectStoreURL, cfg.ObjectStoreKey)
		log.Println("object store configured")
	} else {
		objectStore = export.NewMemoryObjectStore()
		log.Println("object store not configured, using in-memory fallback (not durable across restarts)")
	}
	exporter := export.NewExporter(objectStore, cfg.HMACSigningKey, cfg.OriginURL)

	limits := api.Limits{
		Chat:        ratelimit.NewPerMinuteLimiter(float64(cfg.RateLimits.ChatPerMinute)),
		Tool:        ratelimit.NewPerMinuteLimiter(float64(cfg.RateLimits.ToolPerMinute)),
		Export:      ratelimit.NewPerMinuteLimiter(float64(cfg.RateLimits.ExportPerMinute)),
		Artifact:    ratelimit.NewPerMinuteLimiter(float64(cfg.RateLimits.ArtifactPerMinute)),
		GlobalIP:    ratelimit.NewPerMinuteLimiter(float64(cfg.RateLimits.GlobalIPPerMinute)),
		Concurrency: ratelimit.NewConcurrencyLimiter(),
	}

	server := api.NewServer(cfg, authn, dbClient, router, exporter, limits)
	if err := server.ValidateWiring(); err != nil {
		log.Fatalf("server wiring incomplete: %v", err)
	}

	addr := ":" + getEnv("HTTP_PORT", "8080")
	log.Printf("HTTP server listening on %s", addr)
	if err := server.Start(addr); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
