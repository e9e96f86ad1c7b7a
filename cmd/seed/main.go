package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/yungbote/autoforge-backend/internal/app"
	"github.com/yungbote/autoforge-backend/internal/data/db"
	"github.com/yungbote/autoforge-backend/internal/data/vector"
	"github.com/yungbote/autoforge-backend/internal/platform/logger"
	"github.com/yungbote/autoforge-backend/internal/platform/openai"
)

// seedItem is one knowledge entry from the input JSON file.
type seedItem struct {
	Content    string                 `json:"content"`
	Category   string                 `json:"category"`
	Importance float64                `json:"importance"`
	Metadata   map[string]interface{} `json:"metadata"`
}

func main() {
	filePath := flag.String("file", "", "JSON file with knowledge data")
	tenantID := flag.String("tenant", "default", "Tenant ID")
	flag.Parse()
	if *filePath == "" {
		fmt.Println("usage: seed -file <knowledge.json> [-tenant <id>]")
		os.Exit(1)
	}

	log, err := logger.New("development")
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	cfg := app.LoadConfig(log)

	raw, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatal("Failed to read input file", "file", *filePath, "error", err)
	}
	var items []seedItem
	if err := json.Unmarshal(raw, &items); err != nil {
		log.Fatal("Failed to decode input file", "file", *filePath, "error", err)
	}

	pg, err := db.NewPostgresService(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("Failed to connect to Postgres", "error", err)
	}
	if err := pg.Migrate(); err != nil {
		log.Fatal("Failed to migrate schema", "error", err)
	}
	store := vector.NewStore(pg.DB(), log)

	client, err := openai.NewClient(log, openai.Options{
		EmbedBaseURL:         cfg.OpenAIBaseURL,
		EmbedAPIKey:          cfg.EmbeddingAPIKey(),
		EmbedModel:           cfg.OpenAIEmbeddingModel,
		EmbeddingConcurrency: cfg.EmbeddingConcurrency,
	})
	if err != nil {
		log.Fatal("Failed to init embedding client", "error", err)
	}

	ctx := context.Background()
	log.Info("Seeding knowledge", "count", len(items), "tenant_id", *tenantID)

	for i, item := range items {
		importance := item.Importance
		if importance == 0 {
			importance = 1.0
		}
		category := item.Category
		if category == "" {
			category = "general"
		}
		metadata := map[string]interface{}{
			"tenant_id":        *tenantID,
			"category":         category,
			"importance_score": importance,
			"access_count":     0,
		}
		for k, v := range item.Metadata {
			metadata[k] = v
		}

		vec, err := client.Embed(ctx, item.Content)
		if err != nil {
			log.Fatal("Embedding failed", "index", i, "error", err)
		}
		if err := store.Upsert(ctx, uuid.NewString(), item.Content, vec, metadata); err != nil {
			log.Fatal("Upsert failed", "index", i, "error", err)
		}

		if (i+1)%10 == 0 {
			log.Info("Seed progress", "done", i+1, "total", len(items))
		}
	}
	log.Info("Seeding complete", "count", len(items))
}
