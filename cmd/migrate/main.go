package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/nexusrag/backend-go/internal/config"
	"github.com/nexusrag/backend-go/internal/database"
	"github.com/nexusrag/backend-go/internal/logger"
	"github.com/nexusrag/backend-go/internal/rag"
)

func main() {
	var databaseURL = flag.String("database-url", "", "PostgreSQL connection string (overrides config)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	if err := logger.InitLogger(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	url := *databaseURL
	if url == "" {
		url = config.AppConfig.Pipeline.VectorStore.Database.URL
	}
	if url == "" {
		log.Fatal("Database URL not configured")
	}

	db, err := database.InitDB(url)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.CloseDB()

	index := rag.NewDatabaseVectorIndex(db, config.AppConfig.Pipeline.Embedding.Dimensions)
	if err := index.Migrate(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	count, err := index.Len(context.Background())
	if err != nil {
		log.Fatalf("Failed to count vector entries: %v", err)
	}
	fmt.Printf("Migration completed, %d vector entries present\n", count)
}
