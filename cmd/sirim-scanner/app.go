package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/zombor/sirim-scanner/internal/label"
	"github.com/zombor/sirim-scanner/internal/record"
	"github.com/zombor/sirim-scanner/internal/scanning"
)

// utcClock drives session idle timeouts
type utcClock struct{}

func (utcClock) Now() time.Time {
	return time.Now().UTC()
}

// app is the storage side shared by the subcommands
type app struct {
	db      record.DB
	records *record.Service
	rules   *label.RuleSet
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		slog.Error("Failed to close database", "error", err)
	}
}

// open initializes the rules, database, image store and record service
func (root *rootCommand) open(ctx context.Context) (*app, error) {
	rules, err := loadRules(*root.rulesPath)
	if err != nil {
		return nil, err
	}

	slog.Info("Initializing database...", "driver", *root.dbDriver, "path", *root.dbPath)
	var db record.DB
	switch *root.dbDriver {
	case "bolt":
		db, err = record.NewBoltDB(*root.dbPath)
	case "sqlite":
		db, err = record.NewSQLiteDB(*root.dbPath)
	default:
		return nil, fmt.Errorf("invalid db driver %q (want bolt or sqlite)", *root.dbDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	slog.Info("Initializing storage...", "store", *root.imageStore)
	var storage record.Storage
	switch *root.imageStore {
	case "local":
		storage, err = record.NewLocalStorage(*root.storagePath)
	case "s3":
		storage, err = record.NewS3Storage(ctx, record.S3Config{
			Bucket:    *root.s3Bucket,
			Region:    *root.s3Region,
			Endpoint:  *root.s3Endpoint,
			Prefix:    *root.s3Prefix,
			AccessKey: *root.s3AccessKey,
			SecretKey: *root.s3SecretKey,
		})
	default:
		err = fmt.Errorf("invalid image store %q (want local or s3)", *root.imageStore)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	return &app{
		db:      db,
		records: record.NewService(db, storage),
		rules:   rules,
	}, nil
}

// newEngine builds the recognition engine for the configured backend.
// Nothing connects until Init.
func (root *rootCommand) newEngine() *scanning.Engine {
	return scanning.NewEngine(func(ctx context.Context) (scanning.Recognizer, error) {
		switch *root.recognizer {
		case "gemini":
			// Get Gemini API key from flag or environment
			apiKey := *root.geminiKey
			if apiKey == "" {
				apiKey = os.Getenv("GEMINI_API_KEY")
			}
			if apiKey == "" {
				return nil, fmt.Errorf("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
			}
			slog.Info("Initializing Gemini recognizer...", "model", *root.geminiModel)
			return scanning.NewGemini(ctx, apiKey, *root.geminiModel)
		case "ollama":
			slog.Info("Initializing Ollama recognizer...", "url", *root.ollamaURL, "model", *root.ollamaModel)
			return scanning.NewOllama(*root.ollamaURL, *root.ollamaModel)
		default:
			return nil, fmt.Errorf("invalid recognizer %q (want gemini or ollama)", *root.recognizer)
		}
	})
}
