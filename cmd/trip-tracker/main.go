package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/trip-tracker/internal/analysis"
	"github.com/zombor/trip-tracker/internal/sqlitestore"
	"github.com/zombor/trip-tracker/internal/trip"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// backend is a durable store that also keeps preferences
type backend interface {
	trip.DurableStore
	trip.PreferenceStore
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine; real environment variables still apply
	_ = godotenv.Load()

	fs := ff.NewFlagSet("trip-tracker")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		backendType  = fs.StringLong("backend", "bolt", "Storage backend: 'bolt' or 'sqlite'")
		dbPath       = fs.StringLong("db", "trip-tracker.db", "Database file path")
		legacyDir    = fs.StringLong("legacy-dir", "", "Directory of legacy key files to migrate on first start (optional)")
		analyzerType = fs.StringLong("analyzer", "gemini", "Analyzer type: 'gemini' or 'ollama'")
		geminiKey    = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY / API_KEY env var)")
		geminiModel  = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL    = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		refCurrency  = fs.StringLong("reference-currency", "KRW", "Currency every receipt amount is normalized to")
		timezone     = fs.StringLong("timezone", "Local", "Time zone used to read receipt dates (e.g., Asia/Tokyo)")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("TRIP_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	location, err := time.LoadLocation(*timezone)
	if err != nil {
		slog.Error("Invalid timezone", "timezone", *timezone, "error", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...", "backend", *backendType, "path", *dbPath)
	var db backend
	switch *backendType {
	case "bolt":
		db, err = trip.NewBoltDB(*dbPath)
	case "sqlite":
		db, err = sqlitestore.New(*dbPath)
	default:
		slog.Error("Invalid backend type", "type", *backendType, "valid", "bolt or sqlite")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var legacy trip.LegacySource
	if *legacyDir != "" {
		flat, err := trip.NewFlatStorage(*legacyDir)
		if err != nil {
			slog.Error("Failed to open legacy storage", "error", err)
			os.Exit(1)
		}
		legacy = flat
	}

	// Initialize analyzer and geocoder based on type
	var collaborator interface {
		analysis.Analyzer
		analysis.Geocoder
	}
	switch *analyzerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			apiKey = os.Getenv("API_KEY")
		}
		if apiKey == "" {
			slog.Warn("Gemini API key is not set; receipt analysis and geocoding will fail until --gemini-key or GEMINI_API_KEY is provided")
			collaborator = analysis.Unconfigured{}
			break
		}
		slog.Info("Initializing Gemini analyzer...", "model", *geminiModel)
		collaborator, err = analysis.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama analyzer...", "url", *ollamaURL, "model", *ollamaModel)
		collaborator, err = analysis.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid analyzer type", "type", *analyzerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer collaborator.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load trips
	slog.Info("Loading trips...")
	synchronizer := trip.NewSynchronizer(db, db, legacy)
	store, err := synchronizer.Bootstrap(ctx)
	if err != nil {
		slog.Error("Failed to load trips", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := synchronizer.Close(); err != nil {
			slog.Error("Failed to flush pending writes", "error", err)
		}
	}()

	// Initialize service
	normalizer := trip.NewNormalizer(*refCurrency, location)
	tripService := trip.NewService(store, normalizer, collaborator, analysis.NewShared(collaborator), db, synchronizer)

	// Initialize server
	basicAuth := trip.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := trip.NewServer(tripService, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "active_trip", store.ActiveID())
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	if err := server.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down...")
}
