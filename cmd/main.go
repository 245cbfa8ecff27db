package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/okral/codechat/internal/models"
	"github.com/okral/codechat/pkg/config"
	"github.com/okral/codechat/pkg/history"
	"github.com/okral/codechat/pkg/llm"
	"github.com/okral/codechat/pkg/logger"
	"github.com/okral/codechat/pkg/pipeline"
	"github.com/okral/codechat/pkg/store"
	"github.com/okral/codechat/server"
)

type flags struct {
	configPath string
	serve      bool
	dir        string
	session    string
	explain    bool
	language   string
}

func main() {
	f := parseFlags()

	if err := run(f); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to config file")
	flag.BoolVar(&f.serve, "serve", false, "Start the HTTP/WebSocket server")
	flag.StringVar(&f.dir, "dir", "", "Ingest every source file under this directory before chatting")
	flag.StringVar(&f.session, "session", "", "Session to work in (defaults to a fresh one)")
	flag.BoolVar(&f.explain, "explain", false, "Explain pasted code instead of answering from documents")
	flag.StringVar(&f.language, "language", "", "Language hint for explain mode")
	flag.Parse()
	return f
}

func run(f flags) error {
	// a missing .env is fine
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			color.Red("config: %s: %s", p.Field, p.Message)
		}
		return fmt.Errorf("invalid configuration")
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	embedder := llm.NewProvider(llm.EmbedderConfig{
		Model:   cfg.Embedding.Model,
		BaseURL: cfg.Embedding.BaseURL,
		Dim:     cfg.Embedding.Dim,
	}, zlog)

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		Retries:     cfg.LLM.Retries,
	}, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %v", err)
	}

	vectorStore, err := store.NewWithConfig(store.VectorStoreConfig{
		ConnString: cfg.Database.URL,
		TableName:  cfg.Database.TableName,
		VectorDim:  cfg.Embedding.Dim,
	}, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %v", err)
	}
	defer vectorStore.Close()

	messages, err := history.NewWithPool(vectorStore.Pool(), history.MessageStoreConfig{
		TableName: cfg.Database.MessagesTable,
	}, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize message store: %v", err)
	}

	ingestor := pipeline.NewIngestor(pipeline.IngestConfig{
		ChunkSize:         cfg.Ingest.ChunkSize,
		ChunkOverlap:      cfg.Ingest.ChunkOverlap,
		ParallelThreshold: cfg.Ingest.ParallelThreshold,
		EmbedWidth:        cfg.Ingest.EmbedWidth,
		WriteBatchSize:    cfg.Ingest.WriteBatchSize,
	}, embedder, vectorStore, zlog)

	querier := pipeline.NewQuerier(pipeline.QueryConfig{
		TopK:         cfg.Query.TopK,
		HistoryLimit: cfg.Query.HistoryLimit,
	}, embedder, vectorStore, messages, chatEngine, zlog)

	orchestrator := pipeline.NewOrchestrator(querier, messages, chatEngine, zlog)

	sessionID := f.session
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if f.dir != "" {
		if err := ingestDir(ingestor, sessionID, f.dir); err != nil {
			return err
		}
	}

	if f.serve {
		srv := server.New(server.Config{Addr: cfg.Server.Addr}, ingestor, orchestrator, zlog)
		return srv.ListenAndServe()
	}

	return chatLoop(orchestrator, sessionID, f)
}

var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".jsx": true,
	".tsx": true, ".java": true, ".c": true, ".h": true, ".cpp": true,
	".rs": true, ".rb": true, ".sh": true, ".sql": true, ".html": true,
	".css": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".md": true, ".txt": true,
}

func ingestDir(ingestor *pipeline.Ingestor, sessionID, dir string) error {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if sourceExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %v", dir, err)
	}
	if len(paths) == 0 {
		color.Yellow("No source files found under %s", dir)
		return nil
	}

	color.Blue("\nIngesting %d files from %s\n", len(paths), dir)
	bar := getProgressBar(len(paths), "Embedding files...")

	var ingested, skipped int
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %v", path, err)
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}

		_, err = ingestor.Ingest(context.Background(), sessionID, rel, data)
		switch {
		case err == nil:
			ingested++
		case errors.Is(err, models.ErrDuplicateDocument), errors.Is(err, models.ErrInvalidInput):
			skipped++
		default:
			return fmt.Errorf("failed to ingest %s: %v", rel, err)
		}
		bar.Add(1)
	}
	bar.Finish()

	color.Green("\nIngested %d files (%d skipped)\n", ingested, skipped)
	return nil
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func chatLoop(orchestrator *pipeline.Orchestrator, sessionID string, f flags) error {
	if f.explain {
		color.Cyan("\nPaste code to explain (type 'exit' to quit)")
	} else {
		color.Cyan("\nChat with your uploaded code (type 'exit' to quit)")
	}

	chatID := uuid.NewString()
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		question := scanner.Text()
		if strings.ToLower(strings.TrimSpace(question)) == "exit" {
			break
		}
		if strings.TrimSpace(question) == "" {
			continue
		}

		mode := pipeline.ModeRAG
		if f.explain {
			mode = pipeline.ModeExplain
		}

		events := orchestrator.StreamQuery(context.Background(), pipeline.StreamRequest{
			Question:  question,
			SessionID: sessionID,
			ChatID:    chatID,
			Mode:      mode,
			Language:  f.language,
		})

		assistantPrompt("\nAssistant: ")
		var sources []models.Source
		for event := range events {
			switch event.Type {
			case pipeline.EventChunk:
				assistantPrompt("%s", event.Content)
			case pipeline.EventDone:
				sources = event.Sources
			case pipeline.EventError:
				color.Red("\nError: %s", event.Error)
			}
		}
		fmt.Print("\n")

		if len(sources) > 0 {
			color.Yellow("Sources:")
			for i, s := range sources {
				color.Yellow("  %d. %s (%.2f)", i+1, s.Filename, s.Similarity)
			}
		}
	}

	return nil
}
