package main

import (
	"context"
	"flag"
	"log"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"biblechat/internal/cache"
	"biblechat/internal/config"
	"biblechat/internal/domain"
	"biblechat/internal/embedding/openai"
	"biblechat/internal/llm/mistral"
	"biblechat/internal/prompt"
	"biblechat/internal/retriever"
	"biblechat/internal/retriever/memory"
	"biblechat/internal/retriever/pinecone"
	"biblechat/internal/service"
	"biblechat/internal/session"
	"biblechat/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/biblechat/config.yaml if not provided)")
	flag.Parse()

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	system, err := prompt.LoadSystemInstruction(cfg.Prompt.SystemPath)
	if err != nil {
		log.Fatalf("failed to load system instruction: %v", err)
	}

	// Assemble components via interfaces
	var ret domain.Retriever
	switch cfg.Retriever.Type {
	case "pinecone", "":
		emb, err := openai.NewClient(openai.Config{
			BaseURL:   cfg.Embedder.BaseURL,
			APIKeyEnv: cfg.Embedder.APIKeyEnv,
			Model:     cfg.Embedder.Model,
			Timeout:   time.Duration(cfg.Embedder.TimeoutSecs) * time.Second,
		})
		if err != nil {
			log.Fatalf("embedder init failed: %v", err)
		}
		ret, err = pinecone.New(pinecone.Config{
			Host:      cfg.Retriever.Pinecone.Host,
			APIKeyEnv: cfg.Retriever.Pinecone.APIKeyEnv,
			Namespace: cfg.Retriever.Pinecone.Namespace,
			Timeout:   time.Duration(cfg.Retriever.Pinecone.TimeoutSecs) * time.Second,
		}, emb)
		if err != nil {
			log.Fatalf("pinecone init failed: %v", err)
		}
	case "memory":
		if cfg.Retriever.Memory == nil || cfg.Retriever.Memory.PassagesPath == "" {
			log.Fatalf("memory retriever needs a passages_path")
		}
		entries, err := memory.LoadEntries(cfg.Retriever.Memory.PassagesPath)
		if err != nil {
			log.Fatalf("failed to load passages: %v", err)
		}
		ret = memory.New(entries)
	default:
		log.Fatalf("unknown retriever: %s", cfg.Retriever.Type)
	}

	var store cache.Store
	switch cfg.Cache.Type {
	case "none":
	case "memory", "":
		store = cache.NewMemory()
	case "redis":
		rs, err := cache.NewRedis(context.Background(), cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB)
		if err != nil {
			log.Fatalf("redis init failed: %v", err)
		}
		defer rs.Close()
		store = rs
	default:
		log.Fatalf("unknown cache: %s", cfg.Cache.Type)
	}

	ttl := time.Duration(cfg.Cache.TTLSecs) * time.Second
	if store != nil {
		ret = retriever.NewCached(ret, store, ttl)
	}
	ret = retriever.NewRetrying(ret, retriever.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
	})

	var gen domain.Generator
	switch cfg.Generator.Type {
	case "mistral", "":
		gen, err = mistral.NewClient(mistral.Config{
			BaseURL:    cfg.Generator.Mistral.BaseURL,
			APIKeyEnv:  cfg.Generator.Mistral.APIKeyEnv,
			Model:      cfg.Generator.Mistral.Model,
			Timeout:    time.Duration(cfg.Generator.Mistral.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Retry.MaxAttempts - 1,
			RetryBase:  time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		})
		if err != nil {
			log.Fatalf("generator init failed: %v", err)
		}
	default:
		log.Fatalf("unknown generator: %s", cfg.Generator.Type)
	}

	composer := prompt.NewComposer(system, cfg.Prompt.HistoryBudgetChars, cfg.Prompt.MaxPayloadChars)
	sess := session.New("")
	svc := service.New(ret, gen, composer, sess, service.Options{
		TopK:      cfg.Retriever.TopK,
		Refine:    cfg.Chat.RefineQuery,
		Answers:   store,
		AnswerTTL: ttl,
	})

	m := tui.New(svc)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		log.Fatal(err)
	}
}
