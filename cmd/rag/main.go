package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"rag-corpus/internal/chromemdb"
	"rag-corpus/internal/config"
	"rag-corpus/internal/db"
	"rag-corpus/internal/embedding"
	"rag-corpus/internal/helper"
	"rag-corpus/internal/llmservice"
	"rag-corpus/internal/models"
	"rag-corpus/internal/parser"
	"rag-corpus/internal/rag"
	"rag-corpus/internal/server"
	"rag-corpus/internal/store"
	"rag-corpus/internal/tui"
)

const (
	configFilePath = "./configs/config.yaml"
	previewRunes   = 500
)

const usage = `Usage: rag [flags] <command> [args]

Commands:
  init                    write the default config to -config
  build [file]            extract, chunk, embed and write the snapshot
  query <text>            top k chunks for text
  context <text>          top k chunks formatted as prompt context
  page <n>                all chunks of page n
  stats                   snapshot statistics
  ask <question>          answer from the top k chunks with the inference llm
  shell                   interactive search
  serve                   http api
  publish chromem|postgres  copy the snapshot into a vector store

Flags:
`

func main() {
	helper.SetupLogger("info", false)

	configPath := flag.String("config", configFilePath, "Path to the config file")
	k := flag.Int("k", 0, "Number of results, 0 uses rag.top_k")
	dryRun := flag.Bool("dry-run", false, "Build: stop after chunking, do not embed or write")
	asJSON := flag.Bool("json", false, "Print results as json")
	var samples []string
	flag.Func("sample", "Build: query to run against the new snapshot (repeatable)", func(s string) error {
		samples = append(samples, s)
		return nil
	})
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if args[0] == "init" {
		if _, err := os.Stat(*configPath); err == nil {
			log.Fatal().Str("path", *configPath).Msg("Config already exists")
		}
		if err := helper.CreateFolder(filepath.Dir(*configPath)); err != nil {
			log.Fatal().Err(err).Msg("Error creating config folder")
		}
		if err := config.Save(*configPath, config.Default()); err != nil {
			log.Fatal().Err(err).Msg("Error writing config")
		}
		log.Info().Str("path", *configPath).Msg("Wrote default config")
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	helper.SetupLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Debug().Interface("config", cfg).Msg("Loaded config")

	topK := *k
	if topK == 0 {
		topK = cfg.RAG.TopK
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	out := printer{w: os.Stdout, json: *asJSON}
	switch cmd {
	case "build":
		err = runBuild(ctx, cfg, rest, *dryRun, samples, out)
	case "query":
		err = withEngine(cfg, func(engine *rag.RAG) error {
			results, err := engine.Query(ctx, joinArgs(rest), topK)
			if err != nil {
				return err
			}
			out.results(results)
			return nil
		})
	case "context":
		err = withEngine(cfg, func(engine *rag.RAG) error {
			text, err := engine.GetContext(ctx, joinArgs(rest), topK)
			if err != nil {
				return err
			}
			fmt.Fprintln(out.w, text)
			return nil
		})
	case "page":
		err = runPage(cfg, rest, out)
	case "stats":
		err = withEngine(cfg, func(engine *rag.RAG) error {
			helper.FprettyPrint(out.w, engine.Stats())
			return nil
		})
	case "ask":
		err = withEngine(cfg, func(engine *rag.RAG) error {
			llm, err := llmservice.NewLLM(&cfg.InferenceLLM)
			if err != nil {
				return err
			}
			resp, err := engine.Ask(ctx, llm, joinArgs(rest), topK)
			if err != nil {
				return err
			}
			out.answer(resp)
			return nil
		})
	case "shell":
		err = withEngine(cfg, func(engine *rag.RAG) error {
			s := engine.Stats()
			summary := fmt.Sprintf("%s  %d chunks, %d pages, %s", engine.Snapshot().Metadata.Source, s.TotalChunks, s.Pages, s.EmbeddingModel)
			_, err := tea.NewProgram(tui.New(engine, topK, summary), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			return err
		})
	case "serve":
		err = withEngine(cfg, func(engine *rag.RAG) error {
			return runServe(ctx, cfg, engine)
		})
	case "publish":
		err = runPublish(ctx, cfg, rest)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("Command failed")
	}
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func newEmbedder(cfg *config.Config) embeddings.Embedder {
	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	return embedder
}

// withEngine opens the snapshot in storage_dir and hands it to fn
func withEngine(cfg *config.Config, fn func(*rag.RAG) error) error {
	engine, err := rag.Open(cfg.StorageDir, newEmbedder(cfg))
	if err != nil {
		return fmt.Errorf("open snapshot %s: %w", cfg.StorageDir, err)
	}
	if model := engine.Stats().EmbeddingModel; model != cfg.EmbedLLM.Model {
		log.Warn().Str("snapshot", model).Str("config", cfg.EmbedLLM.Model).Msg("embedding model differs from the one used to build the snapshot")
	}
	return fn(engine)
}

func runBuild(ctx context.Context, cfg *config.Config, args []string, dryRun bool, samples []string, out printer) error {
	source := cfg.Source
	if len(args) > 0 {
		source = args[0]
	}
	if source == "" {
		return errors.New("no source document, pass a file or set source in the config")
	}

	embedder := newEmbedder(cfg)
	res, err := rag.BuildSnapshot(ctx, cfg, source, parser.New(cfg.Extract), embedder, dryRun)
	if err != nil {
		return err
	}
	if dryRun {
		fmt.Fprintf(out.w, "dry run: %d pages, %d chunks, nothing written\n", res.Pages, len(res.Chunks))
		return nil
	}

	engine := rag.NewRAG(res.Snapshot, embedder)
	for _, q := range samples {
		results, err := engine.Query(ctx, q, 3)
		if err != nil {
			return err
		}
		fmt.Fprintf(out.w, "\nsample query: %q\n", q)
		out.results(results)
	}

	s := engine.Stats()
	fmt.Fprintf(out.w, "\nsnapshot: %s\nindex:    %s\nchunks:   %d from %d pages\n",
		s.StorageDir, filepath.Join(res.Snapshot.Dir, models.IndexFile), s.TotalChunks, res.Pages)
	return nil
}

func runPage(cfg *config.Config, args []string, out printer) error {
	if len(args) != 1 {
		return errors.New("page needs one page number")
	}
	page, err := strconv.Atoi(args[0])
	if err != nil || page < 1 {
		return fmt.Errorf("invalid page %q, pages start at 1", args[0])
	}
	snap, err := store.Open(cfg.StorageDir)
	if err != nil {
		return err
	}
	chunks := rag.NewRAG(snap, nil).SearchByPage(page)
	if out.json {
		helper.FprettyPrint(out.w, chunks)
		return nil
	}
	if len(chunks) == 0 {
		fmt.Fprintf(out.w, "no chunks on page %d\n", page)
	}
	for _, c := range chunks {
		fmt.Fprintf(out.w, "\n[page %d, chunk %d]\n%s\n", c.Page, c.ChunkID, c.Text)
	}
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, engine *rag.RAG) error {
	var llm llms.Model
	if m, err := llmservice.NewLLM(&cfg.InferenceLLM); err != nil {
		log.Warn().Err(err).Msg("ask endpoint disabled")
	} else {
		llm = m
	}

	srv := server.NewServer(cfg.Server.Addr, engine, llm, cfg.RAG.TopK)
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Error shutting down server")
		}
	}()
	return srv.Run()
}

func runPublish(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return errors.New("publish needs a target: chromem or postgres")
	}
	snap, err := store.Open(cfg.StorageDir)
	if err != nil {
		return err
	}

	var n int
	switch args[0] {
	case "chromem":
		m, err := chromemdb.NewVectorDBManager(&cfg.Chromem)
		if err != nil {
			return err
		}
		if n, err = m.Publish(ctx, cfg.Chromem.Collection, snap); err != nil {
			return err
		}
	case "postgres":
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return fmt.Errorf("error connecting to database: %w", err)
		}
		pg := db.NewStore(db.NewDB(sqldb, cfg.Database.Debug), cfg.Database.Table)
		defer pg.Close()
		if n, err = pg.Publish(ctx, snap); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown publish target %q", args[0])
	}
	log.Info().Str("target", args[0]).Int("chunks", n).Str("build_id", snap.Metadata.BuildID).Msg("Published snapshot")
	return nil
}

type printer struct {
	w    io.Writer
	json bool
}

func (p printer) results(results []models.Result) {
	if p.json {
		helper.FprettyPrint(p.w, results)
		return
	}
	for i, r := range results {
		fmt.Fprintf(p.w, "\nResult %d - page %d, similarity %.4f\n%s\n", i+1, r.Chunk.Page, r.Score, preview(r.Chunk.Text))
	}
}

func (p printer) answer(resp *models.PromptResponse) {
	if p.json {
		helper.FprettyPrint(p.w, resp)
		return
	}
	fmt.Fprintln(p.w, resp.Answer)
	pages := make([]string, len(resp.Sources))
	for i, s := range resp.Sources {
		pages[i] = strconv.Itoa(s.Chunk.Page)
	}
	fmt.Fprintf(p.w, "\nsources: pages %s\n", strings.Join(pages, ", "))
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= previewRunes {
		return text
	}
	return string(r[:previewRunes]) + "..."
}
