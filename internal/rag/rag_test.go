package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"rag-corpus/internal/config"
	"rag-corpus/internal/embedding"
	"rag-corpus/internal/models"
	"rag-corpus/internal/store"
)

type pagesParser []models.PageRecord

func (p pagesParser) Extract(string) ([]models.PageRecord, error) { return p, nil }

var twoPages = pagesParser{
	{
		Page:   1,
		Source: "manual.pdf",
		Text: "The pump must be primed before first use. Fill the housing with water and close the valve. " +
			"Never run the pump dry, the seals overheat within seconds. " +
			"Check the inlet filter every week and rinse it under running water.",
	},
	{
		Page:   2,
		Source: "manual.pdf",
		Text: "Warranty covers manufacturing defects for two years from the date of purchase. " +
			"Damage caused by frost, sand or chemicals is excluded. " +
			"Keep the receipt, service centers ask for it before any repair is accepted.",
	},
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.StorageDir = filepath.Join(t.TempDir(), "rag_database")
	cfg.RAG.ChunkSize = 120
	cfg.RAG.ChunkOverlap = 30
	cfg.EmbedLLM.Dimension = 256
	cfg.EmbedLLM.Model = "hash-256"
	return cfg
}

func buildEngine(t *testing.T) (*RAG, *config.Config) {
	t.Helper()
	cfg := testConfig(t)
	embedder := embedding.NewHashEmbedder(cfg.EmbedLLM.Dimension)

	res, err := BuildSnapshot(context.Background(), cfg, "manual.pdf", twoPages, embedder, false)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if res.Snapshot == nil || res.Pages != 2 {
		t.Fatalf("unexpected build result %+v", res)
	}

	r, err := Open(cfg.StorageDir, embedder)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	return r, cfg
}

func TestQuery_ChunkZeroFindsItself(t *testing.T) {
	r, _ := buildEngine(t)
	first := r.Snapshot().Chunks[0]

	results, err := r.Query(context.Background(), first.Text, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Position != 0 || results[0].Chunk != first {
		t.Fatalf("expected chunk 0 on top, got %+v", results[0])
	}
	if results[0].Score < 0.99 {
		t.Fatalf("expected self similarity >= 0.99, got %f", results[0].Score)
	}
}

func TestQuery_EveryChunkIsSelfSimilar(t *testing.T) {
	r, _ := buildEngine(t)
	chunks := r.Snapshot().Chunks

	for j, c := range chunks {
		results, err := r.Query(context.Background(), c.Text, len(chunks))
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, res := range results {
			if res.Position == j {
				found = true
				if res.Chunk != c {
					t.Fatalf("position %d maps to %+v, expected %+v", j, res.Chunk, c)
				}
				if res.Score < 0.99 {
					t.Fatalf("chunk %d self similarity %f", j, res.Score)
				}
			}
		}
		if !found {
			t.Fatalf("chunk %d missing from k=N results", j)
		}
		if results[0].Score < 0.99 {
			t.Fatalf("chunk %d: top score %f below self similarity", j, results[0].Score)
		}
	}
}

func TestQuery_ResultCountAndOrder(t *testing.T) {
	r, _ := buildEngine(t)
	total := r.Stats().TotalChunks

	for _, k := range []int{1, 2, total, total + 5} {
		results, err := r.Query(context.Background(), "how long is the warranty", k)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != min(k, total) {
			t.Fatalf("k=%d: expected %d results, got %d", k, min(k, total), len(results))
		}
		for i := 1; i < len(results); i++ {
			if results[i].Score > results[i-1].Score {
				t.Fatalf("k=%d: scores not descending at %d: %f > %f", k, i, results[i].Score, results[i-1].Score)
			}
		}
		for _, res := range results {
			if res.Score < -1.0001 || res.Score > 1.0001 {
				t.Fatalf("score out of range: %f", res.Score)
			}
		}
	}

	results, _ := r.Query(context.Background(), "warranty covers manufacturing defects", 1)
	if results[0].Chunk.Page != 2 {
		t.Fatalf("expected the warranty chunk from page 2, got %+v", results[0])
	}
}

func TestQuery_EmptyQueryIsValid(t *testing.T) {
	r, _ := buildEngine(t)

	results, err := r.Query(context.Background(), "", 3)
	if err != nil {
		t.Fatalf("empty query must not fail: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
}

func TestQuery_InvalidK(t *testing.T) {
	r, _ := buildEngine(t)
	if _, err := r.Query(context.Background(), "pump", 0); !errors.Is(err, ErrInvalidK) {
		t.Fatalf("expected ErrInvalidK, got %v", err)
	}
}

func TestSearchByPage(t *testing.T) {
	r, _ := buildEngine(t)

	for _, page := range []int{1, 2} {
		chunks := r.SearchByPage(page)
		if len(chunks) == 0 {
			t.Fatalf("expected chunks on page %d", page)
		}
		for i, c := range chunks {
			if c.Page != page || c.ChunkID != i {
				t.Fatalf("page %d: unexpected chunk %d: %+v", page, i, c)
			}
		}
	}
	if got := len(r.SearchByPage(1)) + len(r.SearchByPage(2)); got != r.Stats().TotalChunks {
		t.Fatalf("pages cover %d chunks, expected %d", got, r.Stats().TotalChunks)
	}

	missing := r.SearchByPage(99)
	if missing == nil || len(missing) != 0 {
		t.Fatalf("expected empty slice for absent page, got %v", missing)
	}
}

func TestStats(t *testing.T) {
	r, cfg := buildEngine(t)
	s := r.Stats()

	if s.EmbeddingModel != "hash-256" || s.Dimension != 256 {
		t.Fatalf("unexpected model info %+v", s)
	}
	if s.StorageDir != cfg.StorageDir || s.Pages != 2 || s.BuildID == "" {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestFormatContext(t *testing.T) {
	results := []models.Result{
		{Chunk: models.Chunk{Text: "alpha", Page: 3}, Score: 0.91234},
		{Chunk: models.Chunk{Text: "beta", Page: 1}, Score: 0.5},
	}

	want := "[source: page 3, similarity: 0.9123]\nalpha\n\n---\n\n[source: page 1, similarity: 0.5000]\nbeta"
	if got := FormatContext(results); got != want {
		t.Fatalf("unexpected context:\n%s\nwant:\n%s", got, want)
	}
	if FormatContext(nil) != "" {
		t.Fatalf("expected empty context for no results")
	}
}

func TestGetContext_UsesTopResults(t *testing.T) {
	r, _ := buildEngine(t)

	ctx, err := r.GetContext(context.Background(), "never run the pump dry", 2)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(ctx, models.ContextSeparator) != 1 {
		t.Fatalf("expected two entries, got %q", ctx)
	}
	if !strings.HasPrefix(ctx, "[source: page 1, similarity: ") {
		t.Fatalf("expected page 1 chunk first, got %q", ctx)
	}
}

func TestBuildSnapshot_DryRunWritesNothing(t *testing.T) {
	cfg := testConfig(t)

	res, err := BuildSnapshot(context.Background(), cfg, "manual.pdf", twoPages, embedding.NewHashEmbedder(8), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chunks) == 0 || res.Snapshot != nil {
		t.Fatalf("unexpected dry run result %+v", res)
	}
	if _, err := os.Stat(cfg.StorageDir); !os.IsNotExist(err) {
		t.Fatalf("expected no storage dir after a dry run, got %v", err)
	}
}

func TestBuildSnapshot_EmptyDocument(t *testing.T) {
	cfg := testConfig(t)
	empty := pagesParser{{Page: 1, Text: "   ", Source: "blank.pdf"}}

	_, err := BuildSnapshot(context.Background(), cfg, "blank.pdf", empty, embedding.NewHashEmbedder(8), false)
	if !errors.Is(err, store.ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
}

type stubLLM struct {
	prompt string
}

func (s *stubLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, m := range messages {
		if m.Role == llms.ChatMessageTypeHuman {
			s.prompt = m.Parts[0].(llms.TextContent).Text
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{
		{Content: "<think>checking pages</think>Prime the pump first (page 1)."},
	}}, nil
}

func (s *stubLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, options...)
}

func TestAsk(t *testing.T) {
	r, _ := buildEngine(t)
	r.countTokens = func(s string) (int, error) { return len(strings.Fields(s)), nil }
	llm := &stubLLM{}

	res, err := r.Ask(context.Background(), llm, "what do I do before first use?", 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "Prime the pump first (page 1)." {
		t.Fatalf("expected think block to be stripped, got %q", res.Answer)
	}
	if len(res.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(res.Sources))
	}
	if !strings.Contains(llm.prompt, "[source: page") || !strings.Contains(llm.prompt, "what do I do before first use?") {
		t.Fatalf("prompt is missing context or question: %q", llm.prompt)
	}
}
