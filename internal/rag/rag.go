package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"rag-corpus/internal/index"
	"rag-corpus/internal/llmservice"
	"rag-corpus/internal/models"
	"rag-corpus/internal/store"
)

var ErrInvalidK = index.ErrInvalidK

// RAG answers queries against one loaded snapshot. It is read-only after
// construction and safe for concurrent use.
type RAG struct {
	snap        *store.Snapshot
	embedder    embeddings.Embedder
	pages       int
	countTokens func(string) (int, error)
}

// NewRAG wraps a loaded snapshot. The embedder must be the one used to build it;
// scores against a different model are meaningless and are not detected here.
func NewRAG(snap *store.Snapshot, embedder embeddings.Embedder) *RAG {
	seen := make(map[int]struct{})
	for _, c := range snap.Chunks {
		seen[c.Page] = struct{}{}
	}
	return &RAG{
		snap:        snap,
		embedder:    embedder,
		pages:       len(seen),
		countTokens: llmservice.CountTokens,
	}
}

// Open loads the snapshot in dir
func Open(dir string, embedder embeddings.Embedder) (*RAG, error) {
	snap, err := store.Open(dir)
	if err != nil {
		return nil, err
	}
	return NewRAG(snap, embedder), nil
}

func (r *RAG) Snapshot() *store.Snapshot { return r.snap }

// Query returns the min(k, total) chunks most similar to text, best first
func (r *RAG) Query(ctx context.Context, text string, k int) ([]models.Result, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	vec, err := r.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	q := append([]float32(nil), vec...)
	if !index.Normalize(q) {
		log.Warn().Str("query", text).Msg("zero-norm query embedding, searching unnormalized")
	}

	hits, err := r.snap.Index.Search(q, k)
	if err != nil {
		return nil, err
	}
	results := make([]models.Result, len(hits))
	for i, h := range hits {
		results[i] = models.Result{
			Chunk:    r.snap.Chunks[h.Position],
			Score:    h.Score,
			Position: h.Position,
		}
	}
	return results, nil
}

// GetContext formats the top k results for a prompt
func (r *RAG) GetContext(ctx context.Context, text string, k int) (string, error) {
	results, err := r.Query(ctx, text, k)
	if err != nil {
		return "", err
	}
	return FormatContext(results), nil
}

func FormatContext(results []models.Result) string {
	parts := make([]string, len(results))
	for i, res := range results {
		parts[i] = fmt.Sprintf(models.ContextHeader, res.Chunk.Page, res.Score, res.Chunk.Text)
	}
	return strings.Join(parts, models.ContextSeparator)
}

// SearchByPage returns the chunks of one page in chunk_id order
func (r *RAG) SearchByPage(page int) []models.Chunk {
	chunks := []models.Chunk{}
	for _, c := range r.snap.Chunks {
		if c.Page == page {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func (r *RAG) Stats() models.Stats {
	meta := r.snap.Metadata
	return models.Stats{
		TotalChunks:    meta.TotalChunks,
		EmbeddingModel: meta.EmbeddingModel,
		Dimension:      meta.Dimension,
		StorageDir:     r.snap.Dir,
		BuildID:        meta.BuildID,
		CreatedAt:      meta.CreatedAt,
		Pages:          r.pages,
	}
}

// Ask retrieves context for question and has llm answer from it
func (r *RAG) Ask(ctx context.Context, llm llms.Model, question string, k int) (*models.PromptResponse, error) {
	results, err := r.Query(ctx, question, k)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(models.AnswerPromptTemplate, FormatContext(results), question)
	if n, err := r.countTokens(prompt); err != nil {
		log.Warn().Err(err).Msg("could not count prompt tokens")
	} else {
		log.Info().Int("tokens", n).Int("chunks", len(results)).Msg("Prompt built")
	}

	answer, err := llmservice.Complete(ctx, llm, models.AnswerSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return &models.PromptResponse{Query: question, Answer: answer, Sources: results}, nil
}
