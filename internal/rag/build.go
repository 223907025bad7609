package rag

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"rag-corpus/internal/chunker"
	"rag-corpus/internal/config"
	"rag-corpus/internal/embedding"
	"rag-corpus/internal/models"
	"rag-corpus/internal/parser"
	"rag-corpus/internal/store"
)

type BuildResult struct {
	Pages    int
	Chunks   []models.Chunk
	Snapshot *store.Snapshot
}

// BuildSnapshot runs extract, split, embed and store for one document.
// With dryRun it stops after splitting and writes nothing.
func BuildSnapshot(ctx context.Context, cfg *config.Config, source string, p parser.Parser, embedder embeddings.Embedder, dryRun bool) (*BuildResult, error) {
	pages, err := p.Extract(source)
	if err != nil {
		return nil, err
	}

	chunks := chunker.Split(pages, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	log.Info().
		Int("pages", len(pages)).
		Int("chunks", len(chunks)).
		Int("chunk_size", cfg.RAG.ChunkSize).
		Int("chunk_overlap", cfg.RAG.ChunkOverlap).
		Msg("Split document")

	res := &BuildResult{Pages: len(pages), Chunks: chunks}
	if dryRun {
		return res, nil
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%s: %w", source, store.ErrEmptyCorpus)
	}

	vectors, err := embedding.GenerateEmbedding(ctx, embedder, chunks, cfg.EmbedLLM.BatchSize)
	if err != nil {
		return nil, err
	}

	snap, err := store.Build(cfg.StorageDir, chunks, vectors, store.BuildOptions{
		EmbeddingModel: cfg.EmbedLLM.Model,
		Source:         source,
		ChunkSize:      cfg.RAG.ChunkSize,
		ChunkOverlap:   cfg.RAG.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}
	res.Snapshot = snap
	return res, nil
}
