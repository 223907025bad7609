package chromemdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"rag-corpus/internal/config"
	"rag-corpus/internal/models"
	"rag-corpus/internal/store"
)

func buildSnapshot(t *testing.T) *store.Snapshot {
	t.Helper()
	chunks := []models.Chunk{
		{Text: "pumps", Page: 1, ChunkID: 0, Source: "manual.pdf"},
		{Text: "nothing", Page: 1, ChunkID: 1, Source: "manual.pdf"},
		{Text: "warranty", Page: 2, ChunkID: 0, Source: "manual.pdf"},
	}
	vectors := [][]float32{{1, 0, 0}, {0, 0, 0}, {0, 1, 0}}
	snap, err := store.Build(filepath.Join(t.TempDir(), "snap"), chunks, vectors, store.BuildOptions{EmbeddingModel: "stub"})
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func TestPublish_InMemoryAndExport(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.ChromemConfig{Path: dir, Collection: "chunks", InMemory: true}
	m, err := NewVectorDBManager(cfg)
	if err != nil {
		t.Fatal(err)
	}

	n, err := m.Publish(context.Background(), cfg.Collection, buildSnapshot(t))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || m.Count() != 2 {
		t.Fatalf("expected the zero vector to be skipped, published %d, count %d", n, m.Count())
	}
	if _, err := os.Stat(filepath.Join(dir, "chunks.chromem")); err != nil {
		t.Fatalf("expected exported collection file: %v", err)
	}

	results, err := m.Search(context.Background(), []float32{0, 1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected k clamped to 2, got %d", len(results))
	}
	top := results[0]
	if top.Position != 2 || top.Chunk.Page != 2 || top.Chunk.Text != "warranty" || top.Chunk.Source != "manual.pdf" {
		t.Fatalf("unexpected top result %+v", top)
	}
	if top.Score < 0.99 {
		t.Fatalf("expected exact match score, got %f", top.Score)
	}
}

func TestPublish_ReplacesCollection(t *testing.T) {
	cfg := &config.ChromemConfig{Path: t.TempDir(), Collection: "chunks"}
	m, err := NewVectorDBManager(cfg)
	if err != nil {
		t.Fatal(err)
	}
	snap := buildSnapshot(t)

	for i := 0; i < 2; i++ {
		if _, err := m.Publish(context.Background(), cfg.Collection, snap); err != nil {
			t.Fatal(err)
		}
	}
	if m.Count() != 2 {
		t.Fatalf("expected republishing to replace documents, count %d", m.Count())
	}
}

func TestCreateMetadata(t *testing.T) {
	md := CreateMetadata(models.Chunk{Page: 4, ChunkID: 2, Source: "a.pdf"}, 17)
	if md["page"] != "4" || md["chunk_id"] != "2" || md["source"] != "a.pdf" || md["position"] != "17" {
		t.Fatalf("unexpected metadata %v", md)
	}
}
