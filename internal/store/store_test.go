package store

import (
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"rag-corpus/internal/index"
	"rag-corpus/internal/models"
)

func testChunks() []models.Chunk {
	return []models.Chunk{
		{Text: "first page <b>bold</b> café", Page: 1, ChunkID: 0, Source: "doc.pdf"},
		{Text: "first page again", Page: 1, ChunkID: 1, Source: "doc.pdf"},
		{Text: "second page", Page: 2, ChunkID: 0, Source: "doc.pdf"},
	}
}

func testVectors() [][]float32 {
	return [][]float32{{3, 4, 0}, {0, 0, 2}, {1, 1, 1}}
}

func TestBuildAndOpen_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "snapshot")

	built, err := Build(dir, testChunks(), testVectors(), BuildOptions{EmbeddingModel: "stub", Source: "doc.pdf"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	snap, err := Open(dir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if snap.Metadata.TotalChunks != 3 || snap.Metadata.Dimension != 3 || snap.Metadata.EmbeddingModel != "stub" {
		t.Fatalf("unexpected metadata: %+v", snap.Metadata)
	}
	if snap.Metadata.BuildID != built.Metadata.BuildID {
		t.Fatalf("expected build id %s, got %s", built.Metadata.BuildID, snap.Metadata.BuildID)
	}
	for i, c := range testChunks() {
		if snap.Chunks[i] != c {
			t.Fatalf("chunk %d differs: %+v vs %+v", i, snap.Chunks[i], c)
		}
	}
	for i := 0; i < snap.Index.Len(); i++ {
		if n := index.Norm(snap.Index.Vector(i)); math.Abs(n-1) > 1e-5 {
			t.Fatalf("vector %d not normalized, norm %f", i, n)
		}
	}

	raw, err := os.ReadFile(filepath.Join(dir, models.ChunksFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "<b>bold</b> café") {
		t.Fatalf("expected chunks.json to keep text unescaped, got %s", raw)
	}
}

func TestBuild_VectorCountMismatch(t *testing.T) {
	_, err := Build(t.TempDir(), testChunks(), testVectors()[:2], BuildOptions{})
	if !errors.Is(err, ErrVectorCountMismatch) {
		t.Fatalf("expected ErrVectorCountMismatch, got %v", err)
	}
}

func TestBuild_EmptyCorpus(t *testing.T) {
	_, err := Build(t.TempDir(), nil, nil, BuildOptions{})
	if !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestBuild_MixedDimensions(t *testing.T) {
	vectors := [][]float32{{1, 0, 0}, {1, 0}, {0, 0, 1}}
	_, err := Build(t.TempDir(), testChunks(), vectors, BuildOptions{})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestBuild_ZeroVectorKept(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snap")
	vectors := [][]float32{{1, 0}, {0, 0}, {0, 1}}

	if _, err := Build(dir, testChunks(), vectors, BuildOptions{}); err != nil {
		t.Fatalf("zero vector must not fail the build: %v", err)
	}
	snap, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	v := snap.Index.Vector(1)
	if v[0] != 0 || v[1] != 0 {
		t.Fatalf("expected zero vector to stay zero, got %v", v)
	}
}

func TestBuild_ReplacesPreviousSnapshot(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "snap")

	if _, err := Build(dir, testChunks(), testVectors(), BuildOptions{EmbeddingModel: "first"}); err != nil {
		t.Fatal(err)
	}
	chunks := testChunks()[:1]
	if _, err := Build(dir, chunks, [][]float32{{1, 2}}, BuildOptions{EmbeddingModel: "second"}); err != nil {
		t.Fatal(err)
	}

	snap, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Metadata.EmbeddingModel != "second" || snap.Metadata.TotalChunks != 1 || snap.Metadata.Dimension != 2 {
		t.Fatalf("expected the second build, got %+v", snap.Metadata)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "snap" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only the snapshot dir to remain, got %v", names)
	}
}

func rootEntries(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

func TestPersist_FailedSwapKeepsPreviousSnapshot(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "snap")

	first, err := Build(dir, testChunks(), testVectors(), BuildOptions{EmbeddingModel: "first"})
	if err != nil {
		t.Fatal(err)
	}

	// a non-empty dir where the old snapshot would be parked makes the swap fail
	// after every artifact has been staged
	blocker := filepath.Join(root, ".snap.old-second")
	if err := os.MkdirAll(filepath.Join(blocker, "busy"), 0o755); err != nil {
		t.Fatal(err)
	}
	meta := first.Metadata
	meta.BuildID = "second"
	meta.EmbeddingModel = "second"
	second := &Snapshot{Dir: dir, Index: first.Index, Chunks: first.Chunks, Metadata: meta}
	if err := second.persist(); err == nil {
		t.Fatalf("expected the swap to fail")
	}

	snap, err := Open(dir)
	if err != nil {
		t.Fatalf("previous snapshot must still open: %v", err)
	}
	if snap.Metadata.EmbeddingModel != "first" || snap.Metadata.BuildID != first.Metadata.BuildID {
		t.Fatalf("expected the first build, got %+v", snap.Metadata)
	}
	for _, name := range rootEntries(t, root) {
		if strings.Contains(name, ".staging-") {
			t.Fatalf("staging dir %s left behind", name)
		}
	}
}

func TestSwap_MissingStagingRestoresPrevious(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "snap")
	if _, err := Build(dir, testChunks(), testVectors(), BuildOptions{EmbeddingModel: "first"}); err != nil {
		t.Fatal(err)
	}

	if err := swap(filepath.Join(root, ".snap.staging-gone"), dir, "gone"); err == nil {
		t.Fatalf("expected swap to fail without a staging dir")
	}

	snap, err := Open(dir)
	if err != nil {
		t.Fatalf("previous snapshot must be restored: %v", err)
	}
	if snap.Metadata.EmbeddingModel != "first" {
		t.Fatalf("expected the first build, got %+v", snap.Metadata)
	}
	if names := rootEntries(t, root); len(names) != 1 || names[0] != "snap" {
		t.Fatalf("expected only the snapshot dir to remain, got %v", names)
	}
}

func TestOpen_MissingSnapshot(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestOpen_MetadataMismatchIsCorruption(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snap")
	built, err := Build(dir, testChunks(), testVectors(), BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	meta := built.Metadata
	meta.TotalChunks = 5
	data, err := msgpack.Marshal(&meta)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, models.MetadataFile), data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(dir); !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("expected ErrCorruptSnapshot, got %v", err)
	}

	meta = built.Metadata
	meta.Dimension = 7
	data, _ = msgpack.Marshal(&meta)
	_ = os.WriteFile(filepath.Join(dir, models.MetadataFile), data, 0o644)
	if _, err := Open(dir); !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("expected ErrCorruptSnapshot for dimension mismatch, got %v", err)
	}
}

func TestOpen_TruncatedIndexIsCorruption(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snap")
	if _, err := Build(dir, testChunks(), testVectors(), BuildOptions{}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, models.IndexFile)
	raw, _ := os.ReadFile(path)
	_ = os.WriteFile(path, raw[:len(raw)-8], 0o644)

	_, err := Open(dir)
	if !errors.Is(err, ErrCorruptSnapshot) || !errors.Is(err, index.ErrCorruptIndex) {
		t.Fatalf("expected corrupt snapshot and index errors, got %v", err)
	}
}
