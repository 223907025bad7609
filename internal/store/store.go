package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"rag-corpus/internal/helper"
	"rag-corpus/internal/index"
	"rag-corpus/internal/models"
)

var (
	ErrVectorCountMismatch = errors.New("vector count does not match chunk count")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
	ErrEmptyCorpus         = errors.New("no chunks to index")
	ErrCorruptSnapshot     = errors.New("corrupt snapshot")
)

type BuildOptions struct {
	EmbeddingModel string
	Source         string
	ChunkSize      int
	ChunkOverlap   int
}

// Snapshot is one persisted build: the index, the chunks it points to and the
// metadata describing both. Index position i is Chunks[i].
type Snapshot struct {
	Dir      string
	Index    *index.Flat
	Chunks   []models.Chunk
	Metadata models.Metadata
}

// Build normalizes vectors in place, indexes them in chunk order and writes the
// snapshot to dir. The previous snapshot in dir is replaced only once every
// artifact has been written.
func Build(dir string, chunks []models.Chunk, vectors [][]float32, opts BuildOptions) (*Snapshot, error) {
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: %d vectors for %d chunks", ErrVectorCountMismatch, len(vectors), len(chunks))
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyCorpus
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: embedder returned empty vectors", ErrDimensionMismatch)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d values, expected %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}

	idx := index.NewFlat(dim)
	for i, v := range vectors {
		if strings.TrimSpace(chunks[i].Text) == "" {
			log.Warn().Int("position", i).Int("page", chunks[i].Page).Msg("empty chunk text")
		}
		if !index.Normalize(v) {
			log.Warn().Int("position", i).Int("page", chunks[i].Page).Msg("zero-norm embedding, stored unnormalized")
		}
		if err := idx.Add(v); err != nil {
			return nil, err
		}
	}

	buildID, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	meta := models.Metadata{
		TotalChunks:    len(chunks),
		EmbeddingModel: opts.EmbeddingModel,
		Dimension:      dim,
		BuildID:        buildID,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
		Source:         opts.Source,
		ChunkSize:      opts.ChunkSize,
		ChunkOverlap:   opts.ChunkOverlap,
		FormatVersion:  models.SnapshotFormatVersion,
	}

	snap := &Snapshot{Dir: dir, Index: idx, Chunks: chunks, Metadata: meta}
	if err := snap.persist(); err != nil {
		return nil, err
	}
	log.Info().
		Str("dir", dir).
		Int("chunks", meta.TotalChunks).
		Int("dimension", meta.Dimension).
		Str("build_id", meta.BuildID).
		Msg("snapshot written")
	return snap, nil
}

func (s *Snapshot) persist() error {
	dir := filepath.Clean(s.Dir)
	parent, base := filepath.Dir(dir), filepath.Base(dir)
	if err := helper.CreateFolder(parent); err != nil {
		return err
	}

	staging := filepath.Join(parent, "."+base+".staging-"+s.Metadata.BuildID)
	if err := os.Mkdir(staging, 0o755); err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := os.RemoveAll(staging); err != nil {
				log.Warn().Err(err).Str("dir", staging).Msg("failed to remove staging dir")
			}
		}
	}()

	if err := writeFile(filepath.Join(staging, models.IndexFile), func(w *bufio.Writer) error {
		_, err := s.Index.WriteTo(w)
		return err
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(staging, models.ChunksFile), func(w *bufio.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(s.Chunks)
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(staging, models.MetadataFile), func(w *bufio.Writer) error {
		return msgpack.NewEncoder(w).Encode(&s.Metadata)
	}); err != nil {
		return err
	}

	if err := swap(staging, dir, s.Metadata.BuildID); err != nil {
		return err
	}
	committed = true
	return nil
}

// swap moves staging to dir, parking any existing dir aside until the rename succeeds
func swap(staging, dir, id string) error {
	old := ""
	if _, err := os.Stat(dir); err == nil {
		old = filepath.Join(filepath.Dir(dir), "."+filepath.Base(dir)+".old-"+id)
		if err := os.Rename(dir, old); err != nil {
			return fmt.Errorf("failed to move previous snapshot aside: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := os.Rename(staging, dir); err != nil {
		if old != "" {
			if rerr := os.Rename(old, dir); rerr != nil {
				log.Error().Err(rerr).Str("dir", old).Msg("failed to restore previous snapshot")
			}
		}
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}

	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			log.Warn().Err(err).Str("dir", old).Msg("failed to remove previous snapshot")
		}
	}
	return nil
}

func writeFile(path string, fn func(w *bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := fn(w); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Open loads a snapshot and checks that the three artifacts agree with each other
func Open(dir string) (*Snapshot, error) {
	f, err := os.Open(filepath.Join(dir, models.IndexFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	idx, err := index.ReadFlat(bufio.NewReader(f))
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, models.ChunksFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	var chunks []models.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("%w: chunks: %v", ErrCorruptSnapshot, err)
	}

	data, err = os.ReadFile(filepath.Join(dir, models.MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta models.Metadata
	if err := msgpack.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorruptSnapshot, err)
	}

	if meta.Dimension != idx.Dimension() {
		return nil, fmt.Errorf("%w: metadata dimension %d, index dimension %d",
			ErrCorruptSnapshot, meta.Dimension, idx.Dimension())
	}
	if meta.TotalChunks != idx.Len() || meta.TotalChunks != len(chunks) {
		return nil, fmt.Errorf("%w: metadata has %d chunks, index %d, chunks.json %d",
			ErrCorruptSnapshot, meta.TotalChunks, idx.Len(), len(chunks))
	}

	log.Debug().Str("dir", dir).Int("chunks", meta.TotalChunks).Str("build_id", meta.BuildID).Msg("snapshot loaded")
	return &Snapshot{Dir: dir, Index: idx, Chunks: chunks, Metadata: meta}, nil
}
