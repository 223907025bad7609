package chromemdb

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"rag-corpus/internal/config"
	"rag-corpus/internal/index"
	"rag-corpus/internal/models"
	"rag-corpus/internal/store"
)

// VectorDBManager mirrors a snapshot into a chromem-go collection
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	dbPath        string
	inMemory      bool
	compress      bool
	encryptionKey string
	filePath      string
}

// NewVectorDBManager opens a persistent database at cfg.Path, or an in-memory
// one that is saved with Export
func NewVectorDBManager(cfg *config.ChromemConfig) (*VectorDBManager, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &VectorDBManager{
		db:            db,
		dbPath:        cfg.Path,
		inMemory:      cfg.InMemory,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
		filePath:      filepath.Join(cfg.Path, cfg.Collection+".chromem"),
	}, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

// Publish replaces the collection with the chunks of snap. Zero-norm vectors
// are skipped since chromem cannot normalize them. Returns the number added.
func (m *VectorDBManager) Publish(ctx context.Context, collectionName string, snap *store.Snapshot) (int, error) {
	if err := m.db.DeleteCollection(collectionName); err != nil {
		return 0, fmt.Errorf("failed to drop collection: %w", err)
	}
	if _, err := m.GetOrCreateCollection(collectionName); err != nil {
		return 0, err
	}

	docs := make([]chromem.Document, 0, len(snap.Chunks))
	for i, c := range snap.Chunks {
		vec := snap.Index.Vector(i)
		if index.Norm(vec) == 0 {
			log.Warn().Int("position", i).Msg("skipping zero-norm vector")
			continue
		}
		docs = append(docs, chromem.Document{
			ID:        strconv.Itoa(i),
			Content:   c.Text,
			Metadata:  CreateMetadata(c, i),
			Embedding: append([]float32(nil), vec...),
		})
	}

	log.Info().Int("documents", len(docs)).Str("collection", collectionName).Msg("Adding documents to vector database")
	if err := m.CreateDocs(ctx, docs); err != nil {
		return 0, err
	}
	if m.inMemory {
		if err := m.Export(); err != nil {
			return 0, err
		}
	}
	return len(docs), nil
}

// add multiple documents
func (m *VectorDBManager) CreateDocs(ctx context.Context, documents []chromem.Document) error {
	if len(documents) == 0 {
		return nil
	}
	if err := m.collection.AddDocuments(ctx, documents, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Search runs a similarity query with an already embedded query vector
func (m *VectorDBManager) Search(ctx context.Context, query []float32, k int) ([]models.Result, error) {
	if m.collection == nil {
		return nil, fmt.Errorf("collection is required")
	}
	if k < 1 {
		return nil, index.ErrInvalidK
	}
	k = min(k, m.collection.Count())
	if k == 0 {
		return []models.Result{}, nil
	}

	res, err := m.collection.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	results := make([]models.Result, len(res))
	for i, r := range res {
		results[i] = models.Result{
			Chunk: models.Chunk{
				Text:    r.Content,
				Page:    atoi(r.Metadata["page"]),
				ChunkID: atoi(r.Metadata["chunk_id"]),
				Source:  r.Metadata["source"],
			},
			Score:    r.Similarity,
			Position: atoi(r.Metadata["position"]),
		}
	}
	return results, nil
}

func (m *VectorDBManager) Count() int {
	if m.collection == nil {
		return 0
	}
	return m.collection.Count()
}

// export to file
func (m *VectorDBManager) Export() error {
	if m.encryptionKey != "" && len(m.encryptionKey) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes, got %d", len(m.encryptionKey))
	}
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}
	if m.dbPath == "" {
		return fmt.Errorf("db path is required")
	}

	log.Debug().Str("collection", m.collection.Name).Str("file", m.filePath).Bool("compress", m.compress).Msg("Exporting collection")
	if err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// import from file
func (m *VectorDBManager) Import(collectionName string) error {
	if err := m.db.ImportFromFile(m.filePath, m.encryptionKey, collectionName); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	m.collection = m.db.GetCollection(collectionName, nil)
	return nil
}

// meta data has source filename, page number, chunk id and index position
func CreateMetadata(c models.Chunk, position int) map[string]string {
	return map[string]string{
		"source":   c.Source,
		"page":     strconv.Itoa(c.Page),
		"chunk_id": strconv.Itoa(c.ChunkID),
		"position": strconv.Itoa(position),
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
