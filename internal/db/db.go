package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"rag-corpus/internal/config"
	"rag-corpus/internal/models"
	"rag-corpus/internal/store"
)

const insertBatchSize = 500

// Document is one chunk row. The table name is set per query from config.
type Document struct {
	bun.BaseModel `bun:"table:rag_chunks,alias:d"`

	ID         int64           `bun:"id,pk,autoincrement"`
	Position   int             `bun:"position,notnull"`
	Content    string          `bun:"content,notnull"`
	Embedding  pgvector.Vector `bun:"embedding,notnull,type:vector"`
	Source     string          `bun:"source"`
	PageNumber int             `bun:"page_number,notnull"`
	ChunkID    int             `bun:"chunk_id,notnull"`
	BuildID    string          `bun:"build_id"`
	Similarity float64         `bun:"similarity,scanonly"`
}

type Store struct {
	db    *bun.DB
	table string
}

// ConnectDB opens the sql pool with the configured driver
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	switch cfg.Driver {
	case "pq":
		return sql.Open("postgres", cfg.DSN)
	case "pgdriver", "":
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN))), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func NewStore(db *bun.DB, table string) *Store {
	if table == "" {
		table = "rag_chunks"
	}
	return &Store{db: db, table: table}
}

func (s *Store) Close() error { return s.db.Close() }

// InitDB recreates the chunk table
func (s *Store) InitDB(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if err := s.DropDocuments(ctx); err != nil {
		return err
	}
	_, err := s.db.NewCreateTable().
		Model((*Document)(nil)).
		ModelTableExpr("?", bun.Ident(s.table)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// drop chunk table
func (s *Store) DropDocuments(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS ?", bun.Ident(s.table)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", s.table, err)
	}
	return nil
}

// StoreDocuments inserts all rows in one transaction
func (s *Store) StoreDocuments(ctx context.Context, docs []Document) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for start := 0; start < len(docs); start += insertBatchSize {
			batch := docs[start:min(start+insertBatchSize, len(docs))]
			if _, err := tx.NewInsert().Model(&batch).ModelTableExpr("?", bun.Ident(s.table)).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert rows %d-%d: %w", start, start+len(batch)-1, err)
			}
		}
		return nil
	})
}

// Publish replaces the table contents with snap
func (s *Store) Publish(ctx context.Context, snap *store.Snapshot) (int, error) {
	if err := s.InitDB(ctx); err != nil {
		return 0, err
	}
	docs := ToDocuments(snap)
	if err := s.StoreDocuments(ctx, docs); err != nil {
		return 0, err
	}
	log.Info().Str("table", s.table).Int("rows", len(docs)).Msg("Published snapshot to postgres")
	return len(docs), nil
}

// SearchDocuments orders rows by cosine distance to the query vector
func (s *Store) SearchDocuments(ctx context.Context, query []float32, limit int) ([]models.Result, error) {
	var docs []Document
	vec := pgvector.NewVector(query)
	err := s.db.NewSelect().
		Model(&docs).
		ModelTableExpr("? AS d", bun.Ident(s.table)).
		Column("position", "content", "source", "page_number", "chunk_id").
		ColumnExpr("1 - (embedding <=> ?) AS similarity", vec).
		OrderExpr("embedding <=> ?", vec).
		OrderExpr("position ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	results := make([]models.Result, len(docs))
	for i, d := range docs {
		results[i] = models.Result{
			Chunk: models.Chunk{
				Text:    d.Content,
				Page:    d.PageNumber,
				ChunkID: d.ChunkID,
				Source:  d.Source,
			},
			Score:    float32(d.Similarity),
			Position: d.Position,
		}
	}
	return results, nil
}

// ToDocuments converts a snapshot into rows, one per index position
func ToDocuments(snap *store.Snapshot) []Document {
	docs := make([]Document, len(snap.Chunks))
	for i, c := range snap.Chunks {
		docs[i] = Document{
			Position:   i,
			Content:    c.Text,
			Embedding:  pgvector.NewVector(append([]float32(nil), snap.Index.Vector(i)...)),
			Source:     c.Source,
			PageNumber: c.Page,
			ChunkID:    c.ChunkID,
			BuildID:    snap.Metadata.BuildID,
		}
	}
	return docs
}
