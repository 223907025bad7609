package models

import "time"

// PageRecord is the text of one page of the source document
type PageRecord struct {
	Text   string `json:"text"`
	Page   int    `json:"page"`
	Source string `json:"source"`
}

// Chunk represents a piece of a single page, as persisted in chunks.json
type Chunk struct {
	Text    string `json:"text"`
	Page    int    `json:"page"`
	ChunkID int    `json:"chunk_id"`
	Source  string `json:"source"`
}

// Metadata is written once per build and read back at query time
type Metadata struct {
	TotalChunks    int       `msgpack:"total_chunks" json:"total_chunks"`
	EmbeddingModel string    `msgpack:"embedding_model" json:"embedding_model"`
	Dimension      int       `msgpack:"dimension" json:"dimension"`
	BuildID        string    `msgpack:"build_id" json:"build_id"`
	CreatedAt      time.Time `msgpack:"created_at" json:"created_at"`
	Source         string    `msgpack:"source" json:"source"`
	ChunkSize      int       `msgpack:"chunk_size" json:"chunk_size"`
	ChunkOverlap   int       `msgpack:"chunk_overlap" json:"chunk_overlap"`
	FormatVersion  int       `msgpack:"format_version" json:"format_version"`
}

// Result pairs a chunk with its inner-product score against the query
type Result struct {
	Chunk    Chunk   `json:"chunk"`
	Score    float32 `json:"score"`
	Position int     `json:"position"`
}

type Stats struct {
	TotalChunks    int       `json:"total_chunks"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimension      int       `json:"dimension"`
	StorageDir     string    `json:"storage_dir"`
	BuildID        string    `json:"build_id"`
	CreatedAt      time.Time `json:"created_at"`
	Pages          int       `json:"pages"`
}

type PromptResponse struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer"`
	Sources []Result `json:"sources"`
}
