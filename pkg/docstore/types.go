// Package docstore implements document ingestion, chunking, and the
// per-knowledge-base vector index and knowledge graph that the retrieval
// engine queries. Documents and chunks live in the KV-store JSON files of
// the knowledge base's working directory; chunk embeddings live in
// vector_cache; entities and relations live in the GraphML file — all
// three file names are owned by pkg/kb.
package docstore

import "time"

// Status is a document's ingestion lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// Document is one ingested unit of text, before chunking.
type Document struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Source     string    `json:"source"`
	Language   string    `json:"language"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	ChunkIDs   []string  `json:"chunk_ids"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Chunk is one fixed-size slice of a document's text.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	Index      int    `json:"index"`
}

// InsertResult reports the outcome of inserting one document.
type InsertResult struct {
	DocumentID string
	ChunkCount int
	Status     Status
	Error      string
}
