// Package qastore implements the category-partitioned fixed question/answer
// vector store: exact and approximate matching over a curated pool of
// (question, answer) pairs, with at-most-one writer per category and
// lazily-created category storage.
package qastore

import "time"

// QAPair is one predefined question/answer unit.
type QAPair struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Category  string    `json:"category"`
	Confidence float64  `json:"confidence"`
	Keywords  []string  `json:"keywords,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Embedding is not serialized alongside the pair itself; it lives in the
	// category's vectors.bin, row-aligned with the category's id-sorted
	// pair order.
	Embedding []float32 `json:"-"`
}

// CategoryMeta is the on-disk meta.json for one category.
type CategoryMeta struct {
	PairCount   int       `json:"pair_count"`
	Dimension   int       `json:"dimension"`
	LastUpdated time.Time `json:"last_updated"`
}

// CategoryStats summarizes one category for the statistics operation.
type CategoryStats struct {
	Name             string  `json:"name"`
	PairCount        int     `json:"pair_count"`
	AverageConfidence float64 `json:"average_confidence"`
}

// Stats is the aggregate result of the statistics operation.
type Stats struct {
	TotalPairs         int             `json:"total_pairs"`
	Categories         []CategoryStats `json:"categories"`
	AverageConfidence  float64         `json:"average_confidence"`
	SimilarityThreshold float64        `json:"similarity_threshold"`
	VectorDimension    int             `json:"vector_dimension"`
}

// Match is one scored hit from a similarity query.
type Match struct {
	Pair       QAPair  `json:"pair"`
	Similarity float64 `json:"similarity"`
}

// QueryResult is the outcome of a similarity query.
type QueryResult struct {
	Found   bool    `json:"found"`
	Answer  string  `json:"answer,omitempty"`
	Matches []Match `json:"matches"`
}

// BatchResult reports per-pair outcomes for add_batch.
type BatchResult struct {
	Succeeded []string `json:"succeeded"` // ids, in input order
	Failed    []BatchFailure `json:"failed"`
}

// BatchFailure names a failed input pair and why.
type BatchFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// ImportResult reports the outcome of an import operation.
type ImportResult struct {
	Processed         int             `json:"processed"`
	Succeeded         int             `json:"succeeded"`
	Failed            int             `json:"failed"`
	DuplicateSkipped  int             `json:"duplicate_skipped"`
	FailedRecords     []BatchFailure  `json:"failed_records"`
}

// DeleteCategoryResult reports the outcome of delete_category.
type DeleteCategoryResult struct {
	DeletedCount  int  `json:"deleted_count"`
	FolderDeleted bool `json:"folder_deleted"`
}
