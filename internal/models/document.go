package models

import "time"

// Metadata is attached to every record produced from one source document.
type Metadata struct {
	FileName  string    `json:"file_name"`
	FileHash  string    `json:"file_hash"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is the persisted unit: one chunk, its embedding and provenance.
type Record struct {
	ID        string
	Embedding []float32
	Content   string
	Metadata  Metadata
}

// SearchResult is one ranked match. Score is the cosine similarity
// between the query and the record embedding.
type SearchResult struct {
	Content  string   `json:"content"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}
