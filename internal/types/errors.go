package types

import "errors"

// Failure classes surfaced by the ingestion and search components.
// Components wrap the underlying cause with one of these so callers can
// branch with errors.Is.
var (
	// ErrIO indicates a document could not be read.
	ErrIO = errors.New("io error")

	// ErrExtraction indicates the document container is malformed.
	ErrExtraction = errors.New("extraction error")

	// ErrEmbedding indicates the embedding model is unavailable or misconfigured.
	ErrEmbedding = errors.New("embedding error")

	// ErrStorage indicates a connection or transaction failure in the vector store.
	ErrStorage = errors.New("storage error")

	// ErrAlreadyIndexed indicates records for a fingerprint are already stored.
	ErrAlreadyIndexed = errors.New("already indexed")

	// ErrDimensionMismatch indicates a vector does not match the store dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	ErrInvalidInput = errors.New("invalid input")
)
