package types

import "errors"

// Error classes. Every error returned by a component wraps exactly one of these.
var (
	ErrInput    = errors.New("input error")
	ErrStore    = errors.New("store error")
	ErrModel    = errors.New("model error")
	ErrProvider = errors.New("provider error")
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDuplicateID        = errors.New("duplicate id")
	ErrLengthMismatch     = errors.New("ids, vectors, documents and metadatas differ in length")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrUnknownMetric      = errors.New("unknown distance metric")
	ErrModelMismatch      = errors.New("embedding model does not match collection")
	ErrMissingAPIKey      = errors.New("api key is required")
	ErrUnknownProvider    = errors.New("unknown provider")
	ErrEmptyCorpus        = errors.New("corpus contains no chunks")
)
