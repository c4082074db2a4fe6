package models

import "time"

// Distance metrics a collection can be configured with.
const (
	MetricCosine = "cosine"
	MetricL2     = "l2"
	MetricIP     = "ip"
)

// ChunkMetadata is the fixed metadata record stored next to every chunk.
type ChunkMetadata struct {
	Index  int    `json:"index"`
	Length int    `json:"length"`
	Source string `json:"source,omitempty"`
}

type Chunk struct {
	ID       string
	Text     string
	Metadata ChunkMetadata
}

// Record is a stored (id, vector, document, metadata) tuple.
type Record struct {
	ID       string        `json:"id"`
	Vector   []float32     `json:"vector,omitempty"`
	Document string        `json:"document"`
	Metadata ChunkMetadata `json:"metadata"`
}

type QueryResult struct {
	ID       string
	Document string
	Metadata ChunkMetadata
	Distance float64
}

// CollectionSpec configures a new collection.
type CollectionSpec struct {
	Metric         string
	Dimension      int
	EmbeddingModel string
}

type CollectionInfo struct {
	Name           string    `json:"name"`
	Metric         string    `json:"metric"`
	Dimension      int       `json:"dimension"`
	EmbeddingModel string    `json:"embedding_model"`
	CreatedAt      time.Time `json:"created_at"`
	Count          int       `json:"count"`
}

// Include selects the optional fields returned by a bulk Get.
type Include struct {
	Vectors bool
}
