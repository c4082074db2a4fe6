package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const DefaultHashDimension = 384

// HashEmbedder maps text to a normalised bag-of-words vector using feature
// hashing. It needs no model download and is fully deterministic.
type HashEmbedder struct {
	dim       int
	stopwords map[string]struct{}
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDimension
	}

	stopwords := make(map[string]struct{})
	for _, w := range getStopwords() {
		stopwords[w] = struct{}{}
	}

	return &HashEmbedder{dim: dim, stopwords: stopwords}
}

func (h *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = h.embed(text)
	}
	return vectors, nil
}

func (h *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.embed(text), nil
}

func (h *HashEmbedder) ModelID() string {
	return fmt.Sprintf("%s/fnv1a-%d", ProviderHash, h.dim)
}

func (h *HashEmbedder) Dimension() int {
	return h.dim
}

func (h *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dim)

	for _, token := range h.tokenize(text) {
		f := fnv.New32a()
		f.Write([]byte(token))
		vec[f.Sum32()%uint32(h.dim)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func (h *HashEmbedder) tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := words[:0]
	for _, word := range words {
		if _, ok := h.stopwords[word]; ok {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// Common English stopwords
func getStopwords() []string {
	return []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with",
	}
}
