package processor

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/xhad/ragline/internal/models"
	"github.com/xhad/ragline/internal/types"
)

// ParagraphSeparator is the boundary the corpus is split on.
const ParagraphSeparator = "\n\n"

type ProcessorConfig struct {
	// MaxChunkSize splits paragraphs longer than this many characters on
	// sentence boundaries. Zero keeps whole paragraphs.
	MaxChunkSize int
	// ChunkOverlap is the number of trailing characters of a split chunk
	// repeated at the start of the next one. Only used with MaxChunkSize.
	ChunkOverlap int
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.MaxChunkSize < 0 {
		config.MaxChunkSize = 0
	}
	if config.ChunkOverlap < 0 || config.MaxChunkSize == 0 {
		config.ChunkOverlap = 0
	}
	if config.MaxChunkSize > 0 && config.ChunkOverlap >= config.MaxChunkSize {
		config.ChunkOverlap = config.MaxChunkSize / 4
	}

	return Processor{
		config: config,
	}
}

// Chunk splits the corpus into trimmed, non-empty paragraphs.
func (p *Processor) Chunk(corpus string) []string {
	var chunks []string

	for _, piece := range strings.Split(corpus, ParagraphSeparator) {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}

		if p.config.MaxChunkSize > 0 && utf8.RuneCountInString(piece) > p.config.MaxChunkSize {
			chunks = append(chunks, p.splitIntoChunks(piece)...)
			continue
		}
		chunks = append(chunks, piece)
	}

	return chunks
}

// Chunks is Chunk with ids and metadata attached. Ids are chunk_<index>.
func (p *Processor) Chunks(corpus, source string) []models.Chunk {
	texts := p.Chunk(corpus)
	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{
			ID:   ChunkID(i),
			Text: text,
			Metadata: models.ChunkMetadata{
				Index:  i,
				Length: utf8.RuneCountInString(text),
				Source: source,
			},
		}
	}
	return chunks
}

func ChunkID(index int) string {
	return fmt.Sprintf("chunk_%d", index)
}

// LoadCorpus reads a corpus file. HTML files are reduced to their paragraph text.
func LoadCorpus(path string) (string, error) {
	if isHTML(path) {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("%w: failed to open corpus %s: %w", types.ErrInput, path, err)
		}
		defer f.Close()

		text, err := ExtractHTMLText(f)
		if err != nil {
			return "", fmt.Errorf("%w: failed to parse corpus %s: %w", types.ErrInput, path, err)
		}
		return text, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read corpus %s: %w", types.ErrInput, path, err)
	}
	return sanitizeUTF8(string(data)), nil
}

func isHTML(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm")
}

func (p *Processor) splitIntoChunks(text string) []string {
	var chunks []string

	sentences := p.splitIntoSentences(text)

	currentChunk := strings.Builder{}

	for _, sentence := range sentences {
		// If adding this sentence would exceed chunk size
		if currentChunk.Len() > 0 && utf8.RuneCountInString(currentChunk.String())+utf8.RuneCountInString(sentence) > p.config.MaxChunkSize {
			current := strings.TrimSpace(currentChunk.String())
			chunks = append(chunks, current)
			currentChunk.Reset()

			if p.config.ChunkOverlap > 0 {
				currentChunk.WriteString(lastRunes(current, p.config.ChunkOverlap))
				currentChunk.WriteString(" ")
			}
		}

		currentChunk.WriteString(sentence)
		currentChunk.WriteString(" ")
	}

	if last := strings.TrimSpace(currentChunk.String()); last != "" {
		chunks = append(chunks, last)
	}

	return chunks
}

func (p *Processor) splitIntoSentences(text string) []string {
	sentenceEnders := []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}
	var sentences []string

	current := strings.Builder{}

	for i := 0; i < len(text); i++ {
		current.WriteByte(text[i])

		for _, ender := range sentenceEnders {
			if strings.HasSuffix(current.String(), ender) {
				sentences = append(sentences, strings.TrimSpace(current.String()))
				current.Reset()
				break
			}
		}
	}

	if rest := strings.TrimSpace(current.String()); rest != "" {
		sentences = append(sentences, rest)
	}

	return sentences
}

func lastRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[len(runes)-n:]))
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
