package processor_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/ragline/internal/types"
	"github.com/xhad/ragline/pkg/processor"
)

func TestProcessor_Chunk(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	tests := []struct {
		name   string
		corpus string
		want   []string
	}{
		{
			name:   "three paragraphs",
			corpus: "The sky is blue.\n\nFish live in water.\n\nRocks are hard.",
			want:   []string{"The sky is blue.", "Fish live in water.", "Rocks are hard."},
		},
		{
			name:   "whitespace is trimmed and empty pieces dropped",
			corpus: "\n\n  first  \n\n\n\n \t \n\nsecond\nstill second\n\n",
			want:   []string{"first", "second\nstill second"},
		},
		{
			name:   "empty corpus",
			corpus: "",
			want:   nil,
		},
		{
			name:   "only blank lines",
			corpus: "\n\n\n\n   \n\n",
			want:   nil,
		},
		{
			name:   "single paragraph without separator",
			corpus: "one line\nanother line",
			want:   []string{"one line\nanother line"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Chunk(tt.corpus)
			assert.Equal(t, tt.want, got)
			for _, c := range got {
				assert.NotEmpty(t, c)
				assert.Equal(t, strings.TrimSpace(c), c)
			}
		})
	}
}

func TestProcessor_Chunks(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	chunks := p.Chunks("alpha\n\nbéta", "data.txt")
	require.Len(t, chunks, 2)

	assert.Equal(t, "chunk_0", chunks[0].ID)
	assert.Equal(t, 0, chunks[0].Metadata.Index)
	assert.Equal(t, 5, chunks[0].Metadata.Length)
	assert.Equal(t, "chunk_1", chunks[1].ID)
	assert.Equal(t, 1, chunks[1].Metadata.Index)
	assert.Equal(t, 4, chunks[1].Metadata.Length)
	assert.Equal(t, "data.txt", chunks[1].Metadata.Source)
}

func TestProcessor_MaxChunkSize(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{
		MaxChunkSize: 40,
		ChunkOverlap: 10,
	})

	corpus := "First sentence is here. Second sentence follows. Third one ends it.\n\nShort."
	chunks := p.Chunk(corpus)

	require.Greater(t, len(chunks), 2)
	assert.Equal(t, "First sentence is here.", chunks[0])
	assert.Equal(t, "Short.", chunks[len(chunks)-1])
	// overlap carries the tail of the previous chunk
	assert.Contains(t, chunks[1], "is here.")
}

func TestLoadCorpus(t *testing.T) {
	dir := t.TempDir()

	t.Run("plain text", func(t *testing.T) {
		path := filepath.Join(dir, "data.txt")
		require.NoError(t, os.WriteFile(path, []byte("a\n\nb"), 0644))

		text, err := processor.LoadCorpus(path)
		require.NoError(t, err)
		assert.Equal(t, "a\n\nb", text)
	})

	t.Run("html", func(t *testing.T) {
		path := filepath.Join(dir, "page.html")
		html := `<html><head><style>p{}</style></head><body>
<nav><p>menu</p></nav>
<h1>Title</h1>
<p>First   paragraph
text.</p>
<ul><li>item one</li><li><p>item two</p></li></ul>
<script>var x = 1;</script>
</body></html>`
		require.NoError(t, os.WriteFile(path, []byte(html), 0644))

		text, err := processor.LoadCorpus(path)
		require.NoError(t, err)
		assert.Equal(t, "Title\n\nFirst paragraph text.\n\nitem one\n\nitem two", text)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := processor.LoadCorpus(filepath.Join(dir, "missing.txt"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrInput))
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
}
