package embedding

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestChunkContentSingleSegmentWhenShort(t *testing.T) {
	segments := ChunkContent("short content", DefaultMaxTokens)

	require.Len(t, segments, 1)
	require.Equal(t, 0, segments[0].Start)
	require.Equal(t, len("short content"), segments[0].End)
}

func TestChunkContentSplitsLongContent(t *testing.T) {
	content := strings.Repeat("word ", 3000) // ~15000 chars, well over the maxTokens*4 budget

	segments := ChunkContent(content, 100)

	require.Greater(t, len(segments), 1)

	for i, seg := range segments {
		require.Equal(t, i, seg.Index)
		require.Equal(t, content[seg.Start:seg.End], seg.Text)
	}

	// segments must cover the content contiguously with no gaps or overlaps
	require.Equal(t, 0, segments[0].Start)
	require.Equal(t, len(content), segments[len(segments)-1].End)

	for i := 1; i < len(segments); i++ {
		require.Equal(t, segments[i-1].End, segments[i].Start)
	}
}

func TestChunkContentNeverSplitsARune(t *testing.T) {
	content := strings.Repeat("café ", 3000)

	segments := ChunkContent(content, 50)

	for _, seg := range segments {
		require.True(t, utf8.ValidString(seg.Text))
	}
}
