package processor_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/assessor/pkg/processor"
)

func TestProcessor_Chunks(t *testing.T) {
	config := processor.ProcessorConfig{
		ChunkSize:      50,
		ChunkOverlap:   10,
		MinChunkLength: 20,
	}
	p := processor.NewWithConfig(config)

	chunks := p.Chunks("This is a test document. It contains several sentences to demonstrate text processing. And one more for good measure.")

	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0], "test document")
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 50+10+len("It contains several sentences to demonstrate text processing."))
	}
}

func TestProcessor_ChunksShortText(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	assert.Equal(t, []string{"tiny input"}, p.Chunks("  tiny   input "))
	assert.Nil(t, p.Chunks("   \n  "))
}

func TestProcessor_ChunksRemovesStopwords(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{
		RemoveStopwords: true,
		CustomStopwords: []string{"document"},
	})

	chunks := p.Chunks("This is the document describing vectors.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "describing vectors.", chunks[0])
}

func TestSplitSentences(t *testing.T) {
	sentences := processor.SplitSentences("First one. Second one!  Third? \"Quoted.\" Version 1.5 ships\n\nNew paragraph")

	assert.Equal(t, []string{
		"First one.",
		"Second one!",
		"Third?",
		"\"Quoted.\"",
		"Version 1.5 ships",
		"New paragraph",
	}, sentences)
}

func TestWordsAndKeywords(t *testing.T) {
	assert.Equal(t, []string{"don't", "panic", "42", "times"}, processor.Words("Don't PANIC, 42 times!"))

	keywords := processor.Keywords("Explain how the TCP three-way handshake establishes a TCP connection", 4)
	assert.Equal(t, []string{"tcp", "three", "way", "handshake"}, keywords)
}

func TestNormalizeWhitespace(t *testing.T) {
	in := "\r\n\r\ndef f():  \r\n    return 1\t\r\n\r\n\r\n\r\nprint(f())   \n\n"
	assert.Equal(t, "def f():\n    return 1\n\nprint(f())", processor.NormalizeWhitespace(in))
}

func TestCollapseWhitespace(t *testing.T) {
	a := processor.CollapseWhitespace("hello \n\n world\t!")
	b := processor.CollapseWhitespace("hello world !")
	assert.Equal(t, a, b)
}

func TestSanitizeUTF8(t *testing.T) {
	bad := "caf" + string([]byte{0xff}) + "e"
	assert.Equal(t, "cafe", processor.SanitizeUTF8(bad))
	assert.True(t, strings.HasPrefix(processor.SanitizeUTF8("naïve"), "na"))
}
