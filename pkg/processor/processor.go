package processor

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type ProcessorConfig struct {
	ChunkSize       int
	ChunkOverlap    int
	MinChunkLength  int
	RemoveStopwords bool
	CustomStopwords []string
}

// Processor splits normalized text into overlapping, sentence-aligned chunks
// suitable for embedding.
type Processor struct {
	config    ProcessorConfig
	stopwords map[string]struct{}
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 200
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 5
	}
	if config.MinChunkLength == 0 {
		config.MinChunkLength = 100
	}

	stopwords := make(map[string]struct{}, len(defaultStopwords)+len(config.CustomStopwords))
	for _, w := range defaultStopwords {
		stopwords[w] = struct{}{}
	}
	for _, w := range config.CustomStopwords {
		stopwords[strings.ToLower(w)] = struct{}{}
	}

	return Processor{
		config:    config,
		stopwords: stopwords,
	}
}

// Chunks returns the chunks of text. Text shorter than MinChunkLength still
// yields a single chunk so every non-empty input can be embedded.
func (p *Processor) Chunks(text string) []string {
	text = p.cleanText(text)
	if text == "" {
		return nil
	}

	chunks := p.splitIntoChunks(text)
	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

func (p *Processor) cleanText(text string) string {
	text = SanitizeUTF8(text)

	// Replace multiple spaces with single space
	text = strings.Join(strings.Fields(text), " ")

	if p.config.RemoveStopwords {
		text = p.removeStopwords(text)
	}

	return strings.TrimSpace(text)
}

func (p *Processor) splitIntoChunks(text string) []string {
	var chunks []string

	sentences := SplitSentences(text)

	currentChunk := strings.Builder{}

	for _, sentence := range sentences {
		if currentChunk.Len() > 0 && currentChunk.Len()+len(sentence) > p.config.ChunkSize {
			if currentChunk.Len() >= p.config.MinChunkLength {
				chunks = append(chunks, strings.TrimSpace(currentChunk.String()))
			}

			// Start new chunk with overlap
			if p.config.ChunkOverlap > 0 && currentChunk.Len() > p.config.ChunkOverlap {
				current := currentChunk.String()
				lastPart := current[runeStart(current, len(current)-p.config.ChunkOverlap):]
				currentChunk.Reset()
				currentChunk.WriteString(lastPart)
			} else {
				currentChunk.Reset()
			}
		}

		currentChunk.WriteString(sentence)
		currentChunk.WriteString(" ")
	}

	if currentChunk.Len() >= p.config.MinChunkLength {
		chunks = append(chunks, strings.TrimSpace(currentChunk.String()))
	}

	return chunks
}

func (p *Processor) removeStopwords(text string) string {
	words := strings.Fields(text)
	filtered := words[:0]

	for _, word := range words {
		if _, ok := p.stopwords[strings.ToLower(word)]; !ok {
			filtered = append(filtered, word)
		}
	}

	return strings.Join(filtered, " ")
}

// runeStart moves i back to the start of the rune containing it.
func runeStart(s string, i int) int {
	if i <= 0 {
		return 0
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// SplitSentences splits on terminal punctuation followed by whitespace and on
// blank lines. Closing quotes and brackets stay with their sentence.
func SplitSentences(text string) []string {
	var sentences []string

	current := strings.Builder{}
	runes := []rune(text)

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			flush()
			continue
		}

		current.WriteRune(r)

		if r != '.' && r != '!' && r != '?' {
			continue
		}
		for i+1 < len(runes) && strings.ContainsRune("\"')", runes[i+1]) {
			i++
			current.WriteRune(runes[i])
		}
		if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
			flush()
		}
	}

	flush()
	return sentences
}

// Words lowercases text and returns its word tokens: runs of letters and
// digits, with inner apostrophes kept.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// Keywords returns up to max distinct non-stopword terms in order of first
// appearance.
func Keywords(text string, max int) []string {
	seen := make(map[string]struct{})
	var out []string

	for _, w := range Words(text) {
		w = strings.Trim(w, "'")
		if len([]rune(w)) < 3 {
			continue
		}
		if isStopword(w) {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

func SanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}

// NormalizeWhitespace converts line endings to \n, trims trailing
// whitespace on each line, collapses runs of blank lines into one and
// drops leading and trailing blank lines. Indentation is preserved.
func NormalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\u00a0", " ")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			if len(out) > 0 && !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}

	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}

	return strings.Join(out, "\n")
}

// CollapseWhitespace joins all fields with a single space. It is the
// canonical form used for content hashing.
func CollapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func isStopword(w string) bool {
	_, ok := stopwordSet[w]
	return ok
}

var stopwordSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(defaultStopwords))
	for _, w := range defaultStopwords {
		m[w] = struct{}{}
	}
	return m
}()

// Common English stopwords plus words that show up in nearly every
// assignment prompt.
var defaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for",
	"from", "has", "he", "in", "is", "it", "its", "of", "on",
	"that", "the", "to", "was", "were", "will", "with",
	"this", "these", "those", "your", "you", "what", "which", "who",
	"how", "why", "when", "where", "can", "could", "should", "would",
	"into", "about", "their", "there", "they", "them", "then", "than",
	"but", "not", "all", "any", "each", "also", "use", "using", "used",
	"write", "explain", "describe", "discuss", "answer", "question",
	"following", "provide", "give", "show", "must", "may", "our", "we",
}
