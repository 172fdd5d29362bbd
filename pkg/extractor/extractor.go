package extractor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/xhad/assessor/internal/models"
	"github.com/xhad/assessor/pkg/processor"
)

type ExtractorConfig struct {
	// MaxBytes rejects larger uploads. Zero means 20 MiB.
	MaxBytes int
	// NotebookLanguage is assumed when a notebook does not declare one.
	NotebookLanguage string
	Now              func() time.Time
}

// Extractor turns raw uploads into SubmissionDocuments.
type Extractor struct {
	config ExtractorConfig
	logger zerolog.Logger
}

func NewWithConfig(config ExtractorConfig, logger zerolog.Logger) *Extractor {
	if config.MaxBytes == 0 {
		config.MaxBytes = 20 << 20
	}
	if config.NotebookLanguage == "" {
		config.NotebookLanguage = "python"
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Extractor{config: config, logger: logger}
}

// Capability describes what the extractor pulls out of one kind of file.
type Capability struct {
	Format      models.SourceFormat `json:"format"`
	Extensions  []string            `json:"extensions"`
	Language    string              `json:"language,omitempty"`
	Structure   bool                `json:"structure"`
	CellCounts  bool                `json:"cell_counts"`
	Description string              `json:"description"`
}

// Capabilities lists every supported input kind, text formats first.
func Capabilities() []Capability {
	caps := []Capability{
		{Format: models.FormatText, Extensions: []string{".txt", ".md"}, Description: "plain text"},
		{Format: models.FormatText, Extensions: []string{".docx"}, Description: "word document text"},
		{Format: models.FormatPDF, Extensions: []string{".pdf"}, Description: "pdf text layer"},
		{Format: models.FormatNotebook, Extensions: []string{".ipynb"}, Structure: true, CellCounts: true, Description: "jupyter notebook code cells"},
	}

	byLang := make(map[string][]string)
	for ext, lang := range extensionLanguages {
		byLang[lang] = append(byLang[lang], ext)
	}
	langs := make([]string, 0, len(byLang))
	for lang := range byLang {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		exts := byLang[lang]
		sort.Strings(exts)
		caps = append(caps, Capability{
			Format:      models.FormatCode,
			Extensions:  exts,
			Language:    lang,
			Structure:   true,
			Description: lang + " source code",
		})
	}
	return caps
}

// SupportedExtensions returns every file extension Extract accepts without
// a declared format.
func SupportedExtensions() []string {
	var out []string
	for _, c := range Capabilities() {
		out = append(out, c.Extensions...)
	}
	sort.Strings(out)
	return out
}

// DetectFormat maps a filename to a source format. Unknown extensions are
// treated as text.
func DetectFormat(filename string) models.SourceFormat {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return models.FormatPDF
	case ".ipynb":
		return models.FormatNotebook
	}
	if _, ok := extensionLanguages[ext]; ok {
		return models.FormatCode
	}
	return models.FormatText
}

// Extract normalizes raw bytes into a SubmissionDocument. format may be
// empty, in which case it is detected from filename. languageHint is
// optional and only used for code.
func (e *Extractor) Extract(raw []byte, format models.SourceFormat, filename, languageHint string) (*models.SubmissionDocument, error) {
	if len(raw) > e.config.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, len(raw), e.config.MaxBytes)
	}
	if format == "" {
		format = DetectFormat(filename)
	}

	doc := &models.SubmissionDocument{
		SourceFormat: format,
		Filename:     filename,
		CreatedAt:    e.config.Now().UTC(),
	}

	var err error
	switch format {
	case models.FormatText:
		err = e.extractText(doc, raw)
	case models.FormatPDF:
		err = e.extractPDF(doc, raw)
	case models.FormatCode:
		err = e.extractCode(doc, raw, languageHint)
	case models.FormatNotebook:
		err = e.extractNotebook(doc, raw, languageHint)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		e.logger.Debug().Err(err).Str("filename", filename).Str("format", string(format)).Msg("Extraction failed")
		return nil, err
	}

	if strings.TrimSpace(doc.RawText) == "" {
		return nil, ErrEmptySubmission
	}

	doc.ID = ContentID(doc.RawText)
	doc.Metadata.LineCount = strings.Count(doc.RawText, "\n") + 1
	doc.Metadata.WordCount = len(strings.Fields(doc.RawText))

	e.logger.Debug().
		Str("document_id", doc.ID).
		Str("format", string(doc.SourceFormat)).
		Int("words", doc.Metadata.WordCount).
		Msg("Extracted submission")

	return doc, nil
}

func (e *Extractor) extractText(doc *models.SubmissionDocument, raw []byte) error {
	var (
		text string
		err  error
	)
	if strings.EqualFold(filepath.Ext(doc.Filename), ".docx") {
		text, err = parseDOCX(raw)
	} else {
		text, err = decodeText(raw)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	doc.RawText = normalizeText(text)
	return nil
}

func (e *Extractor) extractPDF(doc *models.SubmissionDocument, raw []byte) error {
	parsed, err := parsePDF(raw)
	if err != nil {
		return err
	}
	doc.RawText = normalizeText(parsed.text)
	doc.Metadata.PageCount = parsed.pages
	return nil
}

func (e *Extractor) extractCode(doc *models.SubmissionDocument, raw []byte, hint string) error {
	text, err := decodeText(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	doc.RawText = normalizeText(text)
	doc.LanguageHint = DetectLanguage(doc.Filename, hint)
	applyStructure(doc, analyzeCode(doc.RawText, doc.LanguageHint))
	return nil
}

func (e *Extractor) extractNotebook(doc *models.SubmissionDocument, raw []byte, hint string) error {
	text, err := decodeText(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	nb, err := parseNotebook([]byte(text))
	if err != nil {
		return err
	}

	doc.RawText = nb.text
	proseOnly := strings.TrimSpace(nb.text) == ""
	if proseOnly {
		// a notebook of explanations only is assessed as its prose
		doc.RawText = nb.markdown()
	}
	doc.LanguageHint = DetectLanguage("", hint)
	if doc.LanguageHint == "" {
		doc.LanguageHint = DetectLanguage("", nb.language)
	}
	if doc.LanguageHint == "" {
		doc.LanguageHint = e.config.NotebookLanguage
	}

	doc.Metadata.Cells = nb.cells
	doc.Metadata.CellCount = len(nb.cells)
	for _, c := range nb.cells {
		switch c.Kind {
		case models.CellCode:
			doc.Metadata.CodeCells++
		case models.CellMarkdown:
			doc.Metadata.MarkdownCells++
		}
	}

	if !proseOnly {
		applyStructure(doc, analyzeCode(doc.RawText, doc.LanguageHint))
	}
	return nil
}

func applyStructure(doc *models.SubmissionDocument, cs codeStructure) {
	doc.Metadata.Functions = cs.functions
	doc.Metadata.Classes = cs.classes
	doc.Metadata.Imports = cs.imports
	doc.Metadata.BranchCount = cs.branches

	nonBlank := 0
	for _, line := range strings.Split(doc.RawText, "\n") {
		if strings.TrimSpace(line) != "" {
			nonBlank++
		}
	}
	if nonBlank > 0 {
		doc.Metadata.ComplexityDensity = float64(cs.branches) / float64(nonBlank)
	}
}

func normalizeText(text string) string {
	return processor.NormalizeWhitespace(norm.NFC.String(processor.SanitizeUTF8(text)))
}

// ContentID hashes the whitespace-collapsed text, so two uploads that differ
// only in spacing, line endings or encoding get the same id.
func ContentID(text string) string {
	sum := sha256.Sum256([]byte(processor.CollapseWhitespace(norm.NFC.String(text))))
	return hex.EncodeToString(sum[:])
}
