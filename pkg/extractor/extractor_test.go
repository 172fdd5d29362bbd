package extractor

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"

	"github.com/xhad/assessor/internal/models"
)

func newTestExtractor() *Extractor {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return NewWithConfig(ExtractorConfig{Now: func() time.Time { return fixed }}, zerolog.Nop())
}

func TestExtractTextNormalizesAndHashes(t *testing.T) {
	e := newTestExtractor()

	a, err := e.Extract([]byte("Photosynthesis converts light.  \r\n\r\n\r\nPlants store energy.\r\n"), "", "essay.txt", "")
	require.NoError(t, err)
	b, err := e.Extract([]byte("\n Photosynthesis converts light.\n\nPlants   store energy."), models.FormatText, "other.txt", "")
	require.NoError(t, err)

	assert.Equal(t, "Photosynthesis converts light.\n\nPlants store energy.", a.RawText)
	assert.Equal(t, a.ID, b.ID)
	assert.Len(t, a.ID, 64)
	assert.Equal(t, models.FormatText, a.SourceFormat)
	assert.Equal(t, 6, a.Metadata.WordCount)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), a.CreatedAt)
}

func TestExtractTextEncodings(t *testing.T) {
	e := newTestExtractor()
	want, err := e.Extract([]byte("Café résumé naïve"), "", "a.txt", "")
	require.NoError(t, err)

	utf16, err := xunicode.UTF16(xunicode.LittleEndian, xunicode.UseBOM).NewEncoder().Bytes([]byte("Café résumé naïve"))
	require.NoError(t, err)
	got, err := e.Extract(utf16, "", "b.txt", "")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)

	cp1252, err := charmap.Windows1252.NewEncoder().Bytes([]byte("Café résumé naïve"))
	require.NoError(t, err)
	got, err = e.Extract(cp1252, "", "c.txt", "")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)

	withBOM := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Café résumé naïve")...)
	got, err = e.Extract(withBOM, "", "d.txt", "")
	require.NoError(t, err)
	assert.Equal(t, want.RawText, got.RawText)

	// decomposed accents normalize to the same id
	got, err = e.Extract([]byte("Cafe\u0301 re\u0301sume\u0301 nai\u0308ve"), "", "e.txt", "")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
}

func TestExtractEmptySubmission(t *testing.T) {
	e := newTestExtractor()

	_, err := e.Extract([]byte(" \n\t \r\n"), "", "blank.txt", "")
	assert.ErrorIs(t, err, ErrEmptySubmission)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestExtractUnsupportedFormat(t *testing.T) {
	_, err := newTestExtractor().Extract([]byte("x"), models.SourceFormat("spreadsheet"), "x.xls", "")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestExtractTooLarge(t *testing.T) {
	e := NewWithConfig(ExtractorConfig{MaxBytes: 8}, zerolog.Nop())
	_, err := e.Extract([]byte("more than eight bytes"), "", "a.txt", "")
	assert.ErrorIs(t, err, ErrTooLarge)
}

// buildPDF writes a one-page PDF whose content stream is content, with a
// correct cross-reference table.
func buildPDF(content string) []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}

	offsets := make([]int, 0, len(objects))
	for i, obj := range objects {
		offsets = append(offsets, b.Len())
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}

func TestExtractPDF(t *testing.T) {
	raw := buildPDF("BT /F1 12 Tf 72 712 Td (Entropy always increases in isolated systems.) Tj ET")

	doc, err := newTestExtractor().Extract(raw, "", "thermo.pdf", "")
	require.NoError(t, err)

	assert.Equal(t, models.FormatPDF, doc.SourceFormat)
	assert.Contains(t, doc.RawText, "Entropy always increases in isolated systems.")
	assert.Equal(t, 1, doc.Metadata.PageCount)
}

func TestExtractPDFImageOnly(t *testing.T) {
	_, err := newTestExtractor().Extract(buildPDF(""), models.FormatPDF, "scan.pdf", "")

	var pdfErr *UnreadablePDFError
	require.True(t, errors.As(err, &pdfErr))
	assert.Equal(t, "image-only", pdfErr.Reason)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestExtractPDFCorrupt(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"not a pdf", []byte("just some text pretending")},
		{"truncated", []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog")},
		{"bad xref", append(buildPDF("BT ET")[:200], []byte("startxref\n99999\n%%EOF\n")...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestExtractor().Extract(tt.raw, models.FormatPDF, "broken.pdf", "")

			var pdfErr *UnreadablePDFError
			require.True(t, errors.As(err, &pdfErr), "got %v", err)
			assert.NotEmpty(t, pdfErr.Reason)
			assert.ErrorIs(t, err, ErrExtraction)
		})
	}
}

func TestExtractDOCX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
<w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	doc, err := newTestExtractor().Extract(buf.Bytes(), "", "essay.docx", "")
	require.NoError(t, err)

	assert.Equal(t, models.FormatText, doc.SourceFormat)
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", doc.RawText)
}

const notebookJSON = `{
 "cells": [
  {"cell_type": "markdown", "metadata": {}, "source": ["# Lab 3\n", "Sorting algorithms"]},
  {"cell_type": "code", "metadata": {}, "source": ["import numpy as np\n", "\n", "def bubble_sort(xs):\n", "    for i in range(len(xs)):\n", "        pass\n"]},
  {"cell_type": "markdown", "metadata": {}, "source": "Now test it."},
  {"cell_type": "code", "metadata": {}, "source": "print(bubble_sort([3, 1, 2]))"}
 ],
 "metadata": {"kernelspec": {"language": "python"}},
 "nbformat": 4,
 "nbformat_minor": 5
}`

func TestExtractNotebook(t *testing.T) {
	doc, err := newTestExtractor().Extract([]byte(notebookJSON), "", "lab3.ipynb", "")
	require.NoError(t, err)

	assert.Equal(t, models.FormatNotebook, doc.SourceFormat)
	assert.Equal(t, "python", doc.LanguageHint)
	assert.Equal(t, 4, doc.Metadata.CellCount)
	assert.Equal(t, 2, doc.Metadata.CodeCells)
	assert.Equal(t, 2, doc.Metadata.MarkdownCells)
	assert.Equal(t, []string{"bubble_sort"}, doc.Metadata.Functions)
	assert.Equal(t, []string{"import numpy as np"}, doc.Metadata.Imports)
	assert.NotContains(t, doc.RawText, "Sorting algorithms")

	require.Len(t, doc.Metadata.Cells, 4)
	assert.Equal(t, models.CellMarkdown, doc.Metadata.Cells[0].Kind)
	assert.Equal(t, -1, doc.Metadata.Cells[0].Start)
	for _, c := range doc.Metadata.Cells {
		if c.Kind != models.CellCode {
			continue
		}
		assert.Equal(t, c.Source, doc.RawText[c.Start:c.End])
	}
	assert.Equal(t, "print(bubble_sort([3, 1, 2]))", doc.Metadata.Cells[3].Source)
}

func TestExtractNotebookInvalid(t *testing.T) {
	e := newTestExtractor()

	_, err := e.Extract([]byte("{not json"), models.FormatNotebook, "x.ipynb", "")
	assert.ErrorIs(t, err, ErrExtraction)

	_, err = e.Extract([]byte(`{"metadata": {}}`), models.FormatNotebook, "x.ipynb", "")
	assert.ErrorIs(t, err, ErrExtraction)

	_, err = e.Extract([]byte(`{"cells": [{"cell_type": "markdown", "source": "  "}, {"cell_type": "code", "source": ""}]}`), models.FormatNotebook, "x.ipynb", "")
	assert.ErrorIs(t, err, ErrEmptySubmission)
}

func TestExtractNotebookMarkdownOnly(t *testing.T) {
	raw := `{"cells": [
  {"cell_type": "markdown", "source": ["# Reflection\n", "Entropy always grows."]},
  {"cell_type": "code", "source": []},
  {"cell_type": "markdown", "source": "Heat flows from hot to cold."}
]}`
	doc, err := newTestExtractor().Extract([]byte(raw), "", "essay.ipynb", "")
	require.NoError(t, err)

	assert.Equal(t, "# Reflection\nEntropy always grows.\n\nHeat flows from hot to cold.", doc.RawText)
	assert.Equal(t, 2, doc.Metadata.MarkdownCells)
	assert.Equal(t, 1, doc.Metadata.CodeCells)
	assert.Empty(t, doc.Metadata.Functions)
	assert.Equal(t, ContentID(doc.RawText), doc.ID)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, models.FormatPDF, DetectFormat("Report.PDF"))
	assert.Equal(t, models.FormatNotebook, DetectFormat("lab.ipynb"))
	assert.Equal(t, models.FormatCode, DetectFormat("main.go"))
	assert.Equal(t, models.FormatCode, DetectFormat("App.tsx"))
	assert.Equal(t, models.FormatText, DetectFormat("notes.md"))
	assert.Equal(t, models.FormatText, DetectFormat("README"))
}

func TestSupportedExtensions(t *testing.T) {
	exts := SupportedExtensions()
	for _, want := range []string{".py", ".java", ".ipynb", ".pdf", ".docx", ".txt", ".go", ".cpp"} {
		assert.Contains(t, exts, want)
	}

	var codeLangs []string
	for _, c := range Capabilities() {
		if c.Format == models.FormatCode {
			codeLangs = append(codeLangs, c.Language)
		}
	}
	assert.Equal(t, "c,cpp,go,java,javascript,python,typescript", strings.Join(codeLangs, ","))
}
