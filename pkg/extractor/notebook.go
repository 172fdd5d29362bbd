package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xhad/assessor/internal/models"
)

type notebookFile struct {
	Cells    []notebookCell `json:"cells"`
	Metadata struct {
		Kernelspec struct {
			Language string `json:"language"`
		} `json:"kernelspec"`
		LanguageInfo struct {
			Name string `json:"name"`
		} `json:"language_info"`
	} `json:"metadata"`
}

type notebookCell struct {
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
}

// source handles both encodings nbformat allows: one string, or a list of
// lines that already carry their newlines.
func (c notebookCell) source() (string, error) {
	if len(c.Source) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(c.Source, &s); err == nil {
		return s, nil
	}
	var lines []string
	if err := json.Unmarshal(c.Source, &lines); err != nil {
		return "", err
	}
	return strings.Join(lines, ""), nil
}

type parsedNotebook struct {
	text     string
	language string
	cells    []models.NotebookCell
}

// parseNotebook returns the code cells joined by blank lines, together with
// every cell and the byte range each code cell occupies in that text.
// Offsets refer to the text as returned; the caller must not reflow it.
func parseNotebook(raw []byte) (parsedNotebook, error) {
	var nb notebookFile
	if err := json.Unmarshal(raw, &nb); err != nil {
		return parsedNotebook{}, fmt.Errorf("%w: invalid notebook json: %v", ErrExtraction, err)
	}
	if nb.Cells == nil {
		return parsedNotebook{}, fmt.Errorf("%w: notebook has no cells", ErrExtraction)
	}

	language := nb.Metadata.LanguageInfo.Name
	if language == "" {
		language = nb.Metadata.Kernelspec.Language
	}

	var b strings.Builder
	cells := make([]models.NotebookCell, 0, len(nb.Cells))
	for i, c := range nb.Cells {
		src, err := c.source()
		if err != nil {
			return parsedNotebook{}, fmt.Errorf("%w: cell %d: %v", ErrExtraction, i, err)
		}
		src = normalizeCell(src)

		cell := models.NotebookCell{Index: i, Source: src, Start: -1, End: -1}
		switch c.CellType {
		case "code":
			cell.Kind = models.CellCode
			if src != "" {
				if b.Len() > 0 {
					b.WriteString("\n\n")
				}
				cell.Start = b.Len()
				b.WriteString(src)
				cell.End = b.Len()
			}
		case "markdown":
			cell.Kind = models.CellMarkdown
		default:
			cell.Kind = models.CellRaw
		}
		cells = append(cells, cell)
	}

	return parsedNotebook{text: b.String(), language: language, cells: cells}, nil
}

// markdown joins the non-empty markdown cells by blank lines.
func (nb parsedNotebook) markdown() string {
	var parts []string
	for _, c := range nb.cells {
		if c.Kind == models.CellMarkdown && c.Source != "" {
			parts = append(parts, c.Source)
		}
	}
	return strings.Join(parts, "\n\n")
}

// normalizeCell applies the document-wide whitespace rules to one cell so
// the offsets recorded for it stay valid after the joined text is
// normalized.
func normalizeCell(src string) string {
	src = normalizeText(src)
	return strings.Trim(src, "\n")
}
