package models

import "time"

type SourceFormat string

const (
	FormatText     SourceFormat = "text"
	FormatPDF      SourceFormat = "pdf"
	FormatCode     SourceFormat = "code"
	FormatNotebook SourceFormat = "notebook"
)

// SubmissionDocument is a normalized student submission. ID is the hex
// SHA-256 of the whitespace-collapsed text, so textually identical uploads
// share an ID.
type SubmissionDocument struct {
	ID           string             `json:"id"`
	RawText      string             `json:"raw_text"`
	SourceFormat SourceFormat       `json:"source_format"`
	LanguageHint string             `json:"language_hint,omitempty"`
	Filename     string             `json:"filename,omitempty"`
	Submitter    string             `json:"submitter,omitempty"`
	Metadata     StructuralMetadata `json:"structural_metadata"`
	CreatedAt    time.Time          `json:"created_at"`
}

type StructuralMetadata struct {
	Functions         []string       `json:"functions,omitempty"`
	Classes           []string       `json:"classes,omitempty"`
	Imports           []string       `json:"imports,omitempty"`
	BranchCount       int            `json:"branch_count,omitempty"`
	LineCount         int            `json:"line_count"`
	WordCount         int            `json:"word_count"`
	ComplexityDensity float64        `json:"complexity_density,omitempty"`
	PageCount         int            `json:"page_count,omitempty"`
	Cells             []NotebookCell `json:"cells,omitempty"`
	CellCount         int            `json:"cell_count,omitempty"`
	CodeCells         int            `json:"code_cells,omitempty"`
	MarkdownCells     int            `json:"markdown_cells,omitempty"`
}

type CellKind string

const (
	CellCode     CellKind = "code"
	CellMarkdown CellKind = "markdown"
	CellRaw      CellKind = "raw"
)

// NotebookCell keeps one cell of a notebook. Start and End are byte offsets
// of a code cell inside SubmissionDocument.RawText; both are -1 for cells
// that are not part of the raw text.
type NotebookCell struct {
	Index  int      `json:"index"`
	Kind   CellKind `json:"kind"`
	Source string   `json:"source"`
	Start  int      `json:"start"`
	End    int      `json:"end"`
}

// EmbeddingRecord is the single stored vector for a document. Prompt, Grade
// and Submitter describe the graded run that stored it and are empty for
// records stored outside a run.
type EmbeddingRecord struct {
	DocumentID string    `json:"document_id"`
	Vector     []float32 `json:"vector"`
	StoredAt   time.Time `json:"stored_at"`
	Excerpt    string    `json:"excerpt,omitempty"`
	Prompt     string    `json:"prompt,omitempty"`
	Grade      *float64  `json:"grade,omitempty"`
	Submitter  string    `json:"submitter,omitempty"`
}

type Neighbor struct {
	DocumentID string    `json:"document_id"`
	Similarity float64   `json:"similarity"`
	StoredAt   time.Time `json:"stored_at"`
	Excerpt    string    `json:"excerpt,omitempty"`
	Prompt     string    `json:"prompt,omitempty"`
	Grade      *float64  `json:"grade,omitempty"`
	Submitter  string    `json:"submitter,omitempty"`
}
