package stages

import (
	"fmt"
	"strings"

	"github.com/xhad/assessor/internal/models"
)

const analysisSchema = `{
  "findings": [{"topic": "string", "observation": "string"}],
  "strengths": ["string"],
  "weaknesses": ["string"],
  "confidence": 0.0
}`

const gradeSchema = `{"grade": 0, "letter": "A|B|C|D|F", "feedback": "string"}`

func searchQueryPrompt(in ResearchInput) string {
	var b strings.Builder
	b.WriteString("I need to check a student's assignment answer for accuracy and quality.\n")
	fmt.Fprintf(&b, "Assignment question: %s\n", in.Prompt)
	if in.Document != nil {
		fmt.Fprintf(&b, "Student's answer: %s\n", truncate(in.Document.RawText, 2000))
	}
	b.WriteString("\nReply with one short plain-text web search query that would help verify the answer. No formatting.")
	return b.String()
}

func analysisPrompt(in AnalysisInput, maxChars int) string {
	var b strings.Builder
	b.WriteString("Please analyze this student's answer thoroughly.\n\n")
	fmt.Fprintf(&b, "Assignment question: %s\n\n", in.Prompt)
	if s := formatInstructions(in.Document); s != "" {
		fmt.Fprintf(&b, "%s\n\n", s)
	}
	fmt.Fprintf(&b, "Student's answer:\n%s\n\n", truncate(in.Document.RawText, maxChars))
	writeExplanations(&b, in.Document, maxChars)

	if s := describeStructure(in.Document); s != "" {
		fmt.Fprintf(&b, "Submission structure:\n%s\n", s)
	}
	if in.ReferenceMaterial != "" {
		fmt.Fprintf(&b, "Reference material:\n%s\n\n", in.ReferenceMaterial)
	}
	if in.Research != nil && len(in.Research.Snippets) > 0 {
		b.WriteString("Research findings:\n")
		for _, s := range in.Research.Snippets {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", s.Source, s.Title, s.Excerpt)
		}
		b.WriteString("\n")
	}

	b.WriteString(`Analyze:
1. Accuracy: Are the facts, concepts, and information correct?
2. Completeness: Does the answer address all aspects of the question?
3. Understanding: Does the student demonstrate understanding of the core concepts?
4. Critical thinking: Is there evidence of analysis, evaluation, or original thought?
5. Structure: Is the answer well-organized and clearly expressed?

Return one finding per aspect, the main strengths and weaknesses, and your confidence in the analysis between 0 and 1.`)
	return b.String()
}

func gradingPrompt(in GradingInput, maxChars int) string {
	var b strings.Builder
	b.WriteString(`Based on the analysis, please:

1. Assign a numerical grade (0-100) to this answer
2. Provide detailed, constructive feedback that will help the student improve
3. Include specific examples from their answer to illustrate your points
4. Suggest concrete steps for improvement
5. Highlight strengths to reinforce positive aspects

`)
	fmt.Fprintf(&b, "Assignment question: %s\n\n", in.Prompt)
	fmt.Fprintf(&b, "Student's answer:\n%s\n\n", truncate(in.Document.RawText, maxChars))
	writeExplanations(&b, in.Document, maxChars)

	if a := in.Analysis; a != nil {
		b.WriteString("Analysis:\n")
		for _, f := range a.Findings {
			fmt.Fprintf(&b, "- %s: %s\n", f.Topic, f.Observation)
		}
		if len(a.Strengths) > 0 {
			fmt.Fprintf(&b, "Strengths: %s\n", strings.Join(a.Strengths, "; "))
		}
		if len(a.Weaknesses) > 0 {
			fmt.Fprintf(&b, "Weaknesses: %s\n", strings.Join(a.Weaknesses, "; "))
		}
		b.WriteString("\n")
	}

	b.WriteString("Answer in JSON. If you cannot, use the format:\nGRADE: [numerical grade]\nFEEDBACK:\n[your feedback]")
	return b.String()
}

// formatInstructions returns the review checklist for the kind of file
// submitted. Plain text gets none beyond the generic one.
func formatInstructions(doc *models.SubmissionDocument) string {
	switch doc.SourceFormat {
	case models.FormatPDF:
		return "Please evaluate this entire assignment submission. The assignment may contain multiple questions " +
			"or parts that need to be addressed. Consider all aspects of the submission when providing feedback."
	case models.FormatNotebook:
		return `Please analyze this Jupyter notebook for:
1. Code quality in each cell
2. Documentation and markdown explanations
3. Data analysis methodology (if applicable)
4. Overall educational structure and flow
5. Results interpretation and conclusions`
	case models.FormatCode:
		lang := doc.LanguageHint
		if lang == "" {
			lang = "source"
		}
		return fmt.Sprintf(`Please analyze this %s code for:
1. Syntax and structure
2. Code quality and best practices
3. Efficiency and optimization opportunities
4. Educational value and learning demonstration`, lang)
	}
	return ""
}

// writeExplanations adds the markdown cells of a notebook whose answer text
// is its code. Prose-only notebooks already carry them as the answer.
func writeExplanations(b *strings.Builder, doc *models.SubmissionDocument, maxChars int) {
	var (
		notes   []string
		hasCode bool
	)
	for _, c := range doc.Metadata.Cells {
		switch {
		case c.Kind == models.CellCode && c.Start >= 0:
			hasCode = true
		case c.Kind == models.CellMarkdown && c.Source != "":
			notes = append(notes, c.Source)
		}
	}
	if !hasCode || len(notes) == 0 {
		return
	}
	fmt.Fprintf(b, "Notebook explanations:\n%s\n\n", truncate(strings.Join(notes, "\n\n"), maxChars))
}

func describeStructure(doc *models.SubmissionDocument) string {
	m := doc.Metadata
	var b strings.Builder
	if doc.LanguageHint != "" {
		fmt.Fprintf(&b, "Language: %s\n", doc.LanguageHint)
	}
	if len(m.Functions) > 0 {
		fmt.Fprintf(&b, "Functions: %s\n", strings.Join(m.Functions, ", "))
	}
	if len(m.Classes) > 0 {
		fmt.Fprintf(&b, "Classes: %s\n", strings.Join(m.Classes, ", "))
	}
	if len(m.Imports) > 0 {
		fmt.Fprintf(&b, "Imports: %s\n", strings.Join(m.Imports, ", "))
	}
	if m.BranchCount > 0 {
		fmt.Fprintf(&b, "Branches: %d (%.2f per line)\n", m.BranchCount, m.ComplexityDensity)
	}
	if m.CellCount > 0 {
		fmt.Fprintf(&b, "Notebook cells: %d (%d code, %d markdown)\n", m.CellCount, m.CodeCells, m.MarkdownCells)
	}
	if m.PageCount > 0 {
		fmt.Fprintf(&b, "Pages: %d\n", m.PageCount)
	}
	return b.String()
}
