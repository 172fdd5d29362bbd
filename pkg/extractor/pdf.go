package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

type pdfText struct {
	text  string
	pages int
}

// parsePDF extracts plain text page by page. Pages are separated by a blank
// line so paragraph boundaries survive whitespace normalization. The pdf
// library panics on some malformed inputs, so panics are reported as
// corruption.
func parsePDF(raw []byte) (result pdfText, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &UnreadablePDFError{Reason: "corrupt", Err: fmt.Errorf("%v", r)}
		}
	}()

	if !bytes.HasPrefix(bytes.TrimLeft(raw, "\x00\t\r\n "), []byte("%PDF")) {
		return pdfText{}, &UnreadablePDFError{Reason: "corrupt", Err: errors.New("missing %PDF header")}
	}

	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return pdfText{}, &UnreadablePDFError{Reason: "encrypted", Err: err}
		}
		return pdfText{}, &UnreadablePDFError{Reason: "corrupt", Err: err}
	}

	var b strings.Builder
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, pageErr := p.GetPlainText(nil)
		if pageErr != nil {
			continue
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}

	if strings.TrimSpace(b.String()) == "" {
		return pdfText{}, &UnreadablePDFError{Reason: "image-only"}
	}

	return pdfText{text: b.String(), pages: total}, nil
}
