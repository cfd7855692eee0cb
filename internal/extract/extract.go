// Package extract turns uploaded document bytes into plain text, keeping page boundaries
// where the format has them.
package extract

import (
	"fmt"
	"path"
	"strings"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
)

// Supported format tags.
const (
	FormatPDF  = "pdf"
	FormatDOCX = "docx"
	FormatTXT  = "txt"
)

// Page is the text of one source page. Number is 1-based; formats without pages produce a
// single page numbered 0.
type Page struct {
	Number int
	Text   string
}

// Result is the output of an extraction.
type Result struct {
	Format    string
	Pages     []Page
	PageCount int
}

// Text joins all pages with blank lines so page breaks read as paragraph breaks.
func (r Result) Text() string {
	parts := make([]string, 0, len(r.Pages))
	for _, p := range r.Pages {
		if t := strings.TrimSpace(p.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// FormatFromName returns the lower-cased extension of name without the dot.
func FormatFromName(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

// Extract dispatches on the case-insensitive format tag.
func Extract(data []byte, format string) (*Result, error) {
	format = strings.ToLower(strings.TrimSpace(format))

	var (
		res *Result
		err error
	)
	switch format {
	case FormatPDF:
		res, err = extractPDF(data)
	case FormatDOCX:
		res, err = extractDOCX(data)
	case FormatTXT:
		res, err = extractTXT(data)
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	res.Format = format
	if strings.TrimSpace(res.Text()) == "" {
		return nil, fmt.Errorf("%w: no text content in %s document", models.ErrExtraction, format)
	}
	return res, nil
}
