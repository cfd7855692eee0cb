package extract

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func extractPDF(data []byte) (res *Result, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty pdf", models.ErrExtraction)
	}

	// The text reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: malformed pdf: %v", models.ErrExtraction, r)
		}
	}()

	pageCount, err := inspectPDF(data)
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", models.ErrExtraction, err)
	}
	if n := reader.NumPage(); n != pageCount {
		slog.Warn("PDF page counts disagree", "validatedPages", pageCount, "readerPages", n)
	}

	pages := make([]Page, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", models.ErrExtraction, i, err)
		}
		pages = append(pages, Page{Number: i, Text: text})
	}

	return &Result{Pages: pages, PageCount: pageCount}, nil
}

// inspectPDF reads and validates the document in relaxed mode and returns its page count.
// Encrypted and structurally invalid documents are rejected before any text is read.
func inspectPDF(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if errors.Is(err, pdfcpu.ErrWrongPassword) {
		return 0, fmt.Errorf("%w: pdf is password protected", models.ErrExtraction)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: invalid pdf: %v", models.ErrExtraction, err)
	}
	if ctx.Encrypt != nil {
		return 0, fmt.Errorf("%w: pdf is encrypted", models.ErrExtraction)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return 0, fmt.Errorf("%w: invalid pdf: %v", models.ErrExtraction, err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return 0, fmt.Errorf("%w: invalid pdf: %v", models.ErrExtraction, err)
	}
	if ctx.PageCount == 0 {
		return 0, fmt.Errorf("%w: pdf has no pages", models.ErrExtraction)
	}
	return ctx.PageCount, nil
}
