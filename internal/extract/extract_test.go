package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"testing"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const sampleDocument = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Corn planting</w:t></w:r><w:r><w:t xml:space="preserve"> guide</w:t></w:r></w:p>
    <w:p></w:p>
    <w:p><w:r><w:t>Plant after</w:t><w:tab/><w:t>soil reaches 10C.</w:t></w:r></w:p>
  </w:body>
</w:document>`

func TestExtractDOCX(t *testing.T) {
	res, err := Extract(buildDOCX(t, sampleDocument), "DOCX")
	require.NoError(t, err)

	assert.Equal(t, FormatDOCX, res.Format)
	assert.Equal(t, "Corn planting guide\n\nPlant after\tsoil reaches 10C.", res.Text())
}

func TestExtractDOCXWithoutBody(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("word/styles.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Extract(buf.Bytes(), "docx")
	assert.ErrorIs(t, err, models.ErrExtraction)
}

func TestExtractTXT(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Line one\r\n\r\nLine two")...)
	res, err := Extract(data, "Txt")
	require.NoError(t, err)
	assert.Equal(t, "Line one\n\nLine two", res.Text())
	require.Len(t, res.Pages, 1)
	assert.Equal(t, 0, res.Pages[0].Number)
}

func TestExtractRejectsWhitespaceOnly(t *testing.T) {
	_, err := Extract([]byte("  \n\n\t "), "txt")
	assert.ErrorIs(t, err, models.ErrExtraction)

	_, err = Extract(buildDOCX(t, `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p/></w:body></w:document>`), "docx")
	assert.ErrorIs(t, err, models.ErrExtraction)
}

func TestExtractRejectsInvalidUTF8(t *testing.T) {
	_, err := Extract([]byte{0xff, 0xfe, 0x00}, "txt")
	assert.ErrorIs(t, err, models.ErrExtraction)
}

func TestExtractUnsupportedFormat(t *testing.T) {
	for _, format := range []string{"doc", "xlsx", ""} {
		_, err := Extract([]byte("hello"), format)
		assert.ErrorIs(t, err, models.ErrUnsupportedFormat, format)
	}
}

// buildPDF writes a one-page PDF showing text with a correct cross-reference table.
func buildPDF(text string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestExtractPDF(t *testing.T) {
	res, err := Extract(buildPDF("Corn planting guide"), "pdf")
	require.NoError(t, err)
	assert.Equal(t, "pdf", res.Format)
	assert.Equal(t, 1, res.PageCount)
	require.Len(t, res.Pages, 1)
	assert.Equal(t, 1, res.Pages[0].Number)
	assert.Contains(t, res.Pages[0].Text, "Corn")
}

func TestExtractCorruptPDF(t *testing.T) {
	_, err := Extract([]byte("definitely not a pdf"), "pdf")
	assert.ErrorIs(t, err, models.ErrExtraction)
	assert.ErrorContains(t, err, "invalid pdf")

	_, err = Extract(nil, "pdf")
	assert.ErrorIs(t, err, models.ErrExtraction)

	valid := buildPDF("Corn planting guide")
	_, err = Extract(valid[:len(valid)/2], "pdf")
	assert.ErrorIs(t, err, models.ErrExtraction)
}

func TestExtractEncryptedPDF(t *testing.T) {
	var encrypted bytes.Buffer
	conf := model.NewAESConfiguration("reader-secret", "owner-secret", 256)
	require.NoError(t, api.Encrypt(bytes.NewReader(buildPDF("Corn planting guide")), &encrypted, conf))

	_, err := Extract(encrypted.Bytes(), "pdf")
	assert.ErrorIs(t, err, models.ErrExtraction)
}

func TestFormatFromName(t *testing.T) {
	assert.Equal(t, "pdf", FormatFromName("documents/Corn-Guide.PDF"))
	assert.Equal(t, "docx", FormatFromName("a/b/c.docx"))
	assert.Equal(t, "", FormatFromName("README"))
}

func TestResultTextSkipsBlankPages(t *testing.T) {
	r := Result{Pages: []Page{{Number: 1, Text: " first "}, {Number: 2, Text: "\n"}, {Number: 3, Text: "third"}}}
	assert.Equal(t, "first\n\nthird", r.Text())
}
