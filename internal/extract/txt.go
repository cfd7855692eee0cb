package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func extractTXT(data []byte) (*Result, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: text file is not valid UTF-8", models.ErrExtraction)
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return &Result{Pages: []Page{{Number: 0, Text: text}}}, nil
}
