// Package chunker splits plain text into overlapping, paragraph-aligned chunks.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MinChunkSize = 100
	MaxChunkSize = 2000

	paragraphSeparator = "\n\n"
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// Config bounds chunk sizes. Sizes are counted in characters (runes).
type Config struct {
	MaxChars int
	Overlap  int
}

// Validate enforces MinChunkSize <= MaxChars <= MaxChunkSize and 0 <= Overlap < MaxChars.
func (c Config) Validate() error {
	if c.MaxChars < MinChunkSize || c.MaxChars > MaxChunkSize {
		return fmt.Errorf("chunk size must be between %d and %d, got %d", MinChunkSize, MaxChunkSize, c.MaxChars)
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxChars {
		return fmt.Errorf("chunk overlap must be non-negative and less than chunk size, got %d", c.Overlap)
	}
	return nil
}

// Chunk is one emitted span of text.
type Chunk struct {
	Index int
	Text  string
	// TokenEstimate is the character count divided by four, rounded down.
	TokenEstimate int
	// Overlap is the byte length of the prefix carried over from the previous chunk,
	// separator included. Text[Overlap:] is the new content.
	Overlap int
	// Page is the 1-based source page, or 0 when unknown.
	Page int
}

// Fresh returns the part of the chunk not repeated from its predecessor.
func (c Chunk) Fresh() string {
	return c.Text[c.Overlap:]
}

// Paragraphs splits text on blank lines and drops empty paragraphs.
func Paragraphs(text string) []string {
	raw := paragraphBreak.Split(strings.ReplaceAll(text, "\r\n", "\n"), -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Split chunks text with indices starting at 0.
func Split(text string, cfg Config) []Chunk {
	return split(text, cfg, 0, 0)
}

// PageText is the text of one source page.
type PageText struct {
	Number int
	Text   string
}

// SplitPages chunks each page on its own so every chunk maps to exactly one page. Indices
// stay contiguous across pages.
func SplitPages(pages []PageText, cfg Config) []Chunk {
	var out []Chunk
	for _, p := range pages {
		out = append(out, split(p.Text, cfg, len(out), p.Number)...)
	}
	return out
}

func split(text string, cfg Config, firstIndex, page int) []Chunk {
	var (
		out        []Chunk
		buf        string
		bufLen     int
		bufOverlap int
	)

	emit := func() {
		out = append(out, Chunk{
			Index:         firstIndex + len(out),
			Text:          buf,
			TokenEstimate: bufLen / 4,
			Overlap:       bufOverlap,
			Page:          page,
		})
	}

	for _, para := range Paragraphs(text) {
		paraLen := utf8.RuneCountInString(para)

		if buf == "" {
			buf, bufLen, bufOverlap = para, paraLen, 0
			continue
		}

		if bufLen+len(paragraphSeparator)+paraLen <= cfg.MaxChars {
			buf += paragraphSeparator + para
			bufLen += len(paragraphSeparator) + paraLen
			continue
		}

		emit()

		tail := trailingRunes(buf, cfg.Overlap)
		tailLen := utf8.RuneCountInString(tail)
		// A seeded chunk must still fit; an overlap that would push it over is dropped.
		if tail != "" && tailLen+len(paragraphSeparator)+paraLen <= cfg.MaxChars {
			buf = tail + paragraphSeparator + para
			bufLen = tailLen + len(paragraphSeparator) + paraLen
			bufOverlap = len(tail) + len(paragraphSeparator)
		} else {
			buf, bufLen, bufOverlap = para, paraLen, 0
		}
	}

	if buf != "" {
		emit()
	}
	return out
}

// trailingRunes returns the last n runes of s.
func trailingRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := len(s); i > 0; {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
		count++
		if count == n {
			return s[i:]
		}
	}
	return s
}
