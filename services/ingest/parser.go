package ingest

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/dslipak/pdf"

	"github.com/aigroupchat/backend/services"
)

// PageOffset marks where a PDF page begins in the extracted text, so
// chunks can be mapped back to the page they start on.
type PageOffset struct {
	Number int
	Offset int
}

// ParsedDocument is the plain-text form of an uploaded file.
type ParsedDocument struct {
	Text  string
	Pages []PageOffset
}

// PageFor returns the 1-based page a character offset falls on, or 0
// when the source had no pages (plain text).
func (d *ParsedDocument) PageFor(offset int) int {
	page := 0
	for _, p := range d.Pages {
		if p.Offset > offset {
			break
		}
		page = p.Number
	}
	return page
}

// Parse extracts plain text from an uploaded file. Supported content
// types: application/pdf, text/plain, text/markdown.
func Parse(contentType string, data []byte) (*ParsedDocument, error) {
	switch normalizeContentType(contentType) {
	case "application/pdf":
		return parsePDF(data)
	case "text/plain", "text/markdown":
		return parseText(data)
	default:
		return nil, fmt.Errorf("%w: %s", services.ErrUnsupportedType, contentType)
	}
}

func normalizeContentType(ct string) string {
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func parseText(data []byte) (*ParsedDocument, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", services.ErrInvalidInput)
	}

	text := normalizeText(string(data))
	if text == "" {
		return nil, services.ErrEmptyDocument
	}

	return &ParsedDocument{Text: text}, nil
}

func parsePDF(data []byte) (*ParsedDocument, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open pdf: %v", services.ErrInvalidInput, err)
	}

	var buf strings.Builder
	var pages []PageOffset

	for i := 1; i <= reader.NumPage(); i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}

		text, err := p.GetPlainText(nil)
		if err != nil {
			log.Printf("pdf parse: skipping page %d: %v", i, err)
			continue
		}

		text = normalizeText(text)
		if text == "" {
			continue
		}

		pages = append(pages, PageOffset{Number: i, Offset: buf.Len()})
		buf.WriteString(text)
		buf.WriteString("\n\n")
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return nil, services.ErrEmptyDocument
	}

	return &ParsedDocument{Text: text, Pages: pages}, nil
}

// normalizeText collapses whitespace runs and strips control characters
// that confuse tokenization, keeping newlines as paragraph hints.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var b strings.Builder
	b.Grow(len(s))

	spacePending := false
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteRune('\n')
			spacePending = false
		case r == ' ' || r == '\t':
			spacePending = true
		case r < 0x20 || r == 0xFFFD:
			// drop control characters and replacement runes
		default:
			if spacePending && b.Len() > 0 {
				b.WriteRune(' ')
			}
			spacePending = false
			b.WriteRune(r)
		}
	}

	return strings.TrimSpace(b.String())
}
