// Package pdfutil extracts plain text from PDF files.
package pdfutil

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// ExtractText reads PDF bytes and returns the document's plain text, one page
// after another separated by a blank line. Pages that carry no content stream
// are skipped.
func ExtractText(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	pages := make([]string, 0, doc.NumPage())
	for page := 1; page <= doc.NumPage(); page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", page, err)
		}
		pages = append(pages, content)
	}
	return strings.Join(pages, "\n\n"), nil
}

// ExtractFromReader drains the reader and extracts text from the bytes. The
// underlying parser needs random access, so the whole file sits in memory for
// the duration.
func ExtractFromReader(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	return ExtractText(data)
}
