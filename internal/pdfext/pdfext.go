package pdfext

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Page carries extracted text together with its 1-based page number.
type Page struct {
	Number int
	Text   string
}

// Processor validates, digests and extracts uploaded PDF bytes.
type Processor struct {
	// MinPageChars drops pages whose extracted text is this short or shorter
	// (noise-only pages) before chunking.
	MinPageChars int
}

// Hash returns the SHA-256 digest of the raw bytes, the content dedup key.
func (Processor) Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Valid reports whether the bytes look like a parseable PDF.
func (Processor) Valid(b []byte) (ok bool) {
	if !bytes.HasPrefix(b, []byte("%PDF")) {
		return false
	}
	// the parser panics on some malformed files
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	return err == nil
}

// Extract returns per-page text in ascending page order, skipping pages at or
// below the minimum length.
func (p Processor) Extract(b []byte) (pages []Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// a single undecodable content stream should not sink the document
			continue
		}
		text = strings.TrimSpace(text)
		if len(text) <= p.MinPageChars {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}
