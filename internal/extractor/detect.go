// Package extractor detects document types and runs ordered extraction
// strategy chains to recover text from uploaded or crawled artifacts (C6).
package extractor

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/HariharanV1992/crawlweave/internal/domain"
)

var imageMagics = [][]byte{
	{0x89, 0x50, 0x4E, 0x47}, // PNG
	{0xFF, 0xD8, 0xFF},       // JPEG
	{0x47, 0x49, 0x46},       // GIF
	{0x42, 0x4D},             // BMP
	{0x49, 0x49, 0x2A, 0x00}, // TIFF little-endian
	{0x4D, 0x4D, 0x00, 0x2A}, // TIFF big-endian
}

// DetectType determines a document's type by extension and magic bytes (§4.6).
// Magic bytes win when extension and content disagree.
func DetectType(filename string, content []byte) domain.DocumentType {
	if bytes.HasPrefix(content, []byte("%PDF")) {
		return domain.DocPDF
	}
	for _, magic := range imageMagics {
		if bytes.HasPrefix(content, magic) {
			return domain.DocImage
		}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return domain.DocPDF
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tiff":
		return domain.DocImage
	case ".html", ".htm":
		return domain.DocHTML
	case ".doc", ".docx":
		// no office-document extractor is implemented; Registry.Extract
		// routes OFFICE through the text strategy (§4.6)
		return domain.DocOffice
	case ".txt", ".md", ".csv", ".json":
		return domain.DocText
	default:
		return domain.DocText
	}
}
