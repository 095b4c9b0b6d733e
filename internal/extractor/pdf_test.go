package extractor

import (
	"bytes"
	"compress/zlib"
	"strings"
	"testing"
)

func buildMinimalPDF(contentStream []byte, flate bool) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	buf.WriteString("1 0 obj\n<< /Length 10 ")
	if flate {
		buf.WriteString("/Filter /FlateDecode ")
	}
	buf.WriteString(">>\nstream\n")

	body := contentStream
	if flate {
		var compressed bytes.Buffer
		w := zlib.NewWriter(&compressed)
		w.Write(contentStream)
		w.Close()
		body = compressed.Bytes()
	}
	buf.Write(body)
	buf.WriteString("\nendstream\nendobj\n")
	return buf.Bytes()
}

func TestExtractEmbeddedPDFText_Uncompressed(t *testing.T) {
	stream := []byte(`BT /F1 12 Tf (Hello world) Tj ET`)
	pdf := buildMinimalPDF(stream, false)

	got := extractEmbeddedPDFText(pdf)
	if !strings.Contains(got, "Hello world") {
		t.Errorf("expected extracted text to contain 'Hello world', got %q", got)
	}
}

func TestExtractEmbeddedPDFText_FlateCompressed(t *testing.T) {
	stream := []byte(`BT /F1 12 Tf (Compressed text run) Tj ET`)
	pdf := buildMinimalPDF(stream, true)

	got := extractEmbeddedPDFText(pdf)
	if !strings.Contains(got, "Compressed text run") {
		t.Errorf("expected inflated text to be recovered, got %q", got)
	}
}

func TestAggressiveTextSalvage_IgnoresNonTextBinary(t *testing.T) {
	content := []byte("(Salvaged sentence) garbage \x00\x01\x02 (more text here)")
	got := aggressiveTextSalvage(content)
	if !strings.Contains(got, "Salvaged sentence") || !strings.Contains(got, "more text here") {
		t.Errorf("expected both literal strings to be salvaged, got %q", got)
	}
}
