package extractor

import (
	"testing"

	"github.com/HariharanV1992/crawlweave/internal/domain"
)

func TestDetectType_MagicBytesWinOverExtension(t *testing.T) {
	content := []byte("%PDF-1.4 fake pdf body")
	got := DetectType("report.txt", content)
	if got != domain.DocPDF {
		t.Errorf("expected magic bytes to win, got %s", got)
	}
}

func TestDetectType_ByExtension(t *testing.T) {
	cases := map[string]domain.DocumentType{
		"a.pdf":  domain.DocPDF,
		"a.png":  domain.DocImage,
		"a.html": domain.DocHTML,
		"a.txt":  domain.DocText,
		"a.docx": domain.DocOffice,
	}
	for name, want := range cases {
		if got := DetectType(name, []byte("plain content")); got != want {
			t.Errorf("%s: expected %s, got %s", name, want, got)
		}
	}
}
