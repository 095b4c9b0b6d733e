package crawlworker

import "testing"

func TestExtractLinks_PartitionsDocumentsFollowAndOffHost(t *testing.T) {
	page := `<html><body>
		<a href="/report.pdf">report</a>
		<a href="/about">about</a>
		<a href="https://other.example.com/page">off host</a>
		<a href="#section">anchor</a>
		<a href="mailto:x@example.com">mail</a>
	</body></html>`

	got, err := extractLinks("https://example.com/index", []byte(page))
	if err != nil {
		t.Fatalf("extractLinks: %v", err)
	}
	if len(got.Documents) != 1 || got.Documents[0] != "https://example.com/report.pdf" {
		t.Errorf("unexpected documents: %v", got.Documents)
	}
	if len(got.Follow) != 1 || got.Follow[0] != "https://example.com/about" {
		t.Errorf("unexpected follow links: %v", got.Follow)
	}
}

func TestExtractLinks_DeduplicatesRepeatedHref(t *testing.T) {
	page := `<a href="/x">1</a><a href="/x">2</a>`
	got, err := extractLinks("https://example.com/", []byte(page))
	if err != nil {
		t.Fatalf("extractLinks: %v", err)
	}
	if len(got.Follow) != 1 {
		t.Errorf("expected dedup to collapse to 1 follow link, got %d", len(got.Follow))
	}
}
