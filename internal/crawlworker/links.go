package crawlworker

import (
	"bytes"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// documentExtensions are the suffixes that route a discovered link to the
// document-download path instead of the page-follow path (§6 pipeline.allowed_extensions).
var documentExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".txt": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".tiff": true,
}

// extractedLinks partitions every <a href> found in an HTML page into
// document links (by extension) and same-domain follow links (§4.8 step 5).
type extractedLinks struct {
	Documents []string
	Follow    []string
}

// extractLinks parses an HTML page and partitions its anchors relative to
// pageURL. Document links are kept whatever their host; any other link
// leaving pageURL's host is dropped, so only document and same-domain
// follow links are ever acted on.
func extractLinks(pageURL string, body []byte) (extractedLinks, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return extractedLinks{}, err
	}

	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return extractedLinks{}, err
	}

	var out extractedLinks
	seen := map[string]bool{}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				resolved, ok := resolveLink(base, attr.Val)
				if !ok || seen[resolved] {
					continue
				}
				seen[resolved] = true
				if isDocumentLink(resolved) {
					out.Documents = append(out.Documents, resolved)
				} else if sameHost(base, resolved) {
					out.Follow = append(out.Follow, resolved)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out, nil
}

func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	resolved.Fragment = ""
	return resolved.String(), true
}

func sameHost(base *url.URL, target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), base.Hostname())
}

func isDocumentLink(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return documentExtensions[strings.ToLower(path.Ext(u.Path))]
}
