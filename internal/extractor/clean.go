package extractor

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// decodeAndClean decodes content as UTF-8, replacing invalid sequences, then
// cleans it. stripHTML additionally removes tags before whitespace collapse.
func decodeAndClean(content []byte, stripHTML bool) string {
	text := toValidUTF8(content)
	if stripHTML {
		text = htmlTagRe.ReplaceAllString(text, "")
	}
	return cleanText(text)
}

// cleanText normalizes whitespace runs to single spaces and trims (§4.6).
func cleanText(text string) string {
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// CleanText is the exported form of cleanText, used by callers that already
// hold extracted text and only need the normalization stage (e.g.
// ingest_crawled_content, which skips extraction entirely).
func CleanText(text string) string {
	return cleanText(text)
}

func toValidUTF8(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	return strings.ToValidUTF8(string(content), "�")
}
