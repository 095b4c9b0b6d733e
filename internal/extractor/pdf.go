package extractor

import (
	"bytes"
	"compress/zlib"
	"io"
	"regexp"
	"strings"
)

var (
	streamRe   = regexp.MustCompile(`(?s)stream\r?\n(.*?)\r?\nendstream`)
	flateRe    = regexp.MustCompile(`/Filter\s*/FlateDecode`)
	textShowRe = regexp.MustCompile(`\((?:[^()\\]|\\.)*\)\s*T[jJ]|\[(?:[^\[\]]*)\]\s*TJ`)
	parenRe    = regexp.MustCompile(`\((?:[^()\\]|\\.)*\)`)
)

// extractEmbeddedPDFText is a deliberately minimal content-stream reader: it
// locates stream/endstream objects, inflates FlateDecode-compressed ones,
// and scans the decoded operators for Tj/TJ text-showing runs. It recovers
// the common case of uncompressed or flate-compressed text runs and falls
// through to aggressive salvage otherwise (§4.6 tier 2).
func extractEmbeddedPDFText(content []byte) string {
	var out strings.Builder

	matches := streamRe.FindAllSubmatchIndex(content, -1)
	for _, m := range matches {
		streamStart, streamEnd := m[2], m[3]
		raw := content[streamStart:streamEnd]

		// look back a short window before the stream for a FlateDecode filter marker
		lookback := streamStart - 200
		if lookback < 0 {
			lookback = 0
		}
		header := content[lookback:streamStart]

		var decoded []byte
		if flateRe.Match(header) {
			if inflated, err := inflate(raw); err == nil {
				decoded = inflated
			}
		} else {
			decoded = raw
		}
		if decoded == nil {
			continue
		}

		out.WriteString(extractTextOperators(decoded))
		out.WriteByte(' ')
	}

	return strings.TrimSpace(out.String())
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// extractTextOperators scans a decoded content stream for Tj/TJ text-showing
// operators and concatenates their string operands.
func extractTextOperators(contentStream []byte) string {
	var out strings.Builder
	for _, m := range textShowRe.FindAll(contentStream, -1) {
		for _, p := range parenRe.FindAll(m, -1) {
			out.Write(unescapePDFString(p))
			out.WriteByte(' ')
		}
	}
	return out.String()
}

func unescapePDFString(lit []byte) []byte {
	inner := bytes.TrimSuffix(bytes.TrimPrefix(lit, []byte("(")), []byte(")"))
	inner = bytes.ReplaceAll(inner, []byte(`\(`), []byte("("))
	inner = bytes.ReplaceAll(inner, []byte(`\)`), []byte(")"))
	inner = bytes.ReplaceAll(inner, []byte(`\\`), []byte(`\`))
	return inner
}

// aggressiveTextSalvage scans the raw, undecoded PDF byte stream for any
// parenthesized literal strings that look like text, ignoring stream
// structure entirely. Last-resort tier 3 fallback (§4.6).
func aggressiveTextSalvage(content []byte) string {
	var out strings.Builder
	for _, m := range parenRe.FindAll(content, -1) {
		s := unescapePDFString(m)
		if isLikelyText(s) {
			out.Write(s)
			out.WriteByte(' ')
		}
	}
	return strings.TrimSpace(out.String())
}

func isLikelyText(s []byte) bool {
	if len(s) < 2 {
		return false
	}
	printable := 0
	for _, b := range s {
		if b >= 0x20 && b < 0x7F {
			printable++
		}
	}
	return float64(printable)/float64(len(s)) > 0.85
}
