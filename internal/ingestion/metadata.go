package ingestion

import (
	"bytes"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// skippedElements hold no readable text.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"svg":      true,
	"template": true,
	"title":    true,
}

// blockElements end a line of extracted text.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "pre": true, "blockquote": true, "table": true,
}

// contentTypeForPath maps a file extension onto the content type extract
// understands.
func contentTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return "text/html"
	case ".md", ".markdown":
		return "text/markdown"
	default:
		return "text/plain"
	}
}

// extract returns the readable text of body and a best-effort title.
// HTML is reduced to its visible text and <title>; markdown keeps its
// source text and takes the first level-one heading as title.
func extract(body []byte, contentType string) (text, title string) {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mt == "text/html", mt == "application/xhtml+xml":
		return extractHTML(body)
	case mt == "text/markdown":
		s := string(body)
		return s, markdownTitle(s)
	case mt == "" && looksLikeHTML(body):
		return extractHTML(body)
	default:
		return string(body), ""
	}
}

// extractHTML walks the parsed document collecting text nodes outside
// skipped elements.
func extractHTML(body []byte) (string, string) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return string(body), ""
	}

	var title string
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "title" && title == "" && n.FirstChild != nil {
				title = collapseSpace(n.FirstChild.Data)
			}
			if skippedElements[n.Data] {
				return
			}
		}
		if n.Type == html.TextNode {
			if t := collapseSpace(n.Data); t != "" {
				if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] && sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String()), title
}

// markdownTitle returns the text of the first "# " heading.
func markdownTitle(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

func looksLikeHTML(body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

// TitleFromPath derives a title from a file name: the extension is dropped
// and separators become spaces ("release-notes_v2.md" -> "release notes v2").
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	return humanize(strings.TrimSuffix(base, filepath.Ext(base)))
}

// TitleFromURL derives a title from the last meaningful path segment of a
// URL, falling back to the host.
func TitleFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	segments := trimSegments(parsed.Path)
	for i := len(segments) - 1; i >= 0; i-- {
		seg := strings.TrimSuffix(segments[i], filepath.Ext(segments[i]))
		if seg != "" && seg != "index" {
			return humanize(seg)
		}
	}
	return parsed.Hostname()
}

// humanize replaces '-', '_' and '.' separators with single spaces.
func humanize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || r == '.' {
			return ' '
		}
		return r
	}, s)
	return collapseSpace(s)
}

func collapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// trimSegments splits a URL path into non-empty segments.
func trimSegments(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
