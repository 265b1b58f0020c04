package fetch

import (
	"strings"

	"golang.org/x/net/html"
)

// chrome elements dropped wholesale during readable-text extraction.
var chromeTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
	"form":     true,
	"iframe":   true,
	"svg":      true,
}

// blockTags get a newline after their text so the extraction keeps a line
// structure a reviewer can follow.
var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"li": true, "tr": true, "br": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "pre": true, "blockquote": true,
}

// ExtractReadable performs a readability-style main-content pass: parse the
// HTML, prefer <article> or <main>, drop navigation chrome, and return the
// remaining text. Non-HTML input comes back unchanged.
func ExtractReadable(data []byte) string {
	s := string(data)
	if !strings.Contains(s, "<") {
		return s
	}

	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}

	root := findFirst(doc, "article")
	if root == nil {
		root = findFirst(doc, "main")
	}
	if root == nil {
		root = findFirst(doc, "body")
	}
	if root == nil {
		root = doc
	}

	var b strings.Builder
	collectText(root, &b)
	return collapseBlankLines(b.String())
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode && chromeTags[n.Data] {
		return
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
	if n.Type == html.ElementNode && blockTags[n.Data] {
		b.WriteByte('\n')
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blank = 0
		out = append(out, strings.TrimSpace(line))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
