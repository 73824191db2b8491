// Package detector recognises placeholder pages that stand in for the real document.
package detector

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/legifetch/internal/retrieval"
)

var whitespace = regexp.MustCompile(`\s+`)

// Placeholder flags challenge and error pages served with a success status.
//
// A page is a placeholder when its body has at most one non-blank top-level node
// and that node is trivial: a text node, or an element without child elements.
//
// Text markers are off by default: NewPlaceholder(nil) applies the structural rule
// alone. Markers come only from retrieval.soft_failure_markers and flag pages whose
// text contains one of them, case-insensitively.
type Placeholder struct {
	markers []string
}

// NewPlaceholder constructs a detector. Blank markers are ignored; none are built in.
func NewPlaceholder(markers []string) *Placeholder {
	lower := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		lower = append(lower, strings.ToLower(m))
	}
	return &Placeholder{markers: lower}
}

// Detect implements retrieval.SoftFailureDetector.
func (p *Placeholder) Detect(body []byte) retrieval.Verdict {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return retrieval.Verdict{Soft: true, Message: "unparseable document"}
	}
	bodySel := doc.Find("body").First()
	message := mergeSpaces(bodySel.Text())

	if p.containsMarker(message) {
		return retrieval.Verdict{Soft: true, Message: message}
	}

	var significant []*html.Node
	for _, n := range bodySel.Contents().Nodes {
		if isBlank(n) {
			continue
		}
		significant = append(significant, n)
		if len(significant) > 1 {
			return retrieval.Verdict{}
		}
	}
	if len(significant) == 1 && !isTrivial(significant[0]) {
		return retrieval.Verdict{}
	}
	return retrieval.Verdict{Soft: true, Message: message}
}

func (p *Placeholder) containsMarker(text string) bool {
	if len(p.markers) == 0 || text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, m := range p.markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func isBlank(n *html.Node) bool {
	switch n.Type {
	case html.CommentNode:
		return true
	case html.TextNode:
		return strings.TrimSpace(n.Data) == ""
	case html.ElementNode:
		return n.Data == "script" || n.Data == "noscript" || n.Data == "style"
	default:
		return false
	}
}

func isTrivial(n *html.Node) bool {
	if n.Type == html.TextNode {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return false
		}
	}
	return true
}

func mergeSpaces(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
