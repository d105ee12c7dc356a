package monitor

import (
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Link is a document link found on a listing page.
type Link struct {
	URL   string
	Title string
}

// ExtractPDFLinks returns the distinct PDF links in an HTML page, resolved against base,
// in document order.
func ExtractPDFLinks(base *url.URL, r io.Reader) ([]Link, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	var links []Link
	seen := make(map[string]bool)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if l, ok := pdfLink(base, n); ok && !seen[l.URL] {
				seen[l.URL] = true
				links = append(links, l)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

func pdfLink(base *url.URL, n *html.Node) (Link, bool) {
	var href, title string
	for _, a := range n.Attr {
		switch a.Key {
		case "href":
			href = strings.TrimSpace(a.Val)
		case "title":
			title = strings.TrimSpace(a.Val)
		}
	}
	if href == "" {
		return Link{}, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return Link{}, false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return Link{}, false
	}
	if !strings.EqualFold(path.Ext(u.Path), ".pdf") {
		return Link{}, false
	}
	u.Fragment = ""
	if text := strings.Join(strings.Fields(textOf(n)), " "); text != "" {
		title = text
	}
	return Link{URL: u.String(), Title: title}, true
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textOf(c))
		b.WriteByte(' ')
	}
	return b.String()
}
