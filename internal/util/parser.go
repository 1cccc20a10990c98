package util

import (
	"fmt"
	"io"
	"net/url"

	"golang.org/x/net/html"
)

// ParseLinks reads an HTML document and returns the href of every <a> element,
// resolved against base, in document order. Fragment-only and empty links are dropped.
func ParseLinks(r io.Reader, base *url.URL) ([]*url.URL, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var out []*url.URL
	var walk func(*html.Node)
	walk = func(nd *html.Node) {
		if nd.Type == html.ElementNode && nd.Data == "a" {
			for _, a := range nd.Attr {
				if a.Key != "href" {
					continue
				}
				if a.Val == "" || a.Val[0] == '#' {
					break
				}
				ref, err := url.Parse(a.Val)
				if err == nil {
					out = append(out, base.ResolveReference(ref))
				}
				break
			}
		}
		for c := nd.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}
