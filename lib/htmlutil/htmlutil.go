package htmlutil

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

// InputValue extracts the value attribute of <input id="..."> from a
// parsed document, or "" when the element is missing.
func InputValue(doc *goquery.Document, id string) string {
	return doc.Find("input#" + id).AttrOr("value", "")
}

// ElementText returns the trimmed text of the first node matching the
// selector, or "" when there is no match.
func ElementText(doc *goquery.Document, selector string) string {
	sel := doc.Find(selector)
	if len(sel.Nodes) == 0 {
		return ""
	}
	return sel.First().Text()
}
