package retrieval

import (
	"bytes"
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// Document is a successfully retrieved page.
type Document struct {
	FinalURL string
	Body     []byte
	Envelope Envelope
}

// Tree parses the body into a goquery document.
func (d Document) Tree() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(d.Body))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// Parser turns a final URL and a parsed tree into a caller-specific value.
type Parser[T any] func(finalURL string, doc *goquery.Document) (T, error)

// GetParsed retrieves id and hands the document to parse.
func GetParsed[T any](ctx context.Context, svc *Service, id Identity, parse Parser[T]) (T, error) {
	var zero T
	doc, err := svc.Get(ctx, id)
	if err != nil {
		return zero, err
	}
	tree, err := doc.Tree()
	if err != nil {
		return zero, err
	}
	out, err := parse(doc.FinalURL, tree)
	if err != nil {
		return zero, fmt.Errorf("parse %s: %w", doc.FinalURL, err)
	}
	return out, nil
}
