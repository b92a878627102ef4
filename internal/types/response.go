package types

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// Response is a statically fetched page. Body is always UTF-8; pages served
// in another charset are transcoded when the response is built.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
	URL         string // after redirects
	Elapsed     time.Duration

	doc *goquery.Document
}

// NewResponse wraps a completed HTTP exchange.
func NewResponse(req *Request, httpResp *http.Response, body []byte, elapsed time.Duration) *Response {
	pageURL := req.URLString()
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		pageURL = httpResp.Request.URL.String()
	}
	contentType := httpResp.Header.Get("Content-Type")
	return &Response{
		StatusCode:  httpResp.StatusCode,
		ContentType: contentType,
		Body:        toUTF8(body, contentType),
		URL:         pageURL,
		Elapsed:     elapsed,
	}
}

func toUTF8(body []byte, contentType string) []byte {
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" {
		return body
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return decoded
}

// Document parses the body once and caches the result.
func (r *Response) Document() (*goquery.Document, error) {
	if r.doc != nil {
		return r.doc, nil
	}
	if len(r.Body) == 0 {
		return nil, ErrEmptyResponse
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.URL, err)
	}
	r.doc = doc
	return doc, nil
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
