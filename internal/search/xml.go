package search

import (
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/url"
	"regexp"
	"strings"
)

// docXML mirrors one <doc> entry of the search API response. Text fields may
// carry highlight markup such as <hlword>, so they are captured as inner XML.
type docXML struct {
	URL         innerText   `xml:"url"`
	Title       innerText   `xml:"title"`
	PubDate     innerText   `xml:"pubDate"`
	DisplayLink innerText   `xml:"displayLink"`
	Domain      innerText   `xml:"domain"`
	Snippet     innerText   `xml:"snippet"`
	Passages    []innerText `xml:"passages>passage"`
}

type innerText struct {
	Inner string `xml:",innerxml"`
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

func (t innerText) text() string {
	s := tagRe.ReplaceAllString(t.Inner, "")
	s = strings.TrimPrefix(strings.TrimSuffix(strings.TrimSpace(s), "]]>"), "<![CDATA[")
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

// APIError is an <error> element returned in place of results.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("search api error %s: %s", e.Code, e.Message)
}

// decodeDocs walks the response and returns every <doc> element at any depth.
// A top-level <error> element is returned as *APIError.
func decodeDocs(r io.Reader) ([]docXML, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		// The API answers in UTF-8; tolerate a mislabelled declaration.
		return input, nil
	}

	var docs []docXML
	sawRoot := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return docs, fmt.Errorf("decode search response: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true
		switch start.Name.Local {
		case "doc":
			var d docXML
			if err := dec.DecodeElement(&d, &start); err != nil {
				return docs, fmt.Errorf("decode doc: %w", err)
			}
			docs = append(docs, d)
		case "error":
			var msg innerText
			if err := dec.DecodeElement(&msg, &start); err != nil {
				return docs, fmt.Errorf("decode error element: %w", err)
			}
			code := ""
			for _, a := range start.Attr {
				if a.Name.Local == "code" {
					code = a.Value
				}
			}
			return docs, &APIError{Code: code, Message: msg.text()}
		}
	}
	if !sawRoot {
		return nil, errors.New("decode search response: empty document")
	}
	return docs, nil
}

// cleanDomain derives a bare host name for display.
func cleanDomain(displayLink, rawURL string) string {
	d := strings.TrimSpace(displayLink)
	if d == "" {
		if u, err := url.Parse(rawURL); err == nil {
			d = u.Hostname()
		}
	}
	if strings.Contains(d, "://") {
		if u, err := url.Parse(d); err == nil {
			d = u.Hostname()
		}
	}
	d = strings.ToLower(strings.TrimSuffix(d, "/"))
	return strings.TrimPrefix(d, "www.")
}
