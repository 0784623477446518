// Package search – result highlighting.
package search

import (
	"regexp"
	"strings"
)

const (
	markOpen  = "<mark>"
	markClose = "</mark>"
)

// Highlight wraps every case-insensitive occurrence of query in text with
// <mark> markers. Regex metacharacters in the query are escaped, so a query
// like "C++ (draft)" is matched literally. Empty inputs pass through.
func Highlight(text, query string) string {
	query = strings.TrimSpace(query)
	if text == "" || query == "" {
		return text
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(query))
	if err != nil {
		// QuoteMeta output always compiles; kept as a guard.
		return text
	}
	return re.ReplaceAllStringFunc(text, func(m string) string {
		return markOpen + m + markClose
	})
}

// Highlights carries the highlighted renditions of an item's text fields.
// A field is empty when the query does not occur in it.
type Highlights struct {
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// highlightItem builds Highlights for the given fields, leaving a field
// empty when highlighting changed nothing (no occurrence).
func highlightItem(title, author, notes, query string) Highlights {
	h := Highlights{}
	if marked := Highlight(title, query); marked != title {
		h.Title = marked
	}
	if marked := Highlight(author, query); marked != author {
		h.Author = marked
	}
	if marked := Highlight(notes, query); marked != notes {
		h.Notes = marked
	}
	return h
}
