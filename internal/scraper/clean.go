package scraper

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// strictPolicy drops every tag. Policies are safe for concurrent use once built.
var strictPolicy = bluemonday.StrictPolicy()

// CleanText strips markup from s and decodes HTML entities.
func CleanText(s string) string {
	if s == "" {
		return s
	}
	return html.UnescapeString(strictPolicy.Sanitize(s))
}
