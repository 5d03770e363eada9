package model

import (
	"net/url"
	"strconv"
	"strings"
)

// Queue kinds. Each kind has its own queue, worker pool and key namespace.
const (
	KindSearch  = "search"
	KindReviews = "reviews"
	KindTopList = "toplist"
)

const (
	keyPrefix      = "play"
	defaultCountry = "us"
)

// ValidationError wraps a user-facing validation message.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// SearchRequest asks for the aggregated search of a term (or a single app
// when Term is an app id).
type SearchRequest struct {
	Term               string `json:"query"`
	Country            string `json:"country"`
	IncludePermissions bool   `json:"permissions"`
	Bucket             string `json:"bucket,omitempty"`
}

// Normalize returns a copy with whitespace collapsed and defaults applied.
func (r SearchRequest) Normalize() SearchRequest {
	r.Term = collapse(r.Term)
	r.Country = normalizeCountry(r.Country)
	r.Bucket = collapse(r.Bucket)
	return r
}

// Validate rejects requests that cannot be submitted.
func (r SearchRequest) Validate() error {
	if collapse(r.Term) == "" {
		return &ValidationError{Msg: "Search query is missing."}
	}
	return nil
}

// Fingerprint is the cache key and the queue dedup key of the request.
func (r SearchRequest) Fingerprint() string {
	n := r.Normalize()
	return join(KindSearch, n.Country, n.Term, strconv.FormatBool(n.IncludePermissions), n.Bucket)
}

// ReviewsRequest asks for every review of one app.
type ReviewsRequest struct {
	AppID   string `json:"appId"`
	Country string `json:"countryCode"`
}

// Normalize returns a copy with whitespace trimmed and defaults applied.
func (r ReviewsRequest) Normalize() ReviewsRequest {
	r.AppID = strings.TrimSpace(r.AppID)
	r.Country = normalizeCountry(r.Country)
	return r
}

// Validate rejects requests that cannot be submitted.
func (r ReviewsRequest) Validate() error {
	if strings.TrimSpace(r.AppID) == "" {
		return &ValidationError{Msg: "App ID is missing."}
	}
	return nil
}

// Fingerprint is the cache key and the queue dedup key of the request.
func (r ReviewsRequest) Fingerprint() string {
	n := r.Normalize()
	return join(KindReviews, n.Country, n.AppID)
}

// TopListRequest asks for one chart of the catalog (collection × category).
type TopListRequest struct {
	Collection         string `json:"collection"`
	Category           string `json:"category"`
	Country            string `json:"country"`
	Num                int    `json:"num"`
	IncludePermissions bool   `json:"permissions"`
}

// MaxTopListSize caps Num; zero or larger values are clamped to it.
const MaxTopListSize = 1000000

// Normalize returns a copy with whitespace trimmed and defaults applied.
func (r TopListRequest) Normalize() TopListRequest {
	r.Collection = strings.ToUpper(strings.TrimSpace(r.Collection))
	if r.Collection == "" {
		r.Collection = "TOP_FREE"
	}
	r.Category = strings.ToUpper(strings.TrimSpace(r.Category))
	r.Country = normalizeCountry(r.Country)
	if r.Num <= 0 || r.Num > MaxTopListSize {
		r.Num = MaxTopListSize
	}
	return r
}

// Validate rejects requests that cannot be submitted.
func (r TopListRequest) Validate() error {
	if strings.TrimSpace(r.Category) == "" {
		return &ValidationError{Msg: "Category is missing."}
	}
	if r.Num < 0 {
		return &ValidationError{Msg: "num must not be negative"}
	}
	return nil
}

// Fingerprint is the cache key and the queue dedup key of the request.
func (r TopListRequest) Fingerprint() string {
	n := r.Normalize()
	return join(KindTopList, n.Collection, n.Category, n.Country, strconv.Itoa(n.Num), strconv.FormatBool(n.IncludePermissions))
}

// join escapes every field so that a ':' inside a value can never be read
// as a field boundary.
func join(kind string, fields ...string) string {
	var b strings.Builder
	b.WriteString(keyPrefix)
	b.WriteByte(':')
	b.WriteString(kind)
	for _, f := range fields {
		b.WriteByte(':')
		b.WriteString(url.QueryEscape(f))
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func normalizeCountry(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return defaultCountry
	}
	return c
}
