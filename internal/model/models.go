// Package model defines shared data structures for the scraper service.
package model

// Source tags attached to every App record by the pipeline that produced it.
const (
	SourcePrimary = "primary search"
	SourceRelated = "related app"
	SourceTopList = "top list"
)

// App is a normalised catalog entry. The core fields are the ones every
// export format knows about; anything else the provider returns lands in
// Extra and is carried through to the JSON response untouched.
type App struct {
	AppID           string           `json:"appId"`
	Title           string           `json:"title"`
	URL             string           `json:"url,omitempty"`
	Developer       string           `json:"developer,omitempty"`
	Summary         string           `json:"summary,omitempty"`
	Description     string           `json:"description,omitempty"`
	RecentChanges   string           `json:"recentChanges,omitempty"`
	Score           float64          `json:"score,omitempty"`
	Installs        string           `json:"installs,omitempty"`
	Genre           string           `json:"genre,omitempty"`
	Icon            string           `json:"icon,omitempty"`
	Free            bool             `json:"free,omitempty"`
	Price           float64          `json:"price,omitempty"`
	Reviews         int              `json:"reviews,omitempty"`
	Source          string           `json:"source,omitempty"`
	Country         string           `json:"country,omitempty"`
	SimilarityScore float64          `json:"similarityScore"`
	Permissions     []PermissionFlag `json:"permissions,omitempty"`
	Extra           map[string]any   `json:"extra,omitempty"`
	// Provided lists the keys the catalog sent for a detail record. It lets
	// Merge tell an explicit false or zero from an absent field.
	Provided map[string]struct{} `json:"-"`
}

// Merge overlays detail onto a. When detail.Provided is set, every core
// field the catalog sent wins, zero values included; otherwise only the
// non-zero fields of detail do. Pipeline tags (Source, Country,
// SimilarityScore, Permissions) are never taken from detail.
func (a App) Merge(detail App) App {
	has := func(key string, nonZero bool) bool {
		if detail.Provided == nil {
			return nonZero
		}
		_, ok := detail.Provided[key]
		return ok
	}

	out := a
	if has("appId", detail.AppID != "") {
		out.AppID = detail.AppID
	}
	if has("title", detail.Title != "") {
		out.Title = detail.Title
	}
	if has("url", detail.URL != "") {
		out.URL = detail.URL
	}
	if has("developer", detail.Developer != "") {
		out.Developer = detail.Developer
	}
	if has("summary", detail.Summary != "") {
		out.Summary = detail.Summary
	}
	if has("description", detail.Description != "") {
		out.Description = detail.Description
	}
	if has("recentChanges", detail.RecentChanges != "") {
		out.RecentChanges = detail.RecentChanges
	}
	if has("score", detail.Score != 0) {
		out.Score = detail.Score
	}
	if has("installs", detail.Installs != "") {
		out.Installs = detail.Installs
	}
	if has("genre", detail.Genre != "") {
		out.Genre = detail.Genre
	}
	if has("icon", detail.Icon != "") {
		out.Icon = detail.Icon
	}
	if has("free", detail.Free) {
		out.Free = detail.Free
	}
	if has("price", detail.Price != 0) {
		out.Price = detail.Price
	}
	if has("reviews", detail.Reviews != 0) {
		out.Reviews = detail.Reviews
	}
	if len(detail.Extra) > 0 {
		extra := make(map[string]any, len(a.Extra)+len(detail.Extra))
		for k, v := range a.Extra {
			extra[k] = v
		}
		for k, v := range detail.Extra {
			extra[k] = v
		}
		out.Extra = extra
	}
	out.Provided = nil
	return out
}

// PermissionFlag says whether one entry of the reference permission list is
// requested by an app.
type PermissionFlag struct {
	Permission string `json:"permission"`
	Required   bool   `json:"isPermissionRequired"`
}

// Permission is a single raw permission as reported by the catalog.
type Permission struct {
	Permission string `json:"permission"`
	Type       string `json:"type,omitempty"`
}

// Review is one user review of an app.
type Review struct {
	ID        string `json:"id"`
	UserName  string `json:"userName"`
	Date      string `json:"date,omitempty"`
	Score     int    `json:"score"`
	ScoreText string `json:"scoreText,omitempty"`
	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
	Text      string `json:"text"`
	ReplyDate string `json:"replyDate,omitempty"`
	ReplyText string `json:"replyText,omitempty"`
	Version   string `json:"version,omitempty"`
	ThumbsUp  int    `json:"thumbsUp"`
	Criterias string `json:"criterias,omitempty"`
	Country   string `json:"country,omitempty"`
}

// Criteria is a per-aspect rating attached to some reviews.
type Criteria struct {
	Criteria string  `json:"criteria"`
	Rating   float64 `json:"rating"`
}

// Outcome is the return value of every queue job. FromCache is true when
// the worker served the result from the cache store without running the
// pipeline.
type Outcome[T any] struct {
	FromCache  bool `json:"fromCache"`
	TotalCount int  `json:"totalCount"`
	Results    []T  `json:"results"`
}

// ExportEntry is what the result store keeps for later CSV export.
type ExportEntry struct {
	Fingerprint        string   `json:"fingerprint"`
	Kind               string   `json:"kind"`
	StoredAt           int64    `json:"storedAt"` // unix milliseconds
	IncludePermissions bool     `json:"includePermissions,omitempty"`
	Apps               []App    `json:"apps,omitempty"`
	Reviews            []Review `json:"reviews,omitempty"`
}

// Len returns the number of records held by the entry.
func (e ExportEntry) Len() int {
	if e.Kind == KindReviews {
		return len(e.Reviews)
	}
	return len(e.Apps)
}
