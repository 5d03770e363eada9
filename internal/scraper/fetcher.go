package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"smar/scraper-service/internal/model"
)

const (
	httpTimeout   = 15 * time.Second
	searchPageNum = 20
)

// Catalog is the external marketplace. Every method is one upstream call.
type Catalog interface {
	Search(ctx context.Context, term, country string) ([]model.App, error)
	App(ctx context.Context, appID, country string) (model.App, error)
	Permissions(ctx context.Context, appID, country string) ([]model.Permission, error)
	Reviews(ctx context.Context, q ReviewsQuery) (ReviewsPage, error)
	List(ctx context.Context, q ListQuery) ([]model.App, error)
}

// ReviewsQuery selects one page of reviews.
type ReviewsQuery struct {
	AppID   string
	Country string
	Sort    string // "newest", "rating", "helpfulness"
	Num     int
	Token   string
}

// ReviewsPage is one page of reviews plus the token for the next page.
type ReviewsPage struct {
	Items     []ReviewItem
	NextToken string
}

// ReviewItem is a review as returned upstream, before its criteria are
// flattened.
type ReviewItem struct {
	Review    model.Review
	Criterias []model.Criteria
}

// ListQuery selects one chart.
type ListQuery struct {
	Collection string
	Category   string
	Country    string
	Num        int
	FullDetail bool
}

// ErrNotFound is returned when the catalog answers 404, e.g. for an unknown
// app id.
var ErrNotFound = errors.New("catalog: not found")

// PlayFetcher talks to a google-play-api compatible REST server
// (GET /api/apps/...). It is safe for concurrent use.
type PlayFetcher struct {
	BaseURL string
	Lang    string
	client  *http.Client
}

// NewPlayFetcher constructs a fetcher with a shared HTTP client.
func NewPlayFetcher(baseURL string) *PlayFetcher {
	return &PlayFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Lang:    "en",
		client:  &http.Client{Timeout: httpTimeout},
	}
}

// Search runs a free-text catalog search.
func (f *PlayFetcher) Search(ctx context.Context, term, country string) ([]model.App, error) {
	params := f.params(country)
	params.Set("q", term)
	params.Set("num", strconv.Itoa(searchPageNum))

	body, err := f.get(ctx, "/api/apps/", params)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", term, err)
	}
	return decodeApps(body)
}

// App fetches the full detail record of one app.
func (f *PlayFetcher) App(ctx context.Context, appID, country string) (model.App, error) {
	body, err := f.get(ctx, "/api/apps/"+url.PathEscape(appID)+"/", f.params(country))
	if err != nil {
		return model.App{}, fmt.Errorf("app %q: %w", appID, err)
	}
	app, err := decodeApp(body)
	if err != nil {
		return model.App{}, fmt.Errorf("app %q: %w", appID, err)
	}
	if app.AppID == "" {
		return model.App{}, fmt.Errorf("app %q: %w", appID, ErrNotFound)
	}
	return app, nil
}

// Permissions fetches the permission list of one app.
func (f *PlayFetcher) Permissions(ctx context.Context, appID, country string) ([]model.Permission, error) {
	body, err := f.get(ctx, "/api/apps/"+url.PathEscape(appID)+"/permissions", f.params(country))
	if err != nil {
		return nil, fmt.Errorf("permissions %q: %w", appID, err)
	}
	raw, err := unwrapResults(body)
	if err != nil {
		return nil, fmt.Errorf("permissions %q: %w", appID, err)
	}
	var perms []model.Permission
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil, fmt.Errorf("permissions %q: json unmarshal: %w", appID, err)
	}
	return perms, nil
}

// reviewsResponse mirrors the reviews payload: either the page object itself
// or the page wrapped in {"results": ...}.
type reviewsResponse struct {
	Data      []reviewJSON `json:"data"`
	NextToken string       `json:"nextPaginationToken"`
}

type reviewJSON struct {
	ID        string           `json:"id"`
	UserName  string           `json:"userName"`
	Date      string           `json:"date"`
	Score     int              `json:"score"`
	ScoreText string           `json:"scoreText"`
	URL       string           `json:"url"`
	Title     string           `json:"title"`
	Text      string           `json:"text"`
	ReplyDate string           `json:"replyDate"`
	ReplyText string           `json:"replyText"`
	Version   string           `json:"version"`
	ThumbsUp  int              `json:"thumbsUp"`
	Criterias []model.Criteria `json:"criterias"`
}

// Reviews fetches one page of reviews.
func (f *PlayFetcher) Reviews(ctx context.Context, q ReviewsQuery) (ReviewsPage, error) {
	params := f.params(q.Country)
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	if q.Num > 0 {
		params.Set("num", strconv.Itoa(q.Num))
	}
	if q.Token != "" {
		params.Set("nextPaginationToken", q.Token)
	}
	body, err := f.get(ctx, "/api/apps/"+url.PathEscape(q.AppID)+"/reviews", params)
	if err != nil {
		return ReviewsPage{}, fmt.Errorf("reviews %q: %w", q.AppID, err)
	}
	raw, err := unwrapResults(body)
	if err != nil {
		return ReviewsPage{}, fmt.Errorf("reviews %q: %w", q.AppID, err)
	}
	var resp reviewsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ReviewsPage{}, fmt.Errorf("reviews %q: json unmarshal: %w", q.AppID, err)
	}

	page := ReviewsPage{NextToken: resp.NextToken, Items: make([]ReviewItem, 0, len(resp.Data))}
	for _, r := range resp.Data {
		page.Items = append(page.Items, ReviewItem{
			Review: model.Review{
				ID:        r.ID,
				UserName:  r.UserName,
				Date:      r.Date,
				Score:     r.Score,
				ScoreText: r.ScoreText,
				URL:       r.URL,
				Title:     r.Title,
				Text:      r.Text,
				ReplyDate: r.ReplyDate,
				ReplyText: r.ReplyText,
				Version:   r.Version,
				ThumbsUp:  r.ThumbsUp,
			},
			Criterias: r.Criterias,
		})
	}
	return page, nil
}

// List fetches one chart of the catalog.
func (f *PlayFetcher) List(ctx context.Context, q ListQuery) ([]model.App, error) {
	params := f.params(q.Country)
	params.Set("collection", q.Collection)
	params.Set("category", q.Category)
	if q.Num > 0 {
		params.Set("num", strconv.Itoa(q.Num))
	}
	if q.FullDetail {
		params.Set("fullDetail", "true")
	}
	body, err := f.get(ctx, "/api/apps/", params)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", q.Collection, q.Category, err)
	}
	return decodeApps(body)
}

func (f *PlayFetcher) params(country string) url.Values {
	params := url.Values{}
	if country != "" {
		params.Set("country", country)
	}
	if f.Lang != "" {
		params.Set("lang", f.Lang)
	}
	return params
}

func (f *PlayFetcher) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	reqURL := f.BaseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

// unwrapResults returns the value under "results" when body is an object
// carrying one, and body itself otherwise.
func unwrapResults(body []byte) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return json.RawMessage(body), nil
	}
	var wrapper struct {
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	if len(wrapper.Results) == 0 {
		return json.RawMessage(body), nil
	}
	return wrapper.Results, nil
}

func decodeApps(body []byte) ([]model.App, error) {
	raw, err := unwrapResults(body)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	apps := make([]model.App, 0, len(items))
	for _, item := range items {
		app, err := decodeApp(item)
		if err != nil {
			return nil, err
		}
		app.Provided = nil
		apps = append(apps, app)
	}
	return apps, nil
}

// appJSON mirrors the catalog's app object for the fields with a home in
// model.App.
type appJSON struct {
	AppID         string  `json:"appId"`
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Developer     string  `json:"developer"`
	Summary       string  `json:"summary"`
	Description   string  `json:"description"`
	RecentChanges string  `json:"recentChanges"`
	Score         float64 `json:"score"`
	Installs      string  `json:"installs"`
	Genre         string  `json:"genre"`
	Icon          string  `json:"icon"`
	Free          bool    `json:"free"`
	Price         float64 `json:"price"`
	Reviews       int     `json:"reviews"`
}

var knownAppKeys = map[string]struct{}{
	"appId": {}, "title": {}, "url": {}, "developer": {}, "summary": {},
	"description": {}, "recentChanges": {}, "score": {}, "installs": {},
	"genre": {}, "icon": {}, "free": {}, "price": {}, "reviews": {},
	"source": {}, "country": {}, "similarityScore": {}, "permissions": {},
}

func decodeApp(body []byte) (model.App, error) {
	var a appJSON
	if err := json.Unmarshal(body, &a); err != nil {
		return model.App{}, fmt.Errorf("json unmarshal: %w", err)
	}
	var all map[string]any
	if err := json.Unmarshal(body, &all); err != nil {
		return model.App{}, fmt.Errorf("json unmarshal: %w", err)
	}
	var extra map[string]any
	provided := make(map[string]struct{}, len(all))
	for k, v := range all {
		if _, known := knownAppKeys[k]; known {
			provided[k] = struct{}{}
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return model.App{
		AppID:         a.AppID,
		Title:         a.Title,
		URL:           a.URL,
		Developer:     a.Developer,
		Summary:       a.Summary,
		Description:   a.Description,
		RecentChanges: a.RecentChanges,
		Score:         a.Score,
		Installs:      a.Installs,
		Genre:         a.Genre,
		Icon:          a.Icon,
		Free:          a.Free,
		Price:         a.Price,
		Reviews:       a.Reviews,
		Extra:         extra,
		Provided:      provided,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
