package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"smar/scraper-service/internal/model"
)

// MaxReviews caps how many reviews one job collects.
const MaxReviews = 100000

// ReviewsScraper collects the reviews of one app, newest first.
type ReviewsScraper struct {
	catalog Catalog
	limit   int
	logger  *slog.Logger
}

// NewReviewsScraper constructs a ReviewsScraper. limit <= 0 means MaxReviews.
func NewReviewsScraper(catalog Catalog, limit int, logger *slog.Logger) *ReviewsScraper {
	if limit <= 0 || limit > MaxReviews {
		limit = MaxReviews
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewsScraper{catalog: catalog, limit: limit, logger: logger}
}

// Run pages through the reviews of req.AppID until the app's review count
// (capped) is reached or the catalog has no further page.
func (r *ReviewsScraper) Run(ctx context.Context, req model.ReviewsRequest) ([]model.Review, error) {
	req = req.Normalize()
	log := r.logger.With("appId", req.AppID, "country", req.Country)

	detail, err := r.catalog.App(ctx, req.AppID, req.Country)
	if err != nil {
		return nil, &UpstreamError{Op: "reviews failed", Err: err}
	}
	want := r.limit
	if detail.Reviews > 0 && detail.Reviews < want {
		want = detail.Reviews
	}
	log.Info("fetching reviews", "available", detail.Reviews, "want", want)

	reviews := make([]model.Review, 0, min(want, 1000))
	token := ""
	for len(reviews) < want {
		page, err := r.catalog.Reviews(ctx, ReviewsQuery{
			AppID:   req.AppID,
			Country: req.Country,
			Sort:    "newest",
			Num:     want - len(reviews),
			Token:   token,
		})
		if err != nil {
			return nil, &UpstreamError{Op: "reviews failed", Err: err}
		}
		for _, item := range page.Items {
			rv := item.Review
			rv.Criterias = FlattenCriteria(item.Criterias)
			rv.Country = req.Country
			reviews = append(reviews, rv)
		}
		log.Debug("reviews page fetched", "page", len(page.Items), "total", len(reviews))
		if len(page.Items) == 0 || page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	if len(reviews) > want {
		reviews = reviews[:want]
	}
	return reviews, nil
}

// FlattenCriteria renders per-aspect ratings as
// "criteria: <name>: rating: <n>; ...".
func FlattenCriteria(cs []model.Criteria) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, fmt.Sprintf("criteria: %s: rating: %s", c.Criteria, strconv.FormatFloat(c.Rating, 'f', -1, 64)))
	}
	return strings.Join(parts, "; ")
}
