package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"smar/scraper-service/internal/model"
	"smar/scraper-service/internal/queue"
	"smar/scraper-service/internal/runlog"
	"smar/scraper-service/internal/scraper"
)

// Search handles the search queue.
type Search struct {
	deps     Deps
	searcher *scraper.Searcher
}

// NewSearch constructs the search queue handler.
func NewSearch(searcher *scraper.Searcher, deps Deps) *Search {
	deps.defaults()
	return &Search{deps: deps, searcher: searcher}
}

func (h *Search) Process(ctx context.Context, job *queue.Job) (any, error) {
	var req model.SearchRequest
	if err := decode(job, &req); err != nil {
		return nil, err
	}
	req = req.Normalize()
	return execute(ctx, h.deps, job, run[model.App]{
		fingerprint: req.Fingerprint(),
		entry: runlog.Entry{
			Kind:               model.KindSearch,
			Query:              req.Term,
			Country:            req.Country,
			IncludePermissions: req.IncludePermissions,
		},
		fresh: func(ctx context.Context) ([]model.App, error) { return h.searcher.Run(ctx, req) },
		export: func(apps []model.App) model.ExportEntry {
			return model.ExportEntry{Kind: model.KindSearch, IncludePermissions: req.IncludePermissions, Apps: apps}
		},
	})
}

// Reviews handles the reviews queue.
type Reviews struct {
	deps    Deps
	scraper *scraper.ReviewsScraper
}

// NewReviews constructs the reviews queue handler.
func NewReviews(s *scraper.ReviewsScraper, deps Deps) *Reviews {
	deps.defaults()
	return &Reviews{deps: deps, scraper: s}
}

func (h *Reviews) Process(ctx context.Context, job *queue.Job) (any, error) {
	var req model.ReviewsRequest
	if err := decode(job, &req); err != nil {
		return nil, err
	}
	req = req.Normalize()
	return execute(ctx, h.deps, job, run[model.Review]{
		fingerprint: req.Fingerprint(),
		entry:       runlog.Entry{Kind: model.KindReviews, Query: req.AppID, Country: req.Country},
		fresh:       func(ctx context.Context) ([]model.Review, error) { return h.scraper.Run(ctx, req) },
		export: func(reviews []model.Review) model.ExportEntry {
			return model.ExportEntry{Kind: model.KindReviews, Reviews: reviews}
		},
	})
}

// TopList handles the top-list queue.
type TopList struct {
	deps  Deps
	lists *scraper.TopLists
}

// NewTopList constructs the top-list queue handler.
func NewTopList(lists *scraper.TopLists, deps Deps) *TopList {
	deps.defaults()
	return &TopList{deps: deps, lists: lists}
}

func (h *TopList) Process(ctx context.Context, job *queue.Job) (any, error) {
	var req model.TopListRequest
	if err := decode(job, &req); err != nil {
		return nil, err
	}
	req = req.Normalize()
	return execute(ctx, h.deps, job, run[model.App]{
		fingerprint: req.Fingerprint(),
		entry: runlog.Entry{
			Kind:               model.KindTopList,
			Query:              req.Collection + "/" + req.Category,
			Country:            req.Country,
			IncludePermissions: req.IncludePermissions,
		},
		fresh: func(ctx context.Context) ([]model.App, error) { return h.lists.Run(ctx, req) },
		export: func(apps []model.App) model.ExportEntry {
			return model.ExportEntry{Kind: model.KindTopList, IncludePermissions: req.IncludePermissions, Apps: apps}
		},
	})
}

func decode(job *queue.Job, v any) error {
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", job.Queue, err)
	}
	return nil
}
