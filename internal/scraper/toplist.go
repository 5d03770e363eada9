package scraper

import (
	"context"
	"log/slog"

	"smar/scraper-service/internal/model"
)

// TopLists fetches catalog charts.
type TopLists struct {
	catalog     Catalog
	permissions []string
	concurrency int
	logger      *slog.Logger
}

// NewTopLists constructs a TopLists pipeline. It shares the reference
// permission list and concurrency bound of opts.
func NewTopLists(catalog Catalog, opts SearchOptions) *TopLists {
	opts.defaults()
	return &TopLists{
		catalog:     catalog,
		permissions: opts.Permissions,
		concurrency: opts.DetailConcurrency,
		logger:      opts.Logger,
	}
}

// Run fetches the chart, truncates it to req.Num, sanitises text fields and
// optionally attaches the permission projection.
func (t *TopLists) Run(ctx context.Context, req model.TopListRequest) ([]model.App, error) {
	req = req.Normalize()
	log := t.logger.With("collection", req.Collection, "category", req.Category, "country", req.Country)

	apps, err := t.catalog.List(ctx, ListQuery{
		Collection: req.Collection,
		Category:   req.Category,
		Country:    req.Country,
		Num:        req.Num,
		FullDetail: true,
	})
	if err != nil {
		return nil, &UpstreamError{Op: "top list failed", Err: err}
	}
	if len(apps) > req.Num {
		apps = apps[:req.Num]
	}
	if len(apps) == 0 {
		return nil, &NoResultsError{Query: req.Collection + " " + req.Category}
	}
	log.Info("top list fetched", "count", len(apps))

	for i := range apps {
		apps[i].Source = model.SourceTopList
		apps[i].Country = req.Country
		apps[i].Summary = CleanText(apps[i].Summary)
		apps[i].RecentChanges = CleanText(apps[i].RecentChanges)
	}

	if req.IncludePermissions {
		apps = enrichPermissions(ctx, t.catalog, apps, t.permissions, t.concurrency, log)
	}
	return apps, nil
}
