package scraper

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"smar/scraper-service/internal/model"
)

// appIDPattern matches package-style identifiers such as com.example.app.
var appIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)+$`)

// LooksLikeAppID reports whether term has the shape of a catalog id.
func LooksLikeAppID(term string) bool { return appIDPattern.MatchString(term) }

// SearchOptions tunes the aggregation pipeline.
type SearchOptions struct {
	// Delay is inserted between successive related searches and before each
	// detail fetch. Zero disables it.
	Delay time.Duration
	// DetailConcurrency bounds the parallel detail and permission fetches.
	// Zero means unbounded.
	DetailConcurrency int
	// ScoreDescription scores the query against title + description instead
	// of the title alone.
	ScoreDescription bool
	// Permissions is the reference list for the optional enrichment stage.
	// Default: DefaultReferencePermissions.
	Permissions []string
	Logger      *slog.Logger
}

func (o *SearchOptions) defaults() {
	if len(o.Permissions) == 0 {
		o.Permissions = DefaultReferencePermissions
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Searcher runs the search aggregation pipeline: primary search, related
// fan-out, detail enrichment, dedup, scoring, sanitation and optional
// permission enrichment.
type Searcher struct {
	catalog Catalog
	opts    SearchOptions
}

// NewSearcher constructs a Searcher.
func NewSearcher(catalog Catalog, opts SearchOptions) *Searcher {
	opts.defaults()
	return &Searcher{catalog: catalog, opts: opts}
}

// Run executes the full pipeline for req. It fails with *UpstreamError when
// the primary search is unavailable and with *NoResultsError when no
// candidate survives.
func (s *Searcher) Run(ctx context.Context, req model.SearchRequest) ([]model.App, error) {
	req = req.Normalize()
	log := s.opts.Logger.With("query", req.Term, "country", req.Country)

	primary, resolved, err := s.primary(ctx, req)
	if err != nil {
		return nil, &UpstreamError{Op: "aggregation failed", Err: err}
	}

	var related [][]model.App
	if !resolved {
		related = s.related(ctx, req, primary, log)
	}

	candidates := tagCandidates(req.Country, primary, related)
	detailed := s.details(ctx, req.Country, candidates, log)

	apps := Dedup(detailed)
	log.Info("search pipeline merged",
		"primary", len(primary), "candidates", len(candidates),
		"detailed", len(detailed), "unique", len(apps))
	if len(apps) == 0 {
		return nil, &NoResultsError{Query: req.Term}
	}

	for i := range apps {
		text := apps[i].Title
		if s.opts.ScoreDescription && apps[i].Description != "" {
			text += " " + apps[i].Description
		}
		apps[i].SimilarityScore = Similarity(req.Term, text)
		apps[i].Summary = CleanText(apps[i].Summary)
		apps[i].RecentChanges = CleanText(apps[i].RecentChanges)
	}

	if req.IncludePermissions {
		apps = enrichPermissions(ctx, s.catalog, apps, s.opts.Permissions, s.opts.DetailConcurrency, log)
	}
	return apps, nil
}

// primary resolves the term as an app id first and falls back to a search.
// resolved is true when the term was an id.
func (s *Searcher) primary(ctx context.Context, req model.SearchRequest) (apps []model.App, resolved bool, err error) {
	if LooksLikeAppID(req.Term) {
		app, err := s.catalog.App(ctx, req.Term, req.Country)
		if err == nil {
			return []model.App{app}, true, nil
		}
		s.opts.Logger.Debug("term is not a resolvable app id", "query", req.Term, "err", err)
	}

	apps, err = s.catalog.Search(ctx, req.Term, req.Country)
	if err != nil {
		return nil, false, err
	}
	return apps, false, nil
}

// related issues one "related to <title>" search per primary result,
// sequentially, pausing between calls. A failed search contributes nothing.
func (s *Searcher) related(ctx context.Context, req model.SearchRequest, primary []model.App, log *slog.Logger) [][]model.App {
	out := make([][]model.App, 0, len(primary))
	for i, p := range primary {
		if i > 0 {
			if err := pause(ctx, s.opts.Delay); err != nil {
				log.Warn("related fan-out interrupted", "err", err)
				break
			}
		}
		results, err := s.catalog.Search(ctx, "related to "+p.Title, req.Country)
		if err != nil {
			log.Warn("related search failed", "title", p.Title, "err", err)
			continue
		}
		out = append(out, results)
	}
	return out
}

// details fetches every candidate's detail record in parallel. Candidates
// whose fetch fails are dropped; the order of survivors is preserved.
func (s *Searcher) details(ctx context.Context, country string, candidates []model.App, log *slog.Logger) []model.App {
	slots := make([]*model.App, len(candidates))
	var g errgroup.Group
	if s.opts.DetailConcurrency > 0 {
		g.SetLimit(s.opts.DetailConcurrency)
	}
	for i := range candidates {
		g.Go(func() error {
			cand := candidates[i]
			if err := pause(ctx, s.opts.Delay); err != nil {
				return nil
			}
			detail, err := s.catalog.App(ctx, cand.AppID, country)
			if err != nil {
				log.Warn("detail fetch failed", "appId", cand.AppID, "err", err)
				return nil
			}
			merged := cand.Merge(detail)
			slots[i] = &merged
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.App, 0, len(candidates))
	for _, a := range slots {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out
}

// tagCandidates concatenates primary then related results, tagging each
// with its source stage and the request country.
func tagCandidates(country string, primary []model.App, related [][]model.App) []model.App {
	n := len(primary)
	for _, r := range related {
		n += len(r)
	}
	out := make([]model.App, 0, n)
	for _, a := range primary {
		a.Source = model.SourcePrimary
		a.Country = country
		out = append(out, a)
	}
	for _, batch := range related {
		for _, a := range batch {
			a.Source = model.SourceRelated
			a.Country = country
			out = append(out, a)
		}
	}
	return out
}

// Dedup keeps the first record of every app id, preserving order.
func Dedup(apps []model.App) []model.App {
	seen := make(map[string]struct{}, len(apps))
	out := make([]model.App, 0, len(apps))
	for _, a := range apps {
		if _, dup := seen[a.AppID]; dup {
			continue
		}
		seen[a.AppID] = struct{}{}
		out = append(out, a)
	}
	return out
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
