// Package scrapertest provides an in-memory scraper.Catalog for tests.
package scrapertest

import (
	"context"
	"errors"
	"sync"

	"smar/scraper-service/internal/model"
	"smar/scraper-service/internal/scraper"
)

// ErrStub is returned for every lookup the stub has no data for.
var ErrStub = errors.New("stub: unavailable")

// Catalog answers from fixed maps and counts calls. Missing entries fail
// with ErrStub. It is safe for concurrent use.
type Catalog struct {
	// SearchResults maps a search term to its results.
	SearchResults map[string][]model.App
	// SearchErr, when set, fails every search whose term is a key.
	SearchErr map[string]error
	// Details maps an app id to its detail record.
	Details map[string]model.App
	// Perms maps an app id to its raw permissions.
	Perms map[string][]model.Permission
	// ReviewPages maps a pagination token ("" for the first page) to a page.
	ReviewPages map[string]scraper.ReviewsPage
	// Lists maps "collection/category" to a chart.
	Lists map[string][]model.App

	mu    sync.Mutex
	calls map[string]int
}

func (c *Catalog) count(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[op]++
}

// Calls returns how many times op ("search", "app", "permissions",
// "reviews", "list") was invoked.
func (c *Catalog) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *Catalog) Search(_ context.Context, term, _ string) ([]model.App, error) {
	c.count("search")
	if err, ok := c.SearchErr[term]; ok {
		return nil, err
	}
	res, ok := c.SearchResults[term]
	if !ok {
		return nil, ErrStub
	}
	return append([]model.App(nil), res...), nil
}

func (c *Catalog) App(_ context.Context, appID, _ string) (model.App, error) {
	c.count("app")
	d, ok := c.Details[appID]
	if !ok {
		return model.App{}, ErrStub
	}
	return d, nil
}

func (c *Catalog) Permissions(_ context.Context, appID, _ string) ([]model.Permission, error) {
	c.count("permissions")
	p, ok := c.Perms[appID]
	if !ok {
		return nil, ErrStub
	}
	return p, nil
}

func (c *Catalog) Reviews(_ context.Context, q scraper.ReviewsQuery) (scraper.ReviewsPage, error) {
	c.count("reviews")
	p, ok := c.ReviewPages[q.Token]
	if !ok {
		return scraper.ReviewsPage{}, ErrStub
	}
	return p, nil
}

func (c *Catalog) List(_ context.Context, q scraper.ListQuery) ([]model.App, error) {
	c.count("list")
	l, ok := c.Lists[q.Collection+"/"+q.Category]
	if !ok {
		return nil, ErrStub
	}
	return append([]model.App(nil), l...), nil
}

// Flashlight returns the catalog of the reference scenario: "flashlight"
// yields two primary apps, the first of which has one related app. All
// three are detail-fetchable and have distinct ids.
func Flashlight() *Catalog {
	return &Catalog{
		SearchResults: map[string][]model.App{
			"flashlight": {
				{AppID: "com.bright.flashlight", Title: "Bright Flashlight"},
				{AppID: "com.torch.led", Title: "LED Torch"},
			},
			"related to Bright Flashlight": {
				{AppID: "com.night.lamp", Title: "Night Lamp"},
			},
			"related to LED Torch": {},
		},
		Details: map[string]model.App{
			"com.bright.flashlight": {AppID: "com.bright.flashlight", Title: "Bright Flashlight", Developer: "Bright", Summary: "<b>Super</b> bright &amp; free", Score: 4.5, Installs: "1,000,000+", Genre: "Tools"},
			"com.torch.led":         {AppID: "com.torch.led", Title: "LED Torch", Developer: "Torch Inc", Summary: "A torch", Score: 4.1, Installs: "500,000+", Genre: "Tools"},
			"com.night.lamp":        {AppID: "com.night.lamp", Title: "Night Lamp", Developer: "Lamps", Summary: "Lamp", Score: 3.9, Installs: "10,000+", Genre: "Lifestyle"},
		},
		Perms: map[string][]model.Permission{
			"com.bright.flashlight": {{Permission: "take pictures and videos"}, {Permission: "full network access"}},
			"com.torch.led":         {{Permission: "take pictures and videos"}},
		},
	}
}
