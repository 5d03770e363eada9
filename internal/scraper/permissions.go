// Package scraper implements catalog fetching, the aggregation pipelines
// and the text/score helpers they share.
package scraper

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"smar/scraper-service/internal/model"
)

// DefaultReferencePermissions is the fixed list every app is projected
// against when permissions are requested. Order is the export column order.
var DefaultReferencePermissions = []string{
	"approximate location (network-based)",
	"precise location (GPS and network-based)",
	"read the contents of your USB storage",
	"modify or delete the contents of your USB storage",
	"view Wi-Fi connections",
	"view network connections",
	"full network access",
	"read sync settings",
	"run at startup",
	"control vibration",
	"prevent device from sleeping",
	"toggle sync on and off",
	"find accounts on the device",
	"read calendar events plus confidential information",
	"add or modify calendar events and send email to guests without owners' knowledge",
	"read your contacts",
	"modify your contacts",
	"take pictures and videos",
	"record audio",
	"read phone status and identity",
	"send sticky broadcast",
	"draw over other apps",
	"install shortcuts",
	"reorder running apps",
	"use accounts on the device",
	"change network connectivity",
	"read Google service configuration",
}

// ProjectPermissions returns one flag per reference entry, in reference
// order. Matching is case-insensitive on the trimmed permission text.
func ProjectPermissions(reference []string, granted []model.Permission) []model.PermissionFlag {
	have := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		have[strings.ToLower(strings.TrimSpace(p.Permission))] = struct{}{}
	}
	flags := make([]model.PermissionFlag, 0, len(reference))
	for _, ref := range reference {
		_, ok := have[strings.ToLower(strings.TrimSpace(ref))]
		flags = append(flags, model.PermissionFlag{Permission: ref, Required: ok})
	}
	return flags
}

// enrichPermissions fetches the permission list of every app in parallel and
// attaches the projection. A failed fetch yields an all-false projection;
// the app is kept.
func enrichPermissions(
	ctx context.Context,
	catalog Catalog,
	apps []model.App,
	reference []string,
	limit int,
	logger *slog.Logger,
) []model.App {
	out := make([]model.App, len(apps))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range apps {
		g.Go(func() error {
			app := apps[i]
			granted, err := catalog.Permissions(ctx, app.AppID, app.Country)
			if err != nil {
				logger.Warn("permissions fetch failed", "appId", app.AppID, "err", err)
				granted = nil
			}
			app.Permissions = ProjectPermissions(reference, granted)
			out[i] = app
			return nil
		})
	}
	_ = g.Wait()
	return out
}
