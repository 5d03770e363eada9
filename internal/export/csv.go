// Package export renders result-store entries as CSV and builds the
// reproducibility log.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"smar/scraper-service/internal/model"
)

var appColumns = []string{
	"title", "appId", "url", "developer", "summary", "description", "recentChanges",
	"rating", "category", "installs", "icon", "free", "price", "reviews",
	"source", "country", "similarityScore",
}

var reviewColumns = []string{
	"id", "userName", "date", "rating", "scoreText", "url", "title", "review",
	"replyDate", "replyText", "version", "thumbsUp", "criterias", "country",
}

// excludedAttributes are provider fields too bulky or markup-heavy for a
// spreadsheet.
var excludedAttributes = map[string]struct{}{
	"descriptionHTML":   {},
	"screenshots":       {},
	"comments":          {},
	"histogram":         {},
	"video":             {},
	"videoImage":        {},
	"headerImage":       {},
	"previewVideo":      {},
	"recentChangesHTML": {},
	"summaryHTML":       {},
}

// CSV renders an entry as a header row plus one row per record.
func CSV(e model.ExportEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	var err error
	if e.Kind == model.KindReviews {
		err = writeReviews(w, e.Reviews)
	} else {
		err = writeApps(w, e.Apps, e.IncludePermissions)
	}
	if err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csv flush: %w", err)
	}
	return buf.Bytes(), nil
}

func writeApps(w *csv.Writer, apps []model.App, withPermissions bool) error {
	var perms []string
	if withPermissions {
		perms = permissionColumns(apps)
	}
	extras := extraColumns(apps)

	header := append(append(append([]string{}, appColumns...), perms...), extras...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("csv header: %w", err)
	}

	for _, a := range apps {
		row := []string{
			a.Title, a.AppID, a.URL, a.Developer, a.Summary, a.Description, a.RecentChanges,
			formatFloat(a.Score), a.Genre, a.Installs, a.Icon, strconv.FormatBool(a.Free),
			formatFloat(a.Price), strconv.Itoa(a.Reviews), a.Source, a.Country,
			formatFloat(a.SimilarityScore),
		}
		if len(perms) > 0 {
			flags := make(map[string]bool, len(a.Permissions))
			for _, f := range a.Permissions {
				flags[f.Permission] = f.Required
			}
			for _, p := range perms {
				row = append(row, strconv.FormatBool(flags[p]))
			}
		}
		for _, k := range extras {
			row = append(row, formatAny(a.Extra[k]))
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("csv row %s: %w", a.AppID, err)
		}
	}
	return nil
}

func writeReviews(w *csv.Writer, reviews []model.Review) error {
	if err := w.Write(reviewColumns); err != nil {
		return fmt.Errorf("csv header: %w", err)
	}
	for _, r := range reviews {
		row := []string{
			r.ID, r.UserName, r.Date, strconv.Itoa(r.Score), r.ScoreText, r.URL, r.Title, r.Text,
			r.ReplyDate, r.ReplyText, r.Version, strconv.Itoa(r.ThumbsUp), r.Criterias, r.Country,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("csv row %s: %w", r.ID, err)
		}
	}
	return nil
}

// permissionColumns lists permission names in order of first appearance.
func permissionColumns(apps []model.App) []string {
	var cols []string
	seen := make(map[string]struct{})
	for _, a := range apps {
		for _, f := range a.Permissions {
			if _, ok := seen[f.Permission]; ok {
				continue
			}
			seen[f.Permission] = struct{}{}
			cols = append(cols, f.Permission)
		}
	}
	return cols
}

// extraColumns returns the sorted union of extra attribute names, minus the
// excluded ones.
func extraColumns(apps []model.App) []string {
	seen := make(map[string]struct{})
	for _, a := range apps {
		for k := range a.Extra {
			if _, skip := excludedAttributes[k]; skip {
				continue
			}
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func formatFloat(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatAny(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// CSVFilename suggests a download name such as "flashlight_3152026.csv".
func CSVFilename(base string, at time.Time) string {
	return fmt.Sprintf("%s_%d%d%d.csv", base, int(at.Month()), at.Day(), at.Year())
}
