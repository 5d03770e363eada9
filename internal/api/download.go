package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"smar/scraper-service/internal/export"
	"smar/scraper-service/internal/model"
	"smar/scraper-service/internal/store"
)

// downloadCSV renders the result store entry of the request as CSV. The
// entry is looked up by the fingerprint of the same query string that was
// submitted, so an expired or never-run search is a 404.
func downloadCSV[R request](h *Handler, parse func(url.Values) (R, error), base func(R) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parse(r.URL.Query())
		if err != nil {
			jsonError(w, err.Error(), httpStatus(err))
			return
		}

		var entry model.ExportEntry
		ok, err := store.GetJSON(r.Context(), h.cfg.Results, req.Fingerprint(), &entry)
		if err != nil {
			log.Printf("[api] download-csv read error: %v", err)
			jsonError(w, "CSV data not available.", http.StatusInternalServerError)
			return
		}
		if !ok {
			jsonError(w, "CSV data not available.", http.StatusNotFound)
			return
		}

		body, err := export.CSV(entry)
		if err != nil {
			log.Printf("[api] download-csv render error: %v", err)
			jsonError(w, "An error occurred while generating the CSV.", http.StatusInternalServerError)
			return
		}

		attachment(w, "text/csv", export.CSVFilename(base(req), h.cfg.Now()))
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}

func (h *Handler) searchRelog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := parseSearch(q)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		jsonError(w, err.Error(), httpStatus(err))
		return
	}
	info := export.RelogInfo{
		Version:            h.cfg.Version,
		At:                 h.cfg.Now(),
		Country:            req.Country,
		Query:              req.Term,
		TotalCount:         h.totalCount(r.Context(), q, req.Fingerprint()),
		IncludePermissions: req.IncludePermissions,
	}
	writeRelog(w, info, req.Term)
}

func (h *Handler) listRelog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := parseTopList(q)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		jsonError(w, err.Error(), httpStatus(err))
		return
	}
	info := export.RelogInfo{
		Version:            h.cfg.Version,
		At:                 h.cfg.Now(),
		Country:            req.Country,
		Collection:         req.Collection,
		Category:           req.Category,
		TotalCount:         h.totalCount(r.Context(), q, req.Fingerprint()),
		IncludePermissions: req.IncludePermissions,
	}
	writeRelog(w, info, req.Collection+"_"+req.Category)
}

func writeRelog(w http.ResponseWriter, info export.RelogInfo, name string) {
	attachment(w, "text/plain; charset=utf-8", export.RelogFilename(name))
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, export.Relog(info))
}

// totalCount prefers the client-supplied count, then the last run of the
// fingerprint, then the size of the stored result.
func (h *Handler) totalCount(ctx context.Context, q url.Values, fingerprint string) int {
	if n, err := strconv.Atoi(q.Get("totalCount")); err == nil && n >= 0 {
		return n
	}
	if h.cfg.Runs != nil {
		e, ok, err := h.cfg.Runs.Last(ctx, fingerprint)
		if err != nil {
			log.Printf("[api] run log lookup error: %v", err)
		} else if ok {
			return e.TotalCount
		}
	}
	var entry model.ExportEntry
	if ok, err := store.GetJSON(ctx, h.cfg.Results, fingerprint, &entry); err == nil && ok {
		return entry.Len()
	}
	return 0
}

func attachment(w http.ResponseWriter, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}
