package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"smar/scraper-service/internal/model"
	"smar/scraper-service/internal/queue"
)

func parseSearch(q url.Values) (model.SearchRequest, error) {
	req := model.SearchRequest{
		Term:               q.Get("query"),
		Country:            q.Get("countryCode"),
		IncludePermissions: q.Get("includePermissions") == "true",
		Bucket:             q.Get("bucket"),
	}
	return req.Normalize(), nil
}

func parseReviews(q url.Values) (model.ReviewsRequest, error) {
	req := model.ReviewsRequest{
		AppID:   q.Get("appId"),
		Country: q.Get("countryCode"),
	}
	return req.Normalize(), nil
}

func parseTopList(q url.Values) (model.TopListRequest, error) {
	req := model.TopListRequest{
		Collection:         q.Get("collection"),
		Category:           q.Get("category"),
		Country:            q.Get("country"),
		IncludePermissions: q.Get("includePermissions") == "true",
	}
	if s := q.Get("num"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return req, &model.ValidationError{Msg: "num must be a number"}
		}
		req.Num = n
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req.Normalize(), nil
}

// httpStatus maps a domain error to an HTTP status code.
func httpStatus(err error) int {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	if errors.Is(err, queue.ErrJobNotFound) {
		return "Job not found"
	}
	if httpStatus(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

// cors allows any origin and exposes Content-Disposition so browsers can
// read the suggested download name.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonOK(w http.ResponseWriter, v any) {
	jsonStatus(w, http.StatusOK, v)
}

func jsonStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	jsonStatus(w, code, map[string]string{"error": msg})
}
