package api_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"smar/scraper-service/internal/api"
	"smar/scraper-service/internal/jobs"
	"smar/scraper-service/internal/model"
	"smar/scraper-service/internal/queue"
	"smar/scraper-service/internal/runlog"
	"smar/scraper-service/internal/scraper"
	"smar/scraper-service/internal/store"
)

type env struct {
	search  *queue.Queue
	reviews *queue.Queue
	toplist *queue.Queue
	results store.Store
	runs    *runlog.Memory
	routes  http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	opts := queue.Options{Classify: jobs.Classify}
	e := &env{
		search:  queue.New(rdb, model.KindSearch, opts),
		reviews: queue.New(rdb, model.KindReviews, opts),
		toplist: queue.New(rdb, model.KindTopList, opts),
		results: store.NewRedisStore(rdb, store.ResultPrefix),
		runs:    &runlog.Memory{},
	}
	e.routes = api.NewHandler(api.Config{
		Search:  e.search,
		Reviews: e.reviews,
		TopList: e.toplist,
		Results: e.results,
		Runs:    e.runs,
		Version: "1.2.3",
		Now:     func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) },
	}).Routes()
	return e
}

func (e *env) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

// runUntil starts the queue with h and polls job-status until it stops
// reporting waiting or active.
func (e *env) runUntil(t *testing.T, q *queue.Queue, h queue.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx, h)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec := e.get(t, target)
		if s := decodeBody(t, rec)["status"]; s != "waiting" && s != "active" {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job behind %s never finished", target)
	return nil
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.get(t, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" || body["version"] != "1.2.3" {
		t.Errorf("body = %v", body)
	}
}

func TestCORS(t *testing.T) {
	e := newEnv(t)
	rec := httptest.NewRecorder()
	e.routes.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/search/download-csv", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); got != "Content-Disposition" {
		t.Errorf("Expose-Headers = %q", got)
	}
}

// ── Submit ───────────────────────────────────────────────────────────────────

func TestSubmit_Validation(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		target string
		want   string
	}{
		{"/search/new?query=%20%20", "Search query is missing."},
		{"/reviews?countryCode=fr", "App ID is missing."},
		{"/list?collection=TOP_FREE", "Category is missing."},
		{"/list?category=GAME&num=ten", "num must be a number"},
	}
	for _, tt := range tests {
		rec := e.get(t, tt.target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.target, rec.Code)
			continue
		}
		if got := decodeBody(t, rec)["error"]; got != tt.want {
			t.Errorf("%s: error = %v, want %q", tt.target, got, tt.want)
		}
	}
	if n, _ := e.search.Depth(context.Background()); n != 0 {
		t.Errorf("invalid request was queued (depth %d)", n)
	}
}

func TestSubmit_DeduplicatesIdenticalRequests(t *testing.T) {
	e := newEnv(t)
	first := decodeBody(t, e.get(t, "/search/new?query=flashlight&countryCode=US"))
	second := decodeBody(t, e.get(t, "/search/new?query=%20flashlight%20&countryCode=us"))

	if first["status"] != "processing" || first["jobId"] == "" {
		t.Fatalf("first = %v", first)
	}
	if first["jobId"] != second["jobId"] {
		t.Errorf("jobIds differ: %v vs %v", first["jobId"], second["jobId"])
	}
	if n, _ := e.search.Depth(context.Background()); n != 1 {
		t.Errorf("depth = %d, want 1", n)
	}
}

func TestSubmit_PayloadIsNormalized(t *testing.T) {
	e := newEnv(t)
	body := decodeBody(t, e.get(t, "/list?category=game&country=DE&num=5"))
	job, err := e.toplist.Get(context.Background(), body["jobId"].(string))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var req model.TopListRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		t.Fatal(err)
	}
	if req.Collection != "TOP_FREE" || req.Category != "GAME" || req.Country != "de" || req.Num != 5 {
		t.Errorf("payload = %+v", req)
	}
}

// ── Job status ───────────────────────────────────────────────────────────────

func TestJobStatus_MissingAndUnknown(t *testing.T) {
	e := newEnv(t)
	if rec := e.get(t, "/search/job-status"); rec.Code != http.StatusBadRequest {
		t.Errorf("missing jobId: status = %d, want 400", rec.Code)
	}
	rec := e.get(t, "/reviews/job-status?jobId=nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown jobId: status = %d, want 404", rec.Code)
	}
	if got := decodeBody(t, rec)["error"]; got != "Job not found" {
		t.Errorf("error = %v", got)
	}
}

func TestJobStatus_Waiting(t *testing.T) {
	e := newEnv(t)
	id := decodeBody(t, e.get(t, "/reviews?appId=com.example"))["jobId"].(string)
	rec := e.get(t, "/reviews/job-status?jobId="+id)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "waiting" {
		t.Errorf("status = %v, want waiting", body["status"])
	}
	if _, ok := body["data"]; ok {
		t.Error("waiting job must not carry data")
	}
}

func TestJobStatus_Completed(t *testing.T) {
	e := newEnv(t)
	id := decodeBody(t, e.get(t, "/search/new?query=flashlight"))["jobId"].(string)

	rec := e.runUntil(t, e.search, func(context.Context, *queue.Job) (any, error) {
		return model.Outcome[model.App]{TotalCount: 1, Results: []model.App{{AppID: "a", Title: "A"}}}, nil
	}, "/search/job-status?jobId="+id)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "completed" {
		t.Fatalf("status = %v", body["status"])
	}
	data, ok := body["data"].(map[string]any)
	if !ok || data["totalCount"] != float64(1) {
		t.Errorf("data = %v", body["data"])
	}
}

func TestJobStatus_NoResultsIs404(t *testing.T) {
	e := newEnv(t)
	id := decodeBody(t, e.get(t, "/search/new?query=zzzz"))["jobId"].(string)

	rec := e.runUntil(t, e.search, func(context.Context, *queue.Job) (any, error) {
		return nil, &scraper.NoResultsError{Query: "zzzz"}
	}, "/search/job-status?jobId="+id)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "failed" || body["kind"] != jobs.KindNoResults {
		t.Errorf("body = %v", body)
	}
}

func TestJobStatus_FailureIs500(t *testing.T) {
	e := newEnv(t)
	id := decodeBody(t, e.get(t, "/list?category=GAME"))["jobId"].(string)

	rec := e.runUntil(t, e.toplist, func(context.Context, *queue.Job) (any, error) {
		return nil, errors.New("boom")
	}, "/list/job-status?jobId="+id)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if got := decodeBody(t, rec)["error"]; got != "boom" {
		t.Errorf("error = %v", got)
	}
}

// ── Downloads ────────────────────────────────────────────────────────────────

func TestDownloadCSV_NotStored(t *testing.T) {
	e := newEnv(t)
	rec := e.get(t, "/search/download-csv?query=flashlight")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDownloadCSV_Search(t *testing.T) {
	e := newEnv(t)
	fp := model.SearchRequest{Term: "flashlight"}.Fingerprint()
	entry := model.ExportEntry{
		Fingerprint: fp,
		Kind:        model.KindSearch,
		Apps: []model.App{
			{AppID: "a", Title: "Torch"},
			{AppID: "b", Title: "Flashlight, LED"},
			{AppID: "c", Title: "Lamp"},
		},
	}
	if err := store.SetJSON(context.Background(), e.results, fp, entry, time.Hour); err != nil {
		t.Fatal(err)
	}

	rec := e.get(t, "/search/download-csv?query=flashlight&countryCode=us")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/csv" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="flashlight_3152026.csv"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Errorf("rows = %d, want header + 3", len(rows))
	}
}

func TestDownloadCSV_PermissionsChangeTheFingerprint(t *testing.T) {
	e := newEnv(t)
	fp := model.SearchRequest{Term: "flashlight"}.Fingerprint()
	entry := model.ExportEntry{Fingerprint: fp, Kind: model.KindSearch, Apps: []model.App{{AppID: "a"}}}
	if err := store.SetJSON(context.Background(), e.results, fp, entry, time.Hour); err != nil {
		t.Fatal(err)
	}
	if rec := e.get(t, "/search/download-csv?query=flashlight&includePermissions=true"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDownloadCSV_Reviews(t *testing.T) {
	e := newEnv(t)
	fp := model.ReviewsRequest{AppID: "com.example"}.Fingerprint()
	entry := model.ExportEntry{Kind: model.KindReviews, Reviews: []model.Review{{ID: "r1"}, {ID: "r2"}}}
	if err := store.SetJSON(context.Background(), e.results, fp, entry, time.Hour); err != nil {
		t.Fatal(err)
	}
	rec := e.get(t, "/reviews/download-csv?appId=com.example")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "com.example_3152026.csv") {
		t.Errorf("Content-Disposition = %q", got)
	}
}

func TestSearchRelog(t *testing.T) {
	e := newEnv(t)
	fp := model.SearchRequest{Term: "flashlight"}.Fingerprint()
	if err := e.runs.Record(context.Background(), runlog.Entry{Fingerprint: fp, TotalCount: 42}); err != nil {
		t.Fatal(err)
	}

	rec := e.get(t, "/search/download-relog?query=flashlight")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="Reproducibility_Log_flashlight.txt"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	body := rec.Body.String()
	for _, want := range []string{"version: 1.2.3", "date_time: 2026-03-15T10:00:00Z", "country: us", "search_query: flashlight", "num_results: 42", "permissions: false"} {
		if !strings.Contains(body, want) {
			t.Errorf("relog missing %q:\n%s", want, body)
		}
	}

	explicit := e.get(t, "/search/download-relog?query=flashlight&totalCount=7").Body.String()
	if !strings.Contains(explicit, "num_results: 7") {
		t.Errorf("totalCount parameter ignored:\n%s", explicit)
	}
}

func TestSearchRelog_FallsBackToStoredResult(t *testing.T) {
	e := newEnv(t)
	fp := model.SearchRequest{Term: "torch"}.Fingerprint()
	entry := model.ExportEntry{Kind: model.KindSearch, Apps: []model.App{{AppID: "a"}, {AppID: "b"}}}
	if err := store.SetJSON(context.Background(), e.results, fp, entry, time.Hour); err != nil {
		t.Fatal(err)
	}
	body := e.get(t, "/search/download-relog?query=torch").Body.String()
	if !strings.Contains(body, "num_results: 2") {
		t.Errorf("relog = %s", body)
	}
}

func TestListRelog(t *testing.T) {
	e := newEnv(t)
	rec := e.get(t, "/list/download-relog?category=game&country=fr&totalCount=100&includePermissions=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"collection: TOP_FREE", "category: GAME", "country: fr", "num_results: 100", "permissions: true"} {
		if !strings.Contains(body, want) {
			t.Errorf("relog missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "search_query") {
		t.Errorf("top-list relog must not carry search_query:\n%s", body)
	}
}
