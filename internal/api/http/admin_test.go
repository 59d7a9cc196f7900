package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rangekeeper/rangekeeper/internal/catalog"
	"github.com/rangekeeper/rangekeeper/internal/lifecycle"
	"github.com/rangekeeper/rangekeeper/internal/observability"
	"github.com/rangekeeper/rangekeeper/internal/router"
	"github.com/rangekeeper/rangekeeper/pkg/types"
)

// newTestAPI builds an admin API over an in-memory catalog covering
// January through March 2023 plus the overflow partition. No manifest
// store is attached.
func newTestAPI(t *testing.T) (*AdminAPI, *catalog.Catalog) {
	t.Helper()

	ks := types.NewTimeKeySpace()
	origin := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	cat, err := catalog.New(ks, origin, "p_overflow")
	if err != nil {
		t.Fatalf("catalog.New failed: %v", err)
	}
	for m := 1; m <= 3; m++ {
		boundary := time.Date(2023, time.Month(m+1), 1, 0, 0, 0, 0, time.UTC)
		name := fmt.Sprintf("p_2023_%02d", m)
		if _, err := cat.AddBoundary(boundary, name); err != nil {
			t.Fatalf("AddBoundary(%s) failed: %v", name, err)
		}
	}

	stats := observability.NewRouteStats()
	rtr := router.New(ks, stats)
	mgr, err := lifecycle.New(cat, types.UnitMonth, nil)
	if err != nil {
		t.Fatalf("lifecycle.New failed: %v", err)
	}
	return NewAdminAPI(cat, rtr, mgr, nil, stats, types.UnitMonth), cat
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestListPartitions(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Routes()

	rec := doJSON(t, handler, http.MethodGet, "/v1/partitions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	var resp PartitionsResponse
	decodeBody(t, rec, &resp)

	if len(resp.Partitions) != 4 {
		t.Fatalf("got %d partitions, want 4", len(resp.Partitions))
	}
	if resp.Partitions[0].Name != "p_2023_01" {
		t.Errorf("first partition = %s", resp.Partitions[0].Name)
	}
	last := resp.Partitions[3]
	if last.Name != "p_overflow" || !last.Overflow || last.Upper != "" {
		t.Errorf("overflow descriptor wrong: %+v", last)
	}
	if resp.Retired == nil || len(resp.Retired) != 0 {
		t.Errorf("retired = %v, want empty list", resp.Retired)
	}
	if resp.Seq != 3 {
		t.Errorf("seq = %d, want 3", resp.Seq)
	}
	if len(resp.Fingerprint) != 16 {
		t.Errorf("fingerprint = %q, want 16 hex chars", resp.Fingerprint)
	}
}

func TestRoutePointOverHTTP(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Routes()

	rec := doJSON(t, handler, http.MethodPost, "/v1/route", RouteRequest{Point: "2023-02-15"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp RouteResponse
	decodeBody(t, rec, &resp)
	if len(resp.Partitions) != 1 || resp.Partitions[0].Name != "p_2023_02" {
		t.Errorf("partitions = %+v", resp.Partitions)
	}
	if resp.Scanned != 4 {
		t.Errorf("scanned = %d, want 4", resp.Scanned)
	}
}

func TestRouteRangeOverHTTP(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Routes()

	rec := doJSON(t, handler, http.MethodPost, "/v1/route", RouteRequest{
		Lower: "2023-02-15",
		Upper: "2023-03-10",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp RouteResponse
	decodeBody(t, rec, &resp)
	got := make([]string, 0, len(resp.Partitions))
	for _, p := range resp.Partitions {
		got = append(got, p.Name)
	}
	want := []string{"p_2023_02", "p_2023_03"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("partitions = %v, want %v", got, want)
	}
}

func TestRouteBadRequests(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Routes()

	cases := []struct {
		name string
		req  RouteRequest
	}{
		{"point and range together", RouteRequest{Point: "2023-02-15", Lower: "2023-01-01"}},
		{"malformed point", RouteRequest{Point: "not-a-date"}},
		{"malformed lower", RouteRequest{Lower: "not-a-date"}},
		{"inverted range", RouteRequest{Lower: "2023-03-01", Upper: "2023-01-01"}},
	}
	for _, tc := range cases {
		rec := doJSON(t, handler, http.MethodPost, "/v1/route", tc.req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400 (body %s)", tc.name, rec.Code, rec.Body.String())
		}
	}
}

func TestAddBoundaryOverHTTP(t *testing.T) {
	api, cat := newTestAPI(t)
	handler := api.Routes()

	rec := doJSON(t, handler, http.MethodPost, "/v1/boundaries", BoundaryRequest{
		Boundary: "2023-05-01",
		Name:     "p_2023_04",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if cat.Snapshot().Len() != 5 {
		t.Errorf("catalog has %d partitions, want 5", cat.Snapshot().Len())
	}

	// Duplicate boundary conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/v1/boundaries", BoundaryRequest{
		Boundary: "2023-05-01",
		Name:     "p_dup",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate boundary: status = %d, want 409", rec.Code)
	}

	// Boundary below the frontier conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/v1/boundaries", BoundaryRequest{
		Boundary: "2023-02-01",
		Name:     "p_backfill",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("non-monotonic boundary: status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/boundaries", BoundaryRequest{Boundary: "2023-06-01"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name: status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/v1/boundaries", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: status = %d, want 405", rec.Code)
	}
}

func TestRetireOverHTTP(t *testing.T) {
	api, cat := newTestAPI(t)
	handler := api.Routes()

	rec := doJSON(t, handler, http.MethodPost, "/v1/partitions/retire", RetireRequest{Name: "p_2023_01"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	retired := cat.Retired()
	if len(retired) != 1 || retired[0] != "p_2023_01" {
		t.Errorf("retired = %v", retired)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/partitions/retire", RetireRequest{Name: "p_unknown"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown partition: status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/partitions/retire", RetireRequest{Name: "p_overflow"})
	if rec.Code != http.StatusConflict {
		t.Errorf("overflow retire: status = %d, want 409", rec.Code)
	}
}

func TestFrontierOverHTTP(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Routes()

	rec := doJSON(t, handler, http.MethodPost, "/v1/frontier", FrontierRequest{
		CurrentPeriodStart: "2023-05-01",
		LookaheadPeriods:   1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Created []string `json:"created"`
	}
	decodeBody(t, rec, &resp)
	want := []string{"p_2023_04", "p_2023_05"}
	if len(resp.Created) != len(want) {
		t.Fatalf("created = %v, want %v", resp.Created, want)
	}
	for i := range want {
		if resp.Created[i] != want[i] {
			t.Errorf("created[%d] = %s, want %s", i, resp.Created[i], want[i])
		}
	}

	// Re-running the same advancement creates nothing.
	rec = doJSON(t, handler, http.MethodPost, "/v1/frontier", FrontierRequest{
		CurrentPeriodStart: "2023-05-01",
		LookaheadPeriods:   1,
	})
	decodeBody(t, rec, &resp)
	if len(resp.Created) != 0 {
		t.Errorf("second run created %v, want none", resp.Created)
	}
}

func TestRetentionOverHTTP(t *testing.T) {
	api, cat := newTestAPI(t)
	handler := api.Routes()

	rec := doJSON(t, handler, http.MethodPost, "/v1/retention", RetentionRequest{
		HorizonUnits: 1,
		Unit:         types.UnitMonth,
		Now:          "2023-03-15",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Retired []string `json:"retired"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Retired) != 1 || resp.Retired[0] != "p_2023_01" {
		t.Errorf("retired = %v, want [p_2023_01]", resp.Retired)
	}
	if got := cat.Retired(); len(got) != 1 {
		t.Errorf("catalog retired = %v", got)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/retention", RetentionRequest{
		HorizonUnits: 0,
		Unit:         types.UnitMonth,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid policy: status = %d, want 400", rec.Code)
	}
}

func TestChangesWithoutStore(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Routes()

	rec := doJSON(t, handler, http.MethodGet, "/v1/changes", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStatsOverHTTP(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Routes()

	for i := 0; i < 3; i++ {
		doJSON(t, handler, http.MethodPost, "/v1/route", RouteRequest{Point: "2023-02-15"})
	}

	rec := doJSON(t, handler, http.MethodGet, "/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp StatsResponse
	decodeBody(t, rec, &resp)
	if resp.Partitions != 4 || resp.Seq != 3 {
		t.Errorf("partitions = %d seq = %d", resp.Partitions, resp.Seq)
	}
	if resp.TotalRoutes != 3 {
		t.Errorf("total routes = %d, want 3", resp.TotalRoutes)
	}
	if len(resp.ByKind) == 0 {
		t.Error("expected per-kind stats")
	}
}

func TestHealthz(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Routes()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status field = %q", resp["status"])
	}
}

func TestRequestIDPropagation(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Routes()

	req := httptest.NewRequest(http.MethodGet, "/v1/partitions", nil)
	req.Header.Set("X-Request-ID", "test-req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "test-req-42" {
		t.Errorf("X-Request-ID = %q, want test-req-42", got)
	}
	var resp PartitionsResponse
	decodeBody(t, rec, &resp)
	if resp.RequestID != "test-req-42" {
		t.Errorf("body request_id = %q", resp.RequestID)
	}
}
