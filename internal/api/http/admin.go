package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rangekeeper/rangekeeper/internal/catalog"
	"github.com/rangekeeper/rangekeeper/internal/errors"
	"github.com/rangekeeper/rangekeeper/internal/lifecycle"
	"github.com/rangekeeper/rangekeeper/internal/manifest"
	"github.com/rangekeeper/rangekeeper/internal/observability"
	"github.com/rangekeeper/rangekeeper/internal/router"
	"github.com/rangekeeper/rangekeeper/pkg/types"
)

// AdminAPI exposes catalog inspection and mutation over HTTP.
type AdminAPI struct {
	catalog *catalog.Catalog
	router  *router.Router
	manager *lifecycle.Manager
	store   *manifest.Store
	stats   *observability.RouteStats
	keys    types.KeySpace
	unit    types.PeriodUnit
}

// NewAdminAPI creates the admin API. store may be nil when running without a
// manifest (in-memory only).
func NewAdminAPI(cat *catalog.Catalog, rtr *router.Router, mgr *lifecycle.Manager, store *manifest.Store, stats *observability.RouteStats, unit types.PeriodUnit) *AdminAPI {
	return &AdminAPI{
		catalog: cat,
		router:  rtr,
		manager: mgr,
		store:   store,
		stats:   stats,
		keys:    cat.KeySpace(),
		unit:    unit,
	}
}

// Routes returns a mux with all admin endpoints registered under the
// default middleware chain.
func (a *AdminAPI) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/partitions", a.handlePartitions)
	mux.HandleFunc("/v1/partitions/retire", a.handleRetire)
	mux.HandleFunc("/v1/route", a.handleRoute)
	mux.HandleFunc("/v1/boundaries", a.handleBoundaries)
	mux.HandleFunc("/v1/frontier", a.handleFrontier)
	mux.HandleFunc("/v1/retention", a.handleRetention)
	mux.HandleFunc("/v1/changes", a.handleChanges)
	mux.HandleFunc("/v1/stats", a.handleStats)
	mux.HandleFunc("/healthz", a.handleHealth)
	return DefaultMiddleware()(mux)
}

// PartitionJSON is the wire form of a partition descriptor.
type PartitionJSON struct {
	Name        string `json:"name"`
	Lower       string `json:"lower"`
	Upper       string `json:"upper,omitempty"`
	Overflow    bool   `json:"overflow"`
	RowEstimate int64  `json:"row_estimate"`
}

// PartitionsResponse is the response for GET /v1/partitions.
type PartitionsResponse struct {
	Partitions  []PartitionJSON `json:"partitions"`
	Retired     []string        `json:"retired"`
	Seq         uint64          `json:"seq"`
	Fingerprint string          `json:"fingerprint"`
	RequestID   string          `json:"request_id"`
}

// handlePartitions handles GET /v1/partitions.
func (a *AdminAPI) handlePartitions(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	snap := a.catalog.Snapshot()
	resp := PartitionsResponse{
		Partitions:  a.encodeDescriptors(snap.Descriptors()),
		Retired:     a.catalog.Retired(),
		Seq:         snap.Seq(),
		Fingerprint: fmt.Sprintf("%016x", snap.Fingerprint()),
		RequestID:   requestID,
	}
	if resp.Retired == nil {
		resp.Retired = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// RouteRequest selects partitions for a point or range predicate. Exactly
// one of Point or Lower/Upper should be set; Lower and Upper may each be
// empty for an unbounded side.
type RouteRequest struct {
	Point string `json:"point,omitempty"`
	Lower string `json:"lower,omitempty"`
	Upper string `json:"upper,omitempty"`
}

// RouteResponse is the response for POST /v1/route.
type RouteResponse struct {
	Partitions []PartitionJSON `json:"partitions"`
	Scanned    int             `json:"scanned"`
	RequestID  string          `json:"request_id"`
}

// handleRoute handles POST /v1/route.
func (a *AdminAPI) handleRoute(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	pred, err := a.buildPredicate(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	snap := a.catalog.Snapshot()
	descs, err := a.router.RouteDescriptors(pred, snap)
	if err != nil {
		writeError(w, statusForError(err), err.Error(), requestID)
		return
	}

	writeJSON(w, http.StatusOK, RouteResponse{
		Partitions: a.encodeDescriptors(descs),
		Scanned:    snap.Len(),
		RequestID:  requestID,
	})
}

func (a *AdminAPI) buildPredicate(req RouteRequest) (types.Predicate, error) {
	if req.Point != "" {
		if req.Lower != "" || req.Upper != "" {
			return types.Predicate{}, fmt.Errorf("point and lower/upper are mutually exclusive")
		}
		key, err := a.keys.Decode(req.Point)
		if err != nil {
			return types.Predicate{}, fmt.Errorf("invalid point key: %v", err)
		}
		return types.Point(key), nil
	}

	var lower, upper types.KeyValue
	if req.Lower != "" {
		k, err := a.keys.Decode(req.Lower)
		if err != nil {
			return types.Predicate{}, fmt.Errorf("invalid lower key: %v", err)
		}
		lower = k
	}
	if req.Upper != "" {
		k, err := a.keys.Decode(req.Upper)
		if err != nil {
			return types.Predicate{}, fmt.Errorf("invalid upper key: %v", err)
		}
		upper = k
	}
	return types.Range(lower, upper), nil
}

// BoundaryRequest adds a partition boundary.
type BoundaryRequest struct {
	Boundary string `json:"boundary"`
	Name     string `json:"name"`
}

// handleBoundaries handles POST /v1/boundaries.
func (a *AdminAPI) handleBoundaries(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req BoundaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if req.Boundary == "" {
		writeError(w, http.StatusBadRequest, "boundary is required", requestID)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", requestID)
		return
	}

	boundary, err := a.keys.Decode(req.Boundary)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid boundary key: %v", err), requestID)
		return
	}

	if err := a.manager.AddBoundary(r.Context(), boundary, req.Name); err != nil {
		writeError(w, statusForError(err), err.Error(), requestID)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"name":       req.Name,
		"seq":        a.catalog.Snapshot().Seq(),
		"request_id": requestID,
	})
}

// RetireRequest retires a bounded partition by name.
type RetireRequest struct {
	Name string `json:"name"`
}

// handleRetire handles POST /v1/partitions/retire.
func (a *AdminAPI) handleRetire(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req RetireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", requestID)
		return
	}

	if err := a.manager.Retire(r.Context(), req.Name); err != nil {
		writeError(w, statusForError(err), err.Error(), requestID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":       req.Name,
		"seq":        a.catalog.Snapshot().Seq(),
		"request_id": requestID,
	})
}

// FrontierRequest triggers frontier advancement. CurrentPeriodStart defaults
// to the current period; Lookahead defaults to 0.
type FrontierRequest struct {
	CurrentPeriodStart string `json:"current_period_start,omitempty"`
	LookaheadPeriods   int    `json:"lookahead_periods"`
}

// handleFrontier handles POST /v1/frontier.
func (a *AdminAPI) handleFrontier(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req FrontierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	var start types.KeyValue
	if req.CurrentPeriodStart != "" {
		k, err := a.keys.Decode(req.CurrentPeriodStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid current_period_start: %v", err), requestID)
			return
		}
		start = k
	} else {
		start = types.NewTimeKeySpace().TruncatePeriod(time.Now().UTC(), a.unit)
	}

	created, err := a.manager.EnsureFrontier(r.Context(), start, req.LookaheadPeriods)
	if err != nil {
		writeError(w, statusForError(err), err.Error(), requestID)
		return
	}
	if created == nil {
		created = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"created":    created,
		"seq":        a.catalog.Snapshot().Seq(),
		"request_id": requestID,
	})
}

// RetentionRequest applies a retention policy. Now defaults to the current
// time when omitted.
type RetentionRequest struct {
	HorizonUnits int              `json:"horizon_units"`
	Unit         types.PeriodUnit `json:"unit"`
	Now          string           `json:"now,omitempty"`
}

// handleRetention handles POST /v1/retention.
func (a *AdminAPI) handleRetention(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req RetentionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	var now types.KeyValue
	if req.Now != "" {
		k, err := a.keys.Decode(req.Now)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid now key: %v", err), requestID)
			return
		}
		now = k
	} else {
		now = time.Now().UTC()
	}

	policy := types.RetentionPolicy{Horizon: req.HorizonUnits, Unit: req.Unit}
	retired, err := a.manager.ApplyRetention(r.Context(), now, policy)
	if err != nil {
		writeError(w, statusForError(err), err.Error(), requestID)
		return
	}
	if retired == nil {
		retired = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"retired":    retired,
		"seq":        a.catalog.Snapshot().Seq(),
		"request_id": requestID,
	})
}

// ChangeJSON is the wire form of a persisted change event.
type ChangeJSON struct {
	ChangeID    string                      `json:"change_id"`
	Seq         uint64                      `json:"seq"`
	Kind        catalog.ChangeKind          `json:"kind"`
	Partition   string                      `json:"partition"`
	Before      []manifest.DescriptorRecord `json:"before"`
	After       []manifest.DescriptorRecord `json:"after"`
	Fingerprint string                      `json:"fingerprint"`
	CreatedAt   time.Time                   `json:"created_at"`
}

// handleChanges handles GET /v1/changes?since=N&limit=N.
func (a *AdminAPI) handleChanges(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	if a.store == nil {
		writeError(w, http.StatusNotFound, "change log not available (no manifest configured)", requestID)
		return
	}

	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid since: %v", err), requestID)
			return
		}
		since = n
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", requestID)
			return
		}
		limit = n
	}

	records, err := a.store.ListChanges(r.Context(), since, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), requestID)
		return
	}

	changes := make([]ChangeJSON, 0, len(records))
	for _, rec := range records {
		changes = append(changes, ChangeJSON{
			ChangeID:    rec.ChangeID,
			Seq:         rec.Seq,
			Kind:        rec.Kind,
			Partition:   rec.Partition,
			Before:      rec.Before,
			After:       rec.After,
			Fingerprint: fmt.Sprintf("%016x", rec.Fingerprint),
			CreatedAt:   rec.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"changes":    changes,
		"request_id": requestID,
	})
}

// StatsResponse is the response for GET /v1/stats.
type StatsResponse struct {
	Partitions  int                       `json:"partitions"`
	Retired     int                       `json:"retired"`
	Seq         uint64                    `json:"seq"`
	TotalRoutes int64                     `json:"total_routes"`
	ByKind      []observability.KindStats `json:"by_kind"`
	RequestID   string                    `json:"request_id"`
}

// handleStats handles GET /v1/stats.
func (a *AdminAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	snap := a.catalog.Snapshot()
	resp := StatsResponse{
		Partitions:  snap.Len(),
		Retired:     len(a.catalog.Retired()),
		Seq:         snap.Seq(),
		TotalRoutes: a.stats.TotalRoutes(),
		ByKind:      a.stats.Snapshot(),
		RequestID:   requestID,
	}
	if resp.ByKind == nil {
		resp.ByKind = []observability.KindStats{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /healthz.
func (a *AdminAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *AdminAPI) encodeDescriptors(descs []catalog.Descriptor) []PartitionJSON {
	out := make([]PartitionJSON, 0, len(descs))
	for _, d := range descs {
		p := PartitionJSON{
			Name:        d.Name,
			Overflow:    d.IsOverflow(),
			RowEstimate: d.RowCountEstimate,
		}
		if s, err := a.keys.Encode(d.Lower); err == nil {
			p.Lower = s
		}
		if d.Upper != nil {
			if s, err := a.keys.Encode(d.Upper); err == nil {
				p.Upper = s
			}
		}
		out = append(out, p)
	}
	return out
}

// statusForError maps catalog and routing error codes to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.HasCode(err, errors.CodePartitionNotFound):
		return http.StatusNotFound
	case errors.HasCode(err, errors.CodeDuplicateBoundary),
		errors.HasCode(err, errors.CodeDuplicateName),
		errors.HasCode(err, errors.CodeNonMonotonicBoundary),
		errors.HasCode(err, errors.CodeCannotRetireOverflow):
		return http.StatusConflict
	case errors.GetCategory(err) == errors.ErrCategoryValidation,
		errors.HasCode(err, errors.CodeInvalidPredicate),
		errors.HasCode(err, errors.CodeInvalidKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
