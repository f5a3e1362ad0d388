/*
handlers.go - HTTP API handlers for the series scheduler

PURPOSE:
  Exposes the scheduler via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the series package.

ENDPOINTS:
  Series:
    GET    /api/series                      List all series
    POST   /api/series                      Create series + initial materialization
    POST   /api/series/preview              Dry-run count and dates
    POST   /api/series/from-extraction      Extraction bag -> candidate + preview
    GET    /api/series/{id}                 Get series
    PUT    /api/series/{id}                 Edit whole series
    DELETE /api/series/{id}                 Delete series (?delete_records=true)
    GET    /api/series/{id}/records         Records of a series
    POST   /api/series/{id}/materialize     Materialize one year (?year=)

  Records:
    GET    /api/records                     Records dated in a year (?year=)
    POST   /api/records                     Create standalone record
    PUT    /api/records/{id}                Edit one record (detaches it)
    DELETE /api/records/{id}                Delete one record

  Years:
    GET    /api/years                       Year index
    POST   /api/years/{year}/extend         Extend open-ended series into year
    DELETE /api/years/{year}                Delete every record of year

REQUEST FLOW:
  1. Parse HTTP request
  2. Convert through the factory (validation happens in the domain types)
  3. Call Registry / Mutator
  4. Publish the lifecycle event (failures are logged, never returned)
  5. Serialize response

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid rule, invalid input
  - 404: Series or record not found
  - 409: Series id taken, duplicate occurrence, number conflict
  - 502: Record store kept failing; body carries partial counts
  - 500: Internal errors
  An incomplete regeneration is not an error: PUT answers 200 with a warning.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/warp/series-engine/events"
	"github.com/warp/series-engine/factory"
	"github.com/warp/series-engine/generic"
	"github.com/warp/series-engine/series"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Registry *series.Registry
	Mutator  *series.Mutator
	Records  generic.RecordStore
	Years    generic.YearIndex
	Factory  *factory.RuleFactory
	Events   events.Publisher
	Log      *logrus.Logger
	Now      generic.Clock
}

// NewHandler wires a handler over one store.
func NewHandler(store generic.Store, registry *series.Registry, mutator *series.Mutator, pub events.Publisher, log *logrus.Logger, now generic.Clock) *Handler {
	if pub == nil {
		pub = events.Nop{}
	}
	if now == nil {
		now = generic.SystemClock
	}
	return &Handler{
		Registry: registry,
		Mutator:  mutator,
		Records:  store,
		Years:    store,
		Factory:  factory.NewRuleFactory(),
		Events:   pub,
		Log:      log,
		Now:      now,
	}
}

// =============================================================================
// SERIES HANDLERS
// =============================================================================

// ListSeries returns all series.
func (h *Handler) ListSeries(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Registry.List(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list series", err)
		return
	}
	out := make([]factory.RuleJSON, 0, len(rules))
	for _, rule := range rules {
		out = append(out, h.Factory.ToJSON(rule))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateSeries validates, persists and materializes a new series.
func (h *Handler) CreateSeries(w http.ResponseWriter, r *http.Request) {
	var req factory.RuleJSON
	if !decode(w, r, &req) {
		return
	}
	rule, err := h.Factory.FromJSON(req)
	if err != nil {
		h.fail(w, r, "Invalid series", err)
		return
	}

	stored, results, err := h.Registry.Schedule(r.Context(), rule)
	expected, created := sumCreated(results)
	if err != nil {
		if stored.ID != "" && errors.Is(err, generic.ErrMaterializationFailed) {
			h.publish(r.Context(), events.New(events.SeriesCreated, string(stored.ID), 0, created))
			writeJSON(w, http.StatusBadGateway, ErrorResponse{
				Error:    "Series saved but materialization failed",
				Details:  err.Error(),
				SeriesID: string(stored.ID),
				Expected: expected,
				Created:  created,
			})
			return
		}
		h.fail(w, r, "Failed to create series", err)
		return
	}

	h.publish(r.Context(), events.New(events.SeriesCreated, string(stored.ID), 0, created))
	writeJSON(w, http.StatusCreated, ScheduleResponse{
		Series:  h.Factory.ToJSON(stored),
		Years:   toYearResultDTOs(results),
		Created: created,
	})
}

// PreviewSeries counts the occurrences of a candidate schedule without
// persisting anything.
func (h *Handler) PreviewSeries(w http.ResponseWriter, r *http.Request) {
	var req factory.ScheduleJSON
	if !decode(w, r, &req) {
		return
	}
	schedule, err := h.Factory.ParseSchedule(req)
	if err != nil {
		h.fail(w, r, "Invalid schedule", err)
		return
	}
	preview, err := generic.Preview(schedule, h.Now())
	if err != nil {
		h.fail(w, r, "Invalid schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewDTO(preview))
}

// SeriesFromExtraction turns a loosely-typed extraction bag into a
// candidate series and previews it.
func (h *Handler) SeriesFromExtraction(w http.ResponseWriter, r *http.Request) {
	var bag map[string]any
	if !decode(w, r, &bag) {
		return
	}
	rule, err := h.Factory.FromExtraction(bag)
	if err != nil {
		h.fail(w, r, "Extraction does not describe a valid series", err)
		return
	}
	preview, err := generic.Preview(rule.Schedule, h.Now())
	if err != nil {
		h.fail(w, r, "Extraction does not describe a valid series", err)
		return
	}
	writeJSON(w, http.StatusOK, ExtractionResponse{
		Candidate: h.Factory.ToJSON(rule),
		Preview:   toPreviewDTO(preview),
	})
}

// GetSeries returns one series.
func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Registry.Get(r.Context(), seriesID(r))
	if err != nil {
		h.fail(w, r, "Failed to get series", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Factory.ToJSON(rule))
}

// UpdateSeries edits the template and/or schedule of a whole series.
func (h *Handler) UpdateSeries(w http.ResponseWriter, r *http.Request) {
	var req UpdateSeriesRequest
	if !decode(w, r, &req) {
		return
	}

	var upd series.SeriesUpdate
	if req.Template != nil {
		fields := h.Factory.ParseFields(*req.Template)
		upd.Template = &fields
	}
	if req.Schedule != nil {
		schedule, err := h.Factory.ParseSchedule(*req.Schedule)
		if err != nil {
			h.fail(w, r, "Invalid schedule", err)
			return
		}
		upd.Schedule = &schedule
	}
	if req.ContractRef != nil {
		ref := strings.TrimSpace(*req.ContractRef)
		upd.ContractRef = &ref
	}

	res, err := h.Mutator.EditSeries(r.Context(), seriesID(r), upd)
	resp := EditResponse{
		Series:      h.Factory.ToJSON(res.Rule),
		Regenerated: res.Regenerated,
		Updated:     res.Updated,
		Deleted:     res.Deleted,
		Expected:    res.Expected,
		Created:     res.Created,
	}

	var incomplete *generic.RegenerationIncompleteError
	switch {
	case errors.As(err, &incomplete):
		resp.Warning = incomplete.Error()
		h.Log.WithFields(logrus.Fields{
			"series_id": incomplete.RuleID,
			"expected":  incomplete.Expected,
			"created":   incomplete.Created,
		}).Warn("series regenerated with missing records")
	case err != nil:
		h.fail(w, r, "Failed to update series", err)
		return
	}

	evType := events.SeriesUpdated
	count := res.Updated
	if res.Regenerated {
		evType, count = events.SeriesRegenerated, res.Created
	}
	ev := events.New(evType, string(res.Rule.ID), 0, count)
	ev.Warning = resp.Warning
	h.publish(r.Context(), ev)

	writeJSON(w, http.StatusOK, resp)
}

// DeleteSeries deletes a series. Its records are deleted with
// ?delete_records=true and detached otherwise.
func (h *Handler) DeleteSeries(w http.ResponseWriter, r *http.Request) {
	deleteRecords := false
	if v := r.URL.Query().Get("delete_records"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid delete_records", err)
			return
		}
		deleteRecords = b
	}

	id := seriesID(r)
	n, err := h.Mutator.DeleteSeries(r.Context(), id, deleteRecords)
	if err != nil {
		h.fail(w, r, "Failed to delete series", err)
		return
	}
	h.publish(r.Context(), events.New(events.SeriesDeleted, string(id), 0, n))
	writeJSON(w, http.StatusOK, DeleteSeriesResponse{ID: string(id), RecordsDeleted: deleteRecords, Count: n})
}

// GetSeriesRecords returns the records still linked to a series.
func (h *Handler) GetSeriesRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Registry.RecordsOf(r.Context(), seriesID(r))
	if err != nil {
		h.fail(w, r, "Failed to list records", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(h.Factory, recs))
}

// MaterializeSeries materializes one year of a series. Re-running it for a
// materialized year creates nothing.
func (h *Handler) MaterializeSeries(w http.ResponseWriter, r *http.Request) {
	year, err := queryYear(r, h.Now.CurrentYear())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	res, err := h.Registry.MaterializeYear(r.Context(), seriesID(r), year)
	if err != nil {
		h.fail(w, r, "Failed to materialize series", err)
		return
	}
	writeJSON(w, http.StatusOK, toYearResultDTOs([]series.Result{res})[0])
}

// =============================================================================
// RECORD HANDLERS
// =============================================================================

// ListRecords returns every record dated in ?year= (default current year).
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	year, err := queryYear(r, h.Now.CurrentYear())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	recs, err := h.Records.ListRange(r.Context(), generic.YearPeriod(year))
	if err != nil {
		h.fail(w, r, "Failed to list records", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(h.Factory, recs))
}

// CreateRecord creates a standalone record.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req CreateRecordRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	rec := generic.Record{
		Kind:   generic.Kind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Date:   date,
		Fields: h.Factory.ParseFields(req.Fields),
	}
	if err := rec.Validate(); err != nil {
		h.fail(w, r, "Invalid record", err)
		return
	}
	created, err := h.Records.CreateRecord(r.Context(), rec)
	if err != nil {
		h.fail(w, r, "Failed to create record", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(h.Factory, created))
}

// UpdateRecord edits one record. The record leaves its series.
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	var req UpdateRecordRequest
	if !decode(w, r, &req) {
		return
	}
	var patch generic.RecordPatch
	if req.Date != nil {
		date, err := generic.ParseDate(*req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		patch.Date = &date
	}
	if req.Fields != nil {
		fields := h.Factory.ParseFields(*req.Fields)
		patch.Fields = &fields
	}

	rec, err := h.Mutator.EditOne(r.Context(), recordID(r), patch)
	if err != nil {
		h.fail(w, r, "Failed to update record", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(h.Factory, rec))
}

// DeleteRecord deletes one record.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.Mutator.DeleteOne(r.Context(), recordID(r)); err != nil {
		h.fail(w, r, "Failed to delete record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// YEAR HANDLERS
// =============================================================================

// ListYears returns the year index.
func (h *Handler) ListYears(w http.ResponseWriter, r *http.Request) {
	years, err := h.Years.Years(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to read year index", err)
		return
	}
	writeJSON(w, http.StatusOK, YearsDTO{Years: years, CurrentYear: h.Now.CurrentYear()})
}

// ExtendYear materializes a year for every open-ended series behind it.
func (h *Handler) ExtendYear(w http.ResponseWriter, r *http.Request) {
	year, err := pathYear(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}

	res, err := h.Mutator.ExtendYear(r.Context(), year)
	expected, created := sumCreated(res.Results)
	if err != nil {
		if errors.Is(err, generic.ErrMaterializationFailed) {
			h.publish(r.Context(), events.New(events.YearExtended, "", year, created))
			writeJSON(w, http.StatusBadGateway, ErrorResponse{
				Error:    fmt.Sprintf("Year %d extended with failures", year),
				Details:  err.Error(),
				Expected: expected,
				Created:  created,
			})
			return
		}
		h.fail(w, r, "Failed to extend year", err)
		return
	}

	h.publish(r.Context(), events.New(events.YearExtended, "", year, created))
	writeJSON(w, http.StatusOK, ExtendYearResponse{
		Year:    year,
		Series:  len(res.Results),
		Created: created,
		Results: toYearResultDTOs(res.Results),
	})
}

// DeleteYear deletes every record dated in a year.
func (h *Handler) DeleteYear(w http.ResponseWriter, r *http.Request) {
	year, err := pathYear(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	res, err := h.Mutator.DeleteYear(r.Context(), year)
	if err != nil {
		h.fail(w, r, "Failed to delete year", err)
		return
	}
	h.publish(r.Context(), events.New(events.YearDeleted, "", year, res.Deleted))
	writeJSON(w, http.StatusOK, DeleteYearResponse{
		Year:             res.Year,
		Deleted:          res.Deleted,
		RemovedFromIndex: res.RemovedFromIndex,
	})
}

// =============================================================================
// HEALTH
// =============================================================================

// pinger is implemented by stores with a connection to check.
type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness, and store reachability when the store can be pinged.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Records.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.Log.WithError(err).Warn("health check failed")
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func seriesID(r *http.Request) generic.RuleID {
	return generic.RuleID(chi.URLParam(r, "id"))
}

func recordID(r *http.Request) generic.RecordID {
	return generic.RecordID(chi.URLParam(r, "id"))
}

func pathYear(r *http.Request) (int, error) {
	return parseYear(chi.URLParam(r, "year"))
}

func queryYear(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("year")
	if v == "" {
		return def, nil
	}
	return parseYear(v)
}

func parseYear(s string) (int, error) {
	year, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("year %q is not a number", s)
	}
	if year < 1 || year > 9999 {
		return 0, fmt.Errorf("year %d out of range", year)
	}
	return year, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// publish is fire-and-forget from the caller's point of view.
func (h *Handler) publish(ctx context.Context, ev events.Event) {
	if err := h.Events.Publish(ctx, ev); err != nil {
		h.Log.WithFields(logrus.Fields{
			"event":     ev.Type,
			"series_id": ev.SeriesID,
			"year":      ev.Year,
		}).WithError(err).Warn("event publish failed")
	}
}

// fail maps domain errors to HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).WithError(err).Error(message)
	}

	resp := ErrorResponse{Error: message, Details: err.Error()}
	var mErr *generic.MaterializationError
	if errors.As(err, &mErr) {
		resp.SeriesID = string(mErr.RuleID)
		resp.Expected = mErr.Expected
		resp.Created = mErr.Created
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrRuleExists),
		errors.Is(err, generic.ErrDuplicateOccurrence),
		errors.Is(err, generic.ErrNumberConflict):
		return http.StatusConflict
	case errors.Is(err, generic.ErrMaterializationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
