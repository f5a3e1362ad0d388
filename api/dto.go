/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Series reuse the
  factory's RuleJSON so the stored and the transported form never drift;
  records, previews and per-year outcomes have their own wire types here.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Series:
    RuleJSON (factory), UpdateSeriesRequest, ScheduleResponse, EditResponse

  Records:
    RecordDTO, CreateRecordRequest, UpdateRecordRequest

  Years:
    YearResultDTO, ExtendYearResponse, DeleteYearResponse

VALIDATION:
  Validation is done by the domain types, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON, ScheduleJSON, FieldsJSON
*/
package api

import (
	"time"

	"github.com/warp/series-engine/factory"
	"github.com/warp/series-engine/generic"
	"github.com/warp/series-engine/series"
)

// =============================================================================
// SERIES
// =============================================================================

// UpdateSeriesRequest is the body of PUT /api/series/{id}. Omitted parts
// are kept; a schedule different from the current one regenerates the series.
type UpdateSeriesRequest struct {
	Template    *factory.FieldsJSON   `json:"template,omitempty"`
	Schedule    *factory.ScheduleJSON `json:"schedule,omitempty"`
	ContractRef *string               `json:"contract_ref,omitempty"`
}

// YearResultDTO is one year of a materialization.
type YearResultDTO struct {
	Year     int  `json:"year"`
	Expected int  `json:"expected"`
	Created  int  `json:"created"`
	Skipped  int  `json:"skipped"`
	Complete bool `json:"complete"`
}

// ScheduleResponse is returned when a series is created.
type ScheduleResponse struct {
	Series  factory.RuleJSON `json:"series"`
	Years   []YearResultDTO  `json:"years"`
	Created int              `json:"created"`
}

// EditResponse is returned by PUT /api/series/{id}.
type EditResponse struct {
	Series      factory.RuleJSON `json:"series"`
	Regenerated bool             `json:"regenerated"`
	Updated     int              `json:"updated"`
	Deleted     int              `json:"deleted"`
	Expected    int              `json:"expected"`
	Created     int              `json:"created"`
	Warning     string           `json:"warning,omitempty"`
}

// DeleteSeriesResponse reports how many records were deleted or detached.
type DeleteSeriesResponse struct {
	ID             string `json:"id"`
	RecordsDeleted bool   `json:"records_deleted"`
	Count          int    `json:"count"`
}

// PreviewDTO is the dry-run result for a candidate schedule.
type PreviewDTO struct {
	Count int      `json:"count"`
	Dates []string `json:"dates"`
	Until string   `json:"until"`
}

// ExtractionResponse pairs the candidate rule built from an extraction
// with its preview. Nothing is persisted.
type ExtractionResponse struct {
	Candidate factory.RuleJSON `json:"candidate"`
	Preview   PreviewDTO       `json:"preview"`
}

// =============================================================================
// RECORDS
// =============================================================================

// RecordDTO represents a record in API responses.
type RecordDTO struct {
	ID        string             `json:"id"`
	Kind      string             `json:"kind"`
	Date      string             `json:"date"`
	Number    string             `json:"number,omitempty"`
	SeriesID  *string            `json:"series_id"`
	Fields    factory.FieldsJSON `json:"fields"`
	CreatedAt string             `json:"created_at,omitempty"`
	UpdatedAt string             `json:"updated_at,omitempty"`
}

// CreateRecordRequest creates a standalone record.
type CreateRecordRequest struct {
	Kind   string             `json:"kind"`
	Date   string             `json:"date"`
	Fields factory.FieldsJSON `json:"fields"`
}

// UpdateRecordRequest edits one record and detaches it from its series.
type UpdateRecordRequest struct {
	Date   *string             `json:"date,omitempty"`
	Fields *factory.FieldsJSON `json:"fields,omitempty"`
}

// =============================================================================
// YEARS
// =============================================================================

// YearsDTO is the year index.
type YearsDTO struct {
	Years       []int `json:"years"`
	CurrentYear int   `json:"current_year"`
}

// ExtendYearResponse is returned by POST /api/years/{year}/extend.
type ExtendYearResponse struct {
	Year    int             `json:"year"`
	Series  int             `json:"series"`
	Created int             `json:"created"`
	Results []YearResultDTO `json:"results"`
}

// DeleteYearResponse is returned by DELETE /api/years/{year}.
type DeleteYearResponse struct {
	Year             int  `json:"year"`
	Deleted          int  `json:"deleted"`
	RemovedFromIndex bool `json:"removed_from_index"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is returned for API errors. Expected and Created are set
// when a materialization stopped part way.
type ErrorResponse struct {
	Error    string `json:"error"`
	Details  string `json:"details,omitempty"`
	SeriesID string `json:"series_id,omitempty"`
	Expected int    `json:"expected,omitempty"`
	Created  int    `json:"created,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toRecordDTO(f *factory.RuleFactory, rec generic.Record) RecordDTO {
	dto := RecordDTO{
		ID:     string(rec.ID),
		Kind:   string(rec.Kind),
		Date:   rec.Date.String(),
		Number: rec.Number,
		Fields: f.FieldsToJSON(rec.Fields),
	}
	if rec.SeriesID != nil {
		id := string(*rec.SeriesID)
		dto.SeriesID = &id
	}
	if !rec.CreatedAt.IsZero() {
		dto.CreatedAt = rec.CreatedAt.Format(time.RFC3339)
		dto.UpdatedAt = rec.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

func toRecordDTOs(f *factory.RuleFactory, recs []generic.Record) []RecordDTO {
	out := make([]RecordDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecordDTO(f, rec))
	}
	return out
}

func toYearResultDTOs(results []series.Result) []YearResultDTO {
	out := make([]YearResultDTO, 0, len(results))
	for _, r := range results {
		out = append(out, YearResultDTO{
			Year:     r.Year,
			Expected: r.Expected,
			Created:  r.Created,
			Skipped:  r.Skipped,
			Complete: r.Complete(),
		})
	}
	return out
}

func toPreviewDTO(p generic.PreviewResult) PreviewDTO {
	dates := make([]string, 0, len(p.Dates))
	for _, d := range p.Dates {
		dates = append(dates, d.String())
	}
	return PreviewDTO{Count: p.Count, Dates: dates, Until: p.Until.String()}
}

func sumCreated(results []series.Result) (expected, created int) {
	for _, r := range results {
		expected += r.Expected
		created += r.Created
	}
	return expected, created
}
