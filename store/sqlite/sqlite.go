/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.Store (records, rules and the year index) on SQLite.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  rules:            Recurrence rule definitions and lastYearGenerated
  records:          Generated and standalone financial records
  number_sequences: Last income number handed out per year
  known_years:      The year index

INDEXES:
  - idx_records_occurrence: UNIQUE(series_id, date) for linked records.
    This is what turns a repeated materialization into
    generic.ErrDuplicateOccurrence instead of a second record.
  - idx_records_number: UNIQUE(number), mapped to generic.ErrNumberConflict
  - idx_records_date: Year and range queries

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/series.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Versioned migrations under migrations/ are embedded and applied with
  golang-migrate on New().

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/series-engine/generic"
)

// Store implements generic.Store using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now generic.Clock
}

var _ generic.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db, now: generic.SystemClock}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SetClock pins the timestamps the store stamps on writes.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// =============================================================================
// RECORD STORE (generic.RecordStore interface)
// =============================================================================

const recordColumns = `id, kind, date, number, series_id, concept, counterparty, category,
	base, tax_rate, withholding_rate, created_at, updated_at`

// CreateRecord inserts rec, numbering income records inside the same transaction.
func (s *Store) CreateRecord(ctx context.Context, rec generic.Record) (generic.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = generic.RecordID(uuid.NewString())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return generic.Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if rec.Kind == generic.KindIncome && rec.Number == "" {
		number, err := allocateNumber(ctx, tx, rec.Date.Year())
		if err != nil {
			return generic.Record{}, err
		}
		rec.Number = number
	}

	now := s.timestamp()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Kind,
		rec.Date.String(),
		nullString(rec.Number),
		nullSeries(rec.SeriesID),
		rec.Fields.Concept,
		rec.Fields.Counterparty,
		rec.Fields.Category,
		rec.Fields.Base.String(),
		rec.Fields.TaxRate.String(),
		rec.Fields.WithholdingRate.String(),
		now,
		now,
	)
	if err != nil {
		return generic.Record{}, mapWriteError("failed to insert record", err)
	}
	if err := tx.Commit(); err != nil {
		return generic.Record{}, fmt.Errorf("failed to commit record: %w", err)
	}

	rec.CreatedAt = parseTimestamp(now)
	rec.UpdatedAt = rec.CreatedAt
	return rec, nil
}

// allocateNumber advances the year's sequence past any number already held
// by a record, including explicit numbers the sequence never handed out.
func allocateNumber(ctx context.Context, tx *sql.Tx, year int) (string, error) {
	for {
		var seq int
		err := tx.QueryRowContext(ctx, `
			INSERT INTO number_sequences (year, last) VALUES (?, 1)
			ON CONFLICT(year) DO UPDATE SET last = last + 1
			RETURNING last
		`, year).Scan(&seq)
		if err != nil {
			return "", fmt.Errorf("failed to allocate record number: %w", err)
		}
		number := fmt.Sprintf("%d-%04d", year, seq)

		var taken bool
		err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM records WHERE number = ?)`, number).Scan(&taken)
		if err != nil {
			return "", fmt.Errorf("failed to check record number: %w", err)
		}
		if !taken {
			return number, nil
		}
	}
}

func (s *Store) GetRecord(ctx context.Context, id generic.RecordID) (generic.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	if err != nil {
		return generic.Record{}, err
	}
	if len(recs) == 0 {
		return generic.Record{}, generic.ErrRecordNotFound
	}
	return recs[0], nil
}

// UpdateRecord rewrites the mutable columns; number and created_at are kept.
func (s *Store) UpdateRecord(ctx context.Context, rec generic.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE records
		SET kind = ?, date = ?, series_id = ?, concept = ?, counterparty = ?, category = ?,
		    base = ?, tax_rate = ?, withholding_rate = ?, updated_at = ?
		WHERE id = ?
	`,
		rec.Kind,
		rec.Date.String(),
		nullSeries(rec.SeriesID),
		rec.Fields.Concept,
		rec.Fields.Counterparty,
		rec.Fields.Category,
		rec.Fields.Base.String(),
		rec.Fields.TaxRate.String(),
		rec.Fields.WithholdingRate.String(),
		s.timestamp(),
		rec.ID,
	)
	if err != nil {
		return mapWriteError("failed to update record", err)
	}
	return requireAffected(res, generic.ErrRecordNotFound)
}

func (s *Store) DeleteRecord(ctx context.Context, id generic.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return requireAffected(res, generic.ErrRecordNotFound)
}

func (s *Store) ListBySeries(ctx context.Context, seriesID generic.RuleID) ([]generic.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE series_id = ?
		ORDER BY date ASC, number ASC, id ASC
	`, seriesID)
}

func (s *Store) ListRange(ctx context.Context, p generic.Period) ([]generic.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC, number ASC, id ASC
	`, p.Start.String(), p.End.String())
}

func (s *Store) DeleteBySeries(ctx context.Context, seriesID generic.RuleID) (int, error) {
	return s.execCount(ctx, "failed to delete series records",
		`DELETE FROM records WHERE series_id = ?`, seriesID)
}

func (s *Store) DetachSeries(ctx context.Context, seriesID generic.RuleID) (int, error) {
	return s.execCount(ctx, "failed to detach series records",
		`UPDATE records SET series_id = NULL, updated_at = ? WHERE series_id = ?`, s.timestamp(), seriesID)
}

func (s *Store) DeleteRange(ctx context.Context, p generic.Period) (int, error) {
	return s.execCount(ctx, "failed to delete records in range",
		`DELETE FROM records WHERE date >= ? AND date <= ?`, p.Start.String(), p.End.String())
}

func (s *Store) execCount(ctx context.Context, what, query string, args ...any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return int(n), nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]generic.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := []generic.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (generic.Record, error) {
	var (
		rec       generic.Record
		date      string
		number    sql.NullString
		seriesID  sql.NullString
		base      string
		taxRate   string
		whRate    string
		createdAt string
		updatedAt string
	)

	err := rows.Scan(
		&rec.ID, &rec.Kind, &date, &number, &seriesID,
		&rec.Fields.Concept, &rec.Fields.Counterparty, &rec.Fields.Category,
		&base, &taxRate, &whRate, &createdAt, &updatedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to scan record: %w", err)
	}

	if rec.Date, err = generic.ParseDate(date); err != nil {
		return rec, err
	}
	rec.Number = number.String
	if seriesID.Valid {
		id := generic.RuleID(seriesID.String)
		rec.SeriesID = &id
	}
	rec.Fields.Base = parseDecimal(base)
	rec.Fields.TaxRate = parseDecimal(taxRate)
	rec.Fields.WithholdingRate = parseDecimal(whRate)
	rec.CreatedAt = parseTimestamp(createdAt)
	rec.UpdatedAt = parseTimestamp(updatedAt)
	return rec, nil
}

// =============================================================================
// RULE STORE (generic.RuleStore interface)
// =============================================================================

const ruleColumns = `id, kind, periodicity, day_policy, specific_day, start_date, end_date,
	concept, counterparty, category, base, tax_rate, withholding_rate,
	last_year_generated, contract_ref, created_at, updated_at`

func (s *Store) CreateRule(ctx context.Context, rule generic.RecurrenceRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timestamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rule.ID,
		rule.Kind,
		rule.Schedule.Periodicity,
		rule.Schedule.Days.Policy,
		rule.Schedule.Days.Day,
		rule.Schedule.Start.String(),
		nullDate(rule.Schedule.End),
		rule.Template.Concept,
		rule.Template.Counterparty,
		rule.Template.Category,
		rule.Template.Base.String(),
		rule.Template.TaxRate.String(),
		rule.Template.WithholdingRate.String(),
		nullInt(rule.LastYearGenerated),
		rule.ContractRef,
		now,
		now,
	)
	if err != nil {
		return mapWriteError("failed to insert series", err)
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, id generic.RuleID) (generic.RecurrenceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules, err := s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	if err != nil {
		return generic.RecurrenceRule{}, err
	}
	if len(rules) == 0 {
		return generic.RecurrenceRule{}, generic.ErrRuleNotFound
	}
	return rules[0], nil
}

func (s *Store) ListRules(ctx context.Context) ([]generic.RecurrenceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY created_at ASC, id ASC`)
}

// UpdateRule never writes last_year_generated.
func (s *Store) UpdateRule(ctx context.Context, rule generic.RecurrenceRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET kind = ?, periodicity = ?, day_policy = ?, specific_day = ?, start_date = ?, end_date = ?,
		    concept = ?, counterparty = ?, category = ?, base = ?, tax_rate = ?, withholding_rate = ?,
		    contract_ref = ?, updated_at = ?
		WHERE id = ?
	`,
		rule.Kind,
		rule.Schedule.Periodicity,
		rule.Schedule.Days.Policy,
		rule.Schedule.Days.Day,
		rule.Schedule.Start.String(),
		nullDate(rule.Schedule.End),
		rule.Template.Concept,
		rule.Template.Counterparty,
		rule.Template.Category,
		rule.Template.Base.String(),
		rule.Template.TaxRate.String(),
		rule.Template.WithholdingRate.String(),
		rule.ContractRef,
		s.timestamp(),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update series: %w", err)
	}
	return requireAffected(res, generic.ErrRuleNotFound)
}

func (s *Store) DeleteRule(ctx context.Context, id generic.RuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete series: %w", err)
	}
	return requireAffected(res, generic.ErrRuleNotFound)
}

// AdvanceLastYearGenerated is a single conditional UPDATE, so the mark never
// moves backwards even with concurrent writers.
func (s *Store) AdvanceLastYearGenerated(ctx context.Context, id generic.RuleID, year int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up series: %w", err)
	}
	if exists == 0 {
		return generic.ErrRuleNotFound
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE rules
		SET last_year_generated = ?, updated_at = ?
		WHERE id = ? AND (last_year_generated IS NULL OR last_year_generated < ?)
	`, year, s.timestamp(), id, year)
	if err != nil {
		return fmt.Errorf("failed to advance last generated year: %w", err)
	}
	return nil
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]generic.RecurrenceRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	rules := []generic.RecurrenceRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRule(rows *sql.Rows) (generic.RecurrenceRule, error) {
	var (
		rule      generic.RecurrenceRule
		start     string
		end       sql.NullString
		base      string
		taxRate   string
		whRate    string
		lastYear  sql.NullInt64
		createdAt string
		updatedAt string
	)

	err := rows.Scan(
		&rule.ID, &rule.Kind, &rule.Schedule.Periodicity, &rule.Schedule.Days.Policy, &rule.Schedule.Days.Day,
		&start, &end,
		&rule.Template.Concept, &rule.Template.Counterparty, &rule.Template.Category,
		&base, &taxRate, &whRate,
		&lastYear, &rule.ContractRef, &createdAt, &updatedAt,
	)
	if err != nil {
		return rule, fmt.Errorf("failed to scan series: %w", err)
	}

	if rule.Schedule.Start, err = generic.ParseDate(start); err != nil {
		return rule, err
	}
	if end.Valid {
		d, err := generic.ParseDate(end.String)
		if err != nil {
			return rule, err
		}
		rule.Schedule.End = &d
	}
	rule.Template.Base = parseDecimal(base)
	rule.Template.TaxRate = parseDecimal(taxRate)
	rule.Template.WithholdingRate = parseDecimal(whRate)
	if lastYear.Valid {
		y := int(lastYear.Int64)
		rule.LastYearGenerated = &y
	}
	rule.CreatedAt = parseTimestamp(createdAt)
	rule.UpdatedAt = parseTimestamp(updatedAt)
	return rule, nil
}

// =============================================================================
// YEAR INDEX (generic.YearIndex interface)
// =============================================================================

func (s *Store) Years(ctx context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT year FROM known_years ORDER BY year ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query years: %w", err)
	}
	defer rows.Close()

	years := []int{}
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, fmt.Errorf("failed to scan year: %w", err)
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

func (s *Store) AddYear(ctx context.Context, year int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO known_years (year) VALUES (?)`, year)
	if err != nil {
		return fmt.Errorf("failed to add year: %w", err)
	}
	return nil
}

func (s *Store) RemoveYear(ctx context.Context, year int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM known_years WHERE year = ?`, year)
	if err != nil {
		return fmt.Errorf("failed to remove year: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullSeries(id *generic.RuleID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullDate(d *generic.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// mapWriteError turns unique-index violations into the store sentinels.
func mapWriteError(what string, err error) error {
	if isUniqueConstraintError(err) {
		if strings.Contains(err.Error(), "records.number") {
			return generic.ErrNumberConflict
		}
		if strings.Contains(err.Error(), "records.series_id") {
			return generic.ErrDuplicateOccurrence
		}
		if strings.Contains(err.Error(), "rules.id") {
			return generic.ErrRuleExists
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
