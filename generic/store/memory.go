// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/series-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records map[generic.RecordID]generic.Record
	rules   map[generic.RuleID]generic.RecurrenceRule
	years   map[int]bool

	occurrences map[occurrenceKey]generic.RecordID
	numbers     map[string]generic.RecordID
	sequences   map[int]int // year -> last income sequence

	now generic.Clock
}

type occurrenceKey struct {
	SeriesID generic.RuleID
	Date     string
}

var _ generic.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		records:     make(map[generic.RecordID]generic.Record),
		rules:       make(map[generic.RuleID]generic.RecurrenceRule),
		years:       make(map[int]bool),
		occurrences: make(map[occurrenceKey]generic.RecordID),
		numbers:     make(map[string]generic.RecordID),
		sequences:   make(map[int]int),
		now:         generic.SystemClock,
	}
}

// =============================================================================
// RECORDS
// =============================================================================

func (m *Memory) CreateRecord(_ context.Context, rec generic.Record) (generic.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.SeriesID != nil {
		k := occurrenceKey{SeriesID: *rec.SeriesID, Date: rec.Date.String()}
		if _, exists := m.occurrences[k]; exists {
			return generic.Record{}, generic.ErrDuplicateOccurrence
		}
	}
	if rec.ID == "" {
		rec.ID = generic.RecordID(uuid.NewString())
	}
	if _, exists := m.records[rec.ID]; exists {
		return generic.Record{}, fmt.Errorf("record %s already exists", rec.ID)
	}

	if rec.Kind == generic.KindIncome && rec.Number == "" {
		year := rec.Date.Year()
		m.sequences[year]++
		rec.Number = fmt.Sprintf("%d-%04d", year, m.sequences[year])
	}
	if rec.Number != "" {
		if _, taken := m.numbers[rec.Number]; taken {
			return generic.Record{}, generic.ErrNumberConflict
		}
	}

	now := m.now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	m.putLocked(rec)
	return cloneRecord(rec), nil
}

func (m *Memory) GetRecord(_ context.Context, id generic.RecordID) (generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return generic.Record{}, generic.ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (m *Memory) UpdateRecord(_ context.Context, rec generic.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.records[rec.ID]
	if !ok {
		return generic.ErrRecordNotFound
	}
	if rec.SeriesID != nil {
		k := occurrenceKey{SeriesID: *rec.SeriesID, Date: rec.Date.String()}
		if other, exists := m.occurrences[k]; exists && other != rec.ID {
			return generic.ErrDuplicateOccurrence
		}
	}
	m.removeLocked(old)
	rec.Number = old.Number
	rec.CreatedAt = old.CreatedAt
	rec.UpdatedAt = m.now().UTC()
	m.putLocked(rec)
	return nil
}

func (m *Memory) DeleteRecord(_ context.Context, id generic.RecordID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return generic.ErrRecordNotFound
	}
	m.removeLocked(rec)
	return nil
}

func (m *Memory) ListBySeries(_ context.Context, seriesID generic.RuleID) ([]generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.filterLocked(func(r generic.Record) bool { return r.InSeries(seriesID) }), nil
}

func (m *Memory) ListRange(_ context.Context, p generic.Period) ([]generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.filterLocked(func(r generic.Record) bool { return p.Contains(r.Date) }), nil
}

func (m *Memory) DeleteBySeries(_ context.Context, seriesID generic.RuleID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	victims := m.filterLocked(func(r generic.Record) bool { return r.InSeries(seriesID) })
	for _, rec := range victims {
		m.removeLocked(rec)
	}
	return len(victims), nil
}

func (m *Memory) DetachSeries(_ context.Context, seriesID generic.RuleID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attached := m.filterLocked(func(r generic.Record) bool { return r.InSeries(seriesID) })
	now := m.now().UTC()
	for _, rec := range attached {
		m.removeLocked(rec)
		rec.Detach()
		rec.UpdatedAt = now
		m.putLocked(rec)
	}
	return len(attached), nil
}

func (m *Memory) DeleteRange(_ context.Context, p generic.Period) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	victims := m.filterLocked(func(r generic.Record) bool { return p.Contains(r.Date) })
	for _, rec := range victims {
		m.removeLocked(rec)
	}
	return len(victims), nil
}

func (m *Memory) putLocked(rec generic.Record) {
	m.records[rec.ID] = rec
	if rec.SeriesID != nil {
		m.occurrences[occurrenceKey{SeriesID: *rec.SeriesID, Date: rec.Date.String()}] = rec.ID
	}
	if rec.Number != "" {
		m.numbers[rec.Number] = rec.ID
	}
}

func (m *Memory) removeLocked(rec generic.Record) {
	delete(m.records, rec.ID)
	if rec.SeriesID != nil {
		delete(m.occurrences, occurrenceKey{SeriesID: *rec.SeriesID, Date: rec.Date.String()})
	}
	if rec.Number != "" {
		delete(m.numbers, rec.Number)
	}
}

// filterLocked returns matching records ordered by date, then number.
func (m *Memory) filterLocked(match func(generic.Record) bool) []generic.Record {
	out := []generic.Record{}
	for _, rec := range m.records {
		if match(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func cloneRecord(rec generic.Record) generic.Record {
	if rec.SeriesID != nil {
		id := *rec.SeriesID
		rec.SeriesID = &id
	}
	return rec
}

// =============================================================================
// RULES
// =============================================================================

func (m *Memory) CreateRule(_ context.Context, rule generic.RecurrenceRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rules[rule.ID]; exists {
		return fmt.Errorf("series %s: %w", rule.ID, generic.ErrRuleExists)
	}
	now := m.now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now
	m.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (m *Memory) GetRule(_ context.Context, id generic.RuleID) (generic.RecurrenceRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rule, ok := m.rules[id]
	if !ok {
		return generic.RecurrenceRule{}, generic.ErrRuleNotFound
	}
	return cloneRule(rule), nil
}

func (m *Memory) ListRules(_ context.Context) ([]generic.RecurrenceRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]generic.RecurrenceRule, 0, len(m.rules))
	for _, rule := range m.rules {
		out = append(out, cloneRule(rule))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) UpdateRule(_ context.Context, rule generic.RecurrenceRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.rules[rule.ID]
	if !ok {
		return generic.ErrRuleNotFound
	}
	old.Kind = rule.Kind
	old.Schedule = rule.Schedule
	old.Template = rule.Template
	old.ContractRef = rule.ContractRef
	old.UpdatedAt = m.now().UTC()
	m.rules[rule.ID] = cloneRule(old)
	return nil
}

func (m *Memory) DeleteRule(_ context.Context, id generic.RuleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return generic.ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *Memory) AdvanceLastYearGenerated(_ context.Context, id generic.RuleID, year int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.rules[id]
	if !ok {
		return generic.ErrRuleNotFound
	}
	if rule.LastYearGenerated == nil || *rule.LastYearGenerated < year {
		y := year
		rule.LastYearGenerated = &y
		rule.UpdatedAt = m.now().UTC()
		m.rules[id] = rule
	}
	return nil
}

func cloneRule(rule generic.RecurrenceRule) generic.RecurrenceRule {
	if rule.Schedule.End != nil {
		end := *rule.Schedule.End
		rule.Schedule.End = &end
	}
	if rule.LastYearGenerated != nil {
		y := *rule.LastYearGenerated
		rule.LastYearGenerated = &y
	}
	return rule
}

// =============================================================================
// YEAR INDEX
// =============================================================================

func (m *Memory) Years(_ context.Context) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]int, 0, len(m.years))
	for y := range m.years {
		out = append(out, y)
	}
	sort.Ints(out)
	return out, nil
}

func (m *Memory) AddYear(_ context.Context, year int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.years[year] = true
	return nil
}

func (m *Memory) RemoveYear(_ context.Context, year int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.years, year)
	return nil
}

// SetClock pins the timestamps the store stamps on writes.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
