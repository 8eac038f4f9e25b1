// Package gatedb persists crossing events and interval count rollups
// to sqlite. It is the storage adapter behind the gate package's
// EventWriter and RollupWriter interfaces.
package gatedb

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/apiary-data/forager.report/internal/gate"
)

type GateDB struct {
	*sql.DB
}

// schema.sql creates the crossing_events and count_rollups tables.
//
//go:embed schema.sql
var schemaSQL string

// Open opens (creating if necessary) the gate database at path and
// applies the embedded schema.
func Open(path string) (*GateDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply gate schema: %w", err)
	}

	return &GateDB{db}, nil
}

// UpsertCrossingEvent writes an event row keyed by its event UUID.
// Late label bindings re-upsert the same EventID with the label fields
// filled, updating the stored row in place.
func (gdb *GateDB) UpsertCrossingEvent(ev gate.CrossingEvent) error {
	query := `
		INSERT INTO crossing_events (
			event_id, track_id, direction,
			first_unix_nanos, last_unix_nanos,
			first_y, last_y, frames,
			label, label_confidence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			label = excluded.label,
			label_confidence = excluded.label_confidence
	`

	_, err := gdb.Exec(query,
		ev.EventID, ev.TrackID, string(ev.Direction),
		ev.FirstUnixNanos, ev.LastUnixNanos,
		ev.FirstY, ev.LastY, ev.Frames,
		nullableLabel(ev.Label), ev.LabelConfidence,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert crossing event %s: %w", ev.EventID, err)
	}
	return nil
}

func nullableLabel(label string) sql.NullString {
	return sql.NullString{String: label, Valid: label != ""}
}

// InsertCountRollup writes one row per populated (direction × label)
// bucket of the snapshot, including the per-direction unlabeled bucket
// as label = ''. All rows for an interval commit atomically.
func (gdb *GateDB) InsertCountRollup(snap gate.CountSnapshot) error {
	tx, err := gdb.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin rollup transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO count_rollups (
			interval_start_unix_nanos, interval_end_unix_nanos,
			direction, label, count
		) VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare rollup insert: %w", err)
	}
	defer stmt.Close()

	insert := func(dir gate.Direction, label string, count uint64) error {
		if count == 0 {
			return nil
		}
		_, err := stmt.Exec(snap.IntervalStartUnixNanos, snap.TakenUnixNanos, string(dir), label, count)
		return err
	}

	for dir, byLabel := range snap.Counts {
		for label, count := range byLabel {
			if err := insert(dir, label, count); err != nil {
				return fmt.Errorf("failed to insert rollup row: %w", err)
			}
		}
	}
	for dir, count := range snap.Unlabeled {
		if err := insert(dir, "", count); err != nil {
			return fmt.Errorf("failed to insert unlabeled rollup row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollup: %w", err)
	}
	return nil
}

// ListRecentEvents returns the most recently finished crossing events,
// newest first.
func (gdb *GateDB) ListRecentEvents(limit int) ([]gate.CrossingEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return gdb.queryEvents(`
		SELECT event_id, track_id, direction,
			first_unix_nanos, last_unix_nanos,
			first_y, last_y, frames,
			label, label_confidence
		FROM crossing_events
		ORDER BY last_unix_nanos DESC
		LIMIT ?
	`, limit)
}

// ListEventsInRange returns events whose lifetime overlaps
// [startNanos, endNanos], oldest first.
func (gdb *GateDB) ListEventsInRange(startNanos, endNanos int64, limit int) ([]gate.CrossingEvent, error) {
	query := `
		SELECT event_id, track_id, direction,
			first_unix_nanos, last_unix_nanos,
			first_y, last_y, frames,
			label, label_confidence
		FROM crossing_events
		WHERE last_unix_nanos >= ? AND first_unix_nanos <= ?
		ORDER BY first_unix_nanos ASC
	`
	args := []interface{}{startNanos, endNanos}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return gdb.queryEvents(query, args...)
}

func (gdb *GateDB) queryEvents(query string, args ...interface{}) ([]gate.CrossingEvent, error) {
	rows, err := gdb.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query crossing events: %w", err)
	}
	defer rows.Close()

	events := []gate.CrossingEvent{}
	for rows.Next() {
		var ev gate.CrossingEvent
		var direction string
		var label sql.NullString
		var confidence sql.NullFloat64

		err := rows.Scan(
			&ev.EventID, &ev.TrackID, &direction,
			&ev.FirstUnixNanos, &ev.LastUnixNanos,
			&ev.FirstY, &ev.LastY, &ev.Frames,
			&label, &confidence,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan crossing event row: %w", err)
		}

		ev.Direction = gate.Direction(direction)
		if label.Valid {
			ev.Label = label.String
		}
		if confidence.Valid {
			ev.LabelConfidence = float32(confidence.Float64)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating crossing event rows: %w", err)
	}
	return events, nil
}

// ActivityPoint is one reporting interval's entering/exiting totals,
// reconstructed from the rollup rows for the charts API.
type ActivityPoint struct {
	IntervalStartUnixNanos int64  `json:"interval_start_unix_nanos"`
	Entering               uint64 `json:"entering"`
	Exiting                uint64 `json:"exiting"`
	Indeterminate          uint64 `json:"indeterminate"`
}

// ActivitySeries aggregates rollup rows into per-interval directional
// totals since sinceNanos, oldest interval first.
func (gdb *GateDB) ActivitySeries(sinceNanos int64, limit int) ([]ActivityPoint, error) {
	query := `
		SELECT interval_start_unix_nanos, direction, SUM(count)
		FROM count_rollups
		WHERE interval_start_unix_nanos >= ?
		GROUP BY interval_start_unix_nanos, direction
		ORDER BY interval_start_unix_nanos ASC
	`
	rows, err := gdb.Query(query, sinceNanos)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity series: %w", err)
	}
	defer rows.Close()

	var series []ActivityPoint
	for rows.Next() {
		var startNanos int64
		var direction string
		var count uint64
		if err := rows.Scan(&startNanos, &direction, &count); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}

		if len(series) == 0 || series[len(series)-1].IntervalStartUnixNanos != startNanos {
			series = append(series, ActivityPoint{IntervalStartUnixNanos: startNanos})
		}
		point := &series[len(series)-1]
		switch gate.Direction(direction) {
		case gate.DirectionEntering:
			point.Entering += count
		case gate.DirectionExiting:
			point.Exiting += count
		default:
			point.Indeterminate += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity rows: %w", err)
	}

	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	return series, nil
}

// LabelTotals sums persisted event counts per label since sinceNanos.
// Unlabeled events appear under the empty-string key.
func (gdb *GateDB) LabelTotals(sinceNanos int64) (map[string]uint64, error) {
	rows, err := gdb.Query(`
		SELECT COALESCE(label, ''), COUNT(*)
		FROM crossing_events
		WHERE last_unix_nanos >= ?
		GROUP BY COALESCE(label, '')
	`, sinceNanos)
	if err != nil {
		return nil, fmt.Errorf("failed to query label totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]uint64)
	for rows.Next() {
		var label string
		var count uint64
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("failed to scan label total row: %w", err)
		}
		totals[label] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating label total rows: %w", err)
	}
	return totals, nil
}

// EventSummary holds aggregate statistics over stored crossing events.
type EventSummary struct {
	TotalEvents   int            `json:"total_events"`
	Entering      int            `json:"entering"`
	Exiting       int            `json:"exiting"`
	Indeterminate int            `json:"indeterminate"`
	ByLabel       map[string]int `json:"by_label"`
	Unlabeled     int            `json:"unlabeled"`
}

// GetEventSummary computes directional and label totals for events in
// [startNanos, endNanos]. Zero bounds mean unbounded on that side.
func (gdb *GateDB) GetEventSummary(startNanos, endNanos int64) (*EventSummary, error) {
	query := `
		SELECT direction, label
		FROM crossing_events
		WHERE 1=1
	`
	args := []interface{}{}
	if startNanos > 0 {
		query += " AND last_unix_nanos >= ?"
		args = append(args, startNanos)
	}
	if endNanos > 0 {
		query += " AND first_unix_nanos <= ?"
		args = append(args, endNanos)
	}

	rows, err := gdb.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event summary: %w", err)
	}
	defer rows.Close()

	summary := &EventSummary{ByLabel: make(map[string]int)}
	for rows.Next() {
		var direction string
		var label sql.NullString
		if err := rows.Scan(&direction, &label); err != nil {
			return nil, fmt.Errorf("failed to scan event summary row: %w", err)
		}

		summary.TotalEvents++
		switch gate.Direction(direction) {
		case gate.DirectionEntering:
			summary.Entering++
		case gate.DirectionExiting:
			summary.Exiting++
		default:
			summary.Indeterminate++
		}

		if label.Valid && label.String != "" {
			summary.ByLabel[label.String]++
		} else {
			summary.Unlabeled++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event summary rows: %w", err)
	}
	return summary, nil
}
