package gatedb

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/apiary-data/forager.report/internal/gate"
)

func openTestDB(t *testing.T) *GateDB {
	t.Helper()
	gdb, err := Open(filepath.Join(t.TempDir(), "gate_test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { gdb.Close() })
	return gdb
}

func TestUpsertCrossingEvent(t *testing.T) {
	gdb := openTestDB(t)

	ev := gate.CrossingEvent{
		EventID:        "3f1c9a52-0000-4000-8000-000000000001",
		TrackID:        7,
		Direction:      gate.DirectionEntering,
		FirstUnixNanos: 1_000_000_000,
		LastUnixNanos:  3_000_000_000,
		FirstY:         12.5,
		LastY:          88.0,
		Frames:         41,
	}
	if err := gdb.UpsertCrossingEvent(ev); err != nil {
		t.Fatalf("UpsertCrossingEvent failed: %v", err)
	}

	got, err := gdb.ListRecentEvents(10)
	if err != nil {
		t.Fatalf("ListRecentEvents failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if diff := cmp.Diff(ev, got[0]); diff != "" {
		t.Errorf("stored event mismatch (-want +got):\n%s", diff)
	}

	// A late label binding re-upserts by EventID and must update the
	// existing row, not create a second one.
	ev.Label = "pollen"
	ev.LabelConfidence = 0.91
	if err := gdb.UpsertCrossingEvent(ev); err != nil {
		t.Fatalf("label re-upsert failed: %v", err)
	}

	got, err = gdb.ListRecentEvents(10)
	if err != nil {
		t.Fatalf("ListRecentEvents after re-upsert failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event after re-upsert, got %d", len(got))
	}
	if got[0].Label != "pollen" {
		t.Errorf("expected label %q, got %q", "pollen", got[0].Label)
	}
	if got[0].LabelConfidence != 0.91 {
		t.Errorf("expected confidence 0.91, got %v", got[0].LabelConfidence)
	}
}

func TestListEventsInRange(t *testing.T) {
	gdb := openTestDB(t)

	events := []gate.CrossingEvent{
		{EventID: "a", TrackID: 1, Direction: gate.DirectionEntering, FirstUnixNanos: 100, LastUnixNanos: 200, Frames: 5},
		{EventID: "b", TrackID: 2, Direction: gate.DirectionExiting, FirstUnixNanos: 300, LastUnixNanos: 400, Frames: 5},
		{EventID: "c", TrackID: 3, Direction: gate.DirectionEntering, FirstUnixNanos: 500, LastUnixNanos: 600, Frames: 5},
	}
	for _, ev := range events {
		if err := gdb.UpsertCrossingEvent(ev); err != nil {
			t.Fatalf("UpsertCrossingEvent(%s) failed: %v", ev.EventID, err)
		}
	}

	tests := []struct {
		name       string
		start, end int64
		wantIDs    []string
	}{
		{"full range", 0, 1000, []string{"a", "b", "c"}},
		{"middle only", 250, 450, []string{"b"}},
		{"overlapping boundary", 200, 300, []string{"a", "b"}},
		{"empty window", 201, 299, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gdb.ListEventsInRange(tt.start, tt.end, 0)
			if err != nil {
				t.Fatalf("ListEventsInRange failed: %v", err)
			}
			var ids []string
			for _, ev := range got {
				ids = append(ids, ev.EventID)
			}
			if diff := cmp.Diff(tt.wantIDs, ids); diff != "" {
				t.Errorf("event IDs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInsertCountRollup(t *testing.T) {
	gdb := openTestDB(t)

	snap := gate.CountSnapshot{
		IntervalStartUnixNanos: 1_000,
		TakenUnixNanos:         61_000,
		Counts: map[gate.Direction]map[string]uint64{
			gate.DirectionEntering: {"pollen": 3, "wasp": 1},
			gate.DirectionExiting:  {"cooling": 2},
		},
		Unlabeled: map[gate.Direction]uint64{
			gate.DirectionEntering: 5,
		},
	}
	if err := gdb.InsertCountRollup(snap); err != nil {
		t.Fatalf("InsertCountRollup failed: %v", err)
	}

	var rows int
	if err := gdb.QueryRow("SELECT COUNT(*) FROM count_rollups").Scan(&rows); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if rows != 4 {
		t.Errorf("expected 4 rollup rows, got %d", rows)
	}

	var unlabeled uint64
	err := gdb.QueryRow(
		"SELECT count FROM count_rollups WHERE direction = ? AND label = ''",
		string(gate.DirectionEntering),
	).Scan(&unlabeled)
	if err != nil {
		t.Fatalf("unlabeled row query failed: %v", err)
	}
	if unlabeled != 5 {
		t.Errorf("expected unlabeled count 5, got %d", unlabeled)
	}
}

func TestInsertCountRollupSkipsEmpty(t *testing.T) {
	gdb := openTestDB(t)

	snap := gate.CountSnapshot{
		IntervalStartUnixNanos: 1_000,
		TakenUnixNanos:         61_000,
		Counts:                 map[gate.Direction]map[string]uint64{},
		Unlabeled:              map[gate.Direction]uint64{},
	}
	if err := gdb.InsertCountRollup(snap); err != nil {
		t.Fatalf("InsertCountRollup failed: %v", err)
	}

	var rows int
	if err := gdb.QueryRow("SELECT COUNT(*) FROM count_rollups").Scan(&rows); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if rows != 0 {
		t.Errorf("expected no rows for an empty interval, got %d", rows)
	}
}

func TestActivitySeries(t *testing.T) {
	gdb := openTestDB(t)

	intervals := []gate.CountSnapshot{
		{
			IntervalStartUnixNanos: 1_000,
			TakenUnixNanos:         61_000,
			Counts: map[gate.Direction]map[string]uint64{
				gate.DirectionEntering: {"pollen": 2},
			},
			Unlabeled: map[gate.Direction]uint64{
				gate.DirectionEntering: 3,
				gate.DirectionExiting:  4,
			},
		},
		{
			IntervalStartUnixNanos: 61_000,
			TakenUnixNanos:         121_000,
			Counts: map[gate.Direction]map[string]uint64{
				gate.DirectionExiting: {"wasp": 1},
			},
			Unlabeled: map[gate.Direction]uint64{
				gate.DirectionIndeterminate: 2,
			},
		},
	}
	for _, snap := range intervals {
		if err := gdb.InsertCountRollup(snap); err != nil {
			t.Fatalf("InsertCountRollup failed: %v", err)
		}
	}

	series, err := gdb.ActivitySeries(0, 0)
	if err != nil {
		t.Fatalf("ActivitySeries failed: %v", err)
	}

	want := []ActivityPoint{
		{IntervalStartUnixNanos: 1_000, Entering: 5, Exiting: 4},
		{IntervalStartUnixNanos: 61_000, Exiting: 1, Indeterminate: 2},
	}
	if diff := cmp.Diff(want, series); diff != "" {
		t.Errorf("activity series mismatch (-want +got):\n%s", diff)
	}

	// sinceNanos should drop the first interval entirely.
	series, err = gdb.ActivitySeries(61_000, 0)
	if err != nil {
		t.Fatalf("ActivitySeries since failed: %v", err)
	}
	if len(series) != 1 || series[0].IntervalStartUnixNanos != 61_000 {
		t.Errorf("expected only the second interval, got %+v", series)
	}
}

func TestLabelTotals(t *testing.T) {
	gdb := openTestDB(t)

	events := []gate.CrossingEvent{
		{EventID: "a", TrackID: 1, Direction: gate.DirectionEntering, FirstUnixNanos: 10, LastUnixNanos: 20, Label: "pollen"},
		{EventID: "b", TrackID: 2, Direction: gate.DirectionEntering, FirstUnixNanos: 30, LastUnixNanos: 40, Label: "pollen"},
		{EventID: "c", TrackID: 3, Direction: gate.DirectionExiting, FirstUnixNanos: 50, LastUnixNanos: 60},
	}
	for _, ev := range events {
		if err := gdb.UpsertCrossingEvent(ev); err != nil {
			t.Fatalf("UpsertCrossingEvent failed: %v", err)
		}
	}

	totals, err := gdb.LabelTotals(0)
	if err != nil {
		t.Fatalf("LabelTotals failed: %v", err)
	}
	want := map[string]uint64{"pollen": 2, "": 1}
	if diff := cmp.Diff(want, totals); diff != "" {
		t.Errorf("label totals mismatch (-want +got):\n%s", diff)
	}
}

func TestGetEventSummary(t *testing.T) {
	gdb := openTestDB(t)

	events := []gate.CrossingEvent{
		{EventID: "a", TrackID: 1, Direction: gate.DirectionEntering, FirstUnixNanos: 10, LastUnixNanos: 20, Label: "pollen"},
		{EventID: "b", TrackID: 2, Direction: gate.DirectionExiting, FirstUnixNanos: 30, LastUnixNanos: 40, Label: "wasp"},
		{EventID: "c", TrackID: 3, Direction: gate.DirectionExiting, FirstUnixNanos: 50, LastUnixNanos: 60},
		{EventID: "d", TrackID: 4, Direction: gate.DirectionIndeterminate, FirstUnixNanos: 70, LastUnixNanos: 80},
	}
	for _, ev := range events {
		if err := gdb.UpsertCrossingEvent(ev); err != nil {
			t.Fatalf("UpsertCrossingEvent failed: %v", err)
		}
	}

	summary, err := gdb.GetEventSummary(0, 0)
	if err != nil {
		t.Fatalf("GetEventSummary failed: %v", err)
	}

	if summary.TotalEvents != 4 {
		t.Errorf("expected 4 total events, got %d", summary.TotalEvents)
	}
	if summary.Entering != 1 || summary.Exiting != 2 || summary.Indeterminate != 1 {
		t.Errorf("direction totals wrong: %+v", summary)
	}
	if summary.ByLabel["pollen"] != 1 || summary.ByLabel["wasp"] != 1 {
		t.Errorf("label totals wrong: %+v", summary.ByLabel)
	}
	if summary.Unlabeled != 2 {
		t.Errorf("expected 2 unlabeled, got %d", summary.Unlabeled)
	}

	// Bounded window covering only the middle two events.
	summary, err = gdb.GetEventSummary(30, 60)
	if err != nil {
		t.Fatalf("bounded GetEventSummary failed: %v", err)
	}
	if summary.TotalEvents != 2 {
		t.Errorf("expected 2 events in window, got %d", summary.TotalEvents)
	}
}
