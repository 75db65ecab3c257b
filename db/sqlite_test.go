package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"minedetect/mine"
	"minedetect/pipeline"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first := mine.Detection{
		ID:         "first",
		Request:    mine.PredictionRequest{Voltage: 0.5, Height: 0.3, Soil: 0.2},
		Class:      1,
		Name:       "Null",
		Confidence: 0.8,
		Timestamp:  base,
	}
	second := mine.Detection{
		ID:         "second",
		Request:    mine.PredictionRequest{Voltage: 2, Height: 0.3, Soil: 0.7},
		Class:      3,
		Name:       "Anti-personnel",
		Confidence: 0.4,
		Advisory: mine.Advisory{
			OutOfRange: true,
			Fields:     []string{"voltage", "soil"},
			Message:    "out of range",
		},
		Timestamp: base.Add(time.Minute),
	}
	for _, d := range []mine.Detection{first, second} {
		if err := store.Record(ctx, d); err != nil {
			t.Fatalf("record %s: %v", d.ID, err)
		}
	}

	got, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "second" || got[1].ID != "first" {
		t.Fatalf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
	if !got[0].Advisory.OutOfRange || len(got[0].Advisory.Fields) != 2 || got[0].Advisory.Fields[1] != "soil" {
		t.Fatalf("advisory not restored: %+v", got[0].Advisory)
	}
	if got[1].Advisory.OutOfRange || got[1].Advisory.Fields != nil {
		t.Fatalf("unexpected advisory: %+v", got[1].Advisory)
	}
	if !got[0].Timestamp.Equal(second.Timestamp) {
		t.Fatalf("timestamp = %v, want %v", got[0].Timestamp, second.Timestamp)
	}
	if got[0].Request != second.Request {
		t.Fatalf("request = %+v, want %+v", got[0].Request, second.Request)
	}

	limited, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != "second" {
		t.Fatalf("limit not applied: %+v", limited)
	}
}

func TestRecordIgnoresDuplicateID(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	d := mine.Detection{ID: "dup", Class: 2, Name: "Anti-Tank", Timestamp: time.Now()}

	for i := 0; i < 2; i++ {
		if err := store.Publish(ctx, d); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestQualityIssues(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	dataset, err := pipeline.LoadAndClean("../pipeline/testdata/dirty.csv")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveQualityIssues(ctx, dataset.Source, dataset.Issues); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.QualityIssues(ctx, dataset.Source)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != len(dataset.Issues) {
		t.Fatalf("len = %d, want %d", len(got), len(dataset.Issues))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Line < got[i-1].Line {
			t.Fatalf("issues not ordered by line: %+v", got)
		}
	}

	if err := store.SaveQualityIssues(ctx, "other.csv", nil); err != nil {
		t.Fatalf("empty save: %v", err)
	}
	other, err := store.QualityIssues(ctx, "other.csv")
	if err != nil || len(other) != 0 {
		t.Fatalf("other source = %v, %v", other, err)
	}
}
