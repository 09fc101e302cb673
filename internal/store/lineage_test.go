package store

import (
	"errors"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestWalkLineageMostRecentFirst(t *testing.T) {
	snapshots := []Snapshot{
		{ID: "s1", VersionLabel: "v1.0.0"},
		{ID: "s3", VersionLabel: "v1.0.2", ParentSnapshotID: strPtr("s2")},
		{ID: "s2", VersionLabel: "v1.0.1", ParentSnapshotID: strPtr("s1")},
	}
	lineage, err := WalkLineage(strPtr("s3"), snapshots)
	if err != nil {
		t.Fatalf("WalkLineage() error = %v", err)
	}
	if len(lineage) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(lineage))
	}
	for i, want := range []string{"v1.0.2", "v1.0.1", "v1.0.0"} {
		if lineage[i].VersionLabel != want {
			t.Fatalf("lineage[%d] = %s, want %s", i, lineage[i].VersionLabel, want)
		}
	}
}

func TestWalkLineageNoHead(t *testing.T) {
	lineage, err := WalkLineage(nil, []Snapshot{{ID: "orphan"}})
	if err != nil {
		t.Fatalf("WalkLineage() error = %v", err)
	}
	if len(lineage) != 0 {
		t.Fatalf("expected empty lineage, got %d", len(lineage))
	}
}

func TestWalkLineageDetectsCycle(t *testing.T) {
	snapshots := []Snapshot{
		{ID: "a", ParentSnapshotID: strPtr("b")},
		{ID: "b", ParentSnapshotID: strPtr("a")},
	}
	if _, err := WalkLineage(strPtr("a"), snapshots); !errors.Is(err, ErrLineageCycle) {
		t.Fatalf("expected ErrLineageCycle, got %v", err)
	}
}

func TestWalkLineageSelfParent(t *testing.T) {
	snapshots := []Snapshot{{ID: "a", ParentSnapshotID: strPtr("a")}}
	if _, err := WalkLineage(strPtr("a"), snapshots); !errors.Is(err, ErrLineageCycle) {
		t.Fatalf("expected ErrLineageCycle, got %v", err)
	}
}

func TestWalkLineageSkipsBranches(t *testing.T) {
	// s2b lost the pointer race and is not part of the history.
	snapshots := []Snapshot{
		{ID: "s1"},
		{ID: "s2", ParentSnapshotID: strPtr("s1")},
		{ID: "s2b", ParentSnapshotID: strPtr("s1")},
	}
	lineage, err := WalkLineage(strPtr("s2"), snapshots)
	if err != nil {
		t.Fatalf("WalkLineage() error = %v", err)
	}
	if len(lineage) != 2 || lineage[0].ID != "s2" || lineage[1].ID != "s1" {
		t.Fatalf("unexpected lineage %#v", lineage)
	}
}

func TestWalkLineageMissingHead(t *testing.T) {
	if _, err := WalkLineage(strPtr("missing"), nil); err == nil {
		t.Fatal("expected error for unknown head")
	}
}
