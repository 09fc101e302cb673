package store

import "fmt"

// WalkLineage orders snapshots from head back to the root by following
// ParentSnapshotID through an id-keyed index. Iteration is bounded by the
// number of snapshots, so a corrupted chain ends in ErrLineageCycle instead of
// looping. A parent that is missing from the set ends the walk.
func WalkLineage(head *string, snapshots []Snapshot) ([]Snapshot, error) {
	lineage := make([]Snapshot, 0, len(snapshots))
	if head == nil {
		return lineage, nil
	}

	byID := make(map[string]Snapshot, len(snapshots))
	for _, snap := range snapshots {
		byID[snap.ID] = snap
	}

	visited := make(map[string]bool, len(snapshots))
	cursor := *head
	for step := 0; ; step++ {
		if step > len(snapshots) || visited[cursor] {
			return nil, fmt.Errorf("%w at %s", ErrLineageCycle, cursor)
		}
		snap, ok := byID[cursor]
		if !ok {
			if step == 0 {
				return nil, fmt.Errorf("head snapshot %s not found", cursor)
			}
			return lineage, nil
		}
		visited[cursor] = true
		lineage = append(lineage, snap)
		if snap.ParentSnapshotID == nil {
			return lineage, nil
		}
		cursor = *snap.ParentSnapshotID
	}
}
