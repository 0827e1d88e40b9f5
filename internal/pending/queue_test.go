package pending

import (
	"os"
	"path/filepath"
	"testing"
)

func record(rel string) *FileRecord {
	return NewRecord("/data", filepath.Join("/data", rel), nil)
}

func TestAddMergesByDatasetAndDedupes(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "pending.json"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key := "sensorX - 2024-01-01__10-00-00-000"
	added, err := q.Add(Submission{Dataset: key, Files: []*FileRecord{record("s/a"), record("s/b")}})
	if err != nil || added != 2 {
		t.Fatalf("first add: added=%d err=%v", added, err)
	}
	replacement := record("s/b")
	replacement.Metadata = map[string]any{"v": 2.0}
	added, err = q.Add(Submission{Dataset: key, Files: []*FileRecord{replacement, record("s/c")}})
	if err != nil || added != 1 {
		t.Fatalf("second add: added=%d err=%v", added, err)
	}
	snap := q.Snapshot()
	if len(snap) != 1 || snap.FileCount() != 3 {
		t.Fatalf("unexpected snapshot %#v", snap)
	}
	if got := snap[key].Files["s/b"].Metadata["v"]; got != 2.0 {
		t.Fatalf("expected last write to win, got %v", got)
	}
}

func TestSnapshotIsIndependentOfLiveQueue(t *testing.T) {
	q, _ := Open("", nil)
	_, _ = q.Add(Submission{Dataset: "d", Files: []*FileRecord{record("x/1")}})
	snap := q.Snapshot()
	_, _ = q.Add(Submission{Dataset: "d", Files: []*FileRecord{record("x/2")}})
	snap["d"].Files["x/1"].Error = "mutated"

	if snap.FileCount() != 1 {
		t.Fatalf("snapshot grew with live queue: %d", snap.FileCount())
	}
	live := q.Snapshot()
	if live["d"].Files["x/1"].Error != "" {
		t.Fatal("mutating snapshot leaked into queue")
	}
}

func TestDrainRemovesOnlyBatchedFiles(t *testing.T) {
	q, _ := Open("", nil)
	_, _ = q.Add(Submission{Dataset: "d", Files: []*FileRecord{record("x/1"), record("x/2"), record("x/3")}})

	batch := Manifests{"d": NewManifest()}
	snap := q.Snapshot()
	batch["d"].Put(snap["d"].Files["x/1"])
	batch["d"].Put(snap["d"].Files["x/2"])
	if err := q.Drain(batch); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if q.FileCount() != 1 {
		t.Fatalf("expected 1 file left, got %d", q.FileCount())
	}
	if err := q.Drain(q.Snapshot()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if q.FileCount() != 0 || q.DatasetCount() != 0 {
		t.Fatalf("expected empty queue, got files=%d datasets=%d", q.FileCount(), q.DatasetCount())
	}
}

func TestMetadataFileSetsDatasetMetadata(t *testing.T) {
	dir := t.TempDir()
	mdPath := filepath.Join(dir, "VIS", "2016-01-01", "2016-01-01__00-00-00-000", "metadata.json")
	if err := os.MkdirAll(filepath.Dir(mdPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(mdPath, []byte(`{"lemnatec_measurement_metadata":{"a":1}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	badPath := filepath.Join(dir, "NIR", "2016-01-01", "2016-01-01__00-00-00-000", "metadata.json")
	if err := os.MkdirAll(filepath.Dir(badPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(badPath, []byte(`{not json`), 0o644); err != nil {
		t.Fatal(err)
	}

	q, _ := Open("", nil)
	_, err := q.Add(
		Submission{Dataset: "VIS - 2016-01-01__00-00-00-000", Files: []*FileRecord{NewRecord(dir, mdPath, nil)}},
		Submission{Dataset: "NIR - 2016-01-01__00-00-00-000", Files: []*FileRecord{NewRecord(dir, badPath, nil)}},
	)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	snap := q.Snapshot()
	vis := snap["VIS - 2016-01-01__00-00-00-000"]
	if _, ok := vis.Metadata["lemnatec_measurement_metadata"]; !ok {
		t.Fatalf("expected dataset metadata, got %#v", vis.Metadata)
	}
	nir := snap["NIR - 2016-01-01__00-00-00-000"]
	if len(nir.Metadata) != 0 {
		t.Fatal("expected no metadata for malformed document")
	}
	for _, rec := range nir.Files {
		if rec.Error != "Failed to load JSON" {
			t.Fatalf("expected data error annotation, got %q", rec.Error)
		}
	}
}

func TestDrainKeepsNewerMetadataRevision(t *testing.T) {
	q, _ := Open("", nil)
	_, _ = q.Add(Submission{Dataset: "d", Metadata: map[string]any{"rev": 1.0}})
	batch := q.Snapshot()
	_, _ = q.Add(Submission{Dataset: "d", Metadata: map[string]any{"rev": 2.0}})
	if err := q.Drain(batch); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	snap := q.Snapshot()
	if snap["d"] == nil || snap["d"].Metadata["rev"] != 2.0 {
		t.Fatalf("expected newer metadata to survive drain, got %#v", snap["d"])
	}
}

func TestQueuePersistsAndRestores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")
	q, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, _ = q.Add(Submission{Dataset: "d", SpaceID: "space-1", Files: []*FileRecord{record("x/1")}})
	_, _ = q.Add(Submission{Dataset: "d", Files: []*FileRecord{record("x/2")}})

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove primary: %v", err)
	}
	restored, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	// The backup holds the state before the last write.
	if restored.FileCount() != 1 {
		t.Fatalf("expected backup with 1 file, got %d", restored.FileCount())
	}
	if restored.Snapshot()["d"].SpaceID != "space-1" {
		t.Fatal("expected space id to survive restart")
	}
}

func TestOpenRejectsCorruptQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, nil); err == nil {
		t.Fatal("expected corrupt queue to fail")
	}
}

func TestCleanupRemovesEmptyManifests(t *testing.T) {
	q, _ := Open("", nil)
	_, _ = q.Add(Submission{Dataset: "keep", Files: []*FileRecord{record("k/1")}})
	q.mu.Lock()
	q.items["empty"] = NewManifest()
	q.mu.Unlock()

	removed, err := q.Cleanup()
	if err != nil || removed != 1 {
		t.Fatalf("Cleanup: removed=%d err=%v", removed, err)
	}
	if q.DatasetCount() != 1 {
		t.Fatalf("expected 1 dataset, got %d", q.DatasetCount())
	}
}
