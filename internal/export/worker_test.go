package export

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"cellpack/internal/blob"
	coreblob "cellpack/internal/blob/core"
	"cellpack/internal/core"
)

var _ BuildScheduler = (*Worker)(nil)

func workerFixture(t *testing.T, store coreblob.Store, audit AuditLogger) (*Worker, PackageRequest) {
	t.Helper()
	m, lookup := packageFixture(t)
	w := NewWorker(NewPackager(lookup), store, audit)
	request := PackageRequest{
		Matrix:         m,
		LabelSeparator: "_",
		Organism:       9606,
		BatchColumn:    "token_2",
		Title:          "PBMC study",
		Technology:     "10x",
		Contact:        "lab@example.org",
		Version:        3,
	}
	return w, request
}

func waitForStatus(t *testing.T, w *Worker, id string, status BuildStatus) BuildRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cur, ok := w.Get(id)
		if !ok {
			t.Fatalf("missing build record %s", id)
		}
		if cur.Status == status {
			return cur
		}
		if cur.Status == BuildStatusFailed && status != BuildStatusFailed {
			t.Fatalf("unexpected failure: %s", cur.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("build %s did not reach status %s", id, status)
	return BuildRecord{}
}

func TestWorkerBuildStoresBundle(t *testing.T) {
	store := blob.NewMemory()
	audit := &MemoryAuditLog{}
	w, request := workerFixture(t, store, audit)
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	rec, err := w.Enqueue(context.Background(), BuildInput{Request: request, RequestedBy: "tester"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if rec.ID == "" || rec.Status != BuildStatusQueued {
		t.Fatalf("unexpected queued record: %+v", rec)
	}

	done := waitForStatus(t, w, rec.ID, BuildStatusSucceeded)
	if done.Artifact == nil {
		t.Fatalf("expected artifact on succeeded record")
	}
	if done.Artifact.Key != "packages/"+rec.ID+"/bundle.zip" {
		t.Fatalf("artifact key = %s", done.Artifact.Key)
	}
	if done.Artifact.ContentType != "application/zip" || done.Artifact.SizeBytes <= 0 {
		t.Fatalf("unexpected artifact: %+v", done.Artifact)
	}
	wantStats := core.PartitionStats{Total: 5, Resolved: 1, Unassigned: 1, MultiMapped: 1, Collisions: 2}
	if done.Stats != wantStats {
		t.Fatalf("stats = %+v, want %+v", done.Stats, wantStats)
	}
	if done.CompletedAt == nil {
		t.Fatalf("expected completion timestamp")
	}

	info, rc, err := store.Get(context.Background(), done.Artifact.Key)
	if err != nil {
		t.Fatalf("get bundle: %v", err)
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	_ = rc.Close()
	if info.Metadata["title"] != "PBMC study" || info.Metadata["genes"] != "5" || info.Metadata["cells"] != "2" {
		t.Fatalf("bundle metadata = %+v", info.Metadata)
	}
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	wantNames := []string{
		CellMetadataFile,
		ExpressionFile,
		ExcludedExpressionFile,
		GeneMetadataFile,
		ExcludedGeneMetadataFile,
		ManifestFile,
	}
	if len(archive.File) != len(wantNames) {
		t.Fatalf("bundle holds %d entries, want %d", len(archive.File), len(wantNames))
	}
	for i, entry := range archive.File {
		if entry.Name != wantNames[i] {
			t.Fatalf("entry %d = %s, want %s", i, entry.Name, wantNames[i])
		}
	}
}

func TestWorkerAuditTrail(t *testing.T) {
	audit := &MemoryAuditLog{}
	w, request := workerFixture(t, blob.NewMemory(), audit)
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	rec, err := w.Enqueue(context.Background(), BuildInput{Request: request, RequestedBy: "tester"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitForStatus(t, w, rec.ID, BuildStatusSucceeded)

	deadline := time.Now().Add(2 * time.Second)
	var entries []AuditEntry
	for time.Now().Before(deadline) {
		entries = audit.Entries()
		if len(entries) >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(entries))
	}
	wantStatuses := []BuildStatus{BuildStatusQueued, BuildStatusRunning, BuildStatusSucceeded}
	for i, entry := range entries {
		if entry.Status != wantStatuses[i] {
			t.Fatalf("entry %d status = %s, want %s", i, entry.Status, wantStatuses[i])
		}
		if entry.Action != "package_build" || entry.Actor != "tester" || entry.Title != "PBMC study" {
			t.Fatalf("unexpected audit entry: %+v", entry)
		}
	}
	final := entries[2]
	if final.Metadata["key"] != done.Artifact.Key {
		t.Fatalf("final audit metadata = %+v", final.Metadata)
	}
	if final.Metadata["resolved"] != 1 || final.Metadata["excluded"] != 4 {
		t.Fatalf("final audit counts = %+v", final.Metadata)
	}
}

func TestWorkerBuildWithoutStore(t *testing.T) {
	w, request := workerFixture(t, nil, nil)
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	rec, err := w.Enqueue(context.Background(), BuildInput{Request: request})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitForStatus(t, w, rec.ID, BuildStatusSucceeded)
	if done.Artifact == nil || done.Artifact.SizeBytes <= 0 {
		t.Fatalf("expected rendered artifact without store, got %+v", done.Artifact)
	}
}

func TestWorkerBuildFailure(t *testing.T) {
	audit := &MemoryAuditLog{}
	w, request := workerFixture(t, nil, audit)
	request.Version = -1
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	rec, err := w.Enqueue(context.Background(), BuildInput{Request: request, RequestedBy: "tester"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitForStatus(t, w, rec.ID, BuildStatusFailed)
	if !strings.Contains(done.Error, "package build failed") {
		t.Fatalf("unexpected error: %s", done.Error)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries := audit.Entries()
		if len(entries) >= 3 {
			last := entries[len(entries)-1]
			if last.Status != BuildStatusFailed {
				t.Fatalf("last audit status = %s", last.Status)
			}
			if _, ok := last.Metadata["error"]; !ok {
				t.Fatalf("expected error metadata, got %+v", last.Metadata)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("failed audit entry not observed")
}

type failingStore struct{}

func (failingStore) Put(context.Context, string, io.Reader, coreblob.PutOptions) (coreblob.Info, error) {
	return coreblob.Info{}, fmt.Errorf("put failed")
}

func (failingStore) Get(context.Context, string) (coreblob.Info, io.ReadCloser, error) {
	return coreblob.Info{}, nil, fmt.Errorf("no")
}

func (failingStore) Head(context.Context, string) (coreblob.Info, error) {
	return coreblob.Info{}, fmt.Errorf("no")
}

func (failingStore) Delete(context.Context, string) (bool, error) { return false, nil }

func (failingStore) List(context.Context, string) ([]coreblob.Info, error) { return nil, nil }

func (failingStore) PresignURL(context.Context, string, coreblob.SignedURLOptions) (string, error) {
	return "", coreblob.ErrUnsupported
}

func (failingStore) Driver() coreblob.Driver { return coreblob.DriverMemory }

func TestWorkerStoreFailure(t *testing.T) {
	w, request := workerFixture(t, failingStore{}, nil)
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	rec, err := w.Enqueue(context.Background(), BuildInput{Request: request})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitForStatus(t, w, rec.ID, BuildStatusFailed)
	if !strings.Contains(done.Error, "store bundle failed") {
		t.Fatalf("unexpected error: %s", done.Error)
	}
}

func TestWorkerEnqueueValidation(t *testing.T) {
	m, lookup := packageFixture(t)

	bare := NewWorker(nil, nil, nil)
	if _, err := bare.Enqueue(context.Background(), BuildInput{Request: PackageRequest{Matrix: m}}); err == nil || !strings.Contains(err.Error(), "packager not configured") {
		t.Fatalf("expected packager error, got %v", err)
	}

	w := NewWorker(NewPackager(lookup), nil, nil)
	if _, err := w.Enqueue(context.Background(), BuildInput{Request: PackageRequest{}}); err == nil || !strings.Contains(err.Error(), "count matrix required") {
		t.Fatalf("expected matrix error, got %v", err)
	}
}

func TestWorkerQueueFull(t *testing.T) {
	w, request := workerFixture(t, nil, nil)
	w.queue = make(chan buildTask, 1)
	w.queue <- buildTask{id: "pre"}

	_, err := w.Enqueue(context.Background(), BuildInput{Request: request})
	if err == nil || !strings.Contains(err.Error(), "queue full") {
		t.Fatalf("expected queue full error, got %v", err)
	}
}

// TestWorkerEnqueueGeneratesUniqueIDs validates ID assignment (indirectly testing newID()).
func TestWorkerEnqueueGeneratesUniqueIDs(t *testing.T) {
	w, request := workerFixture(t, nil, nil)
	ids := make(map[string]struct{})
	for i := 0; i < 30; i++ {
		rec, err := w.Enqueue(context.Background(), BuildInput{Request: request, RequestedBy: "tester"})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if rec.ID == "" {
			t.Fatalf("expected id")
		}
		if _, dup := ids[rec.ID]; dup {
			t.Fatalf("duplicate id generated: %s", rec.ID)
		}
		ids[rec.ID] = struct{}{}
	}
}

// TestWorkerStopTwice covers the branch where Stop is invoked multiple times
// (second call should be a no-op).
func TestWorkerStopTwice(t *testing.T) {
	w, request := workerFixture(t, nil, nil)
	w.Start()
	_, _ = w.Enqueue(context.Background(), BuildInput{Request: request})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("first stop error: %v", err)
	}
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("second stop error: %v", err)
	}
}

func TestWorkerProcessMissingRecordBranch(_ *testing.T) {
	w := NewWorker(nil, nil, nil)
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	w.queue <- buildTask{id: "ghost"}
	time.Sleep(50 * time.Millisecond)
}

func TestWorkerGetMissing(t *testing.T) {
	w, _ := workerFixture(t, nil, nil)
	if _, ok := w.Get("nope"); ok {
		t.Fatalf("expected miss for unknown id")
	}
}
