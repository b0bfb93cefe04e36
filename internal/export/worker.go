package export

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"strconv"
	"sync"
	"time"

	coreblob "cellpack/internal/blob/core"
	"cellpack/internal/core"
)

// BuildStatus describes the lifecycle stage of a package build request.
type BuildStatus string

const (
	BuildStatusQueued    BuildStatus = "queued"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
)

// BuildArtifact captures the stored package bundle.
type BuildArtifact struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	ETag        string    `json:"etag,omitempty"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// BuildRecord tracks a build request and its resulting bundle.
type BuildRecord struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	RequestedBy string              `json:"requested_by"`
	Status      BuildStatus         `json:"status"`
	Error       string              `json:"error,omitempty"`
	Artifact    *BuildArtifact      `json:"artifact,omitempty"`
	Stats       core.PartitionStats `json:"stats"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// BuildInput represents an enqueue request for the worker.
type BuildInput struct {
	Request     PackageRequest
	RequestedBy string
}

// BuildScheduler queues package builds and exposes their status.
type BuildScheduler interface {
	Enqueue(ctx context.Context, input BuildInput) (BuildRecord, error)
	Get(id string) (BuildRecord, bool)
}

// AuditLogger records build audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures audit trail metadata for package builds.
type AuditEntry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor"`
	Title      string         `json:"title"`
	Status     BuildStatus    `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Worker executes package builds asynchronously. Each accepted request runs
// the packager once, bundles the rendered files, and stores the bundle as a
// single immutable blob.
type Worker struct {
	packager *Packager
	store    coreblob.Store
	audit    AuditLogger

	queue chan buildTask
	mu    sync.RWMutex
	jobs  map[string]*BuildRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type buildTask struct {
	id    string
	input BuildInput
}

// NewWorker constructs a build worker. The blob store and audit logger are
// optional; without a store the bundle is rendered and discarded, the record
// still carrying its size.
func NewWorker(packager *Packager, store coreblob.Store, audit AuditLogger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		packager: packager,
		store:    store,
		audit:    audit,
		queue:    make(chan buildTask, 32),
		jobs:     make(map[string]*BuildRecord),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing build requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.process(task)
		}
	}
}

// Enqueue schedules a package build and returns the queued record.
func (w *Worker) Enqueue(ctx context.Context, input BuildInput) (BuildRecord, error) {
	if w.packager == nil {
		return BuildRecord{}, fmt.Errorf("packager not configured")
	}
	if input.Request.Matrix == nil {
		return BuildRecord{}, fmt.Errorf("count matrix required")
	}

	id := newID()
	now := time.Now().UTC()
	record := BuildRecord{
		ID:          id,
		Title:       input.Request.Title,
		RequestedBy: input.RequestedBy,
		Status:      BuildStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	queuedSnapshot := record.copy()
	w.mu.Unlock()

	if w.audit != nil {
		w.audit.Record(ctx, AuditEntry{
			ID:         newID(),
			Action:     "package_build",
			Actor:      input.RequestedBy,
			Title:      input.Request.Title,
			Status:     BuildStatusQueued,
			OccurredAt: now,
		})
	}

	select {
	case w.queue <- buildTask{id: id, input: input}:
	default:
		return BuildRecord{}, fmt.Errorf("build queue full")
	}

	return queuedSnapshot, nil
}

// Get returns a snapshot of the build record.
func (w *Worker) Get(id string) (BuildRecord, bool) {
	w.mu.RLock()
	record, ok := w.jobs[id]
	if !ok {
		w.mu.RUnlock()
		return BuildRecord{}, false
	}
	snapshot := record.copy()
	w.mu.RUnlock()
	return snapshot, true
}

func (w *Worker) process(task buildTask) {
	record := w.snapshot(task.id)
	if record == nil {
		return
	}

	w.updateStatus(task.id, BuildStatusRunning, "")

	result, err := w.packager.Build(w.ctx, task.input.Request)
	if err != nil {
		w.fail(task.id, fmt.Sprintf("package build failed: %v", err))
		return
	}

	// The job creation time stamps every bundle entry, so retrying the
	// same job yields a byte-identical archive.
	var bundle bytes.Buffer
	if err := Bundle(&bundle, result.Files, record.CreatedAt); err != nil {
		w.fail(task.id, fmt.Sprintf("bundle package failed: %v", err))
		return
	}

	artifact := BuildArtifact{
		Key:         bundleKey(task.id),
		ContentType: "application/zip",
		SizeBytes:   int64(bundle.Len()),
		CreatedAt:   time.Now().UTC(),
	}
	if w.store != nil {
		info, err := w.store.Put(w.ctx, artifact.Key, bytes.NewReader(bundle.Bytes()), coreblob.PutOptions{
			ContentType: artifact.ContentType,
			Metadata: map[string]string{
				"title": task.input.Request.Title,
				"cells": strconv.Itoa(len(result.Cells)),
				"genes": strconv.Itoa(result.Stats.Total),
			},
		})
		if err != nil {
			w.fail(task.id, fmt.Sprintf("store bundle failed: %v", err))
			return
		}
		artifact.ETag = info.ETag
		artifact.URL = info.URL
		if info.Size > 0 {
			artifact.SizeBytes = info.Size
		}
		if !info.LastModified.IsZero() {
			artifact.CreatedAt = info.LastModified
		}
	}

	w.complete(task.id, artifact, result.Stats)
}

// bundleKey is the blob key of a job's package bundle.
func bundleKey(id string) string {
	return "packages/" + id + "/bundle.zip"
}

func (w *Worker) snapshot(id string) *BuildRecord {
	w.mu.RLock()
	record, ok := w.jobs[id]
	w.mu.RUnlock()
	if !ok {
		return nil
	}
	return record
}

func (w *Worker) updateStatus(id string, status BuildStatus, message string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = now
	}
	w.mu.Unlock()
	if w.audit != nil {
		w.audit.Record(w.ctx, AuditEntry{
			ID:         newID(),
			Action:     "package_build",
			Actor:      w.actorFor(id),
			Title:      w.titleFor(id),
			Status:     status,
			OccurredAt: now,
		})
	}
}

func (w *Worker) complete(id string, artifact BuildArtifact, stats core.PartitionStats) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = BuildStatusSucceeded
		record.Error = ""
		record.Artifact = &artifact
		record.Stats = stats
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	if w.audit != nil {
		w.audit.Record(w.ctx, AuditEntry{
			ID:     newID(),
			Action: "package_build",
			Actor:  w.actorFor(id),
			Title:  w.titleFor(id),
			Status: BuildStatusSucceeded,
			Metadata: map[string]any{
				"key":      artifact.Key,
				"resolved": stats.Resolved,
				"excluded": stats.Excluded(),
			},
			OccurredAt: now,
		})
	}
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = BuildStatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	if w.audit != nil {
		w.audit.Record(w.ctx, AuditEntry{
			ID:         newID(),
			Action:     "package_build",
			Actor:      w.actorFor(id),
			Title:      w.titleFor(id),
			Status:     BuildStatusFailed,
			Metadata:   map[string]any{"error": reason},
			OccurredAt: now,
		})
	}
}

func (w *Worker) actorFor(id string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if record, ok := w.jobs[id]; ok {
		return record.RequestedBy
	}
	return ""
}

func (w *Worker) titleFor(id string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if record, ok := w.jobs[id]; ok {
		return record.Title
	}
	return ""
}

func (r BuildRecord) copy() BuildRecord {
	dup := r
	if r.Artifact != nil {
		artifact := *r.Artifact
		dup.Artifact = &artifact
	}
	return dup
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", b[:])
}

// MemoryAuditLog captures audit entries in-memory for assertions.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(ctx context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a defensive copy of recorded audit entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
