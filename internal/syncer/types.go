// Package syncer mirrors the remote document repository into the managed
// file-search index: recursive crawl, diff against the previously-synced
// identity set, format conversion and batched concurrent upload.
package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hoshi0/hoshi/internal/drive"
)

// Status is the lifecycle state of a tenant's sync record.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// State is the per-tenant sync record. SyncedFileIDs only grows, within and
// across runs; the record is persisted after every batch so a crash loses at
// most one batch of work.
type State struct {
	TenantID        string
	StoreID         string
	SyncedFileIDs   map[string]struct{}
	TotalDiscovered int
	TotalSynced     int
	Status          Status
	LastError       string
	UpdatedAt       time.Time
}

// Synced reports whether the file id was uploaded in this or a prior run.
func (s *State) Synced(fileID string) bool {
	_, ok := s.SyncedFileIDs[fileID]
	return ok
}

// Drift is the result of a read-only re-crawl against the synced set.
// Deleted remote files are reported, never acted on: removing them from the
// index is a separate, deliberate operation.
type Drift struct {
	NeedsSync    bool
	NewCount     int
	DeletedCount int
}

// IndexedDocument is the local taxonomy row written per successful import.
// It references the index-side blob and store, not the remote file, so it is
// deletable independently of the remote repository.
type IndexedDocument struct {
	ID               uuid.UUID
	TenantID         string
	OriginalFileName string
	IndexedBlobID    string
	StoreID          string
	FolderID         string
	CreatedAt        time.Time
}

// Result summarizes one sync run.
type Result struct {
	FilesSynced   int
	FilesSkipped  int
	FilesFailed   int
	TotalDuration time.Duration
}

// Repository is the slice of the remote repository the engine consumes.
// Interfaces are defined by the consumer; *drive.Client satisfies this.
type Repository interface {
	ListChildren(ctx context.Context, folderID, pageToken string) (*drive.Page, error)
	DownloadBlob(ctx context.Context, fileID string) ([]byte, error)
	ExportNative(ctx context.Context, fileID, targetMime string) ([]byte, error)
}

// Index is the slice of the file-search service the engine consumes.
// *fileindex.Client satisfies this.
type Index interface {
	CreateStore(ctx context.Context, displayName string) (string, error)
	UploadBlob(ctx context.Context, data []byte, name, mimeType string) (string, error)
	ImportBlobIntoStore(ctx context.Context, storeID, blobID string) error
}

// StateStore persists sync state and the indexed-document taxonomy.
// *Store (state.go) satisfies this against PostgreSQL.
type StateStore interface {
	// Load returns the tenant's state, or a fresh Idle state when the tenant
	// has never synced.
	Load(ctx context.Context, tenantID string) (*State, error)
	Save(ctx context.Context, state *State) error
	AddDocument(ctx context.Context, doc IndexedDocument) error
}
