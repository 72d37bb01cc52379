package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hoshi0/hoshi/internal/drive"
	"github.com/hoshi0/hoshi/internal/fault"
)

const (
	// DefaultBatchWidth bounds concurrent per-file uploads within a batch.
	DefaultBatchWidth = 5

	// DefaultMaxDepth bounds crawl recursion. Folder graphs can contain
	// cycles (shortcut links); the bound guarantees termination.
	DefaultMaxDepth = 5

	// transientRetryDelay is the single cheap retry applied to one batch
	// item that failed transiently. Anything beyond that waits for the next
	// full run.
	transientRetryDelay = 500 * time.Millisecond
)

// Config contains all required parameters for the sync engine.
type Config struct {
	Repository Repository
	Index      Index
	States     StateStore
	Logger     *slog.Logger

	RootFolderID string // crawl root; empty means the repository root
	BatchWidth   int    // concurrent uploads per batch (default 5)
	MaxDepth     int    // crawl recursion bound (default 5); 0 = root children only
	depthSet     bool
}

// WithMaxDepth marks MaxDepth as explicitly configured, allowing zero.
func (c Config) WithMaxDepth(depth int) Config {
	c.MaxDepth = depth
	c.depthSet = true
	return c
}

func (c Config) validate() error {
	if c.Repository == nil {
		return errors.New("repository client is required")
	}
	if c.Index == nil {
		return errors.New("index client is required")
	}
	if c.States == nil {
		return errors.New("state store is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Engine runs the crawl → diff → convert → upload pipeline for one tenant at
// a time. Runs are idempotent with respect to already-synced file ids.
type Engine struct {
	repo       Repository
	index      Index
	states     StateStore
	logger     *slog.Logger
	rootFolder string
	batchWidth int
	maxDepth   int
}

// New creates a sync engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	batchWidth := cfg.BatchWidth
	if batchWidth <= 0 {
		batchWidth = DefaultBatchWidth
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 && !cfg.depthSet {
		maxDepth = DefaultMaxDepth
	}

	return &Engine{
		repo:       cfg.Repository,
		index:      cfg.Index,
		states:     cfg.States,
		logger:     cfg.Logger,
		rootFolder: cfg.RootFolderID,
		batchWidth: batchWidth,
		maxDepth:   maxDepth,
	}, nil
}

// Run executes one sync for the tenant and returns the resulting state.
//
// Per-file failures are logged and excluded from the synced set (they are
// retried on the next run); only run-level failures such as an unreachable
// crawl root, a store creation failure or expired credentials abort with
// Status Error and leave the prior synced set untouched.
func (e *Engine) Run(ctx context.Context, tenantID string) (*State, error) {
	start := time.Now()

	st, err := e.states.Load(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading sync state: %w", fault.ErrRunLevel, err)
	}
	priorDiscovered, priorSynced := st.TotalDiscovered, st.TotalSynced

	st.Status = StatusSyncing
	st.LastError = ""
	if err := e.states.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("%w: persisting sync state: %w", fault.ErrRunLevel, err)
	}

	discovered, err := e.crawl(ctx)
	if err != nil {
		return e.abort(ctx, st, priorDiscovered, priorSynced, err)
	}

	var newFiles []drive.File
	for _, f := range discovered {
		if !st.Synced(f.ID) {
			newFiles = append(newFiles, f)
		}
	}
	st.TotalDiscovered = len(discovered)

	e.logger.Info("sync crawl completed",
		"tenant_id", tenantID,
		"discovered", len(discovered),
		"new", len(newFiles))

	// Steady state: nothing new means nothing touches the network beyond
	// the crawl itself.
	if len(newFiles) == 0 {
		st.Status = StatusCompleted
		if err := e.states.Save(ctx, st); err != nil {
			return nil, fmt.Errorf("persisting sync state: %w", err)
		}
		return st, nil
	}

	if st.StoreID == "" {
		storeID, err := e.index.CreateStore(ctx, "hoshi-"+tenantID)
		if err != nil {
			return e.abort(ctx, st, priorDiscovered, priorSynced,
				fmt.Errorf("%w: creating store: %w", fault.ErrRunLevel, err))
		}
		st.StoreID = storeID
	}

	result := &Result{FilesSkipped: len(discovered) - len(newFiles)}
	if err := e.uploadBatches(ctx, st, newFiles, result); err != nil {
		return e.abort(ctx, st, priorDiscovered, priorSynced, err)
	}

	st.Status = StatusCompleted
	if err := e.states.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("persisting sync state: %w", err)
	}

	result.TotalDuration = time.Since(start)
	e.logger.Info("sync completed",
		"tenant_id", tenantID,
		"files_synced", result.FilesSynced,
		"files_skipped", result.FilesSkipped,
		"files_failed", result.FilesFailed,
		"duration", result.TotalDuration.String())
	return st, nil
}

// CheckDrift re-crawls and diffs without uploading anything.
func (e *Engine) CheckDrift(ctx context.Context, tenantID string) (*Drift, error) {
	st, err := e.states.Load(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading sync state: %w", err)
	}

	discovered, err := e.crawl(ctx)
	if err != nil {
		return nil, err
	}

	current := make(map[string]struct{}, len(discovered))
	drift := &Drift{}
	for _, f := range discovered {
		current[f.ID] = struct{}{}
		if !st.Synced(f.ID) {
			drift.NewCount++
		}
	}
	for id := range st.SyncedFileIDs {
		if _, ok := current[id]; !ok {
			drift.DeletedCount++
		}
	}
	drift.NeedsSync = drift.NewCount > 0
	return drift, nil
}

// abort records a run-level failure without touching the synced set or the
// prior progress counts.
func (e *Engine) abort(ctx context.Context, st *State, priorDiscovered, priorSynced int, cause error) (*State, error) {
	st.Status = StatusError
	st.LastError = cause.Error()
	st.TotalDiscovered = priorDiscovered
	st.TotalSynced = priorSynced
	if saveErr := e.states.Save(ctx, st); saveErr != nil {
		e.logger.Error("failed to persist error state", "tenant_id", st.TenantID, "error", saveErr)
	}
	return st, cause
}

// crawl enumerates indexable files from the crawl root, recursing into
// sub-folders up to the depth bound. A visited set makes cyclic folder
// graphs terminate; hitting the bound stops that branch without failing the
// run. An unreachable root is the only fatal crawl error.
func (e *Engine) crawl(ctx context.Context) ([]drive.File, error) {
	visited := map[string]struct{}{}
	var files []drive.File

	var walk func(folderID string, depth int, fatal bool) error
	walk = func(folderID string, depth int, fatal bool) error {
		if _, seen := visited[folderID]; seen {
			return nil
		}
		visited[folderID] = struct{}{}

		pageToken := ""
		for {
			page, err := e.repo.ListChildren(ctx, folderID, pageToken)
			if err != nil {
				if fatal || errors.Is(err, fault.ErrAuthExpired) {
					return fmt.Errorf("%w: crawl root unreachable: %w", fault.ErrRunLevel, err)
				}
				e.logger.Warn("skipping unreadable folder", "folder_id", folderID, "error", err)
				return nil
			}

			for _, f := range page.Files {
				if f.MimeType == drive.MimeFolder {
					if depth >= e.maxDepth {
						e.logger.Debug("depth bound reached, stopping branch",
							"folder_id", f.ID, "depth", depth)
						continue
					}
					if err := walk(f.ID, depth+1, false); err != nil {
						return err
					}
					continue
				}
				if indexable(f) {
					files = append(files, f)
				}
			}

			if page.NextPageToken == "" {
				return nil
			}
			pageToken = page.NextPageToken
		}
	}

	if err := walk(e.rootFolder, 0, true); err != nil {
		return nil, err
	}
	return files, nil
}

// uploadBatches processes newFiles in fixed-width concurrency batches,
// persisting state after every batch. A per-file failure is caught and
// logged and the id stays out of the synced set; expired credentials abort
// the whole run.
func (e *Engine) uploadBatches(ctx context.Context, st *State, newFiles []drive.File, result *Result) error {
	for batchStart := 0; batchStart < len(newFiles); batchStart += e.batchWidth {
		batchEnd := min(batchStart+e.batchWidth, len(newFiles))
		batch := newFiles[batchStart:batchEnd]
		succeeded := make([]bool, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for i, f := range batch {
			g.Go(func() error {
				err := e.processFile(gctx, st, f)
				if err == nil {
					succeeded[i] = true
					return nil
				}
				if errors.Is(err, fault.ErrAuthExpired) {
					// Every remaining file would fail the same way.
					return err
				}
				e.logger.Warn("failed to sync file, will retry next run",
					"file_id", f.ID, "file_name", f.Name, "error", err)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for i, ok := range succeeded {
			if ok {
				st.SyncedFileIDs[batch[i].ID] = struct{}{}
				result.FilesSynced++
			} else {
				result.FilesFailed++
			}
		}
		st.TotalSynced = len(st.SyncedFileIDs)

		if err := e.states.Save(ctx, st); err != nil {
			return fmt.Errorf("%w: persisting batch checkpoint: %w", fault.ErrRunLevel, err)
		}
		e.logger.Info("sync batch completed",
			"tenant_id", st.TenantID,
			"progress", fmt.Sprintf("%d/%d", batchEnd, len(newFiles)),
			"discovered", st.TotalDiscovered,
			"synced", st.TotalSynced)
	}
	return nil
}

// processFile runs one file through convert → upload → import and records
// the taxonomy row. A transiently failing step gets exactly one cheap retry.
func (e *Engine) processFile(ctx context.Context, st *State, f drive.File) error {
	attempt := func() error {
		data, name, mimeType, err := e.fetchConverted(ctx, f)
		if err != nil {
			return err
		}

		blobID, err := e.index.UploadBlob(ctx, data, name, mimeType)
		if err != nil {
			return fmt.Errorf("upload %s: %w", f.ID, err)
		}

		if err := e.index.ImportBlobIntoStore(ctx, st.StoreID, blobID); err != nil {
			return fmt.Errorf("import %s: %w", f.ID, err)
		}

		if err := e.states.AddDocument(ctx, IndexedDocument{
			ID:               uuid.New(),
			TenantID:         st.TenantID,
			OriginalFileName: f.Name,
			IndexedBlobID:    blobID,
			StoreID:          st.StoreID,
			FolderID:         f.ParentID,
			CreatedAt:        time.Now(),
		}); err != nil {
			return fmt.Errorf("recording document %s: %w", f.ID, err)
		}
		return nil
	}

	err := attempt()
	if err != nil && fault.IsTransient(err) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(transientRetryDelay):
		}
		err = attempt()
	}
	return err
}
