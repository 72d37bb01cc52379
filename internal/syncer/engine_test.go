package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoshi0/hoshi/internal/drive"
	"github.com/hoshi0/hoshi/internal/fault"
	"github.com/hoshi0/hoshi/internal/log"
)

// fakeRepo serves a fixed folder tree from memory.
type fakeRepo struct {
	mu       sync.Mutex
	children map[string][]drive.File // folder id -> children
	listErr  map[string]error        // folder id -> error
	fileErr  map[string]error        // file id -> download/export error
	failOnce map[string]error        // file id -> error returned on first attempt only

	downloads []string
	exports   []string
}

func (r *fakeRepo) ListChildren(_ context.Context, folderID, _ string) (*drive.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.listErr[folderID]; err != nil {
		return nil, err
	}
	return &drive.Page{Files: r.children[folderID]}, nil
}

func (r *fakeRepo) DownloadBlob(_ context.Context, fileID string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(fileID); err != nil {
		return nil, err
	}
	r.downloads = append(r.downloads, fileID)
	return []byte("content of " + fileID), nil
}

func (r *fakeRepo) ExportNative(_ context.Context, fileID, _ string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(fileID); err != nil {
		return nil, err
	}
	r.exports = append(r.exports, fileID)
	return []byte("rendered " + fileID), nil
}

func (r *fakeRepo) takeErr(fileID string) error {
	if err := r.fileErr[fileID]; err != nil {
		return err
	}
	if err := r.failOnce[fileID]; err != nil {
		delete(r.failOnce, fileID)
		return err
	}
	return nil
}

// fakeIndex records store, upload and import calls.
type fakeIndex struct {
	mu        sync.Mutex
	createErr error
	uploadErr map[string]error // blob name -> error

	storesCreated int
	uploads       []string
	imports       []string
}

func (x *fakeIndex) CreateStore(_ context.Context, displayName string) (string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.createErr != nil {
		return "", x.createErr
	}
	x.storesCreated++
	return "stores/" + displayName, nil
}

func (x *fakeIndex) UploadBlob(_ context.Context, _ []byte, name, _ string) (string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.uploadErr[name]; err != nil {
		return "", err
	}
	x.uploads = append(x.uploads, name)
	return "blobs/" + name, nil
}

func (x *fakeIndex) ImportBlobIntoStore(_ context.Context, _, blobID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.imports = append(x.imports, blobID)
	return nil
}

// memStates keeps sync state in memory, copying on the way in and out so the
// engine's mutations only land via Save.
type memStates struct {
	mu    sync.Mutex
	state *State
	docs  []IndexedDocument
	saves int
}

func (m *memStates) Load(_ context.Context, tenantID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return &State{TenantID: tenantID, SyncedFileIDs: map[string]struct{}{}, Status: StatusIdle}, nil
	}
	return copyState(m.state), nil
}

func (m *memStates) Save(_ context.Context, st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = copyState(st)
	m.saves++
	return nil
}

func (m *memStates) AddDocument(_ context.Context, doc IndexedDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, doc)
	return nil
}

func copyState(st *State) *State {
	c := *st
	c.SyncedFileIDs = make(map[string]struct{}, len(st.SyncedFileIDs))
	for id := range st.SyncedFileIDs {
		c.SyncedFileIDs[id] = struct{}{}
	}
	return &c
}

func file(id, mime string) drive.File {
	return drive.File{ID: id, Name: id + ".txt", MimeType: mime}
}

func folder(id string) drive.File {
	return drive.File{ID: id, Name: id, MimeType: drive.MimeFolder}
}

func newTestEngine(t *testing.T, repo *fakeRepo, index *fakeIndex, states *memStates, opts ...func(*Config)) *Engine {
	t.Helper()
	cfg := Config{
		Repository:   repo,
		Index:        index,
		States:       states,
		Logger:       log.NewNop(),
		RootFolderID: "root",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func TestRunIndexesDiscoveredFiles(t *testing.T) {
	repo := &fakeRepo{children: map[string][]drive.File{
		"root": {file("a", "text/plain"), file("b", "application/pdf"), folder("sub")},
		"sub":  {file("c", "text/markdown")},
	}}
	index := &fakeIndex{}
	states := &memStates{}
	e := newTestEngine(t, repo, index, states)

	st, err := e.Run(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, 3, st.TotalDiscovered)
	assert.Equal(t, 3, st.TotalSynced)
	assert.Equal(t, 1, index.storesCreated)
	assert.Len(t, index.imports, 3)
	assert.Len(t, states.docs, 3)
	assert.Equal(t, "stores/hoshi-acme", st.StoreID)
}

func TestRunSyncsOnlyNewFiles(t *testing.T) {
	repo := &fakeRepo{children: map[string][]drive.File{
		"root": {file("a", "text/plain"), file("b", "text/plain"), file("c", "text/plain")},
	}}
	index := &fakeIndex{}
	states := &memStates{state: &State{
		TenantID:      "acme",
		StoreID:       "stores/existing",
		SyncedFileIDs: map[string]struct{}{"a": {}},
		Status:        StatusCompleted,
	}}
	e := newTestEngine(t, repo, index, states)

	st, err := e.Run(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, 3, st.TotalDiscovered)
	assert.Equal(t, 3, st.TotalSynced)
	assert.ElementsMatch(t, []string{"b.txt", "c.txt"}, index.uploads)
	assert.Equal(t, 0, index.storesCreated, "existing store must be reused")
	assert.Equal(t, "stores/existing", st.StoreID)
}

func TestRunSteadyStateIsNoOp(t *testing.T) {
	repo := &fakeRepo{children: map[string][]drive.File{
		"root": {file("a", "text/plain")},
	}}
	index := &fakeIndex{}
	states := &memStates{state: &State{
		TenantID:        "acme",
		StoreID:         "stores/existing",
		SyncedFileIDs:   map[string]struct{}{"a": {}},
		TotalDiscovered: 1,
		TotalSynced:     1,
		Status:          StatusCompleted,
	}}
	e := newTestEngine(t, repo, index, states)

	st, err := e.Run(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Empty(t, index.uploads)
	assert.Empty(t, repo.downloads)

	// A second run changes nothing either.
	st2, err := e.Run(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, st.TotalSynced, st2.TotalSynced)
	assert.Empty(t, index.uploads)
}

func TestCrawlTerminatesOnFolderCycle(t *testing.T) {
	// sub1 and sub2 reference each other; the visited set must break the loop.
	repo := &fakeRepo{children: map[string][]drive.File{
		"root": {folder("sub1"), file("a", "text/plain")},
		"sub1": {folder("sub2"), file("b", "text/plain")},
		"sub2": {folder("sub1"), file("c", "text/plain")},
	}}
	index := &fakeIndex{}
	states := &memStates{}
	e := newTestEngine(t, repo, index, states)

	st, err := e.Run(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalSynced)
}

func TestCrawlRespectsDepthBound(t *testing.T) {
	repo := &fakeRepo{children: map[string][]drive.File{
		"root": {file("a", "text/plain"), folder("l1")},
		"l1":   {file("b", "text/plain"), folder("l2")},
		"l2":   {file("c", "text/plain")},
	}}
	index := &fakeIndex{}
	states := &memStates{}
	e := newTestEngine(t, repo, index, states, func(c *Config) {
		*c = c.WithMaxDepth(1)
	})

	st, err := e.Run(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, 2, st.TotalSynced)
	assert.True(t, st.Synced("a"))
	assert.True(t, st.Synced("b"))
	assert.False(t, st.Synced("c"), "file below the depth bound must be skipped")
}

func TestRunSkipsDisallowedTypes(t *testing.T) {
	repo := &fakeRepo{children: map[string][]drive.File{
		"root": {
			file("a1", "text/plain"), file("a2", "application/pdf"),
			file("a3", "text/csv"), file("a4", "application/json"),
			file("x1", "image/png"),
			folder("f1"), folder("f2"),
		},
		"f1": {
			file("b1", "text/markdown"), file("b2", "application/vnd.google-apps.document"),
			file("b3", "application/vnd.google-apps.spreadsheet"),
		},
		"f2": {
			file("c1", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"),
			file("c2", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"),
			file("c3", "application/vnd.openxmlformats-officedocument.presentationml.presentation"),
			file("x2", "video/mp4"),
		},
	}}
	index := &fakeIndex{}
	states := &memStates{}
	e := newTestEngine(t, repo, index, states)

	st, err := e.Run(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, 10, st.TotalDiscovered)
	assert.Equal(t, 10, st.TotalSynced)
	assert.False(t, st.Synced("x1"))
	assert.False(t, st.Synced("x2"))
}

func TestNativeTypesAreExported(t *testing.T) {
	repo := &fakeRepo{children: map[string][]drive.File{
		"root": {
			{ID: "doc", Name: "quarterly-report", MimeType: "application/vnd.google-apps.document"},
			{ID: "sheet", Name: "budget", MimeType: "application/vnd.google-apps.spreadsheet"},
		},
	}}
	index := &fakeIndex{}
	states := &memStates{}
	e := newTestEngine(t, repo, index, states)

	_, err := e.Run(context.Background(), "acme")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"doc", "sheet"}, repo.exports)
	assert.Empty(t, repo.downloads)
	assert.ElementsMatch(t, []string{"quarterly-report.pdf", "budget.csv"}, index.uploads)
}

func TestPerFileFailureDoesNotAbortRun(t *testing.T) {
	repo := &fakeRepo{children: map[string][]drive.File{
		"root": {file("a", "text/plain"), file("b", "text/plain"), file("c", "text/plain")},
	}}
	index := &fakeIndex{uploadErr: map[string]error{
		"b.txt": fmt.Errorf("payload rejected: %w", fault.ErrPermanentInput),
	}}
	states := &memStates{}
	e := newTestEngine(t, repo, index, states)

	st, err := e.Run(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, 2, st.TotalSynced)
	assert.False(t, st.Synced("b"))

	// The next run retries only the failed file.
	index.mu.Lock()
	delete(index.uploadErr, "b.txt")
	index.uploads = nil
	index.mu.Unlock()

	st, err = e.Run(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalSynced)
	assert.Equal(t, []string{"b.txt"}, index.uploads)
}

func TestTransientFailureGetsOneRetry(t *testing.T) {
	repo := &fakeRepo{
		children: map[string][]drive.File{
			"root": {file("a", "text/plain")},
		},
		failOnce: map[string]error{
			"a": fmt.Errorf("throttled: %w", fault.ErrTransient),
		},
	}
	index := &fakeIndex{}
	states := &memStates{}
	e := newTestEngine(t, repo, index, states)

	st, err := e.Run(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalSynced)
}

func TestAuthExpiredAbortsRun(t *testing.T) {
	repo := &fakeRepo{
		children: map[string][]drive.File{
			"root": {file("a", "text/plain"), file("b", "text/plain")},
		},
		fileErr: map[string]error{
			"a": fmt.Errorf("token rejected: %w", fault.ErrAuthExpired),
		},
	}
	index := &fakeIndex{}
	states := &memStates{state: &State{
		TenantID:        "acme",
		StoreID:         "stores/existing",
		SyncedFileIDs:   map[string]struct{}{"old": {}},
		TotalDiscovered: 1,
		TotalSynced:     1,
		Status:          StatusCompleted,
	}}
	e := newTestEngine(t, repo, index, states)

	st, err := e.Run(context.Background(), "acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrAuthExpired)
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, 1, st.TotalDiscovered, "prior progress counts must survive an abort")
	assert.Equal(t, 1, st.TotalSynced)
	assert.True(t, st.Synced("old"))
}

func TestStoreCreationFailureAbortsBeforeUploads(t *testing.T) {
	repo := &fakeRepo{children: map[string][]drive.File{
		"root": {file("a", "text/plain")},
	}}
	index := &fakeIndex{createErr: errors.New("quota exceeded")}
	states := &memStates{}
	e := newTestEngine(t, repo, index, states)

	st, err := e.Run(context.Background(), "acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrRunLevel)
	assert.Equal(t, StatusError, st.Status)
	assert.Empty(t, index.uploads)
	assert.Empty(t, st.StoreID)
}

func TestUnreachableRootIsFatal(t *testing.T) {
	repo := &fakeRepo{
		children: map[string][]drive.File{},
		listErr:  map[string]error{"root": fmt.Errorf("not found: %w", fault.ErrPermanentInput)},
	}
	e := newTestEngine(t, repo, &fakeIndex{}, &memStates{})

	_, err := e.Run(context.Background(), "acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrRunLevel)
}

func TestUnreadableChildFolderIsSkipped(t *testing.T) {
	repo := &fakeRepo{
		children: map[string][]drive.File{
			"root": {file("a", "text/plain"), folder("locked")},
		},
		listErr: map[string]error{"locked": fmt.Errorf("forbidden: %w", fault.ErrPermanentInput)},
	}
	index := &fakeIndex{}
	states := &memStates{}
	e := newTestEngine(t, repo, index, states)

	st, err := e.Run(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalSynced)
}

func TestCheckDriftReportsWithoutActing(t *testing.T) {
	repo := &fakeRepo{children: map[string][]drive.File{
		"root": {file("b", "text/plain"), file("c", "text/plain")},
	}}
	index := &fakeIndex{}
	states := &memStates{state: &State{
		TenantID:      "acme",
		SyncedFileIDs: map[string]struct{}{"a": {}, "b": {}},
		Status:        StatusCompleted,
	}}
	e := newTestEngine(t, repo, index, states)

	drift, err := e.CheckDrift(context.Background(), "acme")
	require.NoError(t, err)

	assert.True(t, drift.NeedsSync)
	assert.Equal(t, 1, drift.NewCount)
	assert.Equal(t, 1, drift.DeletedCount)
	assert.Empty(t, index.uploads, "drift check must not upload")
	assert.Empty(t, repo.downloads)

	// The synced set is untouched; deletions are report-only.
	st, err := states.Load(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, st.Synced("a"))
}

func TestStatePersistedPerBatch(t *testing.T) {
	var files []drive.File
	for i := range 7 {
		files = append(files, file(fmt.Sprintf("f%d", i), "text/plain"))
	}
	repo := &fakeRepo{children: map[string][]drive.File{"root": files}}
	index := &fakeIndex{}
	states := &memStates{}
	e := newTestEngine(t, repo, index, states, func(c *Config) {
		c.BatchWidth = 3
	})

	_, err := e.Run(context.Background(), "acme")
	require.NoError(t, err)

	// One save for the syncing transition, one per batch (3+3+1), one final.
	assert.Equal(t, 5, states.saves)
}
