package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists sync state and the indexed-document taxonomy in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a state store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Load returns the tenant's sync state, or a fresh Idle state when the
// tenant has never synced.
func (s *Store) Load(ctx context.Context, tenantID string) (*State, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT store_id, synced_file_ids, total_discovered, total_synced, status, last_error, updated_at
		 FROM sync_states WHERE tenant_id = $1`, tenantID)

	var (
		storeID   *string
		idsJSON   []byte
		lastError *string
		st        = &State{TenantID: tenantID, SyncedFileIDs: map[string]struct{}{}}
		status    string
	)
	err := row.Scan(&storeID, &idsJSON, &st.TotalDiscovered, &st.TotalSynced, &status, &lastError, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		st.Status = StatusIdle
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading sync state for %s: %w", tenantID, err)
	}

	st.Status = Status(status)
	if storeID != nil {
		st.StoreID = *storeID
	}
	if lastError != nil {
		st.LastError = *lastError
	}

	var ids []string
	if err := json.Unmarshal(idsJSON, &ids); err != nil {
		return nil, fmt.Errorf("decoding synced file ids for %s: %w", tenantID, err)
	}
	for _, id := range ids {
		st.SyncedFileIDs[id] = struct{}{}
	}
	return st, nil
}

// Save upserts the tenant's sync state.
func (s *Store) Save(ctx context.Context, st *State) error {
	ids := make([]string, 0, len(st.SyncedFileIDs))
	for id := range st.SyncedFileIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding synced file ids: %w", err)
	}

	var storeID, lastError *string
	if st.StoreID != "" {
		storeID = &st.StoreID
	}
	if st.LastError != "" {
		lastError = &st.LastError
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sync_states (tenant_id, store_id, synced_file_ids, total_discovered, total_synced, status, last_error, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   store_id = EXCLUDED.store_id,
		   synced_file_ids = EXCLUDED.synced_file_ids,
		   total_discovered = EXCLUDED.total_discovered,
		   total_synced = EXCLUDED.total_synced,
		   status = EXCLUDED.status,
		   last_error = EXCLUDED.last_error,
		   updated_at = now()`,
		st.TenantID, storeID, idsJSON, st.TotalDiscovered, st.TotalSynced, string(st.Status), lastError)
	if err != nil {
		return fmt.Errorf("saving sync state for %s: %w", st.TenantID, err)
	}

	s.logger.Debug("saved sync state",
		"tenant_id", st.TenantID,
		"status", st.Status,
		"synced", st.TotalSynced)
	return nil
}

// AddDocument records one successfully imported document.
func (s *Store) AddDocument(ctx context.Context, doc IndexedDocument) error {
	var folderID *string
	if doc.FolderID != "" {
		folderID = &doc.FolderID
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO indexed_documents (id, tenant_id, original_file_name, indexed_blob_id, store_id, folder_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.TenantID, doc.OriginalFileName, doc.IndexedBlobID, doc.StoreID, folderID, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording indexed document %s: %w", doc.OriginalFileName, err)
	}
	return nil
}

// Documents lists a tenant's indexed documents, newest first.
func (s *Store) Documents(ctx context.Context, tenantID string) ([]IndexedDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, original_file_name, indexed_blob_id, store_id, folder_id, created_at
		 FROM indexed_documents WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing indexed documents: %w", err)
	}
	defer rows.Close()

	var docs []IndexedDocument
	for rows.Next() {
		var (
			doc      IndexedDocument
			folderID *string
		)
		if err := rows.Scan(&doc.ID, &doc.TenantID, &doc.OriginalFileName,
			&doc.IndexedBlobID, &doc.StoreID, &folderID, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning indexed document: %w", err)
		}
		if folderID != nil {
			doc.FolderID = *folderID
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes one taxonomy row. The remote file and the store
// contents are untouched; this only forgets the local record.
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM indexed_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting indexed document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("indexed document %s not found", id)
	}
	return nil
}
