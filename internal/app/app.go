// Package app wires configuration, storage, clients and the core engines
// into one container consumed by the CLI commands.
package app

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hoshi0/hoshi/internal/config"
	"github.com/hoshi0/hoshi/internal/conversation"
	"github.com/hoshi0/hoshi/internal/drive"
	"github.com/hoshi0/hoshi/internal/fileindex"
	"github.com/hoshi0/hoshi/internal/retrieval"
	"github.com/hoshi0/hoshi/internal/syncer"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit *genkit.Genkit
	Pool   *pgxpool.Pool

	// Drive and Index are nil when the matching source is disabled.
	Drive *drive.Client
	Index *fileindex.Client

	SyncStates    *syncer.Store
	Syncer        *syncer.Engine
	Orchestrator  *retrieval.Orchestrator
	Conversations *conversation.PostgresStore
	Machine       *conversation.Machine
}

// Close releases all held resources.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Debug("database pool closed")
	}
}

// Tenant assembles the retrieval scope for the configured tenant, looking up
// the file-search store created by past syncs. A tenant that never synced
// gets an empty store list, which disables index grounding for the call.
func (a *App) Tenant(ctx context.Context) (retrieval.TenantContext, error) {
	tenant := retrieval.TenantContext{
		TenantID:          a.Config.TenantID,
		RootFolderID:      a.Config.DriveRootFolder,
		RepositoryEnabled: a.Config.DriveEnabled && a.Drive != nil,
		IndexEnabled:      a.Config.IndexEnabled && a.Index != nil,
	}

	st, err := a.SyncStates.Load(ctx, a.Config.TenantID)
	if err != nil {
		return tenant, err
	}
	if st.StoreID != "" {
		tenant.StoreIDs = []string{st.StoreID}
	}
	return tenant, nil
}
