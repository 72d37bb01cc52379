// Package retrieval answers questions by fanning out to the remote
// repository's search and the file-search index, assembling the hits into a
// grounded context and running one completion over it.
package retrieval

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/hoshi0/hoshi/internal/drive"
	"github.com/hoshi0/hoshi/internal/fileindex"
)

// SourceKind tags a citation with the source that produced it.
type SourceKind string

const (
	SourceRepository SourceKind = "repository"
	SourceIndex      SourceKind = "index"
)

// Citation attributes one context block of an answer to its source.
// Citations are ephemeral: produced per query, attached to one turn.
type Citation struct {
	Title     string     `json:"title"`
	SourceURI string     `json:"sourceUri,omitempty"`
	Snippet   string     `json:"snippet,omitempty"`
	Kind      SourceKind `json:"kind"`
}

// Answer is the result of one grounded completion.
type Answer struct {
	Text      string
	Citations []Citation
	ModelID   string
}

// TenantContext scopes one answer call to a tenant's data.
type TenantContext struct {
	TenantID          string
	StoreIDs          []string // file-search stores to ground against
	RootFolderID      string   // narrows repository search; empty = whole repository
	RepositoryEnabled bool
	IndexEnabled      bool
}

// Generator is the completion capability the orchestrator consumes, used
// both for low-token query rewriting and the final grounded answer.
// *GenkitGenerator satisfies this; tests substitute a stub.
type Generator interface {
	Generate(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error)
}

// RepositorySearcher is the repository's native full-text search.
// *drive.Client satisfies this.
type RepositorySearcher interface {
	Search(ctx context.Context, query, folderID string) ([]drive.File, error)
}

// IndexSearcher is the file-search index's grounded retrieval call.
// *fileindex.Client satisfies this.
type IndexSearcher interface {
	SearchStores(ctx context.Context, storeIDs []string, queries []string) (*fileindex.Grounding, error)
}

// GenkitGenerator adapts a genkit instance to the Generator interface.
type GenkitGenerator struct {
	g *genkit.Genkit
}

// NewGenkitGenerator wraps g.
func NewGenkitGenerator(g *genkit.Genkit) *GenkitGenerator {
	return &GenkitGenerator{g: g}
}

// Generate calls genkit.Generate against the wrapped instance.
func (gg *GenkitGenerator) Generate(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error) {
	return genkit.Generate(ctx, gg.g, opts...)
}
