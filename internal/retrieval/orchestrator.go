package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"

	"github.com/hoshi0/hoshi/internal/drive"
	"github.com/hoshi0/hoshi/internal/fileindex"
)

// maxRepositoryQueries bounds how many rewritten queries hit the
// repository's native search per answer.
const maxRepositoryQueries = 2

const answerSystemPrompt = `You are hoshi, an internal knowledge assistant.
Answer the user's question using the context documents below when they are
relevant. Quote figures and policy values exactly as written. If the context
does not contain the answer, say so plainly instead of guessing.`

// Config contains all required parameters for the orchestrator.
type Config struct {
	Generator Generator
	Logger    *slog.Logger

	// Repository and Index may be nil; a nil source is treated as disabled
	// for every tenant.
	Repository RepositorySearcher
	Index      IndexSearcher

	ModelName        string // provider-qualified completion model
	RewriteModelName string // cheap model for query rewriting
}

func (cfg Config) validate() error {
	if cfg.Generator == nil {
		return errors.New("generator is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Orchestrator merges asynchronous results from two independently
// rate-limited sources into one grounded completion without losing
// attribution.
type Orchestrator struct {
	gen              Generator
	repo             RepositorySearcher
	index            IndexSearcher
	logger           *slog.Logger
	modelName        string
	rewriteModelName string
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rewriteModel := cfg.RewriteModelName
	if rewriteModel == "" {
		rewriteModel = cfg.ModelName
	}

	return &Orchestrator{
		gen:              cfg.Generator,
		repo:             cfg.Repository,
		index:            cfg.Index,
		logger:           cfg.Logger,
		modelName:        cfg.ModelName,
		rewriteModelName: rewriteModel,
	}, nil
}

// Answer retrieves relevant fragments from both sources, grounds a
// completion call in them and returns the text with attributed citations.
//
// An answer is produced even with both sources disabled or empty; the call
// degrades to a plain completion with no citations. A single source failing
// loses that source's data only, never the answer.
func (o *Orchestrator) Answer(ctx context.Context, question string, history []*ai.Message, tenant TenantContext) (*Answer, error) {
	repoEnabled := o.repo != nil && tenant.RepositoryEnabled
	indexEnabled := o.index != nil && tenant.IndexEnabled && len(tenant.StoreIDs) > 0

	var blocks []block
	if repoEnabled || indexEnabled {
		// Rewriting is a mandatory prerequisite before fan-out; it completes
		// or explicitly falls back, and is never cancelled on its own.
		queries := o.rewriteQueries(ctx, question, history)

		repoFiles, grounding := o.fanOut(ctx, queries, tenant, repoEnabled, indexEnabled)
		blocks = assembleBlocks(repoFiles, grounding)
	}

	text, err := o.complete(ctx, question, history, blocks)
	if err != nil {
		return nil, fmt.Errorf("grounded completion: %w", err)
	}

	citations := make([]Citation, 0, len(blocks))
	for _, b := range blocks {
		citations = append(citations, Citation{
			Title:     b.title,
			SourceURI: b.uri,
			Snippet:   b.snippet,
			Kind:      b.kind,
		})
	}

	return &Answer{
		Text:      text,
		Citations: citations,
		ModelID:   o.modelName,
	}, nil
}

type repoResult struct {
	files []drive.File
	err   error
}

type indexResult struct {
	grounding *fileindex.Grounding
	err       error
}

// fanOut issues both source searches concurrently. The failure domains do
// not interact: a failed call yields empty results, not an aborted answer.
func (o *Orchestrator) fanOut(ctx context.Context, queries []string, tenant TenantContext, repoEnabled, indexEnabled bool) ([]drive.File, *fileindex.Grounding) {
	repoCh := make(chan repoResult, 1)
	indexCh := make(chan indexResult, 1)

	// Goroutines exit after a single send; buffered channels prevent leaks
	// if the caller's context dies first.
	go func() {
		if !repoEnabled {
			repoCh <- repoResult{}
			return
		}
		repoCh <- o.searchRepository(ctx, queries, tenant.RootFolderID)
	}()

	go func() {
		if !indexEnabled {
			indexCh <- indexResult{}
			return
		}
		grounding, err := o.index.SearchStores(ctx, tenant.StoreIDs, queries)
		indexCh <- indexResult{grounding: grounding, err: err}
	}()

	rr := <-repoCh
	if rr.err != nil {
		o.logger.Warn("repository search failed, continuing without it", "error", rr.err)
		rr.files = nil
	}

	ir := <-indexCh
	if ir.err != nil {
		o.logger.Warn("index search failed, continuing without it", "error", ir.err)
		ir.grounding = nil
	}

	return rr.files, ir.grounding
}

// searchRepository runs up to maxRepositoryQueries queries against the
// repository's native search, deduplicating hits by file id across calls.
func (o *Orchestrator) searchRepository(ctx context.Context, queries []string, folderID string) repoResult {
	seen := map[string]struct{}{}
	var files []drive.File
	var lastErr error

	limit := min(len(queries), maxRepositoryQueries)
	for _, q := range queries[:limit] {
		hits, err := o.repo.Search(ctx, q, folderID)
		if err != nil {
			// One failed query is not fatal to the other.
			o.logger.Debug("repository query failed", "query", q, "error", err)
			lastErr = err
			continue
		}
		for _, f := range hits {
			if _, dup := seen[f.ID]; dup {
				continue
			}
			seen[f.ID] = struct{}{}
			files = append(files, f)
		}
	}

	if len(files) == 0 && lastErr != nil {
		return repoResult{err: lastErr}
	}
	return repoResult{files: files}
}

// complete sends the assembled context, the fixed system instruction and the
// full history to the completion provider, returning its text verbatim.
func (o *Orchestrator) complete(ctx context.Context, question string, history []*ai.Message, blocks []block) (string, error) {
	system := answerSystemPrompt
	if rendered := renderContext(blocks); rendered != "" {
		system += "\n\n" + rendered
	}

	messages := make([]*ai.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(question)))

	resp, err := o.gen.Generate(ctx,
		ai.WithModelName(o.modelName),
		ai.WithSystem(system),
		ai.WithMessages(messages...),
	)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
