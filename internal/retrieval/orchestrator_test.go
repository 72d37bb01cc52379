package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoshi0/hoshi/internal/drive"
	"github.com/hoshi0/hoshi/internal/fileindex"
	"github.com/hoshi0/hoshi/internal/log"
)

// mockGen replays scripted responses in call order. Call 0 is the rewrite
// when any source is enabled; the last call is the grounded completion.
type mockGen struct {
	mu        sync.Mutex
	calls     int
	responses []string
	errs      []error
}

func (m *mockGen) Generate(_ context.Context, _ ...ai.GenerateOption) (*ai.ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	text := ""
	if len(m.responses) > 0 {
		text = m.responses[min(i, len(m.responses)-1)]
	}
	return &ai.ModelResponse{Message: ai.NewModelMessage(ai.NewTextPart(text))}, nil
}

type fakeRepoSearch struct {
	mu      sync.Mutex
	hits    map[string][]drive.File
	err     error
	queries []string
}

func (f *fakeRepoSearch) Search(_ context.Context, query, _ string) ([]drive.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.hits[query], nil
}

type fakeIndexSearch struct {
	mu         sync.Mutex
	grounding  *fileindex.Grounding
	err        error
	gotStores  []string
	gotQueries []string
}

func (f *fakeIndexSearch) SearchStores(_ context.Context, storeIDs, queries []string) (*fileindex.Grounding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotStores = storeIDs
	f.gotQueries = queries
	if f.err != nil {
		return nil, f.err
	}
	return f.grounding, nil
}

func newTestOrchestrator(t *testing.T, gen Generator, repo RepositorySearcher, index IndexSearcher) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		Generator:        gen,
		Logger:           log.NewNop(),
		Repository:       repo,
		Index:            index,
		ModelName:        "googleai/test-model",
		RewriteModelName: "googleai/test-model-lite",
	})
	require.NoError(t, err)
	return o
}

func bothEnabled() TenantContext {
	return TenantContext{
		TenantID:          "acme",
		StoreIDs:          []string{"stores/acme"},
		RepositoryEnabled: true,
		IndexEnabled:      true,
	}
}

func TestAnswerCitesEveryContextBlock(t *testing.T) {
	gen := &mockGen{responses: []string{"travel policy", "Grounded answer."}}
	repo := &fakeRepoSearch{hits: map[string][]drive.File{
		"travel policy": {{ID: "f1", Name: "Travel Policy.pdf", MimeType: "application/pdf"}},
	}}
	index := &fakeIndexSearch{grounding: &fileindex.Grounding{
		Text: "summary",
		Attributions: []fileindex.Attribution{
			{Title: "Handbook", Snippet: "Employees may book economy class."},
			{Title: "FAQ", Snippet: "Approvals go through your manager."},
		},
	}}
	o := newTestOrchestrator(t, gen, repo, index)

	answer, err := o.Answer(context.Background(), "what is the travel policy?", nil, bothEnabled())
	require.NoError(t, err)

	require.Len(t, answer.Citations, 3)
	assert.Equal(t, SourceRepository, answer.Citations[0].Kind)
	assert.Equal(t, "Travel Policy.pdf", answer.Citations[0].Title)
	assert.Equal(t, "drive://f1", answer.Citations[0].SourceURI)
	assert.Equal(t, SourceIndex, answer.Citations[1].Kind)
	assert.Equal(t, SourceIndex, answer.Citations[2].Kind)
	assert.Equal(t, "Grounded answer.", answer.Text)
	assert.Equal(t, "googleai/test-model", answer.ModelID)
}

func TestAnswerQuotesIndexedFigureWithSingleCitation(t *testing.T) {
	gen := &mockGen{responses: []string{
		"reimbursement limit",
		"The reimbursement limit is ¥50,000 per trip.",
	}}
	index := &fakeIndexSearch{grounding: &fileindex.Grounding{
		Text: "Per-trip reimbursement is capped at ¥50,000.",
		Attributions: []fileindex.Attribution{
			{Title: "Expense Policy", Snippet: "Per-trip reimbursement is capped at ¥50,000."},
		},
	}}
	tenant := TenantContext{
		TenantID:     "acme",
		StoreIDs:     []string{"stores/acme"},
		IndexEnabled: true,
	}
	o := newTestOrchestrator(t, gen, nil, index)

	answer, err := o.Answer(context.Background(), "what's the reimbursement limit?", nil, tenant)
	require.NoError(t, err)

	assert.Contains(t, answer.Text, "¥50,000")
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "Expense Policy", answer.Citations[0].Title)
	assert.Equal(t, SourceIndex, answer.Citations[0].Kind)
}

func TestRewriteFailureFallsBackToRawQuestion(t *testing.T) {
	gen := &mockGen{
		errs:      []error{errors.New("model unavailable")},
		responses: []string{"", "answer"},
	}
	repo := &fakeRepoSearch{}
	o := newTestOrchestrator(t, gen, repo, nil)
	tenant := TenantContext{TenantID: "acme", RepositoryEnabled: true}

	_, err := o.Answer(context.Background(), "where is the office?", nil, tenant)
	require.NoError(t, err)

	assert.Equal(t, []string{"where is the office?"}, repo.queries)
}

func TestBothSourcesDisabledDegradesToPlainCompletion(t *testing.T) {
	gen := &mockGen{responses: []string{"plain answer"}}
	o := newTestOrchestrator(t, gen, &fakeRepoSearch{}, &fakeIndexSearch{})

	answer, err := o.Answer(context.Background(), "hello", nil, TenantContext{TenantID: "acme"})
	require.NoError(t, err)

	assert.Equal(t, "plain answer", answer.Text)
	assert.Empty(t, answer.Citations)
	assert.Equal(t, 1, gen.calls, "no rewrite call when every source is disabled")
}

func TestIndexDisabledWithoutStores(t *testing.T) {
	gen := &mockGen{responses: []string{"q", "answer"}}
	index := &fakeIndexSearch{}
	repo := &fakeRepoSearch{}
	o := newTestOrchestrator(t, gen, repo, index)

	// IndexEnabled but no store ids: the index must not be queried.
	tenant := TenantContext{TenantID: "acme", RepositoryEnabled: true, IndexEnabled: true}
	_, err := o.Answer(context.Background(), "q", nil, tenant)
	require.NoError(t, err)

	assert.Nil(t, index.gotQueries)
	assert.NotEmpty(t, repo.queries)
}

func TestRepositoryFailureLosesOnlyRepository(t *testing.T) {
	gen := &mockGen{responses: []string{"q", "answer"}}
	repo := &fakeRepoSearch{err: errors.New("search backend down")}
	index := &fakeIndexSearch{grounding: &fileindex.Grounding{
		Attributions: []fileindex.Attribution{{Title: "Handbook", Snippet: "snippet"}},
	}}
	o := newTestOrchestrator(t, gen, repo, index)

	answer, err := o.Answer(context.Background(), "q", nil, bothEnabled())
	require.NoError(t, err)

	require.Len(t, answer.Citations, 1)
	assert.Equal(t, SourceIndex, answer.Citations[0].Kind)
}

func TestIndexFailureLosesOnlyIndex(t *testing.T) {
	gen := &mockGen{responses: []string{"q", "answer"}}
	repo := &fakeRepoSearch{hits: map[string][]drive.File{
		"q": {{ID: "f1", Name: "Doc.pdf", MimeType: "application/pdf"}},
	}}
	index := &fakeIndexSearch{err: errors.New("store unavailable")}
	o := newTestOrchestrator(t, gen, repo, index)

	answer, err := o.Answer(context.Background(), "q", nil, bothEnabled())
	require.NoError(t, err)

	require.Len(t, answer.Citations, 1)
	assert.Equal(t, SourceRepository, answer.Citations[0].Kind)
}

func TestRepositoryHitsDeduplicatedAcrossQueries(t *testing.T) {
	shared := drive.File{ID: "f1", Name: "Shared.pdf", MimeType: "application/pdf"}
	gen := &mockGen{responses: []string{"alpha\nbeta\ngamma", "answer"}}
	repo := &fakeRepoSearch{hits: map[string][]drive.File{
		"alpha": {shared, {ID: "f2", Name: "Alpha.pdf", MimeType: "application/pdf"}},
		"beta":  {shared},
		"gamma": {{ID: "f3", Name: "Gamma.pdf", MimeType: "application/pdf"}},
	}}
	o := newTestOrchestrator(t, gen, repo, nil)
	tenant := TenantContext{TenantID: "acme", RepositoryEnabled: true}

	answer, err := o.Answer(context.Background(), "q", nil, tenant)
	require.NoError(t, err)

	// Only the first two rewritten queries reach the repository, and the
	// shared hit appears once.
	assert.Equal(t, []string{"alpha", "beta"}, repo.queries)
	require.Len(t, answer.Citations, 2)
	assert.Equal(t, "Shared.pdf", answer.Citations[0].Title)
	assert.Equal(t, "Alpha.pdf", answer.Citations[1].Title)
}

func TestGroundingTextWithoutAttributionsStillCited(t *testing.T) {
	gen := &mockGen{responses: []string{"q", "answer"}}
	index := &fakeIndexSearch{grounding: &fileindex.Grounding{
		Text: "The office closes at 18:00.",
	}}
	tenant := TenantContext{TenantID: "acme", StoreIDs: []string{"s"}, IndexEnabled: true}
	o := newTestOrchestrator(t, gen, nil, index)

	answer, err := o.Answer(context.Background(), "q", nil, tenant)
	require.NoError(t, err)

	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "Knowledge index", answer.Citations[0].Title)
}

func TestParseQueries(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"plain lines", "alpha\nbeta", []string{"alpha", "beta"}},
		{"bulleted", "- alpha\n* beta\n1. gamma", []string{"alpha", "beta", "gamma"}},
		{"blank lines skipped", "alpha\n\n\nbeta\n", []string{"alpha", "beta"}},
		{"capped at three", "a\nb\nc\nd\ne", []string{"a", "b", "c"}},
		{"empty", "   \n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseQueries(tt.in))
		})
	}
}
