package retrieval

import (
	"context"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"
)

const (
	// maxRewrittenQueries caps the query set produced by the rewrite call.
	maxRewrittenQueries = 3

	// rewriteHistoryWindow is how many trailing history messages the rewrite
	// call sees: enough to resolve pronouns, small enough to stay cheap.
	rewriteHistoryWindow = 6

	rewriteSystemPrompt = `You rewrite a user's question into search queries.
Given the question and the recent conversation, output up to 3 short,
keyword-dense search queries, one per line. Resolve pronouns and elliptical
references using the conversation. Output only the queries, nothing else.`
)

// rewriteQueries turns the raw question plus recent history into a small set
// of keyword-dense queries. It never blocks the overall answer: any failure
// or empty output falls back to the raw question.
func (o *Orchestrator) rewriteQueries(ctx context.Context, question string, history []*ai.Message) []string {
	fallback := []string{question}

	messages := make([]*ai.Message, 0, rewriteHistoryWindow+1)
	start := max(len(history)-rewriteHistoryWindow, 0)
	messages = append(messages, history[start:]...)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(question)))

	resp, err := o.gen.Generate(ctx,
		ai.WithModelName(o.rewriteModelName),
		ai.WithSystem(rewriteSystemPrompt),
		ai.WithMessages(messages...),
		ai.WithConfig(&genai.GenerateContentConfig{
			Temperature: genai.Ptr[float32](0.1),
		}),
	)
	if err != nil {
		o.logger.Warn("query rewrite failed, using raw question", "error", err)
		return fallback
	}

	queries := parseQueries(resp.Text())
	if len(queries) == 0 {
		return fallback
	}
	o.logger.Debug("rewrote question", "queries", queries)
	return queries
}

// parseQueries splits rewrite output into clean query lines.
func parseQueries(text string) []string {
	var queries []string
	for line := range strings.Lines(text) {
		q := strings.TrimSpace(line)
		q = strings.TrimLeft(q, "-•*0123456789. ")
		if q == "" {
			continue
		}
		queries = append(queries, q)
		if len(queries) == maxRewrittenQueries {
			break
		}
	}
	return queries
}
