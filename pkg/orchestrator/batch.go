package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchResult pairs a batch item's index with its outcome, preserving the
// caller's input order regardless of completion order.
type BatchResult struct {
	Index    int
	Response *Response
	Err      error
}

// maxConcurrentBatchQueries bounds how many queries in a /query/batch
// request run at once, independent of how many the caller submitted.
const maxConcurrentBatchQueries = 8

// ExecuteBatch runs every request concurrently (bounded) and returns one
// result per input, in input order. A failure in one query never cancels
// the others.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, reqs []Request) []BatchResult {
	results := make([]BatchResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBatchQueries)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			resp, err := o.Execute(gctx, req)
			results[i] = BatchResult{Index: i, Response: resp, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
