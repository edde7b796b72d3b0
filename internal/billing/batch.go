package billing

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome for one input of a batch. Exactly one of Receipt
// and Err is set.
type BatchResult struct {
	AbonentID string
	Receipt   *ReceiptDetails
	Err       error
}

// DefaultBatchLimit bounds ComputeBatch when the caller passes limit <= 0.
const DefaultBatchLimit = 8

// ComputeBatch computes receipts for every input with at most limit
// computations in flight. A failed abonent never stops the others. Results are
// in input order. Cancellation is checked before each computation starts;
// inputs not started are reported with ctx.Err().
func (e *Engine) ComputeBatch(ctx context.Context, inputs []Input, limit int) []BatchResult {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	results := make([]BatchResult, len(inputs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range inputs {
		in := inputs[i]
		results[i].AbonentID = in.Abonent.ID
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Receipt, results[i].Err = e.Compute(in)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Failed returns the results that carry an error.
func Failed(results []BatchResult) []BatchResult {
	var out []BatchResult
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
