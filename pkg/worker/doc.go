// Package worker runs independent checks in parallel.
//
// Each job gets its own goroutine slot from a bounded pool; results are
// returned in submission order so batch reports are stable.
//
// Example usage:
//
//	b := worker.NewBatch(func(ctx context.Context, def *searchparam.Definition) *issue.Result {
//	    return v.Validate(ctx, def)
//	}, 4)
//	out := b.Run(ctx, defs)
//	for _, r := range out.Results {
//	    // r.Index, r.Value, r.Err
//	}
package worker
