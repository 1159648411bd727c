package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Func processes one input. It must not share mutable state with other calls.
type Func[In, Out any] func(ctx context.Context, in In) Out

// Result is the output for one input of a batch.
type Result[Out any] struct {
	// Index is the position of the input in the submitted slice.
	Index int

	// Value is the job output. It is the zero value when Err is set.
	Value Out

	// Err is set when the job panicked or was skipped after cancellation.
	Err error

	// Duration is the time taken by the job.
	Duration time.Duration
}

// BatchResult aggregates the results of one Run.
type BatchResult[Out any] struct {
	Results       []Result[Out]
	TotalJobs     int
	CompletedJobs int
	FailedJobs    int
	TotalDuration time.Duration
}

// Batch runs a Func over a slice of inputs with bounded parallelism.
type Batch[In, Out any] struct {
	fn      Func[In, Out]
	workers int

	jobsCompleted atomic.Uint64
	totalDuration atomic.Int64
}

// NewBatch creates a batch runner. If workers <= 0, it defaults to
// runtime.NumCPU().
func NewBatch[In, Out any](fn Func[In, Out], workers int) *Batch[In, Out] {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Batch[In, Out]{fn: fn, workers: workers}
}

// Workers returns the configured parallelism.
func (b *Batch[In, Out]) Workers() int {
	return b.workers
}

// Run processes inputs and returns one Result per input, in input order.
// Inputs not started before ctx is cancelled get ctx.Err().
func (b *Batch[In, Out]) Run(ctx context.Context, inputs []In) *BatchResult[Out] {
	start := time.Now()
	results := make([]Result[Out], len(inputs))
	for i := range results {
		results[i].Index = i
	}
	if len(inputs) == 0 {
		return &BatchResult[Out]{Results: results}
	}

	if len(inputs) <= 2 || b.workers == 1 {
		for i, in := range inputs {
			results[i] = b.runOne(ctx, i, in)
		}
		return b.summarize(results, start)
	}

	numWorkers := b.workers
	if numWorkers > len(inputs) {
		numWorkers = len(inputs)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = b.runOne(ctx, i, inputs[i])
			}
		}()
	}

	for i := range inputs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return b.summarize(results, start)
}

func (b *Batch[In, Out]) runOne(ctx context.Context, index int, in In) (res Result[Out]) {
	res.Index = index
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("job %d panicked: %v", index, r)
		}
		res.Duration = time.Since(start)
		b.jobsCompleted.Add(1)
		b.totalDuration.Add(int64(res.Duration))
	}()

	res.Value = b.fn(ctx, in)
	return res
}

func (b *Batch[In, Out]) summarize(results []Result[Out], start time.Time) *BatchResult[Out] {
	br := &BatchResult[Out]{
		Results:       results,
		TotalJobs:     len(results),
		TotalDuration: time.Since(start),
	}
	for _, r := range results {
		if r.Err != nil {
			br.FailedJobs++
			continue
		}
		br.CompletedJobs++
	}
	return br
}

// Stats contains cumulative batch statistics.
type Stats struct {
	Workers       int
	JobsCompleted uint64
	AvgDuration   time.Duration
}

// Stats returns statistics accumulated over every Run of this batch.
func (b *Batch[In, Out]) Stats() Stats {
	completed := b.jobsCompleted.Load()
	var avg time.Duration
	if completed > 0 {
		avg = time.Duration(b.totalDuration.Load() / int64(completed))
	}
	return Stats{
		Workers:       b.workers,
		JobsCompleted: completed,
		AvgDuration:   avg,
	}
}
