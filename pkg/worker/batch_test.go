package worker

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
)

func TestBatchRunPreservesOrder(t *testing.T) {
	b := NewBatch(func(_ context.Context, n int) int { return n * n }, 4)
	inputs := make([]int, 50)
	for i := range inputs {
		inputs[i] = i
	}

	out := b.Run(context.Background(), inputs)
	if out.TotalJobs != 50 || out.CompletedJobs != 50 || out.FailedJobs != 0 {
		t.Fatalf("totals = %d/%d/%d, want 50/50/0", out.TotalJobs, out.CompletedJobs, out.FailedJobs)
	}
	for i, r := range out.Results {
		if r.Index != i {
			t.Errorf("Results[%d].Index = %d", i, r.Index)
		}
		if r.Value != i*i {
			t.Errorf("Results[%d].Value = %d, want %d", i, r.Value, i*i)
		}
	}
}

func TestBatchEmpty(t *testing.T) {
	b := NewBatch(func(_ context.Context, s string) string { return s }, 2)
	out := b.Run(context.Background(), nil)
	if len(out.Results) != 0 || out.TotalJobs != 0 {
		t.Errorf("empty run = %+v", out)
	}
}

func TestBatchSequentialSmall(t *testing.T) {
	var calls atomic.Int32
	b := NewBatch(func(_ context.Context, s string) string {
		calls.Add(1)
		return strings.ToUpper(s)
	}, 8)
	out := b.Run(context.Background(), []string{"a", "b"})
	if out.Results[0].Value != "A" || out.Results[1].Value != "B" {
		t.Errorf("values = %q, %q", out.Results[0].Value, out.Results[1].Value)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestBatchPanicIsReported(t *testing.T) {
	b := NewBatch(func(_ context.Context, n int) int {
		if n == 3 {
			panic("bad input")
		}
		return n
	}, 2)
	out := b.Run(context.Background(), []int{1, 2, 3, 4})
	if out.FailedJobs != 1 {
		t.Fatalf("FailedJobs = %d, want 1", out.FailedJobs)
	}
	if out.Results[2].Err == nil || !strings.Contains(out.Results[2].Err.Error(), "bad input") {
		t.Errorf("Results[2].Err = %v", out.Results[2].Err)
	}
	if out.Results[3].Value != 4 {
		t.Errorf("Results[3].Value = %d, want 4", out.Results[3].Value)
	}
}

func TestBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBatch(func(_ context.Context, n int) int { return n }, 2)
	out := b.Run(ctx, []int{1, 2, 3})
	if out.FailedJobs != 3 {
		t.Errorf("FailedJobs = %d, want 3", out.FailedJobs)
	}
	for _, r := range out.Results {
		if r.Err != context.Canceled {
			t.Errorf("Err = %v, want context.Canceled", r.Err)
		}
	}
}

func TestBatchStats(t *testing.T) {
	b := NewBatch(func(_ context.Context, n int) int { return n }, 3)
	b.Run(context.Background(), []int{1, 2, 3, 4, 5})
	s := b.Stats()
	if s.Workers != 3 {
		t.Errorf("Workers = %d, want 3", s.Workers)
	}
	if s.JobsCompleted != 5 {
		t.Errorf("JobsCompleted = %d, want 5", s.JobsCompleted)
	}
}

func TestNewBatchDefaultsWorkers(t *testing.T) {
	b := NewBatch(func(_ context.Context, n int) int { return n }, 0)
	if b.Workers() <= 0 {
		t.Errorf("Workers() = %d, want > 0", b.Workers())
	}
}
