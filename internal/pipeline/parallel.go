package pipeline

import (
	"context"
	"runtime"
	"sync"

	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
)

// ResultHandler receives the terminal Outcome of each target exactly once.
type ResultHandler func(Outcome)

// ParallelConfig holds configuration for batch registration.
type ParallelConfig struct {
	MaxWorkers       int              // Number of parallel workers (0 = runtime.NumCPU())
	ProgressCallback ProgressCallback // Optional progress reporting
}

// DefaultParallelConfig uses one worker per CPU.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{MaxWorkers: runtime.NumCPU()}
}

// Target is one image to register against the reference.
type Target struct {
	Name  string
	Image *imagebuf.Image
}

type targetJob struct {
	index  int
	target Target
}

// RegisterBatch registers every target against ref on a worker pool. Failures are
// isolated per target. The returned slice is in input order and has one Outcome per
// target; handler, when non-nil, is called once per target as it completes, from the
// calling goroutine.
//
// Targets not started before ctx is cancelled get an Outcome carrying ctx.Err().
func (r *Registrar) RegisterBatch(ctx context.Context, ref *Reference, targets []Target, handler ResultHandler) []Outcome {
	outcomes := make([]Outcome, len(targets))
	if len(targets) == 0 {
		return outcomes
	}

	progress := r.cfg.Parallel.ProgressCallback
	if progress == nil {
		progress = NoOpProgressCallback{}
	}
	progress.OnStart(len(targets))
	defer progress.OnComplete()

	workers := r.cfg.Parallel.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, len(targets))

	jobs := make(chan targetJob)
	results := make(chan Outcome, len(targets))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go r.worker(ctx, ref, jobs, results, &wg)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobs)
		for i, t := range targets {
			select {
			case jobs <- targetJob{index: i, target: t}:
			case <-ctx.Done():
				for j := i; j < len(targets); j++ {
					results <- Outcome{Index: j, Name: targets[j].Name, Err: ctx.Err()}
				}
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	done := 0
	for o := range results {
		outcomes[o.Index] = o
		done++
		if o.Err != nil {
			progress.OnError(o.Index, o.Err)
		}
		progress.OnProgress(done, len(targets))
		if handler != nil {
			handler(o)
		}
	}

	r.logger.Debug("batch finished", "targets", len(targets), "workers", workers)
	return outcomes
}

// worker registers targets from jobs until the channel closes.
func (r *Registrar) worker(ctx context.Context, ref *Reference, jobs <-chan targetJob, results chan<- Outcome, wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range jobs {
		res, err := r.Register(ctx, ref, job.target.Image, job.target.Name)
		results <- Outcome{Index: job.index, Name: job.target.Name, Result: res, Err: err}
	}
}
