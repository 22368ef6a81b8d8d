package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dscybers/phishshield/internal/entity"
)

// MaxBatchSize is the largest accepted batch
const MaxBatchSize = 50

// batchRetention is how long finished batches stay queryable
const batchRetention = time.Hour

// batchStore keeps batch jobs in memory
type batchStore struct {
	mu   sync.RWMutex
	jobs map[string]*entity.BatchJob
}

func newBatchStore() *batchStore {
	return &batchStore{jobs: make(map[string]*entity.BatchJob)}
}

func (b *batchStore) put(job *entity.BatchJob) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[job.ID] = job
}

// update applies fn to the stored job under the lock
func (b *batchStore) update(id string, fn func(job *entity.BatchJob)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if job, ok := b.jobs[id]; ok {
		fn(job)
	}
}

// get returns a copy so callers never race with the running batch
func (b *batchStore) get(id string) (*entity.BatchJob, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	job, ok := b.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *job
	cp.Verdicts = append([]entity.Verdict(nil), job.Verdicts...)
	return &cp, true
}

func (b *batchStore) prune(before time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, job := range b.jobs {
		if job.FinishedAt != nil && job.FinishedAt.Before(before) {
			delete(b.jobs, id)
		}
	}
}

// validateBatch checks size and every URL before any work starts
func validateBatch(urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(urls) > MaxBatchSize {
		return nil, fmt.Errorf("%w: maximum %d URLs per batch, got %d", ErrBatchTooLarge, MaxBatchSize, len(urls))
	}

	valid := make([]string, len(urls))
	for i, u := range urls {
		v, err := ValidateURL(u)
		if err != nil {
			return nil, fmt.Errorf("url %d: %w", i, err)
		}
		valid[i] = v
	}
	return valid, nil
}

// SubmitBatch accepts up to MaxBatchSize URLs and analyzes them in the
// background. The returned job is in the processing state.
func (s *Service) SubmitBatch(ctx context.Context, urls []string) (*entity.BatchJob, error) {
	valid, err := validateBatch(urls)
	if err != nil {
		return nil, err
	}

	s.batches.prune(s.now().Add(-batchRetention))

	job := &entity.BatchJob{
		ID:          "batch_" + uuid.NewString(),
		Status:      entity.BatchProcessing,
		URLCount:    len(valid),
		Verdicts:    []entity.Verdict{},
		SubmittedAt: s.now(),
	}
	s.batches.put(job)
	s.logger.Info("[PIPELINE] Batch submitted", "batch_id", job.ID, "url_count", job.URLCount)

	// The batch outlives the request that submitted it
	bgCtx := context.WithoutCancel(ctx)

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()

		s.runBatch(bgCtx, valid, func(_ int, v *entity.Verdict, err error) {
			s.batches.update(job.ID, func(j *entity.BatchJob) {
				if err != nil {
					j.Failed++
					return
				}
				j.Completed++
				j.Verdicts = append(j.Verdicts, *v)
			})
		})

		finished := s.now()
		s.batches.update(job.ID, func(j *entity.BatchJob) {
			j.Status = entity.BatchCompleted
			j.FinishedAt = &finished
		})

		done, _ := s.batches.get(job.ID)
		s.logger.Info("[PIPELINE] Batch complete",
			"batch_id", done.ID,
			"completed", done.Completed,
			"failed", done.Failed,
		)
		if s.notifier != nil {
			s.notifier.BroadcastBatch(done)
		}
	}()

	snapshot, _ := s.batches.get(job.ID)
	return snapshot, nil
}

// Batch returns the current state of a submitted batch
func (s *Service) Batch(id string) (*entity.BatchJob, error) {
	job, ok := s.batches.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return job, nil
}

// RunBatch analyzes urls synchronously with bounded concurrency and returns
// verdicts in input order. A URL whose analysis fails has a nil slot.
func (s *Service) RunBatch(ctx context.Context, urls []string) ([]*entity.Verdict, error) {
	valid, err := validateBatch(urls)
	if err != nil {
		return nil, err
	}

	verdicts := make([]*entity.Verdict, len(valid))
	s.runBatch(ctx, valid, func(i int, v *entity.Verdict, _ error) {
		// each goroutine owns its slot
		verdicts[i] = v
	})
	return verdicts, nil
}

func (s *Service) runBatch(ctx context.Context, urls []string, onResult func(int, *entity.Verdict, error)) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.BatchConcurrency)

	for i, u := range urls {
		g.Go(func() error {
			v, err := s.Analyze(gctx, entity.AnalysisRequest{URL: u})
			if err != nil {
				s.logger.Warn("[PIPELINE] Batch item failed", "url", u, "error", err)
			}
			onResult(i, v, err)
			// Item failures never cancel the rest of the batch
			return nil
		})
	}
	_ = g.Wait()
}
