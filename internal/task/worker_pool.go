package task

import (
	"sync"

	"github.com/glintlabs/glint-api/internal/domain"
)

// runPool executes fn for every task in the batch across workerCount
// goroutines and returns the outcomes in input order. It blocks until the
// whole batch is done: a dispatch pass never leaves a claimed task behind
// unexecuted.
//
// Each slot in the result slice is written by exactly one worker, so no
// locking is needed on the way out. Panic containment is fn's job; the
// pool assumes fn never panics.
func runPool(workerCount int, batch []*domain.Task, fn func(*domain.Task) taskOutcome) []taskOutcome {
	if len(batch) == 0 {
		return nil
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	if workerCount > len(batch) {
		workerCount = len(batch)
	}

	outcomes := make([]taskOutcome, len(batch))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				outcomes[index] = fn(batch[index])
			}
		}()
	}

	for index := range batch {
		jobs <- index
	}
	close(jobs)
	wg.Wait()

	return outcomes
}
