package utils

import "sync"

type CompletedTask[T any] struct {
	Result T
	Error  error
}

type indexedItem[T any] struct {
	index int
	value T
}

// RunInPool drains queue with at most maxWorkers goroutines and closes
// completed once every item has been processed.
func RunInPool[In any, Out any](worker func(In) (Out, error), queue chan In, completed chan CompletedTask[Out], maxWorkers int) {
	workers := max(1, min(len(queue), maxWorkers))

	go func() {
		wg := sync.WaitGroup{}
		wg.Add(workers)

		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()

				for next := range queue {
					res, err := worker(next)
					completed <- CompletedTask[Out]{Result: res, Error: err}
				}
			}()
		}

		wg.Wait()

		close(completed)
	}()
}

// ParallelMap applies fn to every item on a bounded pool and returns the
// results in input order. The first error by input position is returned.
func ParallelMap[In any, Out any](items []In, maxWorkers int, fn func(In) (Out, error)) ([]Out, error) {
	queue := make(chan indexedItem[In], len(items))
	for i, item := range items {
		queue <- indexedItem[In]{index: i, value: item}
	}
	close(queue)

	completed := make(chan CompletedTask[indexedItem[Out]], len(items))
	RunInPool(func(item indexedItem[In]) (indexedItem[Out], error) {
		out, err := fn(item.value)
		return indexedItem[Out]{index: item.index, value: out}, err
	}, queue, completed, maxWorkers)

	results := make([]Out, len(items))
	errs := make([]error, len(items))
	for task := range completed {
		results[task.Result.index] = task.Result.value
		errs[task.Result.index] = task.Error
	}

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
