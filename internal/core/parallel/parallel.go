// Package parallel выполняет пронумерованные задачи на одном из трёх бэкендов.
package parallel

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"sdb_service/internal/domain/model"
)

// WorkFunc обрабатывает задачу с номером i.
type WorkFunc func(ctx context.Context, i int) error

// Executor запускает n задач и ждёт завершения всех.
type Executor interface {
	Run(ctx context.Context, n int, fn WorkFunc) error
	Workers() int
	Backend() model.Backend
}

// ResolveJobs переводит число заданий в число воркеров:
// n > 0 как есть, n < 0 означает NumCPU+1+n, но не меньше одного.
func ResolveJobs(jobs int) (int, error) {
	switch {
	case jobs == 0:
		return 0, errors.Wrap(model.ErrInvalidArgument, "number of jobs must not be zero")
	case jobs > 0:
		return jobs, nil
	}
	n := runtime.NumCPU() + 1 + jobs
	if n < 1 {
		n = 1
	}
	return n, nil
}

func New(backend model.Backend, jobs int) (Executor, error) {
	workers, err := ResolveJobs(jobs)
	if err != nil {
		return nil, err
	}
	switch backend {
	case model.BackendThreading:
		return &threadingExecutor{workers: workers}, nil
	case model.BackendLoky:
		return &lokyExecutor{workers: workers}, nil
	case model.BackendMultiprocessing:
		return &partitionExecutor{workers: workers}, nil
	}
	return nil, errors.Wrapf(model.ErrInvalidArgument, "backend %q", backend)
}

// errorSink собирает ошибки задач. Отмена контекста не добавляется к уже
// записанной ошибке, чтобы не прятать первопричину.
type errorSink struct {
	mu  sync.Mutex
	err error
}

func (s *errorSink) add(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil || !errors.Is(err, context.Canceled) {
		s.err = multierr.Combine(s.err, err)
	}
}

func (s *errorSink) result() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// call запускает задачу, превращая панику в ошибку.
func call(ctx context.Context, fn WorkFunc, i int) (err error) {
	defer func() {
		if thePanic := recover(); thePanic != nil {
			err = fmt.Errorf("got panic running work item %d: %v", i, thePanic)
		}
	}()
	return fn(ctx, i)
}

// threadingExecutor - горутина на задачу, не более workers одновременно.
type threadingExecutor struct {
	workers int
}

func (e *threadingExecutor) Workers() int           { return e.workers }
func (e *threadingExecutor) Backend() model.Backend { return model.BackendThreading }

func (e *threadingExecutor) Run(ctx context.Context, n int, fn WorkFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	sink := &errorSink{}
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := call(gctx, fn, i); err != nil {
				sink.add(err)
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := sink.result(); err != nil {
		return err
	}
	return ctx.Err()
}

// lokyExecutor - фиксированный набор воркеров, разбирающих общую очередь.
type lokyExecutor struct {
	workers int
}

func (e *lokyExecutor) Workers() int           { return e.workers }
func (e *lokyExecutor) Backend() model.Backend { return model.BackendLoky }

func (e *lokyExecutor) Run(ctx context.Context, n int, fn WorkFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan int)
	sink := &errorSink{}
	var wg sync.WaitGroup
	for w := 0; w < min(e.workers, n); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				if ctx.Err() != nil {
					continue
				}
				if err := call(ctx, fn, i); err != nil {
					sink.add(err)
					cancel()
				}
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case queue <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()

	if err := sink.result(); err != nil {
		return err
	}
	return ctx.Err()
}

// partitionExecutor делит диапазон задач на непрерывные группы, по одной на воркер.
type partitionExecutor struct {
	workers int
}

func (e *partitionExecutor) Workers() int           { return e.workers }
func (e *partitionExecutor) Backend() model.Backend { return model.BackendMultiprocessing }

func (e *partitionExecutor) Run(ctx context.Context, n int, fn WorkFunc) error {
	if n == 0 {
		return ctx.Err()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	groups := min(e.workers, n)
	sink := &errorSink{}
	var wg sync.WaitGroup
	for g := 0; g < groups; g++ {
		from, to := Partition(n, groups, g)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := from; i < to; i++ {
				if ctx.Err() != nil {
					return
				}
				if err := call(ctx, fn, i); err != nil {
					sink.add(err)
					cancel()
					return
				}
			}
		}()
	}
	wg.Wait()

	if err := sink.result(); err != nil {
		return err
	}
	return ctx.Err()
}

// Partition возвращает полуинтервал [from, to) группы g из groups для n задач.
// Остаток распределяется по одному на первые группы.
func Partition(n, groups, g int) (from, to int) {
	size, extra := n/groups, n%groups
	from = g*size + min(g, extra)
	to = from + size
	if g < extra {
		to++
	}
	return from, to
}
