package parallel

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"sdb_service/internal/domain/model"
)

var backends = []model.Backend{model.BackendLoky, model.BackendThreading, model.BackendMultiprocessing}

func TestResolveJobs(t *testing.T) {
	n, err := ResolveJobs(3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 3)

	n, err = ResolveJobs(-1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, runtime.NumCPU())

	n, err = ResolveJobs(-10000)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 1)

	_, err = ResolveJobs(0)
	test.That(t, errors.Is(err, model.ErrInvalidArgument), test.ShouldBeTrue)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(model.Backend("dask"), 2)
	test.That(t, errors.Is(err, model.ErrInvalidArgument), test.ShouldBeTrue)
}

func TestRunVisitsEveryIndexOnce(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			exec, err := New(backend, 3)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, exec.Backend(), test.ShouldEqual, backend)
			test.That(t, exec.Workers(), test.ShouldEqual, 3)

			const n = 101
			var counts [n]int32
			err = exec.Run(context.Background(), n, func(ctx context.Context, i int) error {
				atomic.AddInt32(&counts[i], 1)
				return nil
			})
			test.That(t, err, test.ShouldBeNil)
			for i := range counts {
				test.That(t, counts[i], test.ShouldEqual, 1)
			}

			err = exec.Run(context.Background(), 0, func(ctx context.Context, i int) error {
				return errors.New("never called")
			})
			test.That(t, err, test.ShouldBeNil)
		})
	}
}

func TestRunPropagatesErrorsAndPanics(t *testing.T) {
	boom := errors.New("boom")
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			exec, err := New(backend, 2)
			test.That(t, err, test.ShouldBeNil)

			err = exec.Run(context.Background(), 10, func(ctx context.Context, i int) error {
				if i == 4 {
					return boom
				}
				return nil
			})
			test.That(t, errors.Is(err, boom), test.ShouldBeTrue)

			err = exec.Run(context.Background(), 10, func(ctx context.Context, i int) error {
				if i == 7 {
					panic("bad row")
				}
				return nil
			})
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, "bad row")
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			exec, err := New(backend, 1)
			test.That(t, err, test.ShouldBeNil)

			ctx, cancel := context.WithCancel(context.Background())
			var calls int32
			err = exec.Run(ctx, 1000, func(ctx context.Context, i int) error {
				if atomic.AddInt32(&calls, 1) == 5 {
					cancel()
				}
				return nil
			})
			test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
			test.That(t, atomic.LoadInt32(&calls), test.ShouldBeLessThan, 1000)
		})
	}
}

func TestPartitionCoversRange(t *testing.T) {
	const n, groups = 10, 3
	next := 0
	for g := 0; g < groups; g++ {
		from, to := Partition(n, groups, g)
		test.That(t, from, test.ShouldEqual, next)
		test.That(t, to-from, test.ShouldBeBetweenOrEqual, 3, 4)
		next = to
	}
	test.That(t, next, test.ShouldEqual, n)
}
