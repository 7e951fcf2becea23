package tensor

import (
	"math"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// workers caps the goroutines a row-wise kernel such as Linear may use.
var workers atomic.Int32

func init() { workers.Store(1) }

// SetWorkers sets the kernel goroutine limit. Values below one mean one.
func SetWorkers(n int) {
	workers.Store(int32(min(max(n, 1), math.MaxInt32)))
}

func Workers() int { return max(int(workers.Load()), 1) }

// forRows calls fn on contiguous chunks covering [0, n), at most Workers()
// of them at a time.
func forRows(n int, fn func(lo, hi int)) {
	limit := Workers()
	if n <= 0 {
		return
	}

	if limit == 1 || n == 1 {
		fn(0, n)
		return
	}

	chunk := (n + limit - 1) / limit

	var g errgroup.Group
	g.SetLimit(limit)

	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}

	_ = g.Wait()
}
