package datapumps_test

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fogfactory/datapumps"
	"github.com/maxatome/go-testdeep/td"
	"github.com/panjf2000/ants/v2"
	"github.com/samber/lo"
)

func InitPool(t testing.TB, poolSizes ...int) *datapumps.Pools {
	return InitPoolWithOptions(t, poolSizes)
}

func InitPoolWithOptions(t testing.TB, poolSizes []int, opts ...ants.Option) *datapumps.Pools {
	pools, err := datapumps.NewPoolsWithOptions(poolSizes, opts...)
	td.Require(t).CmpNoError(err)
	t.Cleanup(pools.Release)
	return pools
}

func TestPool(t *testing.T) {
	inc := func(i, _ /* for compatibility with lo */ int) int {
		i++
		return i
	}

	t.Run("pipe_nil_pool", func(t *testing.T) {
		// Arrange
		input := lo.Range(10)
		in := lo.SliceToChannel(0, input)
		do := func(p *datapumps.Pools, i int) int {
			td.CmpNil(t, p, "Pool should be nil")
			return inc(i, 0)
		}

		// Act
		out := datapumps.Pipe(nil, in, do) // Do will be done sequentially in a gouroutine

		// Assert
		results := lo.ChannelToSlice(out)
		td.Cmp(t, results, lo.Map(input, inc))
	})

	t.Run("pipe_empty_pool", func(t *testing.T) {
		// Arrange
		pool := InitPool(t) // Empty pool
		input := lo.Range(10)
		in := lo.SliceToChannel(0, input)
		do := func(p *datapumps.Pools, i int) int {
			td.CmpLen(t, p.Pools(), 0, "Shouldn't have underlying pool")
			return inc(i, 0)
		}

		// Act
		out := datapumps.Pipe(pool, in, do) // Do will be done sequentially in a gouroutine, since the "pools" doesn't contains any pool

		// Assert
		results := lo.ChannelToSlice(out)
		td.Cmp(t, results, lo.Map(input, inc))
	})

	t.Run("pipe_pool_size_1", func(t *testing.T) {
		// Arrange
		pool := InitPool(t, 1)
		input := lo.Range(10)
		in := lo.SliceToChannel(0, input)
		do := func(p *datapumps.Pools, i int) int {
			td.CmpLen(t, p.Pools(), 0, "Shouldn't have underlying pool")
			return inc(i, 0)
		}

		// Act
		out := datapumps.Pipe(pool, in, do) // Do will be done sequentially in a sub-goroutine, since the "pools" contains only one pool with One goroutine

		// Assert
		results := lo.ChannelToSlice(out)
		td.Cmp(t, results, lo.Map(input, inc))
	})

	t.Run("pipe_pool_size_10", func(t *testing.T) {
		// Arrange
		pool := InitPool(t, 10)
		input := lo.Range(10)
		in := lo.SliceToChannel(0, input)
		do := func(_ *datapumps.Pools, i int) int {
			return inc(i, 0)
		}

		// Act
		out := datapumps.Pipe(pool, in, do) // Results can come in disorder

		// Assert
		results := lo.ChannelToSlice(out)
		// We use a bag since values can be in disorder, since the pool contains several worker
		td.CmpBag(t, results, lo.Map(input, func(i, _ int) any { return do(nil, i) }))
	})

	t.Run("pipe_pool_with_sub_pool", func(t *testing.T) {
		// Arrange
		pool := InitPool(t, 1, 1)
		input := lo.Range(10)
		in := lo.SliceToChannel(0, input)
		do := func(p *datapumps.Pools, i int) int {
			td.Require(t).NotNil(p, "Pool shouldn't be nil")
			td.CmpLen(t, p.Pools(), 1, "Should have an underlying pool")
			return inc(i, 0)
		}

		// Act
		out := datapumps.Pipe(pool, in, do)

		// Assert
		results := lo.ChannelToSlice(out)
		td.Cmp(t, results, lo.Map(input, inc))
	})
}

func TestPoolFanOut(t *testing.T) {

	t.Run("for_each_unbounded_pool", func(t *testing.T) {
		// Arrange
		pool := InitPool(t, datapumps.Unbounded)
		var started sync.WaitGroup
		started.Add(3)

		// Act
		err := datapumps.ForEach(pool, lo.Range(3), func(int) error {
			started.Done()
			started.Wait() // every item has to be running at once to get through
			return nil
		})

		// Assert
		td.CmpNoError(t, err)
	})

	t.Run("for_each_joins_errors", func(t *testing.T) {
		// Arrange
		pool := InitPool(t, 2)
		odd := errors.New("odd")

		// Act
		err := datapumps.ForEach(pool, lo.Range(4), func(i int) error {
			if i%2 == 1 {
				return fmt.Errorf("item %d: %w", i, odd)
			}
			return nil
		})

		// Assert
		td.CmpErrorIs(t, err, odd)
		td.CmpContains(t, err.Error(), "item 1")
		td.CmpContains(t, err.Error(), "item 3")
	})

	t.Run("for_each_released_pool", func(t *testing.T) {
		// Arrange
		pool := InitPool(t, 1)
		pool.Release()
		var count atomic.Int32

		// Act
		err := datapumps.ForEach(pool, lo.Range(5), func(int) error {
			count.Add(1)
			return nil
		})

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, count.Load(), int32(5), "work still runs once the pool is released")
	})
}
