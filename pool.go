package datapumps

import (
	"errors"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/samber/lo"
)

// Unbounded is the pool size of a pool without a worker limit.
const Unbounded = -1

// Pools define a slice of in depth pools. The first level runs the work submitted to the pools, the
// next levels are handed to that work for the sub tasks it spawns.
type Pools struct {
	pools []*ants.Pool
}

// Release releases all the pools inside the pools.
func (p *Pools) Release() {
	if p == nil {
		return
	}
	for _, p := range p.pools {
		if p == nil {
			continue
		}
		p.Release()
	}
}

// NewPoolsWithOptions builds a depth pools with the size in parameters. If there is no size, no pools will be created and submitted work runs in the caller routine.
//
// A size of 0 means that the task pushed at this level will run in their parent routine, Unbounded means no worker limit.
func NewPoolsWithOptions(poolSizes []int, opts ...ants.Option) (*Pools, error) {
	var err error
	result := &Pools{
		pools: lo.FilterMap(poolSizes, func(size, _ int) (pool *ants.Pool, ok bool) {
			if err != nil {
				return nil, false
			}
			if size != 0 { // if size == 0, it will yield a nil pool, which is OK : related work will be run in parent routine
				pool, err = ants.NewPool(size, opts...)
			}
			return pool, err == nil
		}),
	}
	if err != nil {
		result.Release() // release eventually created pools
		return nil, err
	}
	return result, nil
}

// NewPools builds a depth pools with the size in parameters.
func NewPools(poolSizes ...int) (*Pools, error) {
	return NewPoolsWithOptions(poolSizes)
}

// Pipe allows to Pipe a channel in and out in the depth pool. It will execute the task in the current pool and pass the next level pool to the child task.
func Pipe[IN, OUT any](dp *Pools, in <-chan IN, do func(*Pools, IN) OUT) <-chan OUT {
	out := make(chan OUT)

	go func() {
		var wg sync.WaitGroup
		for dispatch := range in {
			value := dispatch
			wg.Add(1)
			dp.submit(func(dp *Pools) {
				defer wg.Done()
				out <- do(dp, value)
			})
		}
		// Wait for all submitted task were done, to close out channel
		wg.Wait()
		close(out)
	}()

	return out
}

// forEach runs do on every item through the pools and waits for all of them. Failures are joined.
func forEach[T any](dp *Pools, items []T, do func(T) error) error {
	out := Pipe(dp, lo.SliceToChannel(0, items), func(_ *Pools, item T) error {
		return do(item)
	})
	return errors.Join(lo.ChannelToSlice(out)...)
}

// submit submits a task to the pools. if the remaining pools are empty, it is blocking until the task complete.
func (p *Pools) submit(f func(*Pools)) {
	if p == nil || len(p.pools) == 0 {
		f(p) // If there is no more available pools or no pool at all, just do it in current routine thread
		return
	}
	currentPool := p.pools[0]
	childrenPools := &Pools{pools: p.pools[1:]}
	if currentPool == nil {
		f(childrenPools) // If the current pool is nil, run in the current thread
		return
	}
	if err := currentPool.Submit(func() { f(childrenPools) }); err != nil {
		f(childrenPools) // released or overloaded pool: keep the work going in the current routine
	}
}
