package datapumps

import (
	"context"

	"github.com/samber/lo"
)

// ProcessFunc transforms one item read from the pump input. It is expected to write its results in
// the pump buffers, usually through (*Pump).CopyData or (*Pump).WriteTo.
type ProcessFunc func(ctx context.Context, data any, p *Pump) error

// Mixin extends a pump with a reusable behaviour, typically by configuring its buffers or its process.
type Mixin func(p *Pump) error

// CopyProcess writes every item unchanged to the output buffer. It is the default process of a pump.
func CopyProcess(ctx context.Context, data any, p *Pump) error {
	return p.CopyData(ctx, data)
}

// Transform builds a process which writes the result of fn to the output buffer.
func Transform[IN, OUT any](fn func(IN) (OUT, error)) ProcessFunc {
	return func(ctx context.Context, data any, p *Pump) error {
		in, ok := data.(IN)
		if !ok {
			var zero IN
			return &TypeError{Expected: zero, Got: data}
		}
		out, err := fn(in)
		if err != nil {
			return err
		}
		return p.CopyData(ctx, out)
	}
}

// Filter builds a process which only copies the items accepted by keep to the output buffer.
func Filter[T any](keep func(T) bool) ProcessFunc {
	return func(ctx context.Context, data any, p *Pump) error {
		in, ok := data.(T)
		if !ok {
			var zero T
			return &TypeError{Expected: zero, Got: data}
		}
		if !keep(in) {
			return nil
		}
		return p.CopyData(ctx, in)
	}
}

// Tap builds a process which hands every item to fn, writing nothing. Useful for the sink of a group.
func Tap[T any](fn func(T) error) ProcessFunc {
	return func(_ context.Context, data any, _ *Pump) error {
		in, ok := data.(T)
		if !ok {
			var zero T
			return &TypeError{Expected: zero, Got: data}
		}
		return fn(in)
	}
}

// Link merges several processes into one, run in order. It stops at the first failure.
func Link(procs ...ProcessFunc) ProcessFunc {
	return func(ctx context.Context, data any, p *Pump) error {
		return lo.Reduce(procs, func(err error, proc ProcessFunc, _ int) error {
			if err != nil {
				return err
			}
			return proc(ctx, data, p)
		}, nil)
	}
}
