package datapumps

import "github.com/panjf2000/ants/v2"

// Pools returns the underlying pools
func (p *Pools) Pools() []*ants.Pool {
	if p == nil {
		return nil
	}
	return p.pools
}

// PumpEnded exposes the end detection of the group, as triggered by the end of a pump.
func (g *Group) PumpEnded(name string) {
	g.pumpEnded(name)
}

// RunPumps exposes the start of a subset of the pumps.
func (g *Group) RunPumps(names ...string) error {
	return g.runPumps(names...)
}

// ForEach exposes the pool fan-out.
func ForEach[T any](dp *Pools, items []T, do func(T) error) error {
	return forEach(dp, items, do)
}
