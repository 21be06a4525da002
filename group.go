package datapumps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// GroupOption configures a Group.
type GroupOption func(*Group)

// WithLogger sets the logger of the group. Default pumps created by the group share it.
func WithLogger(logger *slog.Logger) GroupOption {
	return func(g *Group) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithPools runs the group fan-outs (pausing its pumps) in the given pools. The group does not release them.
func WithPools(pools *Pools) GroupOption {
	return func(g *Group) {
		g.pools = pools
	}
}

// WithID sets the identity of the group.
func WithID(id string) GroupOption {
	return func(g *Group) {
		g.id = id
	}
}

// WithErrorBuffer replaces the default error buffer of the group.
func WithErrorBuffer(b *Buffer) GroupOption {
	return func(g *Group) {
		if b != nil {
			g.errorBuffer = b
		}
	}
}

// Group runs a set of named pumps as a single stage: they are started, paused and resumed together,
// share one error buffer, and the group ends when all of them have ended.
//
// When the error buffer gets full, the group pauses all its pumps then emits EventError.
type Group struct {
	mu             sync.Mutex
	id             string
	runID          uuid.UUID
	state          State
	pumps          map[string]Stage
	names          []string
	exposedBuffers map[string]*Buffer
	errorBuffer    *Buffer
	inputPump      Stage
	pools          *Pools
	ownPools       bool
	logger         *slog.Logger
	events         emitter

	endOnce    sync.Once
	errorOnce  sync.Once
	settleOnce sync.Once
	finished   chan struct{}
	result     error
}

// NewGroup creates an empty stopped group. Call Release once the group is not needed anymore.
func NewGroup(opts ...GroupOption) (*Group, error) {
	g := &Group{
		pumps:          make(map[string]Stage),
		exposedBuffers: make(map[string]*Buffer),
		errorBuffer:    NewBuffer(),
		logger:         slog.Default(),
		finished:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.pools == nil {
		pools, err := NewPools(Unbounded)
		if err != nil {
			return nil, fmt.Errorf("create group pools: %w", err)
		}
		g.pools, g.ownPools = pools, true
	}
	return g, nil
}

// Release frees the pools created by the group.
func (g *Group) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ownPools {
		g.pools.Release()
		g.pools, g.ownPools = nil, false
	}
}

// AddPump registers pump under name. A default pump is created when pump is nil, a nil *Pump included.
func (g *Group) AddPump(name string, pump Stage) (Stage, error) {
	g.mu.Lock()
	if _, ok := g.pumps[name]; ok {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	if p, ok := pump.(*Pump); pump == nil || (ok && p == nil) {
		pump = NewPump(WithPumpLogger(g.logger))
	}
	g.pumps[name] = pump
	g.names = append(g.names, name)
	pumpID := g.pumpID(name)
	g.mu.Unlock()

	pump.On(EventEnd, func() { g.pumpEnded(name) })
	pump.SetID(pumpID)
	g.logger.Debug("pump added", "group_id", g.ID(), "pump_id", pumpID)
	return pump, nil
}

// AddInputPump registers pump under name and makes it the input pump of the group.
func (g *Group) AddInputPump(name string, pump Stage) (Stage, error) {
	result, err := g.AddPump(name, pump)
	if err != nil {
		return nil, err
	}
	if err := g.SetInputPump(name); err != nil {
		return nil, err
	}
	return result, nil
}

// Pump returns the pump registered under name.
func (g *Group) Pump(name string) (Stage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pumpLocked(name)
}

func (g *Group) pumpLocked(name string) (Stage, error) {
	pump, ok := g.pumps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPump, name)
	}
	return pump, nil
}

// Pumps returns a copy of the registered pumps by name.
func (g *Group) Pumps() map[string]Stage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return lo.Assign(g.pumps)
}

// PumpNames returns the names of the pumps in registration order.
func (g *Group) PumpNames() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.namesLocked()
}

// InputPump returns the input pump, nil when not set.
func (g *Group) InputPump() Stage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inputPump
}

// SetInputPump designates the pump registered under name as the data entry of the group.
func (g *Group) SetInputPump(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	pump, err := g.pumpLocked(name)
	if err != nil {
		return err
	}
	g.inputPump = pump
	return nil
}

// ID returns the identity of the group, empty when not set.
func (g *Group) ID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.id
}

// SetID sets the identity of the group and renames every registered pump to "<id>/<name>", or to its
// bare name when id is empty.
func (g *Group) SetID(id string) {
	g.mu.Lock()
	g.id = id
	ids := lo.Map(g.names, func(name string, _ int) string { return g.pumpID(name) })
	pumps := g.orderedPumpsLocked()
	g.mu.Unlock()

	for i, pump := range pumps {
		pump.SetID(ids[i])
	}
}

func (g *Group) pumpID(name string) string {
	if g.id == "" {
		return name
	}
	return g.id + "/" + name
}

// RunID identifies the current run of the group. It is generated by Start.
func (g *Group) RunID() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runID
}

// From sets the input buffer of the input pump.
func (g *Group) From(b *Buffer) error {
	input := g.InputPump()
	if input == nil {
		return fmt.Errorf("%w, use SetInputPump to set it", ErrNoInputPump)
	}
	return input.From(b)
}

// Mixin applies mixins to the input pump.
func (g *Group) Mixin(mixins ...Mixin) error {
	input := g.InputPump()
	if input == nil {
		return fmt.Errorf("%w, use SetInputPump to set it", ErrNoInputPump)
	}
	return input.Mixin(mixins...)
}

// Process always fails: data in a group is transformed by its pumps.
func (g *Group) Process(ProcessFunc) error {
	return ErrNotSupportedOnGroup
}

// CreateBuffer creates a new buffer. The group does not keep track of it.
func (g *Group) CreateBuffer(opts ...BufferOption) *Buffer {
	return NewBuffer(opts...)
}

// Expose publishes the buffer at bufferPath ("<pump>" or "<pump>/<buffer>") under exposedName.
func (g *Group) Expose(exposedName, bufferPath string) error {
	g.mu.Lock()
	_, exists := g.exposedBuffers[exposedName]
	g.mu.Unlock()
	if exists {
		return fmt.Errorf("%w: %q", ErrDuplicateExposure, exposedName)
	}

	b, err := g.bufferByPath(bufferPath)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.exposedBuffers[exposedName]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateExposure, exposedName)
	}
	g.exposedBuffers[exposedName] = b
	return nil
}

func (g *Group) bufferByPath(bufferPath string) (*Buffer, error) {
	pumpName, bufferName, found := strings.Cut(bufferPath, "/")
	if !found || bufferName == "" {
		bufferName = DefaultBufferName
	}
	pump, err := g.Pump(pumpName)
	if err != nil {
		return nil, err
	}
	return pump.Buffer(bufferName)
}

// Buffer returns the buffer exposed as name, or else the buffer at the path name. An empty name
// stands for "output".
func (g *Group) Buffer(name string) (*Buffer, error) {
	if name == "" {
		name = DefaultBufferName
	}
	g.mu.Lock()
	b, ok := g.exposedBuffers[name]
	g.mu.Unlock()
	if ok {
		return b, nil
	}
	b, err := g.bufferByPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q (%v)", ErrUnknownBuffer, name, err)
	}
	return b, nil
}

// ErrorBuffer returns the buffer shared by the pumps to report their failures.
func (g *Group) ErrorBuffer() *Buffer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errorBuffer
}

// SetErrorBuffer replaces the error buffer. It is handed to the pumps by Start, so it has to be set before.
func (g *Group) SetErrorBuffer(b *Buffer) {
	if b == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errorBuffer = b
}

// State returns the lifecycle state of the group.
func (g *Group) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// IsStopped, IsStarted, IsPaused and IsEnded compare State with each lifecycle state.
func (g *Group) IsStopped() bool { return g.State() == Stopped }
func (g *Group) IsStarted() bool { return g.State() == Started }
func (g *Group) IsPaused() bool  { return g.State() == Paused }
func (g *Group) IsEnded() bool   { return g.State() == Ended }

// On registers a listener for EventEnd or EventError.
func (g *Group) On(event string, fn Listener) func() {
	return g.events.On(event, fn)
}

// Start hands the error buffer to every pump and starts the stopped ones. It does not wait for
// them to finish, use WhenFinished for that. Pumps failing to start are reported together, the
// group stays started.
func (g *Group) Start() error {
	g.mu.Lock()
	if g.state != Stopped {
		g.mu.Unlock()
		return fmt.Errorf("group %q: %w", g.id, ErrAlreadyStarted)
	}
	g.state = Started
	g.runID = uuid.New()
	errorBuffer := g.errorBuffer
	pumps := g.orderedPumpsLocked()
	g.mu.Unlock()

	g.logger.Info("group started", "group_id", g.ID(), "run_id", g.RunID(), "pumps", len(pumps))
	errorBuffer.On(EventFull, g.errorBufferFull)
	for _, pump := range pumps {
		pump.SetErrorBuffer(errorBuffer)
	}

	err := g.runPumps()
	g.checkEnded()
	return err
}

// runPumps starts the named pumps, every stopped pump when no name is given.
func (g *Group) runPumps(names ...string) error {
	var pumps []Stage
	if len(names) == 0 {
		g.mu.Lock()
		pumps = lo.Filter(g.orderedPumpsLocked(), func(p Stage, _ int) bool { return p.IsStopped() })
		g.mu.Unlock()
	} else {
		for _, name := range names {
			pump, err := g.Pump(name)
			if err != nil {
				return err
			}
			pumps = append(pumps, pump)
		}
	}
	return errors.Join(lo.Map(pumps, func(p Stage, _ int) error { return p.Start() })...)
}

func (g *Group) errorBufferFull() {
	g.logger.Warn("error buffer full, pausing group", "group_id", g.ID(), "run_id", g.RunID())
	go func() {
		if err := g.Pause(context.Background()); err != nil {
			g.logger.Error("pause on full error buffer failed", "group_id", g.ID(), "error", err)
		}
		g.errorOnce.Do(func() {
			g.settle(ErrPumpingFailed)
			g.events.emit(EventError)
		})
	}()
}

// pumpEnded ends the group once every pump has ended. Pumps may end in any order, and more than once.
func (g *Group) pumpEnded(name string) {
	g.logger.Debug("pump ended", "group_id", g.ID(), "pump", name)
	g.checkEnded()
}

func (g *Group) checkEnded() {
	g.mu.Lock()
	if g.state != Started {
		g.mu.Unlock()
		return
	}
	allEnded := lo.EveryBy(g.orderedPumpsLocked(), func(p Stage) bool { return p.IsEnded() })
	if allEnded {
		g.state = Ended
	}
	g.mu.Unlock()
	if !allEnded {
		return
	}

	g.endOnce.Do(func() {
		g.logger.Info("group ended", "group_id", g.ID(), "run_id", g.RunID())
		g.settle(nil)
		g.events.emit(EventEnd)
	})
}

// Pause pauses every started pump and waits for all of them. Pausing a paused group does nothing.
// When a pump fails to pause, or ctx is done first, the failures are returned and the group stays started.
func (g *Group) Pause(ctx context.Context) error {
	g.mu.Lock()
	switch g.state {
	case Paused:
		g.mu.Unlock()
		return nil
	case Started:
	default:
		g.mu.Unlock()
		return fmt.Errorf("cannot pause group %q: %w", g.id, ErrNotRunning)
	}
	started := lo.Filter(g.orderedPumpsLocked(), func(p Stage, _ int) bool { return p.IsStarted() })
	pools := g.pools
	g.mu.Unlock()

	if err := forEach(pools, started, func(p Stage) error { return p.Pause(ctx) }); err != nil {
		return fmt.Errorf("pause group %q: %w", g.ID(), err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Started {
		g.state = Paused
		g.logger.Debug("group paused", "group_id", g.id)
	}
	return nil
}

// Resume resumes every pump without waiting for them.
func (g *Group) Resume() error {
	g.mu.Lock()
	if g.state != Paused {
		g.mu.Unlock()
		return fmt.Errorf("cannot resume group %q: %w", g.id, ErrNotPaused)
	}
	g.state = Started
	pumps := g.orderedPumpsLocked()
	g.mu.Unlock()

	for _, pump := range pumps {
		if err := pump.Resume(); err != nil {
			g.logger.Debug("pump not resumed", "group_id", g.ID(), "pump_id", pump.ID(), "error", err)
		}
	}
	// pumps may have ended while the group was paused
	g.checkEnded()
	return nil
}

// WhenFinished delivers nil when the group ends, or ErrPumpingFailed when its error buffer
// overflowed. The details of the failures are in the error buffer. Every call gets its own channel.
func (g *Group) WhenFinished() <-chan error {
	done := make(chan error, 1)
	var (
		once                 sync.Once
		removeEnd, removeErr func()
	)
	deliver := func(err error) {
		once.Do(func() { done <- err })
	}
	removeEnd = g.events.Once(EventEnd, func() { deliver(nil) })
	removeErr = g.events.Once(EventError, func() { deliver(ErrPumpingFailed) })

	select {
	case <-g.finished:
		removeEnd()
		removeErr()
		deliver(g.result)
	default:
	}
	return done
}

// settle records the first outcome of the group, for the late callers of WhenFinished.
func (g *Group) settle(err error) {
	g.settleOnce.Do(func() {
		g.result = err
		close(g.finished)
	})
}

func (g *Group) namesLocked() []string {
	return append([]string(nil), g.names...)
}

func (g *Group) orderedPumpsLocked() []Stage {
	return lo.Map(g.names, func(name string, _ int) Stage { return g.pumps[name] })
}
