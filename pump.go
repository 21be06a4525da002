package datapumps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

// DefaultBufferName is the buffer a pump writes to unless told otherwise.
const DefaultBufferName = "output"

// PumpOption configures a Pump.
type PumpOption func(*Pump)

// WithPumpLogger sets the logger of the pump.
func WithPumpLogger(logger *slog.Logger) PumpOption {
	return func(p *Pump) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithConcurrency processes up to n items at once. The pool is created at start and released at the end.
func WithConcurrency(n int) PumpOption {
	return func(p *Pump) {
		p.concurrency = n
	}
}

// WithPumpPools processes the items in shared pools. Those pools are never released by the pump.
func WithPumpPools(pools *Pools) PumpOption {
	return func(p *Pump) {
		p.pools = pools
	}
}

// WithProcess sets the process of the pump.
func WithProcess(fn ProcessFunc) PumpOption {
	return func(p *Pump) {
		if fn != nil {
			p.process = fn
		}
	}
}

// WithFrom sets the input buffer of the pump.
func WithFrom(b *Buffer) PumpOption {
	return func(p *Pump) {
		p.from = b
	}
}

// Pump reads the items of its input buffer and hands them to its process, which writes into the pump
// buffers. Once the input has ended the pump seals its buffers, and ends when all of them are drained.
type Pump struct {
	mu          sync.Mutex
	id          string
	state       State
	from        *Buffer
	buffers     map[string]*Buffer
	errorBuffer *Buffer
	process     ProcessFunc
	concurrency int
	pools       *Pools
	ownPools    bool
	logger      *slog.Logger
	events      emitter

	draining       bool
	inFlight       int
	blocked        int
	activity       chan struct{}
	reading        bool
	pauseRequested bool
	pauseSettled   chan struct{}
	cancelRead     context.CancelFunc
}

// NewPump creates a stopped pump copying its input to its "output" buffer.
func NewPump(opts ...PumpOption) *Pump {
	p := &Pump{
		buffers:     map[string]*Buffer{DefaultBufferName: NewBuffer()},
		errorBuffer: NewBuffer(),
		process:     CopyProcess,
		logger:      slog.Default(),
		activity:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID returns the identity of the pump, set by the group it belongs to.
func (p *Pump) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// SetID sets the identity of the pump.
func (p *Pump) SetID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = id
}

// State returns the lifecycle state of the pump.
func (p *Pump) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsStopped, IsStarted, IsPaused and IsEnded compare State with each lifecycle state.
func (p *Pump) IsStopped() bool { return p.State() == Stopped }
func (p *Pump) IsStarted() bool { return p.State() == Started }
func (p *Pump) IsPaused() bool  { return p.State() == Paused }
func (p *Pump) IsEnded() bool   { return p.State() == Ended }

// On registers a listener for EventEnd.
func (p *Pump) On(event string, fn Listener) func() {
	return p.events.On(event, fn)
}

// From sets the input buffer. It cannot be changed once pumping started.
func (p *Pump) From(b *Buffer) error {
	if b == nil {
		return ErrNilBuffer
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Stopped {
		return fmt.Errorf("cannot change source buffer of pump %q: %w", p.id, ErrAlreadyStarted)
	}
	p.from = b
	return nil
}

// Input returns the input buffer, nil when not configured.
func (p *Pump) Input() *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.from
}

// Buffer returns the named buffer, the "output" buffer when name is empty.
func (p *Pump) Buffer(name string) (*Buffer, error) {
	if name == "" {
		name = DefaultBufferName
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buffers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in pump %q", ErrUnknownBuffer, name, p.id)
	}
	return b, nil
}

// SetBuffer adds or replaces a named buffer before pumping starts.
func (p *Pump) SetBuffer(name string, b *Buffer) error {
	if b == nil {
		return ErrNilBuffer
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Stopped {
		return fmt.Errorf("cannot change buffers of pump %q: %w", p.id, ErrAlreadyStarted)
	}
	p.buffers[name] = b
	return nil
}

// Buffers returns a copy of the named buffers of the pump.
func (p *Pump) Buffers() map[string]*Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo.Assign(p.buffers)
}

// ErrorBuffer returns the buffer receiving the process failures.
func (p *Pump) ErrorBuffer() *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errorBuffer
}

// SetErrorBuffer replaces the buffer the pump reports its process failures to.
func (p *Pump) SetErrorBuffer(b *Buffer) {
	if b == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorBuffer = b
}

// Process sets the function applied to each input item.
func (p *Pump) Process(fn ProcessFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Stopped {
		return fmt.Errorf("cannot change process of pump %q: %w", p.id, ErrAlreadyStarted)
	}
	p.process = lo.Ternary(fn != nil, fn, ProcessFunc(CopyProcess))
	return nil
}

// Mixin applies mixins in order, stopping at the first failure.
func (p *Pump) Mixin(mixins ...Mixin) error {
	for i, mixin := range mixins {
		if mixin == nil {
			continue
		}
		if err := mixin(p); err != nil {
			return fmt.Errorf("mixin %d on pump %q: %w", i, p.ID(), err)
		}
	}
	return nil
}

// CopyData writes data to the "output" buffer, waiting for room.
func (p *Pump) CopyData(ctx context.Context, data any) error {
	return p.WriteTo(ctx, DefaultBufferName, data)
}

// WriteTo writes data to the named buffer, waiting for room. While it waits, the item does not hold a
// pause of the pump back.
func (p *Pump) WriteTo(ctx context.Context, name string, data any) error {
	b, err := p.Buffer(name)
	if err != nil {
		return err
	}
	if err := b.Write(data); !errors.Is(err, ErrBufferFull) {
		return err
	}
	p.track(0, 1)
	defer p.track(0, -1)
	return b.WriteContext(ctx, data)
}

// Start launches the pumping routine.
func (p *Pump) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Stopped {
		return fmt.Errorf("pump %q: %w", p.id, ErrAlreadyStarted)
	}
	if p.from == nil {
		return fmt.Errorf("pump %q: %w", p.id, ErrNoSource)
	}
	if p.pools == nil && p.concurrency > 0 {
		pools, err := NewPools(p.concurrency)
		if err != nil {
			return fmt.Errorf("pump %q: %w", p.id, err)
		}
		p.pools, p.ownPools = pools, true
	}
	p.state = Started
	p.logger.Debug("pump started", "pump_id", p.id)

	go p.run()
	return nil
}

// Pause stops reading the input and returns once every item in flight has been processed or waits for
// room in a buffer or for a worker. Items waiting for room are written as soon as their buffer has room,
// items waiting for a worker are processed after Resume.
func (p *Pump) Pause(ctx context.Context) error {
	p.mu.Lock()
	switch {
	case p.state == Paused:
		p.mu.Unlock()
		return nil
	case p.state != Started:
		p.mu.Unlock()
		return fmt.Errorf("cannot pause pump %q: %w", p.id, ErrNotRunning)
	case p.draining:
		// nothing is processed anymore, only the consumers of the buffers are awaited
		p.state = Paused
		p.mu.Unlock()
		return nil
	}
	if !p.pauseRequested {
		p.pauseRequested = true
		p.pauseSettled = make(chan struct{})
		if p.cancelRead != nil {
			p.cancelRead()
		}
		p.settlePauseLocked()
	}
	settled := p.pauseSettled
	p.mu.Unlock()

	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume restarts a paused pump.
func (p *Pump) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Paused {
		return fmt.Errorf("cannot resume pump %q: %w", p.id, ErrNotPaused)
	}
	p.state = Started
	p.notifyLocked()
	p.logger.Debug("pump resumed", "pump_id", p.id)
	return nil
}

// WhenFinished delivers nil once the pump has ended.
func (p *Pump) WhenFinished() <-chan error {
	done := make(chan error, 1)
	var once sync.Once
	finish := func() { once.Do(func() { done <- nil }) }
	remove := p.events.Once(EventEnd, finish)
	if p.IsEnded() {
		remove()
		finish()
	}
	return done
}

func (p *Pump) run() {
	for {
		ctx := p.beginRead()
		data, err := p.from.ReadContext(ctx)
		p.endRead()
		if errors.Is(err, ErrBufferEnded) {
			break
		}
		if err != nil {
			continue // read interrupted by a pause request
		}
		p.track(1, 1)
		p.pools.submit(func(*Pools) {
			p.startItem()
			defer p.track(-1, 0)
			p.processItem(data)
		})
	}
	p.awaitItems()
	p.drain()
}

// beginRead waits for the pump to be running and returns the context of the next read.
func (p *Pump) beginRead() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pauseRequested || p.state == Paused {
		changed := p.activity
		p.mu.Unlock()
		<-changed
		p.mu.Lock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancelRead, p.reading = cancel, true
	return ctx
}

func (p *Pump) endRead() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelRead != nil {
		p.cancelRead()
		p.cancelRead = nil
	}
	p.reading = false
	p.settlePauseLocked()
}

// startItem holds an item which waited for a worker until the pump runs.
func (p *Pump) startItem() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.state == Paused {
		changed := p.activity
		p.mu.Unlock()
		<-changed
		p.mu.Lock()
	}
	p.blocked--
	p.notifyLocked()
}

// track updates the number of items in flight and of those waiting for room in a buffer or for a worker.
func (p *Pump) track(inFlight, blocked int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight += inFlight
	p.blocked += blocked
	p.settlePauseLocked()
	p.notifyLocked()
}

func (p *Pump) notifyLocked() {
	close(p.activity)
	p.activity = make(chan struct{})
}

// awaitItems waits until no item is in flight.
func (p *Pump) awaitItems() {
	for {
		p.mu.Lock()
		done, changed := p.inFlight == 0, p.activity
		p.mu.Unlock()
		if done {
			return
		}
		<-changed
	}
}

// settlePauseLocked pauses the pump once a pause is requested, nothing is being read and every item in
// flight waits.
func (p *Pump) settlePauseLocked() {
	if !p.pauseRequested || p.reading || p.inFlight != p.blocked {
		return
	}
	p.state = Paused
	p.pauseRequested = false
	close(p.pauseSettled)
	p.logger.Debug("pump paused", "pump_id", p.id)
}

func (p *Pump) processItem(data any) {
	p.mu.Lock()
	process, id := p.process, p.id
	p.mu.Unlock()

	if err := process(context.Background(), data, p); err != nil {
		p.logger.Warn("process failed", "pump_id", id, "error", err)
		p.writeError(newProcessError(id, data, err))
	}
}

// writeError records a failure unless the error buffer is already full.
func (p *Pump) writeError(err *ProcessError) {
	eb := p.ErrorBuffer()
	if eb.IsFull() {
		return
	}
	if werr := eb.Write(err); werr != nil {
		p.logger.Debug("error dropped", "pump_id", err.PumpID, "error", werr)
	}
}

// drain seals the buffers once the input has ended, and ends the pump once they are consumed.
func (p *Pump) drain() {
	p.mu.Lock()
	p.draining = true
	p.settlePauseLocked()
	buffers := lo.Values(p.buffers)
	p.mu.Unlock()

	for _, b := range buffers {
		if !b.IsSealed() {
			_ = b.Seal()
		}
	}
	for _, b := range buffers {
		<-b.WhenEnded()
	}
	p.end()
}

func (p *Pump) end() {
	p.mu.Lock()
	p.state = Ended
	if p.ownPools {
		p.pools.Release()
		p.pools, p.ownPools = nil, false
	}
	p.logger.Debug("pump ended", "pump_id", p.id)
	p.mu.Unlock()

	p.events.emit(EventEnd)
}
