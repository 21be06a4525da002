package datapumps_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fogfactory/datapumps"
	"github.com/maxatome/go-testdeep/td"
)

const testTimeout = 2 * time.Second

func InitGroup(t testing.TB, opts ...datapumps.GroupOption) *datapumps.Group {
	group, err := datapumps.NewGroup(opts...)
	td.Require(t).CmpNoError(err)
	t.Cleanup(group.Release)
	return group
}

// Await waits for the outcome of a WhenFinished channel.
func Await(t testing.TB, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for the end of the stage")
		return nil
	}
}

// Pending checks that a WhenFinished channel did not deliver yet.
func Pending(t testing.TB, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		t.Fatalf("stage finished unexpectedly: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
}

// Drain reads b until it ends.
func Drain(t testing.TB, b *datapumps.Buffer) []any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	var items []any
	for {
		item, err := b.ReadContext(ctx)
		if err == datapumps.ErrBufferEnded {
			return items
		}
		td.Require(t).CmpNoError(err)
		items = append(items, item)
	}
}

// StubStage is a Stage driven by the test.
type StubStage struct {
	mu          sync.Mutex
	id          string
	state       datapumps.State
	errorBuffer *datapumps.Buffer
	from        *datapumps.Buffer
	buffers     map[string]*datapumps.Buffer
	mixins      int
	listeners   map[string][]datapumps.Listener

	// PauseGate, when set, holds Pause until closed.
	PauseGate chan struct{}
	PauseErr  error
	StartErr  error

	Starts, Pauses, Resumes int
}

func NewStubStage() *StubStage {
	return &StubStage{
		buffers:   map[string]*datapumps.Buffer{"output": datapumps.NewBuffer()},
		listeners: make(map[string][]datapumps.Listener),
	}
}

// StartedStub returns a stub which has already been started, outside of any group.
func StartedStub() *StubStage {
	s := NewStubStage()
	s.state = datapumps.Started
	return s
}

func (s *StubStage) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *StubStage) SetID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

func (s *StubStage) State() datapumps.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StubStage) IsStopped() bool { return s.State() == datapumps.Stopped }
func (s *StubStage) IsStarted() bool { return s.State() == datapumps.Started }
func (s *StubStage) IsPaused() bool  { return s.State() == datapumps.Paused }
func (s *StubStage) IsEnded() bool   { return s.State() == datapumps.Ended }

func (s *StubStage) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Starts++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.state = datapumps.Started
	return nil
}

func (s *StubStage) Pause(ctx context.Context) error {
	s.mu.Lock()
	s.Pauses++
	gate, pauseErr := s.PauseGate, s.PauseErr
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if pauseErr != nil {
		return pauseErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == datapumps.Started {
		s.state = datapumps.Paused
	}
	return nil
}

func (s *StubStage) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Resumes++
	if s.state != datapumps.Paused {
		return datapumps.ErrNotPaused
	}
	s.state = datapumps.Started
	return nil
}

func (s *StubStage) WhenFinished() <-chan error {
	done := make(chan error, 1)
	if s.IsEnded() {
		done <- nil
		return done
	}
	s.On(datapumps.EventEnd, func() {
		select {
		case done <- nil:
		default:
		}
	})
	return done
}

func (s *StubStage) ErrorBuffer() *datapumps.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorBuffer
}

func (s *StubStage) SetErrorBuffer(b *datapumps.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorBuffer = b
}

func (s *StubStage) Buffer(name string) (*datapumps.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[name]
	if !ok {
		return nil, datapumps.ErrUnknownBuffer
	}
	return b, nil
}

func (s *StubStage) From(b *datapumps.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.from = b
	return nil
}

func (s *StubStage) Input() *datapumps.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.from
}

func (s *StubStage) Mixin(mixins ...datapumps.Mixin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mixins += len(mixins)
	return nil
}

func (s *StubStage) Mixins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mixins
}

func (s *StubStage) On(event string, fn datapumps.Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], fn)
	return func() {}
}

// End flags the stub as ended and notifies its listeners. It may be called several times.
func (s *StubStage) End() {
	s.mu.Lock()
	s.state = datapumps.Ended
	listeners := append([]datapumps.Listener(nil), s.listeners[datapumps.EventEnd]...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Counts returns the number of Start, Pause and Resume calls.
func (s *StubStage) Counts() (starts, pauses, resumes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Starts, s.Pauses, s.Resumes
}
