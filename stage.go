package datapumps

import "context"

// State is the lifecycle state of a pump or a group.
type State int

const (
	Stopped State = iota
	Started
	Paused
	Ended
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Started:
		return "started"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Stage is a lifecycled processing unit a group can manage. Both *Pump and *Group implement it, so
// groups can be nested into other groups.
type Stage interface {
	ID() string
	SetID(id string)

	IsStopped() bool
	IsStarted() bool
	IsPaused() bool
	IsEnded() bool

	// Start begins pumping without waiting for the end of the data.
	Start() error
	// Pause returns once the stage stopped processing, or when ctx is done.
	Pause(ctx context.Context) error
	Resume() error
	// WhenFinished delivers nil once the stage ended, or the failure which stopped it.
	WhenFinished() <-chan error

	ErrorBuffer() *Buffer
	SetErrorBuffer(b *Buffer)
	Buffer(name string) (*Buffer, error)

	From(b *Buffer) error
	Mixin(mixins ...Mixin) error

	// On registers a listener for EventEnd or EventError and returns its removal function.
	On(event string, fn Listener) func()
}

var (
	_ Stage = (*Pump)(nil)
	_ Stage = (*Group)(nil)
)
