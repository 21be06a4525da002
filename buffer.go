package datapumps

import (
	"context"
	"sync"
)

// DefaultBufferSize is the capacity of a buffer created without WithSize.
const DefaultBufferSize = 10

// BufferOption configures a Buffer.
type BufferOption func(*Buffer)

// WithSize sets the buffer capacity. Sizes below 1 are ignored.
func WithSize(size int) BufferOption {
	return func(b *Buffer) {
		if size > 0 {
			b.size = size
		}
	}
}

// WithContent preloads the buffer. Content may exceed the capacity, in which case the buffer starts full.
func WithContent(items ...any) BufferOption {
	return func(b *Buffer) {
		b.content = append(b.content, items...)
	}
}

// Buffer is a bounded FIFO channel between pumps. It is safe for concurrent use.
//
// A buffer emits EventWrite and EventRelease on every write and read, EventFull when a write
// fills it, EventSealed when sealed and EventEnd once a sealed buffer has been drained.
type Buffer struct {
	mu      sync.Mutex
	size    int
	content []any
	sealed  bool
	ended   bool
	changed chan struct{}
	events  emitter
}

// NewBuffer creates an empty, unsealed buffer.
func NewBuffer(opts ...BufferOption) *Buffer {
	b := &Buffer{
		size:    DefaultBufferSize,
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On registers a listener for one of the buffer events and returns its removal function.
func (b *Buffer) On(event string, fn Listener) func() {
	return b.events.On(event, fn)
}

// Size returns the capacity of the buffer.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Len returns the number of items waiting in the buffer.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.content)
}

// Content returns a snapshot of the items waiting in the buffer.
func (b *Buffer) Content() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]any(nil), b.content...)
}

// IsEmpty reports whether no item is waiting in the buffer.
func (b *Buffer) IsEmpty() bool {
	return b.Len() == 0
}

// IsFull reports whether the buffer holds as many items as its size.
func (b *Buffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.content) >= b.size
}

// IsSealed reports whether the buffer refuses new items.
func (b *Buffer) IsSealed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sealed
}

// IsEnded reports whether the buffer is sealed and drained.
func (b *Buffer) IsEnded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ended
}

// Write appends item without blocking.
func (b *Buffer) Write(item any) error {
	b.mu.Lock()
	if b.sealed {
		b.mu.Unlock()
		return ErrBufferSealed
	}
	if len(b.content) >= b.size {
		b.mu.Unlock()
		return ErrBufferFull
	}
	b.content = append(b.content, item)
	full := len(b.content) >= b.size
	b.notifyLocked()
	b.mu.Unlock()

	b.events.emit(EventWrite)
	if full {
		b.events.emit(EventFull)
	}
	return nil
}

// WriteContext appends item, waiting for room while the buffer is full.
func (b *Buffer) WriteContext(ctx context.Context, item any) error {
	for {
		err := b.Write(item)
		if err != ErrBufferFull {
			return err
		}
		if err := b.wait(ctx, func() bool { return b.sealed || len(b.content) < b.size }); err != nil {
			return err
		}
	}
}

// Read removes and returns the oldest item without blocking.
func (b *Buffer) Read() (any, error) {
	b.mu.Lock()
	if len(b.content) == 0 {
		ended := b.ended
		b.mu.Unlock()
		if ended {
			return nil, ErrBufferEnded
		}
		return nil, ErrBufferEmpty
	}
	item := b.content[0]
	b.content[0] = nil
	b.content = b.content[1:]
	end := b.endLocked()
	b.notifyLocked()
	b.mu.Unlock()

	b.events.emit(EventRelease)
	if end {
		b.events.emit(EventEnd)
	}
	return item, nil
}

// ReadContext removes and returns the oldest item, waiting while the buffer is empty.
// It returns ErrBufferEnded once the buffer is sealed and drained.
func (b *Buffer) ReadContext(ctx context.Context) (any, error) {
	for {
		item, err := b.Read()
		if err != ErrBufferEmpty {
			return item, err
		}
		if err := b.wait(ctx, func() bool { return b.ended || len(b.content) > 0 }); err != nil {
			return nil, err
		}
	}
}

// Seal marks the end of the data written into the buffer.
func (b *Buffer) Seal() error {
	b.mu.Lock()
	if b.sealed {
		b.mu.Unlock()
		return ErrBufferSealed
	}
	b.sealed = true
	end := b.endLocked()
	b.notifyLocked()
	b.mu.Unlock()

	b.events.emit(EventSealed)
	if end {
		b.events.emit(EventEnd)
	}
	return nil
}

// WhenEnded returns a channel closed once the buffer is sealed and drained.
func (b *Buffer) WhenEnded() <-chan struct{} {
	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }
	remove := b.events.Once(EventEnd, closeDone)
	if b.IsEnded() {
		remove()
		closeDone()
	}
	return done
}

// endLocked flags the buffer as ended and reports whether this call did it.
func (b *Buffer) endLocked() bool {
	if b.ended || !b.sealed || len(b.content) > 0 {
		return false
	}
	b.ended = true
	return true
}

func (b *Buffer) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// wait blocks until ready holds under the buffer lock, or ctx is done.
func (b *Buffer) wait(ctx context.Context, ready func() bool) error {
	b.mu.Lock()
	if ready() {
		b.mu.Unlock()
		return nil
	}
	changed := b.changed
	b.mu.Unlock()

	select {
	case <-changed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
