package invalidate

import "context"

// Bus is the message channel between signal producers and the supervisor.
type Bus struct {
	ch chan Signal
}

// NewBus creates a bus buffering up to size signals.
func NewBus(size int) *Bus {
	if size < 0 {
		size = 0
	}
	return &Bus{ch: make(chan Signal, size)}
}

// Publish validates s and queues it, blocking until there is room or ctx is
// done.
func (b *Bus) Publish(ctx context.Context, s Signal) error {
	if err := s.Validate(); err != nil {
		return err
	}
	select {
	case b.ch <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Signals returns the receive side of the bus.
func (b *Bus) Signals() <-chan Signal {
	return b.ch
}
