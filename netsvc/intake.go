package netsvc

import "sync"

// intake admits messages into the dispatcher while open and tracks the ones
// in flight so shutdown can wait for them.
type intake struct {
	mu     sync.Mutex
	open   bool
	closed bool

	inFlight sync.WaitGroup
}

// enter registers a new dispatch. It returns false if the intake is not open,
// in which case leave must not be called.
func (i *intake) enter() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.open {
		return false
	}
	i.inFlight.Add(1)

	return true
}

// leave marks a dispatch admitted by enter as done.
func (i *intake) leave() {
	i.inFlight.Done()
}

// admit opens the intake. It has no effect once the intake was shut.
func (i *intake) admit() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.closed {
		i.open = true
	}
}

// shut closes the intake for good and returns a channel that is closed once
// every admitted dispatch has left.
func (i *intake) shut() <-chan struct{} {
	i.mu.Lock()
	i.open = false
	i.closed = true
	i.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		i.inFlight.Wait()
		close(drained)
	}()

	return drained
}
