package util

// Semaphore bounds the number of concurrent holders of a resource. A nil
// or zero-sized Semaphore behaves as unbounded: Acquire/Release are no-ops.
type Semaphore struct {
	tickets chan struct{}
}

// NewSemaphore returns a Semaphore that allows up to n concurrent holders.
// n <= 0 means unbounded.
func NewSemaphore(n int) Semaphore {
	if n <= 0 {
		return Semaphore{}
	}
	return Semaphore{tickets: make(chan struct{}, n)}
}

// Acquire blocks until a slot is available.
func (s *Semaphore) Acquire() {
	if s.tickets == nil {
		return
	}
	s.tickets <- struct{}{}
}

// Release returns a slot to the semaphore.
func (s *Semaphore) Release() {
	if s.tickets == nil {
		return
	}
	<-s.tickets
}
