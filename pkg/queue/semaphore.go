package queue

import "sync"

// Semaphore bounds concurrent cover extraction and can be resized while work
// is in flight. Shrinking takes effect as running holders release: acquires
// are refused while the held count is at or above the new capacity, and no
// running work is interrupted.
type Semaphore struct {
	mu       sync.Mutex
	capacity int
	held     int
}

func NewSemaphore(capacity int) *Semaphore {
	return &Semaphore{capacity: capacity}
}

// TryAcquire takes a slot if one is free. It never blocks.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held >= s.capacity {
		return false
	}
	s.held++
	return true
}

func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held > 0 {
		s.held--
	}
}

// Resize changes the capacity immediately. The held count can temporarily
// exceed a smaller capacity until holders release.
func (s *Semaphore) Resize(capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.capacity = capacity
}

func (s *Semaphore) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.capacity
}
