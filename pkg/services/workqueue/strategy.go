package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// The strategy is responsible for tracking running tasks and determining
// if a new task can start based on the current state.
type ConcurrencyStrategy interface {
	// CanStartCPU returns true if a CPU-lane task can start
	CanStartCPU() bool
	// CanStartIO returns true if an I/O-lane task can start
	CanStartIO() bool
	OnStartCPU()
	OnStartIO()
	OnCompleteCPU()
	OnCompleteIO()
}

// ============================================================================
// SerializedStrategy - 1 CPU task at a time, 1 I/O task at a time
// ============================================================================

// SerializedStrategy serializes both lanes. A CPU task and an I/O task can
// still run in parallel.
type SerializedStrategy struct {
	mu         sync.Mutex
	cpuRunning bool
	ioRunning  bool
}

// NewSerializedStrategy creates a strategy that runs one task per lane.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStartCPU() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cpuRunning
}

func (s *SerializedStrategy) CanStartIO() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ioRunning
}

func (s *SerializedStrategy) OnStartCPU() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cpuRunning = true
}

func (s *SerializedStrategy) OnStartIO() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioRunning = true
}

func (s *SerializedStrategy) OnCompleteCPU() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cpuRunning = false
}

func (s *SerializedStrategy) OnCompleteIO() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioRunning = false
}

// ============================================================================
// ThrottledIOStrategy - Up to N parallel I/O tasks
// ============================================================================

// ThrottledIOStrategy allows up to maxConcurrent I/O tasks (zip and upload
// passes) to run in parallel. CPU tasks are still serialized.
type ThrottledIOStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	ioRunning     int
	cpuRunning    bool
}

// NewThrottledIOStrategy creates a strategy that allows up to maxConcurrent
// I/O tasks while serializing CPU tasks.
func NewThrottledIOStrategy(maxConcurrent int) *ThrottledIOStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ThrottledIOStrategy{
		maxConcurrent: maxConcurrent,
	}
}

func (s *ThrottledIOStrategy) CanStartCPU() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cpuRunning
}

func (s *ThrottledIOStrategy) CanStartIO() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ioRunning < s.maxConcurrent
}

func (s *ThrottledIOStrategy) OnStartCPU() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cpuRunning = true
}

func (s *ThrottledIOStrategy) OnStartIO() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioRunning++
}

func (s *ThrottledIOStrategy) OnCompleteCPU() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cpuRunning = false
}

func (s *ThrottledIOStrategy) OnCompleteIO() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ioRunning > 0 {
		s.ioRunning--
	}
}
